package auth

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/google/shlex"
)

// OpenBrowser opens url in the operator's browser. A $BROWSER
// override (possibly a command with arguments) wins over the
// platform default.
func OpenBrowser(url string) error {
	if browser := os.Getenv("BROWSER"); browser != "" {
		parts, err := shlex.Split(browser)
		if err != nil || len(parts) == 0 {
			return fmt.Errorf("invalid $BROWSER value %q", browser)
		}
		return exec.Command(parts[0], append(parts[1:], url)...).Run()
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32",
			"url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}
	return cmd.Run()
}

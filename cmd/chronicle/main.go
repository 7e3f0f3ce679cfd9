package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			runLogin(os.Args[2:])
			return
		case "logout":
			runLogout(os.Args[2:])
			return
		case "status":
			runStatus(os.Args[2:])
			return
		case "sync":
			runSync(os.Args[2:])
			return
		case "logs":
			runLogs(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "report":
			runReport(os.Args[2:])
			return
		case "update":
			runUpdate(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("chronicle %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr,
				"chronicle: unknown command %q\n\n", os.Args[1])
			printUsage()
			os.Exit(2)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Printf(`chronicle %s - sync AI agent sessions to chronicle

Uploads Claude Code session transcripts to your chronicle server,
either manually or from agent lifecycle hooks.

Usage:
  chronicle login [flags]     Authenticate via the browser
  chronicle logout            Remove the stored credential
  chronicle status [flags]    Show the stored credential
  chronicle sync [flags]      Sync one session transcript
  chronicle logs [flags]      Show the sync log
  chronicle history [flags]   Show recent sync outcomes
  chronicle report [flags]    Report an issue to the server
  chronicle update [flags]    Check for and install updates
  chronicle version           Show version information
  chronicle help              Show this help

Login flags:
  -server string      Server to authenticate against

Status flags:
  -verify             Verify the credential against the server

Sync flags:
  -session string     Session ID (with -transcript)
  -transcript string  Transcript path (with -session)
  When neither flag is set, a hook payload is read from stdin.

Logs flags:
  -n int              Lines to show (default 50)
  -f                  Follow the log

History flags:
  -n int              Entries to show (default 20)

Report flags:
  -title string       Issue title (required)
  -body string        Issue body

Update flags:
  -check              Check for updates without installing
  -yes                Install without confirmation prompt

Environment variables:
  CHRONICLE_API_KEY      API key (overrides the stored credential)
  CHRONICLE_SERVER_URL   Server URL
  CHRONICLE_CONFIG_DIR   Config directory (default ~/.chronicle)
`, version)
}

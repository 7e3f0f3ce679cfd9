package auth

import (
	"fmt"
	"html"
	"net/http"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head><title>chronicle</title>
<style>
body { font-family: -apple-system, sans-serif; text-align: center;
       margin-top: 18vh; color: #1a1a2e; }
h1 { font-size: 1.6em; }
p { color: #555; }
</style>
</head>
<body>
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`

var successPage = fmt.Sprintf(
	pageTemplate,
	"Login complete",
	"You can close this tab and return to your terminal.",
)

func failurePage(msg string) string {
	return fmt.Sprintf(
		pageTemplate,
		"Login failed",
		html.EscapeString(msg),
	)
}

func writePage(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

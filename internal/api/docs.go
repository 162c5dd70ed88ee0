package api

import (
	"html/template"
	"log/slog"
	"net/http"
)

const (
	apiTitle    = "Ask to AI API"
	apiVersion  = "1.0.0"
	openAPIPath = "/openapi.json"
	eventsPath  = "/api/v1/events"
)

var docsTemplate = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0;">
  {{if .EventsURL}}<p style="position: fixed; bottom: 8px; right: 16px; z-index: 9999; font: 12px sans-serif; color: #8b949e;">
    Progress events stream from <code>{{.EventsURL}}</code> (text/event-stream)
  </p>{{end}}
  <elements-api apiDescriptionUrl="{{.SpecURL}}" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" darkMode />
</body>
</html>`))

type docsPage struct {
	Title     string
	SpecURL   string
	EventsURL string
}

func docsHandler(withEvents bool) http.HandlerFunc {
	page := docsPage{Title: apiTitle, SpecURL: openAPIPath}
	if withEvents {
		page.EventsURL = eventsPath
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := docsTemplate.Execute(w, page); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/logs.html
var templatesFS embed.FS

var logsTemplate = template.Must(
	template.New("logs.html").
		Funcs(template.FuncMap{"deref": deref}).
		ParseFS(templatesFS, "templates/logs.html"),
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// handleLogs renders every stored session, newest first. With ?format=json
// the sessions are returned as JSON instead of HTML.
func handleLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Sessions.Sessions(r.Context())
		if err != nil {
			deps.Logger.Error("loading sessions", "error", err)
			http.Error(w, "Error fetching logs", http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("format") == "json" {
			type session struct {
				Key          string `json:"key"`
				StartTime    string `json:"startTime"`
				Interactions any    `json:"interactions"`
			}
			out := make([]session, len(sessions))
			for i, s := range sessions {
				out[i] = session{Key: s.Key, StartTime: s.StartTime, Interactions: s.Interactions}
			}
			writeJSON(w, http.StatusOK, out)
			return
		}

		var buf bytes.Buffer
		if err := logsTemplate.Execute(&buf, sessions); err != nil {
			deps.Logger.Error("rendering sessions", "error", err)
			http.Error(w, "Error fetching logs", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html;charset=UTF-8")
		w.Write(buf.Bytes())
	}
}

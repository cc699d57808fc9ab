package api

import (
	"html/template"
	"net/http"
)

var blockedTemplate = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Time's up</title>
<style>
  body { font-family: system-ui, sans-serif; background: #263238; color: #ECEFF1;
         display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; }
  .card { background: #37474F; border-radius: 12px; padding: 2.5rem 3rem; max-width: 32rem; text-align: center; }
  h1 { margin-top: 0; font-size: 1.6rem; }
  .reason { color: #FFAB91; margin: 1rem 0; }
  .url { color: #90A4AE; font-size: 0.85rem; word-break: break-all; }
  .hint { color: #B0BEC5; font-size: 0.9rem; margin-top: 1.5rem; }
</style>
</head>
<body>
<div class="card">
  <h1>This site is taking a break</h1>
  {{if .Reason}}<p class="reason">{{.Reason}}</p>{{end}}
  {{if .BlockedURL}}<p class="url">{{.BlockedURL}}</p>{{end}}
  <p class="hint">You can request extra time from the settings page if you really need it.</p>
</div>
</body>
</html>
`))

// handleBlockedPage renders the interstitial a blocked tab is
// redirected to.
func (s *Server) handleBlockedPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	data := struct {
		BlockedURL string
		SiteID     string
		Reason     string
		LimitType  string
	}{
		BlockedURL: query.Get("blockedUrl"),
		SiteID:     query.Get("siteId"),
		Reason:     query.Get("reason"),
		LimitType:  query.Get("limitType"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := blockedTemplate.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render blocked page")
	}
}

package server

import (
	"html/template"
	"net/http"

	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
)

// logoutPage notifies every other client of the session via hidden iframes
// before sending the browser on to the post-logout redirect.
var logoutPage = template.Must(template.New("logout").Parse(`<!DOCTYPE html>
<html>
<head><title>Logged Out</title></head>
<body>
<p>You have been logged out.</p>
{{- range .LogoutURIs}}
<iframe src="{{.}}" style="display:none"></iframe>
{{- end}}
{{- if .RedirectTarget}}
<script>window.onload = function() { window.location = {{.RedirectTarget}}; };</script>
{{- end}}
</body>
</html>
`))

type logoutPageData struct {
	LogoutURIs     []string
	RedirectTarget string
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantParam(r)
	if err != nil {
		writeJSONError(w, oidc.ServerError("failed to resolve tenant"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, oidc.InvalidRequest("malformed request body"))
		return
	}

	sessionID := cookieValue(r, session.CookieName(tenant))
	externalIssuer := cookieValue(r, session.ExternalIDPIssuerCookieName(tenant))
	result := s.logout.Process(r.Context(), tenant, r.Form, sessionID, externalIssuer)
	if result.Err != nil {
		writeJSONError(w, result.Err)
		return
	}
	if result.ClearSessionCookie {
		s.clearSessionCookie(w, result.TenantName)
	}
	if result.ClearExternalIDPCookie {
		s.clearExternalIDPCookie(w, result.TenantName)
	}
	if result.SetCertLoggedOut {
		s.setCertLoggedOutCookie(w, result.TenantName)
	}

	if len(result.FrontChannelLogoutURIs) == 0 && result.RedirectTarget != "" {
		http.Redirect(w, r, result.RedirectTarget, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.Header().Set("Cache-Control", "no-store")
	if err := logoutPage.Execute(w, logoutPageData{
		LogoutURIs:     result.FrontChannelLogoutURIs,
		RedirectTarget: result.RedirectTarget,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to render logout page")
	}
}

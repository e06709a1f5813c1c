package server

import (
	"encoding/json"
	"net/http"

	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
)

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html; charset=utf-8"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, errObj *oidc.ErrorObject) {
	writeJSON(w, errObj.StatusCode, oidc.TokenErrorResponse{
		Error:            errObj.Code,
		ErrorDescription: errObj.Description,
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, tenant, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName(tenant),
		Value:    sessionID,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, tenant string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName(tenant),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setExternalIDPCookie(w http.ResponseWriter, tenant, issuer string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.ExternalIDPIssuerCookieName(tenant),
		Value:    issuer,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearExternalIDPCookie(w http.ResponseWriter, tenant string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.ExternalIDPIssuerCookieName(tenant),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setCertLoggedOutCookie(w http.ResponseWriter, tenant string) {
	// session cookie (no MaxAge): the gate lasts for the browser session
	http.SetCookie(w, &http.Cookie{
		Name:     session.CertLoggedOutCookieName(tenant),
		Value:    "true",
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

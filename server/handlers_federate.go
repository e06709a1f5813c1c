package server

import (
	"net/http"

	"github.com/meridianid/go-sts/oidc"
)

// handleFederateStart begins a federated login: the request carries the
// usual authorize parameters plus the external provider's issuer, in the
// query or a posted form.
func (s *Server) handleFederateStart(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantParam(r)
	if err != nil {
		writeJSONError(w, oidc.ServerError("failed to resolve tenant"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, oidc.InvalidRequest("malformed request body"))
		return
	}
	issuer := r.Form.Get("issuer")
	if issuer == "" {
		writeJSONError(w, oidc.InvalidRequest("missing issuer parameter"))
		return
	}
	req, errObj := oidc.ParseAuthenticationRequest(r.Form)
	if errObj != nil {
		writeJSONError(w, errObj)
		return
	}
	redirectURL, _, errObj := s.federation.Start(r.Context(), tenant, issuer, req)
	if errObj != nil {
		writeJSONError(w, errObj)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// handleFederateCallback is the redirect target registered with external
// providers.
func (s *Server) handleFederateCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		writeJSONError(w, oidc.AccessDenied("external provider reported: "+errCode))
		return
	}
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeJSONError(w, oidc.InvalidRequest("missing code or state parameter"))
		return
	}

	result := s.federation.Callback(r.Context(), code, state)
	if result.Err != nil {
		writeJSONError(w, result.Err)
		return
	}
	s.setSessionCookie(w, result.TenantName, result.SessionID)
	s.setExternalIDPCookie(w, result.TenantName, result.IssuerEntityID)
	s.renderAuthResponse(w, r, result.Response)
}

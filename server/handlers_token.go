package server

import (
	"net/http"

	"github.com/meridianid/go-sts/oidc"
)

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	// Token requests are form-encoded bodies only; parameters in the query
	// string would end up in access logs and referrers.
	if r.URL.RawQuery != "" {
		writeJSONError(w, oidc.InvalidRequest("query parameters are not allowed on the token endpoint"))
		return
	}
	tenant, err := s.tenantParam(r)
	if err != nil {
		writeJSONError(w, oidc.ServerError("failed to resolve tenant"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, oidc.InvalidRequest("malformed request body"))
		return
	}

	req, errObj := oidc.ParseTokenRequest(r.PostForm)
	if errObj != nil {
		writeJSONError(w, errObj)
		return
	}
	response, errObj := s.tokens.Process(r.Context(), tenant, req, s.requestURI(r))
	if errObj != nil {
		writeJSONError(w, errObj)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

package server

import (
	"net/http"

	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/token"
	"github.com/pkg/errors"
)

// providerMetadata is the openid-configuration document.
type providerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	JWKSURI               string `json:"jwks_uri"`

	ResponseTypesSupported           []string `json:"response_types_supported"`
	ResponseModesSupported           []string `json:"response_modes_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	tenant, errObj := s.loadTenant(r)
	if errObj != nil {
		writeJSONError(w, errObj)
		return
	}
	writeJSON(w, http.StatusOK, token.TenantJWKS(tenant))
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	tenant, errObj := s.loadTenant(r)
	if errObj != nil {
		writeJSONError(w, errObj)
		return
	}
	base := s.cfg.Server.PublicURL
	suffix := "/" + tenant.Name
	writeJSON(w, http.StatusOK, providerMetadata{
		Issuer:                tenant.Issuer,
		AuthorizationEndpoint: base + RouteAuthorize + suffix,
		TokenEndpoint:         base + RouteToken + suffix,
		EndSessionEndpoint:    base + RouteLogout + suffix,
		JWKSURI:               base + RouteJWKS + suffix,

		ResponseTypesSupported: []string{"code", "id_token", "id_token token"},
		ResponseModesSupported: []string{
			string(oidc.ResponseModeQuery),
			string(oidc.ResponseModeFragment),
			string(oidc.ResponseModeFormPost),
		},
		GrantTypesSupported: []string{
			string(oidc.GrantTypeAuthorizationCode),
			string(oidc.GrantTypePassword),
			string(oidc.GrantTypeClientCredentials),
			string(oidc.GrantTypeRefreshToken),
			string(oidc.GrantTypeSolutionUserCredentials),
			string(oidc.GrantTypeGSSTicket),
			string(oidc.GrantTypeSecurID),
			string(oidc.GrantTypePersonUserCertificate),
		},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported: []string{
			oidc.ScopeOpenID,
			oidc.ScopeOfflineAccess,
			oidc.ScopeIDTokenGroups,
			oidc.ScopeAccessGroups,
		},
		TokenEndpointAuthMethods: []string{"private_key_jwt"},
	})
}

func (s *Server) loadTenant(r *http.Request) (directory.TenantInfo, *oidc.ErrorObject) {
	name, err := s.tenantParam(r)
	if err != nil {
		return directory.TenantInfo{}, oidc.ServerError("failed to resolve tenant")
	}
	tenant, err := s.dir.Tenant(r.Context(), name)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchTenant) {
			return directory.TenantInfo{}, oidc.InvalidRequest("unknown tenant: " + name)
		}
		return directory.TenantInfo{}, oidc.ServerError("failed to load tenant")
	}
	return tenant, nil
}

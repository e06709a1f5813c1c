package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Endpoint paths. Every protocol endpoint also accepts a tenant path
// suffix; without one the default tenant serves the request.
const (
	RouteAuthorize = "/authorize"
	RouteToken     = "/token"
	RouteLogout    = "/logout"
	RouteJWKS      = "/jwks"
	RouteMetadata  = "/.well-known/openid-configuration"

	RouteFederate         = "/federate"
	RouteFederateCallback = "/federate/callback"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	withTenant := func(path string, methods []string, handler http.HandlerFunc) {
		for _, m := range methods {
			r.Method(m, path, handler)
			r.Method(m, path+"/{tenant}", handler)
		}
	}

	withTenant(RouteAuthorize, []string{http.MethodGet, http.MethodPost}, s.handleAuthorize)
	withTenant(RouteToken, []string{http.MethodPost}, s.handleToken)
	withTenant(RouteLogout, []string{http.MethodGet, http.MethodPost}, s.handleLogout)
	withTenant(RouteJWKS, []string{http.MethodGet}, s.handleJWKS)
	withTenant(RouteMetadata, []string{http.MethodGet}, s.handleMetadata)

	r.Get(RouteFederate, s.handleFederateStart)
	r.Post(RouteFederate, s.handleFederateStart)
	r.Get(RouteFederateCallback, s.handleFederateCallback)

	return r
}

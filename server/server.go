// Package server is the HTTP surface of the identity provider: routing,
// cookie handling and response rendering around the protocol processors.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meridianid/go-sts/auth"
	"github.com/meridianid/go-sts/authcode"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/federation"
	"github.com/meridianid/go-sts/internal/config"
	"github.com/meridianid/go-sts/login"
	"github.com/meridianid/go-sts/session"
	"github.com/meridianid/go-sts/token"
	"github.com/rs/zerolog"
)

// Server wires the protocol processors behind the HTTP routes. The
// authorization-code and session managers are shared across endpoints;
// everything else is stateless per request.
type Server struct {
	cfg config.Config
	log zerolog.Logger
	dir directory.Directory

	codes    *authcode.Manager
	sessions *session.Manager

	authorize  *auth.RequestProcessor
	logout     *auth.LogoutProcessor
	tokens     *token.Processor
	federation *federation.Processor

	router chi.Router
}

// New creates a fully wired server over dir.
func New(cfg config.Config, dir directory.Directory, log zerolog.Logger) *Server {
	codes := authcode.NewManager()
	sessions := session.NewManager()
	loginProcessor := login.NewProcessor(dir, sessions, log)
	keys := federation.NewKeyCache(context.Background(), http.DefaultClient)

	s := &Server{
		cfg:        cfg,
		log:        log,
		dir:        dir,
		codes:      codes,
		sessions:   sessions,
		authorize:  auth.NewRequestProcessor(dir, codes, sessions, loginProcessor, log),
		logout:     auth.NewLogoutProcessor(dir, sessions, log),
		tokens:     token.NewProcessor(dir, codes),
		federation: federation.NewProcessor(dir, sessions, codes, keys, log),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// tenantParam resolves the optional tenant path segment, falling back to
// the directory's default tenant.
func (s *Server) tenantParam(r *http.Request) (string, error) {
	if tenant := chi.URLParam(r, "tenant"); tenant != "" {
		return tenant, nil
	}
	return s.dir.DefaultTenant(r.Context())
}

// requestURI is the absolute external URL of the current request, used for
// assertion audience checks and metadata documents.
func (s *Server) requestURI(r *http.Request) string {
	return s.cfg.Server.PublicURL + r.URL.Path
}

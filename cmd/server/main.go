package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/internal/config"
	"github.com/meridianid/go-sts/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error running server: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("STS_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)
	displayAppName(cfg.AppName)

	dir, err := bootstrapDirectory(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(cfg, dir, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("public_url", cfg.Server.PublicURL).Msg("server listening")
		serveErr <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "server.ListenAndServe")
		}
	case <-stop:
		log.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}

// bootstrapDirectory seeds the in-memory directory from configuration.
// With no tenants configured a bare default tenant is created so the
// server comes up with working jwks/metadata endpoints.
func bootstrapDirectory(cfg config.Config) (*directory.InMemory, error) {
	defaultTenant := cfg.Bootstrap.DefaultTenant
	if defaultTenant == "" {
		defaultTenant = "default"
	}
	dir := directory.NewInMemory(defaultTenant)

	tenants := cfg.Bootstrap.Tenants
	if len(tenants) == 0 {
		tenants = []config.TenantBootstrap{{Name: defaultTenant}}
	}
	for _, t := range tenants {
		issuer := t.Issuer
		if issuer == "" {
			issuer = cfg.Server.PublicURL + "/" + t.Name
		}
		if _, err := dir.AddTenant(t.Name, issuer, nil, directory.TenantOptions{
			BrandName:          t.BrandName,
			LogonBannerTitle:   t.LogonBannerTitle,
			LogonBannerContent: t.LogonBannerContent,
		}); err != nil {
			return nil, errors.Wrapf(err, "bootstrap tenant %q", t.Name)
		}
		for _, c := range t.Clients {
			dir.AddClient(t.Name, directory.ClientInfo{
				ID:                     c.ID,
				RedirectURIs:           c.RedirectURIs,
				PostLogoutRedirectURIs: c.PostLogoutRedirectURIs,
				LogoutURI:              c.LogoutURI,
				CertSubjectDN:          c.CertSubjectDN,
			})
		}
		for _, u := range t.Users {
			domain := u.Domain
			if domain == "" {
				domain = t.Name
			}
			id := directory.PrincipalID{Name: u.Username, Domain: domain}
			if err := dir.AddUser(t.Name, id, u.Password); err != nil {
				return nil, errors.Wrapf(err, "bootstrap user %q", u.Username)
			}
			for _, group := range u.Groups {
				if err := dir.AddToGroup(context.Background(), t.Name, id, group); err != nil {
					return nil, errors.Wrapf(err, "bootstrap group %q", group)
				}
			}
		}
	}
	return dir, nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func displayAppName(appName string) {
	figure.NewFigure(appName, "cybermedium", true).Print()
	fmt.Println()
}

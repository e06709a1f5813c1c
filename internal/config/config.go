// Package config loads server configuration from a YAML file with
// environment-variable overrides for the deployment-specific values.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment override variables. They win over the YAML file.
const (
	addrEnvVar      = "STS_ADDR"
	publicURLEnvVar = "STS_PUBLIC_URL"
	logLevelEnvVar  = "STS_LOG_LEVEL"
	envEnvVar       = "STS_ENV"
)

// Config is the full server configuration.
type Config struct {
	AppName string `yaml:"app_name"`
	Env     string `yaml:"env"`

	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig is the HTTP listener configuration. PublicURL is the
// external base URL clients reach the server under; it feeds issuer
// metadata and assertion audience checks.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// BootstrapConfig seeds the in-memory directory at startup.
type BootstrapConfig struct {
	DefaultTenant string            `yaml:"default_tenant"`
	Tenants       []TenantBootstrap `yaml:"tenants"`
}

// TenantBootstrap seeds one tenant with its clients and users. The signing
// key is generated at startup; key material never lives in config files.
type TenantBootstrap struct {
	Name               string `yaml:"name"`
	Issuer             string `yaml:"issuer"`
	BrandName          string `yaml:"brand_name"`
	LogonBannerTitle   string `yaml:"logon_banner_title"`
	LogonBannerContent string `yaml:"logon_banner_content"`

	Clients []ClientBootstrap `yaml:"clients"`
	Users   []UserBootstrap   `yaml:"users"`
}

// ClientBootstrap seeds one OAuth client registration.
type ClientBootstrap struct {
	ID                     string   `yaml:"id"`
	RedirectURIs           []string `yaml:"redirect_uris"`
	PostLogoutRedirectURIs []string `yaml:"post_logout_redirect_uris"`
	LogoutURI              string   `yaml:"logout_uri"`
	CertSubjectDN          string   `yaml:"cert_subject_dn"`
}

// UserBootstrap seeds one person user. The password is hashed on load and
// only the hash is kept in memory.
type UserBootstrap struct {
	Username string   `yaml:"username"`
	Domain   string   `yaml:"domain"`
	Password string   `yaml:"password"`
	Groups   []string `yaml:"groups"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		AppName: "go-sts",
		Env:     "DEV",
		Server: ServerConfig{
			Addr:      ":8080",
			PublicURL: "http://localhost:8080",
		},
		Logging: LoggingConfig{Level: "info", Pretty: true},
	}
}

// Load reads path, falling back to defaults when path is empty, and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "[config.Load] read config file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "[config.Load] parse config file")
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(addrEnvVar); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(publicURLEnvVar); v != "" {
		c.Server.PublicURL = v
	}
	if v := os.Getenv(logLevelEnvVar); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envEnvVar); v != "" {
		c.Env = v
	}
}

package directory

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// PrincipalID names a principal inside a domain.
type PrincipalID struct {
	Name   string
	Domain string
}

// UPN is the user principal name, the canonical "subject" form.
func (p PrincipalID) UPN() string {
	return p.Name + "@" + p.Domain
}

// ParsePrincipalID parses a name@domain string.
func ParsePrincipalID(upn string) (PrincipalID, error) {
	index := strings.LastIndex(upn, "@")
	if index <= 0 || index == len(upn)-1 {
		return PrincipalID{}, fmt.Errorf("malformed principal name: %q", upn)
	}
	return PrincipalID{Name: upn[:index], Domain: upn[index+1:]}, nil
}

// PersonUser is a human principal. Immutable once constructed.
type PersonUser struct {
	ID     PrincipalID
	Tenant string
}

// Subject is the value placed in token sub claims.
func (p PersonUser) Subject() string { return p.ID.UPN() }

// SolutionUser is a service principal carrying an X.509 certificate whose
// public key is embedded in holder-of-key tokens. Immutable once
// constructed.
type SolutionUser struct {
	ID          PrincipalID
	Tenant      string
	Certificate *x509.Certificate
}

// Subject is the value placed in token sub and act_as claims.
func (s SolutionUser) Subject() string { return s.ID.UPN() }

// Default token lifetimes, used when tenant properties omit an override.
const (
	DefaultBearerIDTokenLifetime      = 1 * time.Hour
	DefaultHOKIDTokenLifetime         = 30 * 24 * time.Hour
	DefaultBearerAccessTokenLifetime  = 5 * time.Minute
	DefaultHOKAccessTokenLifetime     = 30 * 24 * time.Hour
	DefaultBearerRefreshTokenLifetime = 8 * time.Hour
	DefaultHOKRefreshTokenLifetime    = 30 * 24 * time.Hour
	DefaultClockTolerance             = 10 * time.Minute
)

// TenantOptions holds the optional TenantInfo fields. Zero values fall back
// to defaults.
type TenantOptions struct {
	BrandName                  string
	LogonBannerTitle           string
	LogonBannerContent         string
	LogonBannerCheckboxEnabled bool
	ClockTolerance             time.Duration
	BearerIDTokenLifetime      time.Duration
	HOKIDTokenLifetime         time.Duration
	BearerAccessTokenLifetime  time.Duration
	HOKAccessTokenLifetime     time.Duration
	BearerRefreshTokenLifetime time.Duration
	HOKRefreshTokenLifetime    time.Duration
}

// TenantInfo is the per-tenant configuration the core reads on every
// request. It is loaded fresh from the directory and treated as read-only.
type TenantInfo struct {
	Name       string
	Issuer     string
	KeyID      string
	PrivateKey *rsa.PrivateKey

	BrandName                  string
	LogonBannerTitle           string
	LogonBannerContent         string
	LogonBannerCheckboxEnabled bool

	ClockTolerance             time.Duration
	BearerIDTokenLifetime      time.Duration
	HOKIDTokenLifetime         time.Duration
	BearerAccessTokenLifetime  time.Duration
	HOKAccessTokenLifetime     time.Duration
	BearerRefreshTokenLifetime time.Duration
	HOKRefreshTokenLifetime    time.Duration
}

// NewTenantInfo constructs a TenantInfo with required fields up front and
// optional fields through opts.
func NewTenantInfo(name, issuer string, key *rsa.PrivateKey, opts TenantOptions) TenantInfo {
	t := TenantInfo{
		Name:       name,
		Issuer:     issuer,
		KeyID:      name + "-signing-key",
		PrivateKey: key,

		BrandName:                  opts.BrandName,
		LogonBannerTitle:           opts.LogonBannerTitle,
		LogonBannerContent:         opts.LogonBannerContent,
		LogonBannerCheckboxEnabled: opts.LogonBannerCheckboxEnabled,

		ClockTolerance:             opts.ClockTolerance,
		BearerIDTokenLifetime:      opts.BearerIDTokenLifetime,
		HOKIDTokenLifetime:         opts.HOKIDTokenLifetime,
		BearerAccessTokenLifetime:  opts.BearerAccessTokenLifetime,
		HOKAccessTokenLifetime:     opts.HOKAccessTokenLifetime,
		BearerRefreshTokenLifetime: opts.BearerRefreshTokenLifetime,
		HOKRefreshTokenLifetime:    opts.HOKRefreshTokenLifetime,
	}
	if t.ClockTolerance == 0 {
		t.ClockTolerance = DefaultClockTolerance
	}
	if t.BearerIDTokenLifetime == 0 {
		t.BearerIDTokenLifetime = DefaultBearerIDTokenLifetime
	}
	if t.HOKIDTokenLifetime == 0 {
		t.HOKIDTokenLifetime = DefaultHOKIDTokenLifetime
	}
	if t.BearerAccessTokenLifetime == 0 {
		t.BearerAccessTokenLifetime = DefaultBearerAccessTokenLifetime
	}
	if t.HOKAccessTokenLifetime == 0 {
		t.HOKAccessTokenLifetime = DefaultHOKAccessTokenLifetime
	}
	if t.BearerRefreshTokenLifetime == 0 {
		t.BearerRefreshTokenLifetime = DefaultBearerRefreshTokenLifetime
	}
	if t.HOKRefreshTokenLifetime == 0 {
		t.HOKRefreshTokenLifetime = DefaultHOKRefreshTokenLifetime
	}
	return t
}

// PublicKey returns the tenant signing public key.
func (t TenantInfo) PublicKey() *rsa.PublicKey {
	if t.PrivateKey == nil {
		return nil
	}
	return &t.PrivateKey.PublicKey
}

// IDTokenLifetime selects the per-class lifetime by token type.
func (t TenantInfo) IDTokenLifetime(holderOfKey bool) time.Duration {
	if holderOfKey {
		return t.HOKIDTokenLifetime
	}
	return t.BearerIDTokenLifetime
}

func (t TenantInfo) AccessTokenLifetime(holderOfKey bool) time.Duration {
	if holderOfKey {
		return t.HOKAccessTokenLifetime
	}
	return t.BearerAccessTokenLifetime
}

func (t TenantInfo) RefreshTokenLifetime(holderOfKey bool) time.Duration {
	if holderOfKey {
		return t.HOKRefreshTokenLifetime
	}
	return t.BearerRefreshTokenLifetime
}

// DefaultClientAssertionLifetime bounds the age of client assertions when
// the client registration does not override it.
const DefaultClientAssertionLifetime = 50 * time.Minute

// ClientInfo is an OAuth client registration.
type ClientInfo struct {
	ID                     string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	LogoutURI              string

	// CertSubjectDN, when set, requires the client to authenticate with a
	// client assertion signed by the solution user holding that subject.
	CertSubjectDN string

	// AssertionLifetime overrides DefaultClientAssertionLifetime when > 0.
	AssertionLifetime time.Duration
}

// IsRegisteredRedirectURI reports whether uri is in the registered set.
func (c ClientInfo) IsRegisteredRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// IsRegisteredPostLogoutURI reports whether uri may receive the post-logout
// redirect.
func (c ClientInfo) IsRegisteredPostLogoutURI(uri string) bool {
	for _, registered := range c.PostLogoutRedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ClientAssertionLifetime returns the effective assertion age bound.
func (c ClientInfo) ClientAssertionLifetime() time.Duration {
	if c.AssertionLifetime > 0 {
		return c.AssertionLifetime
	}
	return DefaultClientAssertionLifetime
}

// GSSResult is one round of a Kerberos-style negotiate exchange. When
// Complete is false, ServerLeg must travel back to the caller so the next
// round can continue the same context by id.
type GSSResult struct {
	Complete  bool
	Principal PrincipalID
	ServerLeg []byte
}

// SecurIDResult is one round of a one-time-passcode exchange. When
// Complete is false, SessionID identifies the pending exchange the next
// passcode must be submitted against.
type SecurIDResult struct {
	Complete  bool
	Principal PrincipalID
	SessionID string
}

// FederatedIDPInfo describes an external identity provider trusted for
// federated login.
type FederatedIDPInfo struct {
	EntityID          string // issuer
	AuthorizeEndpoint string
	TokenEndpoint     string
	JWKSURI           string
	ClientID          string
	ClientSecret      string
	RedirectURI       string

	// LogoutEndpoint, when set, is notified front-channel when a federated
	// session logs out here.
	LogoutEndpoint string

	// RoleGroupMappings maps external permission roles to directory groups
	// federated users are placed in.
	RoleGroupMappings map[string]string
}

package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
	"github.com/meridianid/go-sts/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// LogoutResult is the outcome of one logout call.
type LogoutResult struct {
	Err *oidc.ErrorObject

	// RedirectTarget is the validated post-logout redirect with the state
	// parameter attached; empty when the request named none.
	RedirectTarget string

	// FrontChannelLogoutURIs are rendered as hidden iframes so every other
	// client the session was used with learns about the logout.
	FrontChannelLogoutURIs []string

	TenantName         string
	ClearSessionCookie bool

	// SetCertLoggedOut marks the browser so certificate login is not
	// silently re-entered for the rest of the browser session.
	SetCertLoggedOut bool

	// ClearExternalIDPCookie removes the external-issuer marker a federated
	// login left behind.
	ClearExternalIDPCookie bool
}

// LogoutProcessor drives the logout endpoint.
type LogoutProcessor struct {
	dir      directory.Directory
	sessions *session.Manager
	now      func() time.Time
	log      zerolog.Logger
}

// LogoutProcessorOption configures a LogoutProcessor.
type LogoutProcessorOption func(*LogoutProcessor)

// WithLogoutNowFunc sets the clock (primarily for testing).
func WithLogoutNowFunc(now func() time.Time) LogoutProcessorOption {
	return func(p *LogoutProcessor) {
		p.now = now
	}
}

// NewLogoutProcessor creates a logout-endpoint processor.
func NewLogoutProcessor(dir directory.Directory, sessions *session.Manager, log zerolog.Logger, options ...LogoutProcessorOption) *LogoutProcessor {
	p := &LogoutProcessor{dir: dir, sessions: sessions, now: time.Now, log: log}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Process handles one logout call. params carry id_token_hint (required),
// optional post_logout_redirect_uri and state; sessionID and
// externalIDPIssuer come from the tenant cookies and may be empty.
func (p *LogoutProcessor) Process(ctx context.Context, tenantName string, params url.Values, sessionID, externalIDPIssuer string) LogoutResult {
	tenant, errObj := p.resolveTenant(ctx, tenantName)
	if errObj != nil {
		return LogoutResult{Err: errObj}
	}

	hint := params.Get("id_token_hint")
	if hint == "" {
		return LogoutResult{Err: oidc.InvalidRequest("missing id_token_hint parameter")}
	}
	claims, errObj := p.verifyIDTokenHint(tenant, hint)
	if errObj != nil {
		return LogoutResult{Err: errObj}
	}

	client, err := p.dir.Client(ctx, tenant.Name, claims.ClientID)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchClient) {
			return LogoutResult{Err: oidc.InvalidClient("unregistered client: " + claims.ClientID)}
		}
		return LogoutResult{Err: oidc.ServerError("failed to load client registration")}
	}

	result := LogoutResult{TenantName: tenant.Name, ClearSessionCookie: true}

	// A post-logout redirect is only honored when registered; an
	// unregistered one fails closed rather than becoming an open redirect.
	if target := params.Get("post_logout_redirect_uri"); target != "" {
		if !client.IsRegisteredPostLogoutURI(target) {
			return LogoutResult{Err: oidc.InvalidRequest("unregistered post_logout_redirect_uri: " + target)}
		}
		result.RedirectTarget = withQueryParam(target, "state", params.Get("state"))
	}

	// A federated login left the external issuer in a cookie: logging out
	// here also notifies that provider when it advertises a logout endpoint.
	if externalIDPIssuer != "" {
		result.ClearExternalIDPCookie = true
		idp, err := p.dir.FederatedIDP(ctx, externalIDPIssuer)
		if err == nil && idp.LogoutEndpoint != "" {
			result.FrontChannelLogoutURIs = append(result.FrontChannelLogoutURIs, idp.LogoutEndpoint)
		}
	}

	if sessionID == "" {
		sessionID = claims.SessionID
	}
	if sessionID == "" {
		return result
	}
	entry, ok := p.sessions.Remove(sessionID)
	if !ok {
		return result
	}
	if entry.Method == session.MethodCertificate {
		result.SetCertLoggedOut = true
	}
	for _, c := range entry.Clients {
		if c.LogoutURI == "" {
			continue
		}
		result.FrontChannelLogoutURIs = append(result.FrontChannelLogoutURIs,
			withQueryParam(c.LogoutURI, "sid", sessionID))
	}
	return result
}

// verifyIDTokenHint checks the hint against the tenant signing key. Expiry
// is deliberately not enforced: logging out with an expired id token is
// fine, the signature and class are what authenticate the request.
func (p *LogoutProcessor) verifyIDTokenHint(tenant directory.TenantInfo, hint string) (*token.IDTokenClaims, *oidc.ErrorObject) {
	claims := &token.IDTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(hint, claims, func(*jwt.Token) (any, error) {
		return tenant.PublicKey(), nil
	}); err != nil {
		return nil, oidc.InvalidRequest("id_token_hint verification failed")
	}
	if claims.TokenClass != token.ClassID {
		return nil, oidc.InvalidRequest("id_token_hint is not an id token")
	}
	if claims.Tenant != tenant.Name {
		return nil, oidc.InvalidRequest("id_token_hint was issued for a different tenant")
	}
	return claims, nil
}

func (p *LogoutProcessor) resolveTenant(ctx context.Context, tenantName string) (directory.TenantInfo, *oidc.ErrorObject) {
	if tenantName == "" {
		name, err := p.dir.DefaultTenant(ctx)
		if err != nil {
			return directory.TenantInfo{}, oidc.ServerError("failed to resolve default tenant")
		}
		tenantName = name
	}
	tenant, err := p.dir.Tenant(ctx, tenantName)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchTenant) {
			return directory.TenantInfo{}, oidc.InvalidRequest("unknown tenant: " + tenantName)
		}
		return directory.TenantInfo{}, oidc.ServerError("failed to load tenant")
	}
	return tenant, nil
}

func withQueryParam(target, name, value string) string {
	if value == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String()
}

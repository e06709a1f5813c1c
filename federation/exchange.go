package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/meridianid/go-sts/authcode"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// externalClaims are the claims read from the external provider's id
// token beyond the registered set.
type externalClaims struct {
	Tenant string   `json:"tenant"`
	Roles  []string `json:"roles"`
}

// CallbackResult is the outcome of one federated callback.
type CallbackResult struct {
	Err *oidc.ErrorObject

	// Response redirects the browser back to the original client carrying a
	// fresh authorization code.
	Response *oidc.AuthenticationResponse

	TenantName string
	SessionID  string

	// IssuerEntityID is recorded in the external-provider cookie so logout
	// can find the provider again.
	IssuerEntityID string
}

// Processor drives federated login: redirecting out to the external
// provider and exchanging its callback for a local session and code.
type Processor struct {
	dir      directory.Directory
	sessions *session.Manager
	codes    *authcode.Manager
	keys     *KeyCache
	client   *http.Client
	now      func() time.Time
	log      zerolog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// WithHTTPClient sets the client used for the outbound token exchange and
// JWKS fetches.
func WithHTTPClient(client *http.Client) ProcessorOption {
	return func(p *Processor) {
		p.client = client
	}
}

// NewProcessor creates a federation processor sharing the session and
// authorization-code managers with the authorize endpoint.
func NewProcessor(dir directory.Directory, sessions *session.Manager, codes *authcode.Manager, keys *KeyCache, log zerolog.Logger, options ...ProcessorOption) *Processor {
	p := &Processor{
		dir:      dir,
		sessions: sessions,
		codes:    codes,
		keys:     keys,
		client:   http.DefaultClient,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Start begins a federated login for req against the provider registered
// under idpIssuer. It reserves a placeholder session before redirecting so
// the callback has somewhere to land, and returns the external authorize
// URL to redirect the browser to.
func (p *Processor) Start(ctx context.Context, tenantName, idpIssuer string, req *oidc.AuthenticationRequest) (redirectURL, sessionID string, errObj *oidc.ErrorObject) {
	idp, err := p.dir.FederatedIDP(ctx, idpIssuer)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchIDP) {
			return "", "", oidc.InvalidRequest("unknown external identity provider: " + idpIssuer)
		}
		return "", "", oidc.ServerError("failed to load external identity provider")
	}

	sessionID = session.NewID()
	if err := p.sessions.AddPlaceholder(sessionID); err != nil {
		return "", "", oidc.ServerError("failed to reserve session")
	}
	relay := RelayState{
		Tenant:       tenantName,
		Issuer:       idp.EntityID,
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI.String(),
		ResponseMode: string(req.ResponseMode),
		Scope:        req.Scope.String(),
		State:        req.State,
		Nonce:        req.Nonce,
		SessionID:    sessionID,
	}
	return p.oauthConfig(idp).AuthCodeURL(relay.Encode()), sessionID, nil
}

// Callback completes a federated login: it exchanges the provider's code,
// verifies the returned id token against the cached provider keys,
// provisions tenant/user/groups just in time and hands the browser back to
// the original client with a local authorization code.
func (p *Processor) Callback(ctx context.Context, code, state string) CallbackResult {
	relay, err := DecodeRelayState(state)
	if err != nil {
		return CallbackResult{Err: oidc.InvalidRequest("malformed state parameter")}
	}
	idp, err := p.dir.FederatedIDP(ctx, relay.Issuer)
	if err != nil {
		return CallbackResult{Err: oidc.InvalidRequest("unknown external identity provider: " + relay.Issuer)}
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauthConfig(idp).Exchange(exchangeCtx, code)
	if err != nil {
		p.log.Error().Err(err).Str("issuer", idp.EntityID).Msg("external token exchange failed")
		return CallbackResult{Err: oidc.ServerError("external token exchange failed")}
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return CallbackResult{Err: oidc.InvalidGrant("external provider returned no id token")}
	}

	verifier := gooidc.NewVerifier(idp.EntityID, p.keys.KeySet(idp.EntityID, idp.JWKSURI), &gooidc.Config{
		ClientID: idp.ClientID,
		Now:      p.now,
	})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		p.log.Warn().Err(err).Str("issuer", idp.EntityID).Msg("external id token rejected")
		return CallbackResult{Err: oidc.InvalidGrant("external id token verification failed")}
	}
	var claims externalClaims
	if err := idToken.Claims(&claims); err != nil {
		return CallbackResult{Err: oidc.InvalidGrant("external id token claims are malformed")}
	}

	tenantName := claims.Tenant
	if tenantName == "" {
		tenantName = relay.Tenant
	}
	user, errObj := p.provision(ctx, tenantName, idp, idToken.Subject, claims.Roles)
	if errObj != nil {
		return CallbackResult{Err: errObj}
	}

	method := session.MethodFederated
	if !p.sessions.Update(relay.SessionID, session.Update{PersonUser: &user, Method: &method}) {
		return CallbackResult{Err: oidc.InvalidRequest("login session expired, restart the flow")}
	}
	p.sessions.SetExternalJWTContent(relay.SessionID, externalContent(tok, rawIDToken))

	response, errObj := p.resume(relay, user)
	if errObj != nil {
		return CallbackResult{Err: errObj}
	}
	return CallbackResult{
		Response:       response,
		TenantName:     tenantName,
		SessionID:      relay.SessionID,
		IssuerEntityID: idp.EntityID,
	}
}

// provision creates tenant, user and group memberships just in time for an
// externally authenticated subject.
func (p *Processor) provision(ctx context.Context, tenantName string, idp directory.FederatedIDPInfo, subject string, roles []string) (directory.PersonUser, *oidc.ErrorObject) {
	if _, err := p.dir.Tenant(ctx, tenantName); err != nil {
		if !errors.Is(err, directory.ErrNoSuchTenant) {
			return directory.PersonUser{}, oidc.ServerError("failed to load tenant")
		}
		if err := p.dir.CreateTenant(ctx, tenantName, idp.EntityID); err != nil {
			return directory.PersonUser{}, oidc.ServerError("failed to provision tenant")
		}
	}

	id, err := directory.ParsePrincipalID(subject)
	if err != nil {
		id = directory.PrincipalID{Name: subject, Domain: tenantName}
	}
	if err := p.dir.EnsureFederatedUser(ctx, tenantName, idp.EntityID, id); err != nil {
		return directory.PersonUser{}, oidc.ServerError("failed to provision federated user")
	}
	for _, role := range roles {
		group, ok := idp.RoleGroupMappings[role]
		if !ok {
			continue
		}
		if err := p.dir.AddToGroup(ctx, tenantName, id, group); err != nil {
			return directory.PersonUser{}, oidc.ServerError("failed to provision group membership")
		}
	}
	return directory.PersonUser{ID: id, Tenant: tenantName}, nil
}

// resume rebuilds the original authentication request from the relay state
// and mints the authorization code completing it.
func (p *Processor) resume(relay RelayState, user directory.PersonUser) (*oidc.AuthenticationResponse, *oidc.ErrorObject) {
	redirectURI, err := url.Parse(relay.RedirectURI)
	if err != nil || !redirectURI.IsAbs() {
		return nil, oidc.InvalidRequest("relay state redirect_uri is malformed")
	}
	mode := oidc.ResponseMode(relay.ResponseMode)
	if mode == "" {
		mode = oidc.ResponseModeQuery
	}
	req := &oidc.AuthenticationRequest{
		ClientID:     relay.ClientID,
		RedirectURI:  redirectURI,
		ResponseType: oidc.ResponseType{Code: true},
		ResponseMode: mode,
		Scope:        oidc.ParseScope(relay.Scope),
		State:        relay.State,
		Nonce:        relay.Nonce,
	}
	code := authcode.NewCode()
	if err := p.codes.Add(code, user, relay.SessionID, req); err != nil {
		return nil, oidc.ServerError("failed to record authorization code")
	}
	return oidc.NewSuccessResponse(redirectURI, mode, relay.State, code, "", ""), nil
}

func (p *Processor) oauthConfig(idp directory.FederatedIDPInfo) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     idp.ClientID,
		ClientSecret: idp.ClientSecret,
		RedirectURL:  idp.RedirectURI,
		Scopes:       []string{gooidc.ScopeOpenID},
		Endpoint: oauth2.Endpoint{
			AuthURL:  idp.AuthorizeEndpoint,
			TokenURL: idp.TokenEndpoint,
		},
	}
}

// externalContent serializes the provider's token response for opaque
// storage on the session.
func externalContent(tok *oauth2.Token, rawIDToken string) string {
	raw, err := json.Marshal(map[string]string{
		"access_token":  tok.AccessToken,
		"refresh_token": tok.RefreshToken,
		"id_token":      rawIDToken,
	})
	if err != nil {
		return rawIDToken
	}
	return string(raw)
}

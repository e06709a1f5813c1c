// Package auth implements the authorize and logout endpoints' processing:
// request parsing and validation, login delegation, code or token issuance
// and session bookkeeping. Results are transport-neutral; the server layer
// turns them into redirects, form posts, login-form renders or errors.
package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/meridianid/go-sts/authcode"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/login"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
	"github.com/meridianid/go-sts/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ResultKind discriminates what the HTTP layer must render.
type ResultKind int

const (
	// ResultResponse delivers r.Response to the client redirect URI per its
	// response mode (302 for query/fragment, HTML document for form_post).
	ResultResponse ResultKind = iota

	// ResultLoginForm renders the login page; the request was valid but no
	// principal is established yet.
	ResultLoginForm

	// ResultLoginError is a recoverable login failure or continuation for
	// the login page script: 401 with the localized message header and,
	// for continuations, the authorization header.
	ResultLoginError

	// ResultError is a direct protocol error to the browser; used when no
	// registered redirect URI is available to carry it safely.
	ResultError
)

// Result is the outcome of one authorize call.
type Result struct {
	Kind ResultKind

	Response *oidc.AuthenticationResponse
	Err      *oidc.ErrorObject

	// Login-form render context.
	Tenant  directory.TenantInfo
	Request *oidc.AuthenticationRequest

	// Login-layer channel back to the form script.
	LoginMessage       string
	ContinuationHeader string

	// Session cookie to set on success.
	SetSessionCookie bool
	SessionID        string
	TenantName       string
}

// RequestProcessor drives the authorize endpoint.
type RequestProcessor struct {
	dir      directory.Directory
	codes    *authcode.Manager
	sessions *session.Manager
	login    *login.Processor
	now      func() time.Time
	log      zerolog.Logger
}

// RequestProcessorOption configures a RequestProcessor.
type RequestProcessorOption func(*RequestProcessor)

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) RequestProcessorOption {
	return func(p *RequestProcessor) {
		p.now = now
	}
}

// NewRequestProcessor creates an authorize-endpoint processor.
func NewRequestProcessor(
	dir directory.Directory,
	codes *authcode.Manager,
	sessions *session.Manager,
	loginProcessor *login.Processor,
	log zerolog.Logger,
	options ...RequestProcessorOption,
) *RequestProcessor {
	p := &RequestProcessor{
		dir:      dir,
		codes:    codes,
		sessions: sessions,
		login:    loginProcessor,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Process handles one authorize call. tenantName may be empty, selecting
// the default tenant; params are the merged query/form parameters;
// loginReq carries the request's credential material; requestURI is the
// absolute URL the request was made to.
func (p *RequestProcessor) Process(ctx context.Context, tenantName string, params url.Values, loginReq login.Request, requestURI string) Result {
	tenant, errObj := p.resolveTenant(ctx, tenantName)
	if errObj != nil {
		return Result{Kind: ResultError, Err: errObj}
	}

	req, parseErr := oidc.ParseAuthenticationRequest(params)
	if parseErr != nil {
		// A parse error may only travel over a redirect the client actually
		// registered; otherwise fail closed with a direct error.
		if req != nil {
			if client, err := p.dir.Client(ctx, tenant.Name, req.ClientID); err == nil &&
				client.IsRegisteredRedirectURI(req.RedirectURI.String()) {
				return Result{Kind: ResultResponse, Response: p.errorResponse(req, parseErr)}
			}
		}
		return Result{Kind: ResultError, Err: parseErr}
	}

	client, err := p.dir.Client(ctx, tenant.Name, req.ClientID)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchClient) {
			return Result{Kind: ResultError, Err: oidc.InvalidClient("unregistered client: " + req.ClientID)}
		}
		return Result{Kind: ResultError, Err: oidc.ServerError("failed to load client registration")}
	}
	if !client.IsRegisteredRedirectURI(req.RedirectURI.String()) {
		return Result{Kind: ResultError, Err: oidc.InvalidRequest("unregistered redirect_uri: " + req.RedirectURI.String())}
	}

	// The redirect URI is registered from here on, so every further failure
	// is safe to deliver to the client.
	if errObj := req.Scope.Validate(req.GrantType()); errObj != nil {
		return Result{Kind: ResultResponse, Response: p.errorResponse(req, errObj)}
	}

	if client.CertSubjectDN != "" {
		if req.ClientAssertion == "" {
			return Result{Kind: ResultResponse, Response: p.errorResponse(req,
				oidc.InvalidClient("client_assertion is required for this client"))}
		}
		validator := token.NewAssertionValidator(p.dir, tenant, token.WithValidatorNowFunc(p.now))
		if _, errObj := validator.ValidateClientAssertion(ctx, req.ClientAssertion, client, requestURI); errObj != nil {
			return Result{Kind: ResultResponse, Response: p.errorResponse(req, errObj)}
		}
	}

	loginReq.Tenant = tenant.Name
	switch outcome := p.login.Login(ctx, loginReq).(type) {
	case login.NoCredentials:
		return Result{Kind: ResultLoginForm, Tenant: tenant, Request: req}

	case login.ContinuationRequired:
		return Result{
			Kind:               ResultLoginError,
			Err:                oidc.Unauthorized("login continuation required"),
			LoginMessage:       outcome.Message,
			ContinuationHeader: outcome.HeaderValue,
			Tenant:             tenant,
			Request:            req,
		}

	case login.Rejected:
		return Result{
			Kind:         ResultLoginError,
			Err:          oidc.Unauthorized(string(outcome.Code)),
			LoginMessage: outcome.Message,
			Tenant:       tenant,
			Request:      req,
		}

	case login.Authenticated:
		return p.completeLogin(ctx, tenant, client, req, outcome)

	default:
		return Result{Kind: ResultError, Err: oidc.ServerError("unexpected login outcome")}
	}
}

// completeLogin records the session and mints the code or tokens the
// response type asks for.
func (p *RequestProcessor) completeLogin(ctx context.Context, tenant directory.TenantInfo, client directory.ClientInfo, req *oidc.AuthenticationRequest, outcome login.Authenticated) Result {
	sessionID := outcome.SessionID
	if outcome.FromSession {
		// Reusing a session only appends this client to its registered set.
		p.sessions.Update(sessionID, session.Update{Client: &client})
	} else {
		sessionID = session.NewID()
		if err := p.sessions.Add(sessionID, outcome.User, outcome.Method, client); err != nil {
			p.log.Error().Err(err).Str("tenant", tenant.Name).Msg("failed to record session")
			return Result{Kind: ResultResponse, Response: p.errorResponse(req, oidc.ServerError("failed to record session"))}
		}
	}

	var response *oidc.AuthenticationResponse
	if req.ResponseType.Code {
		code := authcode.NewCode()
		if err := p.codes.Add(code, outcome.User, sessionID, req); err != nil {
			p.log.Error().Err(err).Str("tenant", tenant.Name).Msg("failed to record authorization code")
			return Result{Kind: ResultResponse, Response: p.errorResponse(req, oidc.ServerError("failed to record authorization code"))}
		}
		response = oidc.NewSuccessResponse(req.RedirectURI, req.ResponseMode, req.State, code, "", "")
	} else {
		idToken, accessToken, errObj := p.issueImplicit(ctx, tenant, req, outcome.User, sessionID)
		if errObj != nil {
			return Result{Kind: ResultResponse, Response: p.errorResponse(req, errObj)}
		}
		response = oidc.NewSuccessResponse(req.RedirectURI, req.ResponseMode, req.State, "", idToken, accessToken)
	}

	return Result{
		Kind:             ResultResponse,
		Response:         response,
		SetSessionCookie: true,
		SessionID:        sessionID,
		TenantName:       tenant.Name,
	}
}

// issueImplicit mints the tokens attached directly to the redirect for the
// id_token and id_token+token response types.
func (p *RequestProcessor) issueImplicit(ctx context.Context, tenant directory.TenantInfo, req *oidc.AuthenticationRequest, user directory.PersonUser, sessionID string) (idToken, accessToken string, errObj *oidc.ErrorObject) {
	groups, admin, err := token.ResolveGroupClaims(ctx, p.dir, tenant.Name, user.ID, req.Scope)
	if err != nil {
		return "", "", oidc.ServerError("failed to resolve group membership")
	}
	spec := token.IssueSpec{
		PersonUser: &user,
		ClientID:   req.ClientID,
		Scope:      req.Scope,
		Nonce:      req.Nonce,
		SessionID:  sessionID,
		Groups:     groups,
		Admin:      admin,
	}
	issuer := token.NewIssuer(tenant, token.WithNowFunc(p.now))
	idToken, err = issuer.IssueIDToken(spec)
	if err != nil {
		return "", "", oidc.ServerError("failed to sign id token")
	}
	if req.ResponseType.Token {
		accessToken, err = issuer.IssueAccessToken(spec)
		if err != nil {
			return "", "", oidc.ServerError("failed to sign access token")
		}
	}
	return idToken, accessToken, nil
}

// errorResponse routes errObj to the request's registered redirect URI,
// defaulting to the query response mode when parsing stopped before the
// mode was established.
func (p *RequestProcessor) errorResponse(req *oidc.AuthenticationRequest, errObj *oidc.ErrorObject) *oidc.AuthenticationResponse {
	mode := req.ResponseMode
	if mode == "" {
		mode = oidc.ResponseModeQuery
	}
	return oidc.NewErrorResponse(req.RedirectURI, mode, req.State, errObj)
}

func (p *RequestProcessor) resolveTenant(ctx context.Context, tenantName string) (directory.TenantInfo, *oidc.ErrorObject) {
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

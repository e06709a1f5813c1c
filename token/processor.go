package token

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridianid/go-sts/authcode"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/pkg/errors"
)

// Directory groups with protocol meaning: Administrators feeds the access
// token admin claim, ActAsUsers gates solution users acting on behalf of
// person users.
const (
	adminGroup = "Administrators"
	actAsGroup = "ActAsUsers"
)

// Processor implements the token endpoint: it authenticates the caller,
// validates the presented grant and mints the response tokens. Every
// failure is a structured protocol error; server_error is reserved for
// directory failures.
type Processor struct {
	dir   directory.Directory
	codes *authcode.Manager
	now   func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorNowFunc sets the clock (primarily for testing).
func WithProcessorNowFunc(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a token-endpoint processor sharing the
// authorization-code manager with the authorize endpoint.
func NewProcessor(dir directory.Directory, codes *authcode.Manager, options ...ProcessorOption) *Processor {
	p := &Processor{dir: dir, codes: codes, now: time.Now}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// grantState is what grant dispatch produces: the authenticated principal
// plus the token parameters the grant fixes.
type grantState struct {
	person       *directory.PersonUser
	solutionUser *directory.SolutionUser
	scope        oidc.Scope
	nonce        string
	sessionID    string

	// refreshAllowed is false for grants that must not mint a new refresh
	// token even when the scope carries offline_access.
	refreshAllowed bool
}

// Process handles one token request. tenantName may be empty, selecting the
// default tenant. requestURI is the absolute URL the request was made to;
// assertion audiences are checked against it.
func (p *Processor) Process(ctx context.Context, tenantName string, req *oidc.TokenRequest, requestURI string) (*oidc.TokenResponse, *oidc.ErrorObject) {
	tenant, errObj := p.resolveTenant(ctx, tenantName)
	if errObj != nil {
		return nil, errObj
	}
	validator := NewAssertionValidator(p.dir, tenant, WithValidatorNowFunc(p.now))

	// Client authentication. A client registered with a certificate subject
	// must present a client assertion; the solution user behind it is the
	// principal for the client_credentials grant.
	var client *directory.ClientInfo
	var clientSolutionUser *directory.SolutionUser
	if req.ClientID != "" {
		loaded, err := p.dir.Client(ctx, tenant.Name, req.ClientID)
		if err != nil {
			if errors.Is(err, directory.ErrNoSuchClient) {
				return nil, oidc.InvalidClient("unregistered client: " + req.ClientID)
			}
			return nil, oidc.ServerError("failed to load client registration")
		}
		client = &loaded
		if client.CertSubjectDN != "" {
			if req.ClientAssertion == "" {
				return nil, oidc.InvalidClient("client_assertion is required for this client")
			}
			su, errObj := validator.ValidateClientAssertion(ctx, req.ClientAssertion, *client, requestURI)
			if errObj != nil {
				return nil, errObj
			}
			clientSolutionUser = &su
		}
	} else if req.ClientAssertion != "" {
		return nil, oidc.InvalidClient("client_assertion requires a client_id")
	}

	// A solution user assertion authenticates a solution user in its own
	// right or, combined with a person grant, as an act-as delegate.
	var assertedSolutionUser *directory.SolutionUser
	if req.SolutionUserAssertion != "" {
		su, errObj := validator.ValidateSolutionUserAssertion(ctx, req.SolutionUserAssertion, requestURI)
		if errObj != nil {
			return nil, errObj
		}
		assertedSolutionUser = &su
	}

	state, errObj := p.dispatch(ctx, tenant, req, requestURI, validator, clientSolutionUser, assertedSolutionUser)
	if errObj != nil {
		return nil, errObj
	}

	if state.person != nil && state.solutionUser != nil {
		member, err := p.dir.IsMemberOfGroup(ctx, tenant.Name, state.solutionUser.ID, actAsGroup)
		if err != nil {
			return nil, oidc.ServerError("failed to check " + actAsGroup + " membership")
		}
		if !member {
			return nil, oidc.AccessDenied("solution user must be a member of " + actAsGroup + " to act on behalf of a person user")
		}
	}

	return p.issue(ctx, tenant, req.ClientID, state)
}

func (p *Processor) resolveTenant(ctx context.Context, tenantName string) (directory.TenantInfo, *oidc.ErrorObject) {
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

func (p *Processor) dispatch(
	ctx context.Context,
	tenant directory.TenantInfo,
	req *oidc.TokenRequest,
	requestURI string,
	validator *AssertionValidator,
	clientSolutionUser, assertedSolutionUser *directory.SolutionUser,
) (*grantState, *oidc.ErrorObject) {
	switch grant := req.Grant.(type) {
	case oidc.AuthorizationCodeGrant:
		return p.redeemAuthorizationCode(tenant, req, grant, assertedSolutionUser)

	case oidc.PasswordGrant:
		if errObj := req.Scope.Validate(oidc.GrantTypePassword); errObj != nil {
			return nil, errObj
		}
		user, err := p.dir.AuthenticateByPassword(ctx, tenant.Name, grant.Username, grant.Password)
		if err != nil {
			if errors.Is(err, directory.ErrInvalidCredentials) {
				return nil, oidc.InvalidGrant("incorrect username or password")
			}
			return nil, oidc.ServerError("password authentication failed")
		}
		return &grantState{person: &user, solutionUser: assertedSolutionUser, scope: req.Scope, refreshAllowed: true}, nil

	case oidc.ClientCredentialsGrant:
		if errObj := req.Scope.Validate(oidc.GrantTypeClientCredentials); errObj != nil {
			return nil, errObj
		}
		if clientSolutionUser == nil {
			return nil, oidc.InvalidClient("client_credentials requires certificate client authentication")
		}
		return &grantState{solutionUser: clientSolutionUser, scope: req.Scope}, nil

	case oidc.SolutionUserCredentialsGrant:
		if errObj := req.Scope.Validate(oidc.GrantTypeSolutionUserCredentials); errObj != nil {
			return nil, errObj
		}
		if assertedSolutionUser == nil {
			return nil, oidc.InvalidClient("solution_user_assertion is required for this grant")
		}
		return &grantState{solutionUser: assertedSolutionUser, scope: req.Scope}, nil

	case oidc.GSSTicketGrant:
		if errObj := req.Scope.Validate(oidc.GrantTypeGSSTicket); errObj != nil {
			return nil, errObj
		}
		result, err := p.dir.AuthenticateByGSSTicket(ctx, tenant.Name, grant.ContextID, grant.Ticket)
		if err != nil {
			if errors.Is(err, directory.ErrInvalidCredentials) {
				return nil, oidc.InvalidGrant("invalid gss ticket")
			}
			return nil, oidc.ServerError("gss authentication failed")
		}
		if !result.Complete {
			// The context id and server leg travel inside the error
			// description so the client can run the next round.
			return nil, oidc.InvalidGrant(fmt.Sprintf("gss_continue_needed:%s:%s",
				grant.ContextID, base64.StdEncoding.EncodeToString(result.ServerLeg)))
		}
		user := directory.PersonUser{ID: result.Principal, Tenant: tenant.Name}
		return &grantState{person: &user, solutionUser: assertedSolutionUser, scope: req.Scope, refreshAllowed: true}, nil

	case oidc.SecurIDGrant:
		if errObj := req.Scope.Validate(oidc.GrantTypeSecurID); errObj != nil {
			return nil, errObj
		}
		result, err := p.dir.AuthenticateBySecurID(ctx, tenant.Name, grant.Username, grant.Passcode, grant.SessionID)
		if err != nil {
			switch {
			case errors.Is(err, directory.ErrSecurIDNewPinRequired):
				return nil, oidc.InvalidGrant("new securid pin required")
			case errors.Is(err, directory.ErrInvalidCredentials):
				return nil, oidc.InvalidGrant("incorrect securid username or passcode")
			}
			return nil, oidc.ServerError("securid authentication failed")
		}
		if !result.Complete {
			return nil, oidc.InvalidGrant("securid_next_code_required:" +
				base64.StdEncoding.EncodeToString([]byte(result.SessionID)))
		}
		user := directory.PersonUser{ID: result.Principal, Tenant: tenant.Name}
		return &grantState{person: &user, solutionUser: assertedSolutionUser, scope: req.Scope, refreshAllowed: true}, nil

	case oidc.PersonUserCertificateGrant:
		if errObj := req.Scope.Validate(oidc.GrantTypePersonUserCertificate); errObj != nil {
			return nil, errObj
		}
		if errObj := validator.ValidatePersonCertAssertion(grant.Assertion, grant.Certificate, requestURI); errObj != nil {
			return nil, errObj
		}
		user, err := p.dir.PersonUserByCertificate(ctx, tenant.Name, grant.Certificate)
		if err != nil {
			if errors.Is(err, directory.ErrNoSuchPrincipal) || errors.Is(err, directory.ErrInvalidCredentials) {
				return nil, oidc.InvalidGrant("person user certificate is not recognized")
			}
			return nil, oidc.ServerError("certificate authentication failed")
		}
		return &grantState{person: &user, solutionUser: assertedSolutionUser, scope: req.Scope, refreshAllowed: true}, nil

	case oidc.RefreshTokenGrant:
		return p.redeemRefreshToken(tenant, req.ClientID, grant.RefreshToken, assertedSolutionUser)

	default:
		return nil, oidc.UnsupportedGrantType("unsupported grant")
	}
}

// redeemAuthorizationCode consumes a pending code and binds the request to
// it: client, redirect URI and tenant must all match what the authorize
// endpoint recorded. Redemption is destructive, so a replayed code fails
// here with invalid_grant.
func (p *Processor) redeemAuthorizationCode(tenant directory.TenantInfo, req *oidc.TokenRequest, grant oidc.AuthorizationCodeGrant, asserted *directory.SolutionUser) (*grantState, *oidc.ErrorObject) {
	entry, ok := p.codes.Remove(grant.Code)
	if !ok {
		return nil, oidc.InvalidGrant("invalid authorization code")
	}
	stored := entry.Request
	if req.ClientID == "" || req.ClientID != stored.ClientID {
		return nil, oidc.InvalidGrant("client_id does not match the authorization request")
	}
	if grant.RedirectURI.String() != stored.RedirectURI.String() {
		return nil, oidc.InvalidGrant("redirect_uri does not match the authorization request")
	}
	if entry.PersonUser.Tenant != tenant.Name {
		return nil, oidc.InvalidGrant("authorization code was issued for a different tenant")
	}
	person := entry.PersonUser
	return &grantState{
		person:         &person,
		solutionUser:   asserted,
		scope:          stored.Scope,
		nonce:          stored.Nonce,
		sessionID:      entry.SessionID,
		refreshAllowed: true,
	}, nil
}

// redeemRefreshToken validates a refresh token purely from its own signed
// claims; no server-side state is consulted. The new tokens inherit the
// refresh token's scope, session and act-as characteristics, and no new
// refresh token is minted. A token carrying act_as is only redeemable
// together with a solution user assertion for that same subject; the
// assertion is the proof of possession of the delegate's key.
func (p *Processor) redeemRefreshToken(tenant directory.TenantInfo, clientID, raw string, asserted *directory.SolutionUser) (*grantState, *oidc.ErrorObject) {
	claims := &RefreshTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithLeeway(tenant.ClockTolerance),
		jwt.WithExpirationRequired(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return tenant.PublicKey(), nil
	}); err != nil {
		return nil, oidc.InvalidGrant("refresh token verification failed")
	}
	if claims.TokenClass != ClassRefresh {
		return nil, oidc.InvalidGrant("token is not a refresh token")
	}
	if claims.Tenant != tenant.Name {
		return nil, oidc.InvalidGrant("refresh token was issued for a different tenant")
	}
	if claims.ClientID != clientID {
		return nil, oidc.InvalidGrant("refresh token was issued to a different client")
	}
	if claims.IssuedAt == nil || claims.IssuedAt.After(p.now().Add(tenant.ClockTolerance)) {
		return nil, oidc.InvalidGrant("refresh token iat is missing or in the future")
	}

	assertedSubject := ""
	if asserted != nil {
		assertedSubject = asserted.Subject()
	}
	if claims.ActAs != assertedSubject {
		return nil, oidc.InvalidGrant("refresh token act_as does not match the presented solution user assertion")
	}

	id, err := directory.ParsePrincipalID(claims.Subject)
	if err != nil {
		return nil, oidc.InvalidGrant("refresh token subject is malformed")
	}
	return &grantState{
		person:       &directory.PersonUser{ID: id, Tenant: tenant.Name},
		solutionUser: asserted,
		scope:        oidc.ParseScope(claims.Scope),
		sessionID:    claims.SessionID,
	}, nil
}

// issue resolves group claims and mints the response tokens.
func (p *Processor) issue(ctx context.Context, tenant directory.TenantInfo, clientID string, state *grantState) (*oidc.TokenResponse, *oidc.ErrorObject) {
	subjectID := state.subjectID()
	groups, admin, err := ResolveGroupClaims(ctx, p.dir, tenant.Name, subjectID, state.scope)
	if err != nil {
		return nil, oidc.ServerError("failed to resolve group membership")
	}

	spec := IssueSpec{
		PersonUser:   state.person,
		SolutionUser: state.solutionUser,
		ClientID:     clientID,
		Scope:        state.scope,
		Nonce:        state.nonce,
		SessionID:    state.sessionID,
		Groups:       groups,
		Admin:        admin,
	}
	issuer := NewIssuer(tenant, WithNowFunc(p.now))

	idToken, err := issuer.IssueIDToken(spec)
	if err != nil {
		return nil, oidc.ServerError("failed to sign id token")
	}
	accessToken, err := issuer.IssueAccessToken(spec)
	if err != nil {
		return nil, oidc.ServerError("failed to sign access token")
	}
	response := &oidc.TokenResponse{
		IDToken:     idToken,
		AccessToken: accessToken,
		TokenType:   TokenType(spec),
		ExpiresIn:   int(issuer.AccessTokenLifetime(spec).Seconds()),
	}
	if state.refreshAllowed && state.scope.Contains(oidc.ScopeOfflineAccess) {
		refreshToken, err := issuer.IssueRefreshToken(spec)
		if err != nil {
			return nil, oidc.ServerError("failed to sign refresh token")
		}
		response.RefreshToken = refreshToken
	}
	return response, nil
}

func (s *grantState) subjectID() directory.PrincipalID {
	if s.person != nil {
		return s.person.ID
	}
	return s.solutionUser.ID
}

// ResolveGroupClaims loads the group membership claims the scope asks for:
// the group list when either groups scope is present, and the admin flag
// when the access token groups scope is present.
func ResolveGroupClaims(ctx context.Context, dir directory.Directory, tenant string, id directory.PrincipalID, scope oidc.Scope) ([]string, bool, error) {
	var groups []string
	var admin bool
	if scope.Contains(oidc.ScopeIDTokenGroups) || scope.Contains(oidc.ScopeAccessGroups) {
		var err error
		groups, err = dir.GroupsOf(ctx, tenant, id)
		if err != nil {
			return nil, false, errors.Wrap(err, "[ResolveGroupClaims] load groups")
		}
	}
	if scope.Contains(oidc.ScopeAccessGroups) {
		var err error
		admin, err = dir.IsMemberOfGroup(ctx, tenant, id, adminGroup)
		if err != nil {
			return nil, false, errors.Wrap(err, "[ResolveGroupClaims] check admin membership")
		}
	}
	return groups, admin, nil
}

package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/pkg/errors"
)

// IssueSpec describes the tokens to mint for one grant. At least one of
// PersonUser and SolutionUser must be set; when both are, the solution
// user acts on behalf of the person user and the act_as claim records it.
type IssueSpec struct {
	PersonUser   *directory.PersonUser
	SolutionUser *directory.SolutionUser
	ClientID     string
	Scope        oidc.Scope
	Nonce        string
	SessionID    string

	// Groups feeds the groups claim; Admin the access token admin claim.
	// Both are resolved by the caller before issuance.
	Groups []string
	Admin  bool
}

func (s IssueSpec) subject() string {
	if s.PersonUser != nil {
		return s.PersonUser.Subject()
	}
	return s.SolutionUser.Subject()
}

func (s IssueSpec) actAs() string {
	if s.PersonUser != nil && s.SolutionUser != nil {
		return s.SolutionUser.Subject()
	}
	return ""
}

// holderOfKey reports whether tokens are bound to the solution user's key.
func (s IssueSpec) holderOfKey() bool { return s.SolutionUser != nil }

// Issuer mints the three token classes for one tenant. Tokens are never
// stored server-side.
type Issuer struct {
	tenant directory.TenantInfo
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an issuer signing with the tenant key.
func NewIssuer(tenant directory.TenantInfo, options ...IssuerOption) *Issuer {
	issuer := &Issuer{tenant: tenant, now: time.Now}
	for _, opt := range options {
		opt(issuer)
	}
	return issuer
}

// IssueIDToken mints the signed ID token for spec.
func (i *Issuer) IssueIDToken(spec IssueSpec) (string, error) {
	claims := IDTokenClaims{
		RegisteredClaims: i.registered(spec.subject(), []string{audienceBase(spec)}, i.tenant.IDTokenLifetime(spec.holderOfKey())),
		TokenClass:       ClassID,
		TokenType:        tokenType(spec),
		Tenant:           i.tenant.Name,
		ClientID:         spec.ClientID,
		Scope:            spec.Scope.String(),
		Nonce:            spec.Nonce,
		SessionID:        spec.SessionID,
		ActAs:            spec.actAs(),
	}
	if spec.Scope.Contains(oidc.ScopeIDTokenGroups) {
		claims.Groups = spec.Groups
	}
	if spec.holderOfKey() {
		claims.HOK = holderOfKeySet(solutionUserPublicKey(*spec.SolutionUser))
	}
	return i.sign(claims)
}

// IssueAccessToken mints the signed access token for spec. The audience is
// the client id (or, absent one, the acting principal's own subject) plus
// every rs_-prefixed scope value.
func (i *Issuer) IssueAccessToken(spec IssueSpec) (string, error) {
	audience := append([]string{audienceBase(spec)}, spec.Scope.ResourceServers()...)
	claims := AccessTokenClaims{
		RegisteredClaims: i.registered(spec.subject(), audience, i.tenant.AccessTokenLifetime(spec.holderOfKey())),
		TokenClass:       ClassAccess,
		TokenType:        tokenType(spec),
		Tenant:           i.tenant.Name,
		ClientID:         spec.ClientID,
		Scope:            spec.Scope.String(),
		Nonce:            spec.Nonce,
		ActAs:            spec.actAs(),
	}
	if spec.Scope.Contains(oidc.ScopeAccessGroups) {
		claims.Groups = spec.Groups
		claims.Admin = spec.Admin
	}
	if spec.holderOfKey() {
		claims.HOK = holderOfKeySet(solutionUserPublicKey(*spec.SolutionUser))
	}
	return i.sign(claims)
}

// IssueRefreshToken mints the signed refresh token for spec.
func (i *Issuer) IssueRefreshToken(spec IssueSpec) (string, error) {
	claims := RefreshTokenClaims{
		RegisteredClaims: i.registered(spec.subject(), []string{audienceBase(spec)}, i.tenant.RefreshTokenLifetime(spec.holderOfKey())),
		TokenClass:       ClassRefresh,
		TokenType:        tokenType(spec),
		Tenant:           i.tenant.Name,
		ClientID:         spec.ClientID,
		Scope:            spec.Scope.String(),
		SessionID:        spec.SessionID,
		ActAs:            spec.actAs(),
	}
	if spec.holderOfKey() {
		claims.HOK = holderOfKeySet(solutionUserPublicKey(*spec.SolutionUser))
	}
	return i.sign(claims)
}

// AccessTokenLifetime reports the expires_in value for spec.
func (i *Issuer) AccessTokenLifetime(spec IssueSpec) time.Duration {
	return i.tenant.AccessTokenLifetime(spec.holderOfKey())
}

// TokenType reports the token_type value for spec.
func TokenType(spec IssueSpec) string { return tokenType(spec) }

func (i *Issuer) registered(subject string, audience []string, lifetime time.Duration) jwt.RegisteredClaims {
	now := i.now()
	return jwt.RegisteredClaims{
		Issuer:    i.tenant.Issuer,
		Subject:   subject,
		Audience:  audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		ID:        uuid.New().String(),
	}
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.tenant.KeyID
	signed, err := tok.SignedString(i.tenant.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.sign] sign token with tenant key")
	}
	return signed, nil
}

func audienceBase(spec IssueSpec) string {
	if spec.ClientID != "" {
		return spec.ClientID
	}
	return spec.subject()
}

func tokenType(spec IssueSpec) string {
	if spec.holderOfKey() {
		return TypeHolderOfKey
	}
	return TypeBearer
}

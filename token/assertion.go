package token

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/pkg/errors"
)

// Short-lived proof-of-possession assertions. Client assertions may be as
// old as the client registration allows; the other two classes are replay
// bait and get a tight bound.
const (
	solutionUserAssertionLifetime = 1 * time.Minute
	personCertAssertionLifetime   = 1 * time.Minute
)

// AssertionValidator verifies the signed JWT assertions that authenticate
// clients, solution users and smart-card holders at the token endpoint.
type AssertionValidator struct {
	dir    directory.Directory
	tenant directory.TenantInfo
	now    func() time.Time
}

// AssertionValidatorOption configures an AssertionValidator.
type AssertionValidatorOption func(*AssertionValidator)

// WithValidatorNowFunc sets the clock (primarily for testing).
func WithValidatorNowFunc(now func() time.Time) AssertionValidatorOption {
	return func(v *AssertionValidator) {
		v.now = now
	}
}

// NewAssertionValidator creates a validator for one tenant.
func NewAssertionValidator(dir directory.Directory, tenant directory.TenantInfo, options ...AssertionValidatorOption) *AssertionValidator {
	v := &AssertionValidator{dir: dir, tenant: tenant, now: time.Now}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// ValidateClientAssertion verifies that assertion authenticates client: it
// must be signed by the solution user holding the client's registered
// certificate subject, name the client in iss and sub, and target the
// request URI. It returns that solution user.
func (v *AssertionValidator) ValidateClientAssertion(ctx context.Context, assertion string, client directory.ClientInfo, requestURI string) (directory.SolutionUser, *oidc.ErrorObject) {
	if client.CertSubjectDN == "" {
		return directory.SolutionUser{}, oidc.InvalidClient("client is not registered for certificate authentication")
	}
	su, err := v.dir.SolutionUserByCertSubject(ctx, v.tenant.Name, client.CertSubjectDN)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchPrincipal) {
			return directory.SolutionUser{}, oidc.InvalidClient("no solution user holds the client certificate subject")
		}
		return directory.SolutionUser{}, oidc.ServerError("failed to look up solution user for client certificate subject")
	}
	claims, errObj := v.verify(assertion, solutionUserPublicKey(su), oidc.InvalidClient)
	if errObj != nil {
		return directory.SolutionUser{}, errObj
	}
	if claims.Issuer != client.ID || claims.Subject != client.ID {
		return directory.SolutionUser{}, oidc.InvalidClient("client_assertion iss and sub must both be the client_id")
	}
	if errObj := v.checkAssertion(claims, requestURI, client.ClientAssertionLifetime(), oidc.InvalidClient); errObj != nil {
		return directory.SolutionUser{}, errObj
	}
	return su, nil
}

// ValidateSolutionUserAssertion verifies a solution user's self-signed
// assertion and returns the solution user it authenticates. The sub claim
// names the solution user account, either bare or in name@domain form.
func (v *AssertionValidator) ValidateSolutionUserAssertion(ctx context.Context, assertion, requestURI string) (directory.SolutionUser, *oidc.ErrorObject) {
	subject, err := unverifiedSubject(assertion)
	if err != nil {
		return directory.SolutionUser{}, oidc.InvalidClient("solution_user_assertion is not a well-formed jwt")
	}
	name := subject
	if id, perr := directory.ParsePrincipalID(subject); perr == nil {
		name = id.Name
	}
	su, err := v.dir.SolutionUser(ctx, v.tenant.Name, name)
	if err != nil {
		if errors.Is(err, directory.ErrNoSuchPrincipal) {
			return directory.SolutionUser{}, oidc.InvalidClient("solution user not found: " + name)
		}
		return directory.SolutionUser{}, oidc.ServerError("failed to look up solution user")
	}
	claims, errObj := v.verify(assertion, solutionUserPublicKey(su), oidc.InvalidClient)
	if errObj != nil {
		return directory.SolutionUser{}, errObj
	}
	if errObj := v.checkAssertion(claims, requestURI, solutionUserAssertionLifetime, oidc.InvalidClient); errObj != nil {
		return directory.SolutionUser{}, errObj
	}
	return su, nil
}

// ValidatePersonCertAssertion verifies that assertion was signed with the
// private key matching cert, proving possession for the person-user
// certificate grant.
func (v *AssertionValidator) ValidatePersonCertAssertion(assertion string, cert *x509.Certificate, requestURI string) *oidc.ErrorObject {
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return oidc.InvalidGrant("person user certificate does not carry an rsa key")
	}
	claims, errObj := v.verify(assertion, key, oidc.InvalidGrant)
	if errObj != nil {
		return errObj
	}
	return v.checkAssertion(claims, requestURI, personCertAssertionLifetime, oidc.InvalidGrant)
}

// verify checks the signature and structural validity of an assertion and
// returns its registered claims. wrap selects the protocol error code the
// caller reports failures under.
func (v *AssertionValidator) verify(assertion string, key *rsa.PublicKey, wrap func(string) *oidc.ErrorObject) (*jwt.RegisteredClaims, *oidc.ErrorObject) {
	if key == nil {
		return nil, wrap("no public key available to verify assertion")
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.tenant.ClockTolerance),
	)
	if _, err := parser.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, wrap("assertion verification failed: " + err.Error())
	}
	return claims, nil
}

// checkAssertion enforces the audience and freshness rules shared by every
// assertion class: aud must contain the endpoint being called and iat must
// sit within [now-lifetime-tolerance, now+tolerance].
func (v *AssertionValidator) checkAssertion(claims *jwt.RegisteredClaims, requestURI string, lifetime time.Duration, wrap func(string) *oidc.ErrorObject) *oidc.ErrorObject {
	if !audienceContains(claims.Audience, requestURI) {
		return wrap("assertion audience does not include the request endpoint")
	}
	if claims.IssuedAt == nil {
		return wrap("assertion is missing an iat claim")
	}
	now := v.now()
	issuedAt := claims.IssuedAt.Time
	if issuedAt.Before(now.Add(-lifetime - v.tenant.ClockTolerance)) {
		return wrap("assertion is too old")
	}
	if issuedAt.After(now.Add(v.tenant.ClockTolerance)) {
		return wrap("assertion iat is in the future")
	}
	return nil
}

func unverifiedSubject(assertion string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		return "", errors.Wrap(err, "[unverifiedSubject] parse assertion")
	}
	return claims.Subject, nil
}

func audienceContains(audience jwt.ClaimStrings, value string) bool {
	for _, a := range audience {
		if a == value {
			return true
		}
	}
	return false
}

func solutionUserPublicKey(su directory.SolutionUser) *rsa.PublicKey {
	if su.Certificate == nil {
		return nil
	}
	key, _ := su.Certificate.PublicKey.(*rsa.PublicKey)
	return key
}

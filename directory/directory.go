// Package directory defines the identity-directory collaborator consumed
// by the protocol core: principal authentication, tenant/client lookup and
// just-in-time provisioning for federated logins. The directory owns all
// credential verification; the core only maps its results and errors onto
// the OAuth/OIDC surface.
package directory

import (
	"context"
	"crypto/x509"

	"github.com/pkg/errors"
)

// Sentinel errors. Callers wrap these once and map them onto the protocol
// error taxonomy: credential-shaped failures become invalid_grant or
// Unauthorized, everything else becomes server_error.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSuchTenant       = errors.New("tenant not found")
	ErrNoSuchClient       = errors.New("client not found")
	ErrNoSuchPrincipal    = errors.New("principal not found")
	ErrNoSuchIDP          = errors.New("federated identity provider not found")

	// ErrSecurIDNewPinRequired is the provider-specific "new pin required"
	// condition; it is recoverable and distinct from a wrong passcode.
	ErrSecurIDNewPinRequired = errors.New("new securid pin required")
)

// Directory is the identity-directory service. All methods are fallible
// and may block on I/O; none of them are called while a manager lock is
// held.
type Directory interface {
	// DefaultTenant returns the tenant used when a request does not name
	// one.
	DefaultTenant(ctx context.Context) (string, error)

	// Tenant loads the per-tenant configuration, including signing key
	// material and token lifetime properties.
	Tenant(ctx context.Context, name string) (TenantInfo, error)

	// Client loads an OAuth client registration.
	Client(ctx context.Context, tenant, clientID string) (ClientInfo, error)

	// AuthenticateByPassword verifies username/password credentials.
	// Wrong credentials yield ErrInvalidCredentials.
	AuthenticateByPassword(ctx context.Context, tenant, username, password string) (PersonUser, error)

	// AuthenticateByCertificate resolves a person user from a validated
	// TLS client certificate chain.
	AuthenticateByCertificate(ctx context.Context, tenant string, chain []*x509.Certificate) (PersonUser, error)

	// AuthenticateByGSSTicket runs one round of a negotiate exchange for
	// the GSS context named by contextID.
	AuthenticateByGSSTicket(ctx context.Context, tenant, contextID string, ticket []byte) (GSSResult, error)

	// AuthenticateBySecurID runs one round of a one-time-passcode
	// exchange. sessionID is empty on the first round.
	AuthenticateBySecurID(ctx context.Context, tenant, username, passcode, sessionID string) (SecurIDResult, error)

	// SolutionUser looks a solution user up by account name.
	SolutionUser(ctx context.Context, tenant, name string) (SolutionUser, error)

	// SolutionUserByCertSubject looks a solution user up by the subject DN
	// of its registered certificate.
	SolutionUserByCertSubject(ctx context.Context, tenant, certSubjectDN string) (SolutionUser, error)

	// PersonUserByCertificate resolves the person user a smart-card
	// certificate was issued to.
	PersonUserByCertificate(ctx context.Context, tenant string, cert *x509.Certificate) (PersonUser, error)

	// GroupsOf returns the directory groups the principal is a member of.
	GroupsOf(ctx context.Context, tenant string, id PrincipalID) ([]string, error)

	// IsMemberOfGroup reports membership in a single group.
	IsMemberOfGroup(ctx context.Context, tenant string, id PrincipalID, group string) (bool, error)

	// FederatedIDP returns the registration of an external identity
	// provider by its issuer.
	FederatedIDP(ctx context.Context, issuer string) (FederatedIDPInfo, error)

	// CreateTenant provisions a tenant just in time for a federated login.
	CreateTenant(ctx context.Context, name, issuer string) error

	// EnsureFederatedUser provisions a directory record for an externally
	// authenticated user if one does not exist yet.
	EnsureFederatedUser(ctx context.Context, tenant, issuer string, id PrincipalID) error

	// AddToGroup adds a principal to a group, creating the group if
	// needed. Adding an existing member is not an error.
	AddToGroup(ctx context.Context, tenant string, id PrincipalID, group string) error
}

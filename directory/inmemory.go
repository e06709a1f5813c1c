package directory

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// InMemory is a self-contained Directory implementation backed by process
// memory. It serves development deployments and the test suites; a
// production deployment substitutes an LDAP-backed implementation behind
// the same interface.
type InMemory struct {
	mu sync.RWMutex

	defaultTenant string
	tenants       map[string]TenantInfo
	clients       map[string]map[string]ClientInfo // tenant -> client id
	users         map[string]map[string]*userRecord
	solutionUsers map[string]map[string]SolutionUser
	groups        map[string]map[string][]PrincipalID // tenant -> group -> members
	idps          map[string]FederatedIDPInfo

	// gssExchanges and securIDExchanges script the multi-round protocols:
	// each call consumes the next step for the context/session.
	gssExchanges     map[string][]GSSResult
	securIDExchanges map[string][]SecurIDResult
}

type userRecord struct {
	id           PrincipalID
	passwordHash []byte
	certSubject  string
}

// NewInMemory creates an empty in-memory directory with the given default
// tenant name.
func NewInMemory(defaultTenant string) *InMemory {
	return &InMemory{
		defaultTenant:    defaultTenant,
		tenants:          make(map[string]TenantInfo),
		clients:          make(map[string]map[string]ClientInfo),
		users:            make(map[string]map[string]*userRecord),
		solutionUsers:    make(map[string]map[string]SolutionUser),
		groups:           make(map[string]map[string][]PrincipalID),
		idps:             make(map[string]FederatedIDPInfo),
		gssExchanges:     make(map[string][]GSSResult),
		securIDExchanges: make(map[string][]SecurIDResult),
	}
}

// AddTenant registers a tenant. When key is nil a fresh RSA-2048 signing
// key is generated.
func (d *InMemory) AddTenant(name, issuer string, key *rsa.PrivateKey, opts TenantOptions) (TenantInfo, error) {
	if key == nil {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return TenantInfo{}, errors.Wrap(err, "[InMemory.AddTenant] generate signing key")
		}
	}
	info := NewTenantInfo(name, issuer, key, opts)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[strings.ToLower(name)] = info
	return info, nil
}

// AddClient registers an OAuth client under a tenant.
func (d *InMemory) AddClient(tenant string, client ClientInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(tenant)
	if d.clients[key] == nil {
		d.clients[key] = make(map[string]ClientInfo)
	}
	d.clients[key][client.ID] = client
}

// AddUser registers a person user with a bcrypt-hashed password.
func (d *InMemory) AddUser(tenant string, id PrincipalID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "[InMemory.AddUser] hash password")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(tenant)
	if d.users[key] == nil {
		d.users[key] = make(map[string]*userRecord)
	}
	d.users[key][strings.ToLower(id.UPN())] = &userRecord{id: id, passwordHash: hash}
	return nil
}

// AddUserCertificate binds a certificate subject to an existing user so
// smart-card logins can resolve it.
func (d *InMemory) AddUserCertificate(tenant string, id PrincipalID, certSubject string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.users[strings.ToLower(tenant)][strings.ToLower(id.UPN())]; ok {
		rec.certSubject = certSubject
	}
}

// AddSolutionUser registers a service principal and its certificate.
func (d *InMemory) AddSolutionUser(tenant string, su SolutionUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(tenant)
	if d.solutionUsers[key] == nil {
		d.solutionUsers[key] = make(map[string]SolutionUser)
	}
	d.solutionUsers[key][strings.ToLower(su.ID.Name)] = su
}

// AddFederatedIDP registers an external identity provider.
func (d *InMemory) AddFederatedIDP(info FederatedIDPInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idps[strings.ToLower(info.EntityID)] = info
}

// ScriptGSSExchange seeds the rounds returned for a GSS context id.
func (d *InMemory) ScriptGSSExchange(contextID string, rounds ...GSSResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gssExchanges[contextID] = rounds
}

// ScriptSecurIDExchange seeds the rounds returned for a SecurID session id;
// the empty id scripts the first round.
func (d *InMemory) ScriptSecurIDExchange(sessionID string, rounds ...SecurIDResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.securIDExchanges[sessionID] = rounds
}

func (d *InMemory) DefaultTenant(ctx context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.defaultTenant == "" {
		return "", errors.New("[InMemory.DefaultTenant] no default tenant configured")
	}
	return d.defaultTenant, nil
}

func (d *InMemory) Tenant(ctx context.Context, name string) (TenantInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.tenants[strings.ToLower(name)]
	if !ok {
		return TenantInfo{}, errors.Wrapf(ErrNoSuchTenant, "[InMemory.Tenant] %q", name)
	}
	return info, nil
}

func (d *InMemory) Client(ctx context.Context, tenant, clientID string) (ClientInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	client, ok := d.clients[strings.ToLower(tenant)][clientID]
	if !ok {
		return ClientInfo{}, errors.Wrapf(ErrNoSuchClient, "[InMemory.Client] %q", clientID)
	}
	return client, nil
}

func (d *InMemory) AuthenticateByPassword(ctx context.Context, tenant, username, password string) (PersonUser, error) {
	id, err := ParsePrincipalID(username)
	if err != nil {
		// bare account names resolve against the tenant domain
		id = PrincipalID{Name: username, Domain: tenant}
	}

	d.mu.RLock()
	rec, ok := d.users[strings.ToLower(tenant)][strings.ToLower(id.UPN())]
	d.mu.RUnlock()
	if !ok {
		return PersonUser{}, errors.Wrapf(ErrInvalidCredentials, "[InMemory.AuthenticateByPassword] %q", username)
	}
	if err := bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)); err != nil {
		return PersonUser{}, errors.Wrapf(ErrInvalidCredentials, "[InMemory.AuthenticateByPassword] %q", username)
	}
	return PersonUser{ID: rec.id, Tenant: tenant}, nil
}

func (d *InMemory) AuthenticateByCertificate(ctx context.Context, tenant string, chain []*x509.Certificate) (PersonUser, error) {
	if len(chain) == 0 {
		return PersonUser{}, errors.Wrap(ErrInvalidCredentials, "[InMemory.AuthenticateByCertificate] empty chain")
	}
	return d.PersonUserByCertificate(ctx, tenant, chain[0])
}

func (d *InMemory) PersonUserByCertificate(ctx context.Context, tenant string, cert *x509.Certificate) (PersonUser, error) {
	subject := cert.Subject.String()
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, rec := range d.users[strings.ToLower(tenant)] {
		if rec.certSubject != "" && rec.certSubject == subject {
			return PersonUser{ID: rec.id, Tenant: tenant}, nil
		}
	}
	return PersonUser{}, errors.Wrapf(ErrInvalidCredentials, "[InMemory.PersonUserByCertificate] no user for subject %q", subject)
}

func (d *InMemory) AuthenticateByGSSTicket(ctx context.Context, tenant, contextID string, ticket []byte) (GSSResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rounds := d.gssExchanges[contextID]
	if len(rounds) == 0 {
		return GSSResult{}, errors.Wrapf(ErrInvalidCredentials, "[InMemory.AuthenticateByGSSTicket] unknown context %q", contextID)
	}
	next := rounds[0]
	d.gssExchanges[contextID] = rounds[1:]
	return next, nil
}

func (d *InMemory) AuthenticateBySecurID(ctx context.Context, tenant, username, passcode, sessionID string) (SecurIDResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rounds := d.securIDExchanges[sessionID]
	if len(rounds) == 0 {
		return SecurIDResult{}, errors.Wrapf(ErrInvalidCredentials, "[InMemory.AuthenticateBySecurID] %q", username)
	}
	next := rounds[0]
	d.securIDExchanges[sessionID] = rounds[1:]
	return next, nil
}

func (d *InMemory) SolutionUser(ctx context.Context, tenant, name string) (SolutionUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	su, ok := d.solutionUsers[strings.ToLower(tenant)][strings.ToLower(name)]
	if !ok {
		return SolutionUser{}, errors.Wrapf(ErrNoSuchPrincipal, "[InMemory.SolutionUser] %q", name)
	}
	return su, nil
}

func (d *InMemory) SolutionUserByCertSubject(ctx context.Context, tenant, certSubjectDN string) (SolutionUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, su := range d.solutionUsers[strings.ToLower(tenant)] {
		if su.Certificate != nil && su.Certificate.Subject.String() == certSubjectDN {
			return su, nil
		}
	}
	return SolutionUser{}, errors.Wrapf(ErrNoSuchPrincipal, "[InMemory.SolutionUserByCertSubject] %q", certSubjectDN)
}

func (d *InMemory) GroupsOf(ctx context.Context, tenant string, id PrincipalID) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var memberships []string
	for group, members := range d.groups[strings.ToLower(tenant)] {
		for _, member := range members {
			if member == id {
				memberships = append(memberships, group)
				break
			}
		}
	}
	return memberships, nil
}

func (d *InMemory) IsMemberOfGroup(ctx context.Context, tenant string, id PrincipalID, group string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, member := range d.groups[strings.ToLower(tenant)][group] {
		if member == id {
			return true, nil
		}
	}
	return false, nil
}

func (d *InMemory) FederatedIDP(ctx context.Context, issuer string) (FederatedIDPInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.idps[strings.ToLower(issuer)]
	if !ok {
		return FederatedIDPInfo{}, errors.Wrapf(ErrNoSuchIDP, "[InMemory.FederatedIDP] %q", issuer)
	}
	return info, nil
}

func (d *InMemory) CreateTenant(ctx context.Context, name, issuer string) error {
	d.mu.RLock()
	_, exists := d.tenants[strings.ToLower(name)]
	d.mu.RUnlock()
	if exists {
		return nil
	}
	_, err := d.AddTenant(name, issuer, nil, TenantOptions{})
	return err
}

func (d *InMemory) EnsureFederatedUser(ctx context.Context, tenant, issuer string, id PrincipalID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(tenant)
	if d.users[key] == nil {
		d.users[key] = make(map[string]*userRecord)
	}
	upn := strings.ToLower(id.UPN())
	if _, ok := d.users[key][upn]; !ok {
		// federated users have no local password
		d.users[key][upn] = &userRecord{id: id}
	}
	return nil
}

func (d *InMemory) AddToGroup(ctx context.Context, tenant string, id PrincipalID, group string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(tenant)
	if d.groups[key] == nil {
		d.groups[key] = make(map[string][]PrincipalID)
	}
	for _, member := range d.groups[key][group] {
		if member == id {
			return nil
		}
	}
	d.groups[key][group] = append(d.groups[key][group], id)
	return nil
}

var _ Directory = (*InMemory)(nil)

// Package session tracks authenticated browser sessions. A session entry
// records the principal, how it logged in, every client the session has
// been used with (this drives front-channel logout fan-out) and, for
// federated logins, the external provider's raw token response.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/expiring"
)

// TTL bounds session lifetime; state is process-memory only and is lost on
// restart by design.
const TTL = 8 * time.Hour

// LoginMethod records how a session's principal authenticated.
type LoginMethod string

const (
	MethodPassword    LoginMethod = "password"
	MethodGSS         LoginMethod = "gss"
	MethodCertificate LoginMethod = "certificate"
	MethodSecurID     LoginMethod = "securid"
	MethodFederated   LoginMethod = "federated"
)

const (
	cookiePrefix        = "oidc_session_id"
	extIdPIssuerPrefix  = "oidc_ext_idp_issuer"
	certLoggedOutPrefix = "oidc_cert_logged_out"
)

// CookieName returns the tenant-qualified session cookie name, so multiple
// tenants on one host do not collide.
func CookieName(tenant string) string {
	return cookiePrefix + "-" + tenant
}

// ExternalIDPIssuerCookieName returns the cookie recording which external
// provider a federated session came from.
func ExternalIDPIssuerCookieName(tenant string) string {
	return extIdPIssuerPrefix + "-" + tenant
}

// CertLoggedOutCookieName returns the cookie gating certificate logins to
// once per browser session after an explicit certificate logout.
func CertLoggedOutCookieName(tenant string) string {
	return certLoggedOutPrefix + "-" + tenant
}

// Entry is the state of one session. Get returns snapshots; mutation goes
// through the Manager.
type Entry struct {
	PersonUser         directory.PersonUser
	Method             LoginMethod
	Clients            []directory.ClientInfo
	ExternalJWTContent string
}

// Update is the merge applied by Manager.Update: non-nil fields overwrite,
// nil fields are left untouched.
type Update struct {
	PersonUser *directory.PersonUser
	Method     *LoginMethod
	Client     *directory.ClientInfo
}

// Manager is safe for concurrent use; all operations on the underlying
// expiring map are serialized behind one mutex.
type Manager struct {
	mu       sync.Mutex
	sessions *expiring.Map[string, *Entry]
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowFunc sets the clock used for expiry (primarily for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.sessions = expiring.New[string, *Entry](TTL, expiring.WithNowFunc[string, *Entry](now))
	}
}

// NewManager creates an empty session manager.
func NewManager(options ...Option) *Manager {
	m := &Manager{sessions: expiring.New[string, *Entry](TTL)}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// NewID generates a fresh session id.
func NewID() string {
	return uuid.New().String()
}

// Add stores a fully authenticated session.
func (m *Manager) Add(sessionID string, user directory.PersonUser, method LoginMethod, client directory.ClientInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Add(sessionID, &Entry{
		PersonUser: user,
		Method:     method,
		Clients:    []directory.ClientInfo{client},
	})
}

// AddPlaceholder stores a pre-authentication session, later completed via
// Update (the federated-login path reserves its session before redirecting
// to the external provider).
func (m *Manager) AddPlaceholder(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Add(sessionID, &Entry{})
}

// Update merges upd into an existing entry: non-nil fields overwrite, and
// a client is appended to the session's client set only if not already
// present. It reports false when the session is unknown or expired.
func (m *Manager) Update(sessionID string, upd Update) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions.Get(sessionID)
	if !ok {
		return false
	}
	if upd.PersonUser != nil {
		entry.PersonUser = *upd.PersonUser
	}
	if upd.Method != nil {
		entry.Method = *upd.Method
	}
	if upd.Client != nil {
		registered := false
		for _, c := range entry.Clients {
			if c.ID == upd.Client.ID {
				registered = true
				break
			}
		}
		if !registered {
			entry.Clients = append(entry.Clients, *upd.Client)
		}
	}
	return true
}

// SetExternalJWTContent attaches the external provider's raw token
// response to a session.
func (m *Manager) SetExternalJWTContent(sessionID, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions.Get(sessionID)
	if !ok {
		return false
	}
	entry.ExternalJWTContent = content
	return true
}

// Get returns a snapshot of the session entry.
func (m *Manager) Get(sessionID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions.Get(sessionID)
	if !ok {
		return Entry{}, false
	}
	return snapshot(entry), true
}

// Remove deletes a session, returning its last state.
func (m *Manager) Remove(sessionID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions.Remove(sessionID)
	if !ok {
		return Entry{}, false
	}
	return snapshot(entry), true
}

func snapshot(entry *Entry) Entry {
	out := *entry
	out.Clients = make([]directory.ClientInfo, len(entry.Clients))
	copy(out.Clients, entry.Clients)
	return out
}

// Package authcode tracks pending authorization codes between the
// authorize and token endpoints. Codes are one-time-use: redemption is a
// destructive remove, and a second redemption of the same code fails.
package authcode

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/expiring"
	"github.com/meridianid/go-sts/oidc"
)

// TTL bounds how long an issued code may remain unredeemed.
const TTL = 10 * time.Minute

const codeLength = 32

// Entry is the pending grant stored behind an authorization code.
type Entry struct {
	PersonUser directory.PersonUser
	SessionID  string
	Request    *oidc.AuthenticationRequest
}

// Manager is safe for concurrent use; all operations on the underlying
// expiring map are serialized behind one mutex. Operations never block on
// I/O while holding it.
type Manager struct {
	mu    sync.Mutex
	codes *expiring.Map[string, Entry]
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowFunc sets the clock used for expiry (primarily for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.codes = expiring.New[string, Entry](TTL, expiring.WithNowFunc[string, Entry](now))
	}
}

// NewManager creates an empty authorization-code manager.
func NewManager(options ...Option) *Manager {
	m := &Manager{codes: expiring.New[string, Entry](TTL)}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// NewCode generates an opaque random code value. Code generation is the
// caller's concern, not the manager's.
func NewCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Add stores a pending grant under code.
func (m *Manager) Add(code string, user directory.PersonUser, sessionID string, req *oidc.AuthenticationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes.Add(code, Entry{PersonUser: user, SessionID: sessionID, Request: req})
}

// Remove redeems a code. The second return is false when the code is
// unknown, expired, or already redeemed; callers report that as a
// recoverable invalid_grant, never a fatal error.
func (m *Manager) Remove(code string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes.Remove(code)
}

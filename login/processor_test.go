package login_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/login"
	"github.com/meridianid/go-sts/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aliceID = directory.PrincipalID{Name: "alice", Domain: "t1"}

func newProcessor(t *testing.T) (*login.Processor, *directory.InMemory, *session.Manager) {
	t.Helper()
	dir := directory.NewInMemory("t1")
	_, err := dir.AddTenant("t1", "https://sts.example.com/t1", nil, directory.TenantOptions{})
	require.NoError(t, err)
	require.NoError(t, dir.AddUser("t1", aliceID, "hunter2"))
	sessions := session.NewManager()
	return login.NewProcessor(dir, sessions, zerolog.Nop()), dir, sessions
}

func basicPayload(username, password string) string {
	return login.TagBasic + " " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestSessionShortCircuit(t *testing.T) {
	p, _, sessions := newProcessor(t)
	id := session.NewID()
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	require.NoError(t, sessions.Add(id, alice, session.MethodPassword, directory.ClientInfo{ID: "c1"}))

	// Credentials in the request are ignored when the session is live.
	out := p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		SessionID:     id,
		Authorization: basicPayload("alice@t1", "wrong"),
	})
	auth, ok := out.(login.Authenticated)
	require.True(t, ok)
	assert.True(t, auth.FromSession)
	assert.Equal(t, id, auth.SessionID)
	assert.Equal(t, alice, auth.User)
}

func TestNoCredentials(t *testing.T) {
	p, _, _ := newProcessor(t)
	out := p.Login(context.Background(), login.Request{Tenant: "t1"})
	assert.IsType(t, login.NoCredentials{}, out)

	// A stale session cookie without a payload is also NoCredentials.
	out = p.Login(context.Background(), login.Request{Tenant: "t1", SessionID: "stale"})
	assert.IsType(t, login.NoCredentials{}, out)
}

func TestPasswordLogin(t *testing.T) {
	p, _, _ := newProcessor(t)

	out := p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		Authorization: basicPayload("alice@t1", "hunter2"),
	})
	auth, ok := out.(login.Authenticated)
	require.True(t, ok)
	assert.Equal(t, session.MethodPassword, auth.Method)
	assert.False(t, auth.FromSession)
	assert.Equal(t, aliceID, auth.User.ID)

	out = p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		Authorization: basicPayload("alice@t1", "wrong"),
	})
	rejected, ok := out.(login.Rejected)
	require.True(t, ok)
	assert.Equal(t, login.CodeInvalidCredential, rejected.Code)
	assert.NotEmpty(t, rejected.Message)
}

func TestPasswordLoginLocalizedMessage(t *testing.T) {
	p, _, _ := newProcessor(t)
	out := p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		Authorization: basicPayload("alice@t1", "wrong"),
		Locale:        "de-DE",
	})
	rejected, ok := out.(login.Rejected)
	require.True(t, ok)
	assert.Equal(t, login.Message("de", login.MsgInvalidCredential), rejected.Message)
}

func TestMalformedPayloads(t *testing.T) {
	p, _, _ := newProcessor(t)
	tests := []struct {
		name    string
		payload string
	}{
		{name: "unknown tag", payload: "Digest abcdef"},
		{name: "bad base64", payload: login.TagBasic + " !!!"},
		{name: "no colon", payload: login.TagBasic + " " + base64.StdEncoding.EncodeToString([]byte("alice"))},
		{name: "empty username", payload: login.TagBasic + " " + base64.StdEncoding.EncodeToString([]byte(":pw"))},
		{name: "gss missing leg", payload: login.TagNegotiate + " ctx-only"},
		{name: "securid one field", payload: login.TagRSAAM + " " + base64.StdEncoding.EncodeToString([]byte("alice"))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := p.Login(context.Background(), login.Request{Tenant: "t1", Authorization: tc.payload})
			rejected, ok := out.(login.Rejected)
			require.True(t, ok)
			assert.Equal(t, login.CodeMalformedRequest, rejected.Code)
		})
	}
}

func TestGSSContinuation(t *testing.T) {
	p, dir, _ := newProcessor(t)
	dir.ScriptGSSExchange("ctx-1",
		directory.GSSResult{Complete: false, ServerLeg: []byte("leg-1")},
		directory.GSSResult{Complete: true, Principal: aliceID},
	)
	payload := login.TagNegotiate + " ctx-1 " + base64.StdEncoding.EncodeToString([]byte("ticket"))

	out := p.Login(context.Background(), login.Request{Tenant: "t1", Authorization: payload})
	cont, ok := out.(login.ContinuationRequired)
	require.True(t, ok)
	assert.Equal(t, session.MethodGSS, cont.Method)
	assert.Equal(t, "Negotiate ctx-1 bGVnLTE=", cont.HeaderValue)

	out = p.Login(context.Background(), login.Request{Tenant: "t1", Authorization: payload})
	auth, ok := out.(login.Authenticated)
	require.True(t, ok)
	assert.Equal(t, session.MethodGSS, auth.Method)
	assert.Equal(t, aliceID, auth.User.ID)
}

func TestSecurIDContinuation(t *testing.T) {
	p, dir, _ := newProcessor(t)
	dir.ScriptSecurIDExchange("",
		directory.SecurIDResult{Complete: false, SessionID: "sid-42"})
	dir.ScriptSecurIDExchange("sid-42",
		directory.SecurIDResult{Complete: true, Principal: aliceID})

	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	out := p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		Authorization: login.TagRSAAM + " " + b64("alice") + " " + b64("123456"),
	})
	cont, ok := out.(login.ContinuationRequired)
	require.True(t, ok)
	assert.Equal(t, session.MethodSecurID, cont.Method)
	assert.Equal(t, "RSAAM "+b64("sid-42"), cont.HeaderValue)

	out = p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		Authorization: login.TagRSAAM + " " + b64("alice") + " " + b64("654321") + " " + b64("sid-42"),
	})
	auth, ok := out.(login.Authenticated)
	require.True(t, ok)
	assert.Equal(t, session.MethodSecurID, auth.Method)
}

func TestSecurIDNewPinRequired(t *testing.T) {
	_, dir, sessions := newProcessor(t)
	p := login.NewProcessor(newPinDirectory{dir}, sessions, zerolog.Nop())

	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	out := p.Login(context.Background(), login.Request{
		Tenant:        "t1",
		Authorization: login.TagRSAAM + " " + b64("alice") + " " + b64("123456"),
	})
	rejected, ok := out.(login.Rejected)
	require.True(t, ok)
	assert.Equal(t, login.CodeNewPinRequired, rejected.Code)
}

// newPinDirectory forces the provider-specific new-pin condition.
type newPinDirectory struct {
	*directory.InMemory
}

func (newPinDirectory) AuthenticateBySecurID(context.Context, string, string, string, string) (directory.SecurIDResult, error) {
	return directory.SecurIDResult{}, directory.ErrSecurIDNewPinRequired
}

func TestCertificateLogin(t *testing.T) {
	p, dir, _ := newProcessor(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "alice"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	dir.AddUserCertificate("t1", aliceID, cert.Subject.String())

	t.Run("success", func(t *testing.T) {
		out := p.Login(context.Background(), login.Request{
			Tenant:        "t1",
			Authorization: login.TagTLSClient,
			ClientCerts:   []*x509.Certificate{cert},
		})
		auth, ok := out.(login.Authenticated)
		require.True(t, ok)
		assert.Equal(t, session.MethodCertificate, auth.Method)
		assert.Equal(t, aliceID, auth.User.ID)
	})

	t.Run("no client certificate", func(t *testing.T) {
		out := p.Login(context.Background(), login.Request{
			Tenant:        "t1",
			Authorization: login.TagTLSClient,
		})
		rejected, ok := out.(login.Rejected)
		require.True(t, ok)
		assert.Equal(t, login.CodeNoClientCert, rejected.Code)
	})

	t.Run("logged out this browser session", func(t *testing.T) {
		out := p.Login(context.Background(), login.Request{
			Tenant:        "t1",
			Authorization: login.TagTLSClient,
			ClientCerts:   []*x509.Certificate{cert},
			CertLoggedOut: true,
		})
		rejected, ok := out.(login.Rejected)
		require.True(t, ok)
		assert.Equal(t, login.CodeCertLoggedOut, rejected.Code)
	})
}

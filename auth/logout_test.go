package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/url"
	"testing"
	"time"

	"github.com/meridianid/go-sts/auth"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
	"github.com/meridianid/go-sts/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genLogoutKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

type logoutFixture struct {
	dir       *directory.InMemory
	sessions  *session.Manager
	processor *auth.LogoutProcessor
	tenant    directory.TenantInfo
	issuer    *token.Issuer
}

func newLogoutFixture(t *testing.T) *logoutFixture {
	t.Helper()
	dir := directory.NewInMemory("t1")
	tenant, err := dir.AddTenant("t1", "https://sts.example.com/t1", nil, directory.TenantOptions{})
	require.NoError(t, err)
	dir.AddClient("t1", directory.ClientInfo{
		ID:                     "c1",
		RedirectURIs:           []string{"https://client.example.com/cb"},
		PostLogoutRedirectURIs: []string{"https://client.example.com/bye"},
		LogoutURI:              "https://client.example.com/logout",
	})

	sessions := session.NewManager(session.WithNowFunc(testNow))
	return &logoutFixture{
		dir:       dir,
		sessions:  sessions,
		processor: auth.NewLogoutProcessor(dir, sessions, zerolog.Nop(), auth.WithLogoutNowFunc(testNow)),
		tenant:    tenant,
		issuer:    token.NewIssuer(tenant, token.WithNowFunc(testNow)),
	}
}

func (f *logoutFixture) idTokenHint(t *testing.T, sessionID string) string {
	t.Helper()
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	hint, err := f.issuer.IssueIDToken(token.IssueSpec{
		PersonUser: &alice,
		ClientID:   "c1",
		Scope:      oidc.ParseScope("openid"),
		SessionID:  sessionID,
	})
	require.NoError(t, err)
	return hint
}

func TestLogoutRemovesSession(t *testing.T) {
	f := newLogoutFixture(t)
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	sessionID := session.NewID()
	client, err := f.dir.Client(context.Background(), "t1", "c1")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Add(sessionID, alice, session.MethodPassword, client))

	params := url.Values{"id_token_hint": {f.idTokenHint(t, sessionID)}}
	result := f.processor.Process(context.Background(), "t1", params, sessionID, "")
	require.Nil(t, result.Err)
	assert.True(t, result.ClearSessionCookie)
	assert.False(t, result.SetCertLoggedOut)

	require.Len(t, result.FrontChannelLogoutURIs, 1)
	target, err := url.Parse(result.FrontChannelLogoutURIs[0])
	require.NoError(t, err)
	assert.Equal(t, sessionID, target.Query().Get("sid"))

	_, ok := f.sessions.Get(sessionID)
	assert.False(t, ok)
}

func TestLogoutPostRedirect(t *testing.T) {
	f := newLogoutFixture(t)

	params := url.Values{
		"id_token_hint":            {f.idTokenHint(t, "")},
		"post_logout_redirect_uri": {"https://client.example.com/bye"},
		"state":                    {"st"},
	}
	result := f.processor.Process(context.Background(), "t1", params, "", "")
	require.Nil(t, result.Err)

	target, err := url.Parse(result.RedirectTarget)
	require.NoError(t, err)
	assert.Equal(t, "https", target.Scheme)
	assert.Equal(t, "/bye", target.Path)
	assert.Equal(t, "st", target.Query().Get("state"))
}

func TestLogoutUnregisteredPostRedirectFailsClosed(t *testing.T) {
	f := newLogoutFixture(t)

	params := url.Values{
		"id_token_hint":            {f.idTokenHint(t, "")},
		"post_logout_redirect_uri": {"https://evil.example.com/bye"},
	}
	result := f.processor.Process(context.Background(), "t1", params, "", "")
	require.NotNil(t, result.Err)
	assert.Equal(t, oidc.ErrorInvalidRequest, result.Err.Code)
	assert.Empty(t, result.RedirectTarget)
}

func TestLogoutRequiresIDTokenHint(t *testing.T) {
	f := newLogoutFixture(t)

	result := f.processor.Process(context.Background(), "t1", url.Values{}, "", "")
	require.NotNil(t, result.Err)
	assert.Equal(t, oidc.ErrorInvalidRequest, result.Err.Code)

	// A token signed by someone else is rejected.
	other := directory.NewTenantInfo("t1", "https://sts.example.com/t1", genLogoutKey(t), directory.TenantOptions{})
	forged, err := token.NewIssuer(other, token.WithNowFunc(testNow)).IssueIDToken(token.IssueSpec{
		PersonUser: &directory.PersonUser{ID: aliceID, Tenant: "t1"},
		ClientID:   "c1",
		Scope:      oidc.ParseScope("openid"),
	})
	require.NoError(t, err)
	result = f.processor.Process(context.Background(), "t1", url.Values{"id_token_hint": {forged}}, "", "")
	require.NotNil(t, result.Err)
	assert.Equal(t, oidc.ErrorInvalidRequest, result.Err.Code)
}

func TestLogoutAcceptsExpiredHint(t *testing.T) {
	f := newLogoutFixture(t)
	past := testTime.Add(-30 * 24 * time.Hour)
	aged := token.NewIssuer(f.tenant, token.WithNowFunc(func() time.Time { return past }))
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	hint, err := aged.IssueIDToken(token.IssueSpec{
		PersonUser: &alice,
		ClientID:   "c1",
		Scope:      oidc.ParseScope("openid"),
	})
	require.NoError(t, err)

	result := f.processor.Process(context.Background(), "t1", url.Values{"id_token_hint": {hint}}, "", "")
	require.Nil(t, result.Err, "an expired hint still authenticates a logout")
	assert.True(t, result.ClearSessionCookie)
}

func TestLogoutRejectsAccessTokenAsHint(t *testing.T) {
	f := newLogoutFixture(t)
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	accessToken, err := f.issuer.IssueAccessToken(token.IssueSpec{
		PersonUser: &alice,
		ClientID:   "c1",
		Scope:      oidc.ParseScope("openid"),
	})
	require.NoError(t, err)

	result := f.processor.Process(context.Background(), "t1", url.Values{"id_token_hint": {accessToken}}, "", "")
	require.NotNil(t, result.Err)
	assert.Equal(t, oidc.ErrorInvalidRequest, result.Err.Code)
}

func TestLogoutNotifiesExternalProvider(t *testing.T) {
	f := newLogoutFixture(t)
	f.dir.AddFederatedIDP(directory.FederatedIDPInfo{
		EntityID:       "https://idp.example.com",
		LogoutEndpoint: "https://idp.example.com/logout",
	})
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	sessionID := session.NewID()
	client, err := f.dir.Client(context.Background(), "t1", "c1")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Add(sessionID, alice, session.MethodFederated, client))

	params := url.Values{"id_token_hint": {f.idTokenHint(t, sessionID)}}
	result := f.processor.Process(context.Background(), "t1", params, sessionID, "https://idp.example.com")
	require.Nil(t, result.Err)
	assert.True(t, result.ClearExternalIDPCookie)
	assert.Contains(t, result.FrontChannelLogoutURIs, "https://idp.example.com/logout")

	t.Run("stale issuer cookie still clears", func(t *testing.T) {
		result := f.processor.Process(context.Background(), "t1",
			url.Values{"id_token_hint": {f.idTokenHint(t, "")}}, "", "https://gone.example.com")
		require.Nil(t, result.Err)
		assert.True(t, result.ClearExternalIDPCookie)
		assert.Empty(t, result.FrontChannelLogoutURIs)
	})
}

func TestCertificateLogoutSetsMarker(t *testing.T) {
	f := newLogoutFixture(t)
	alice := directory.PersonUser{ID: aliceID, Tenant: "t1"}
	sessionID := session.NewID()
	client, err := f.dir.Client(context.Background(), "t1", "c1")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Add(sessionID, alice, session.MethodCertificate, client))

	// The session id falls back to the hint's sid claim when the cookie is
	// absent.
	params := url.Values{"id_token_hint": {f.idTokenHint(t, sessionID)}}
	result := f.processor.Process(context.Background(), "t1", params, "", "")
	require.Nil(t, result.Err)
	assert.True(t, result.SetCertLoggedOut)
}

package server_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/internal/config"
	"github.com/meridianid/go-sts/login"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/server"
	"github.com/meridianid/go-sts/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *httptest.Server
	client *http.Client
	dir    *directory.InMemory
	tenant directory.TenantInfo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := directory.NewInMemory("t1")
	tenant, err := dir.AddTenant("t1", "https://sts.example.com/t1", nil, directory.TenantOptions{
		BrandName: "Example STS",
	})
	require.NoError(t, err)
	dir.AddClient("t1", directory.ClientInfo{
		ID:                     "c1",
		RedirectURIs:           []string{"https://client.example.com/cb"},
		PostLogoutRedirectURIs: []string{"https://client.example.com/bye"},
	})
	require.NoError(t, dir.AddUser("t1", directory.PrincipalID{Name: "alice", Domain: "t1"}, "hunter2"))

	cfg := config.Default()
	cfg.Server.PublicURL = "https://sts.example.com"

	ts := httptest.NewServer(server.New(cfg, dir, zerolog.Nop()))
	t.Cleanup(ts.Close)

	client := ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &testEnv{server: ts, client: client, dir: dir, tenant: tenant}
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	return resp
}

func basicAuthorization(username, password string) string {
	return login.TagBasic + " " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func sessionCookie(t *testing.T, resp *http.Response, tenant string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "oidc_session_id-"+tenant {
			return c
		}
	}
	t.Fatalf("no session cookie for tenant %q", tenant)
	return nil
}

func TestAuthorizeCodeFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	// Authorize with password credentials: 302 back to the client with a
	// code, and a tenant-qualified session cookie.
	resp := env.postForm(t, "/authorize/t1", url.Values{
		"client_id":      {"c1"},
		"redirect_uri":   {"https://client.example.com/cb"},
		"response_type":  {"code"},
		"scope":          {"openid offline_access"},
		"state":          {"st"},
		login.AuthzParam: {basicAuthorization("alice@t1", "hunter2")},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	cookie := sessionCookie(t, resp, "t1")
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", location.Host)
	assert.Equal(t, "st", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	// Redeem the code at the token endpoint.
	tokenResp := env.postForm(t, "/token/t1", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://client.example.com/cb"},
		"client_id":    {"c1"},
	})
	defer tokenResp.Body.Close()
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)
	assert.Equal(t, "no-store", tokenResp.Header.Get("Cache-Control"))

	var body oidc.TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&body))
	assert.Equal(t, "Bearer", body.TokenType)
	require.NotEmpty(t, body.IDToken)
	require.NotEmpty(t, body.AccessToken)
	require.NotEmpty(t, body.RefreshToken)

	claims := &token.IDTokenClaims{}
	_, err = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})).
		ParseWithClaims(body.IDToken, claims, func(*jwt.Token) (any, error) {
			return env.tenant.PublicKey(), nil
		})
	require.NoError(t, err)
	assert.Equal(t, "alice@t1", claims.Subject)
	assert.Equal(t, cookie.Value, claims.SessionID)

	// The code is single use.
	replay := env.postForm(t, "/token/t1", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://client.example.com/cb"},
		"client_id":    {"c1"},
	})
	defer replay.Body.Close()
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)
}

func TestAuthorizeServesLoginForm(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.Get(env.server.URL +
		"/authorize/t1?client_id=c1&redirect_uri=" + url.QueryEscape("https://client.example.com/cb") +
		"&response_type=code&scope=openid&state=st")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page := readBody(t, resp)
	assert.Contains(t, page, "Example STS")
	assert.Contains(t, page, `name="client_id" value="c1"`)
	assert.Contains(t, page, login.AuthzParam)
}

func TestAuthorizeWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/authorize/t1", url.Values{
		"client_id":      {"c1"},
		"redirect_uri":   {"https://client.example.com/cb"},
		"response_type":  {"code"},
		"scope":          {"openid"},
		login.AuthzParam: {basicAuthorization("alice@t1", "wrong")},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	encoded := resp.Header.Get(login.ErrorHeader)
	require.NotEmpty(t, encoded)
	message, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Invalid credentials", string(message))
}

func TestTokenEndpointRejectsQueryParameters(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/token/t1?grant_type=authorization_code", url.Values{
		"grant_type": {"password"},
		"username":   {"alice@t1"},
		"password":   {"hunter2"},
		"scope":      {"openid"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body oidc.TokenErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, oidc.ErrorInvalidRequest, body.Error)
}

func TestPasswordGrantOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/token", url.Values{
		"grant_type": {"password"},
		"username":   {"alice@t1"},
		"password":   {"hunter2"},
		"scope":      {"openid"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "the bare path serves the default tenant")

	var body oidc.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.IDToken)
	assert.Empty(t, body.RefreshToken)
}

func TestJWKS(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.Get(env.server.URL + "/jwks/t1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Keys []struct {
			KeyID     string `json:"kid"`
			Algorithm string `json:"alg"`
			Use       string `json:"use"`
		} `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, "t1-signing-key", doc.Keys[0].KeyID)
	assert.Equal(t, "RS256", doc.Keys[0].Algorithm)
	assert.Equal(t, "sig", doc.Keys[0].Use)
}

func TestProviderMetadata(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.Get(env.server.URL + "/.well-known/openid-configuration/t1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "https://sts.example.com/t1", doc["issuer"])
	assert.Equal(t, "https://sts.example.com/authorize/t1", doc["authorization_endpoint"])
	assert.Equal(t, "https://sts.example.com/token/t1", doc["token_endpoint"])
	assert.Equal(t, "https://sts.example.com/jwks/t1", doc["jwks_uri"])
	assert.Contains(t, doc["grant_types_supported"], "urn:sts:grant_type:gss_ticket")
}

func TestLogoutEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	// Establish a session through the authorize endpoint.
	authResp := env.postForm(t, "/authorize/t1", url.Values{
		"client_id":      {"c1"},
		"redirect_uri":   {"https://client.example.com/cb"},
		"response_type":  {"code"},
		"scope":          {"openid"},
		login.AuthzParam: {basicAuthorization("alice@t1", "hunter2")},
	})
	defer authResp.Body.Close()
	require.Equal(t, http.StatusFound, authResp.StatusCode)
	cookie := sessionCookie(t, authResp, "t1")

	// Mint an id token hint the way the token endpoint would.
	alice := directory.PersonUser{ID: directory.PrincipalID{Name: "alice", Domain: "t1"}, Tenant: "t1"}
	hint, err := token.NewIssuer(env.tenant).IssueIDToken(token.IssueSpec{
		PersonUser: &alice,
		ClientID:   "c1",
		Scope:      oidc.ParseScope("openid"),
		SessionID:  cookie.Value,
	})
	require.NoError(t, err)

	logoutResp := env.postForm(t, "/logout/t1", url.Values{
		"id_token_hint":            {hint},
		"post_logout_redirect_uri": {"https://client.example.com/bye"},
		"state":                    {"st"},
	}, &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	defer logoutResp.Body.Close()
	require.Equal(t, http.StatusFound, logoutResp.StatusCode)

	location, err := url.Parse(logoutResp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/bye", location.Path)
	assert.Equal(t, "st", location.Query().Get("state"))

	cleared := sessionCookie(t, logoutResp, "t1")
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)

	// The session is gone: the same cookie no longer short-circuits login.
	again := env.postForm(t, "/authorize/t1", url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://client.example.com/cb"},
		"response_type": {"code"},
		"scope":         {"openid"},
	}, &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	defer again.Body.Close()
	assert.Equal(t, http.StatusOK, again.StatusCode, "login form again")
}

func TestFederateStartAcceptsPostedForm(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/federate", url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://client.example.com/cb"},
		"response_type": {"code"},
		"scope":         {"openid"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body oidc.TokenErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, oidc.ErrorInvalidRequest, body.Error)
	assert.Contains(t, body.ErrorDescription, "issuer")
}

func TestCertificateLoginViaForwardedHeader(t *testing.T) {
	env := newTestEnv(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "bob"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	bob := directory.PrincipalID{Name: "bob", Domain: "t1"}
	require.NoError(t, env.dir.AddUser("t1", bob, "unused"))
	env.dir.AddUserCertificate("t1", bob, cert.Subject.String())

	form := url.Values{
		"client_id":      {"c1"},
		"redirect_uri":   {"https://client.example.com/cb"},
		"response_type":  {"code"},
		"scope":          {"openid"},
		"state":          {"st"},
		login.AuthzParam: {login.TagTLSClient},
	}

	// TLS is terminated upstream: the chain arrives URL-encoded in the
	// forwarded header, not on the transport.
	pemChain := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/authorize/t1", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(server.ClientCertHeader, url.QueryEscape(string(pemChain)))
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.NotEmpty(t, location.Query().Get("code"))

	t.Run("no header and no transport chain", func(t *testing.T) {
		resp := env.postForm(t, "/authorize/t1", form)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestFormPostResponseMode(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/authorize/t1", url.Values{
		"client_id":      {"c1"},
		"redirect_uri":   {"https://client.example.com/cb"},
		"response_type":  {"code"},
		"response_mode":  {"form_post"},
		"scope":          {"openid"},
		"state":          {"st"},
		login.AuthzParam: {basicAuthorization("alice@t1", "hunter2")},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page := readBody(t, resp)
	assert.Contains(t, page, `action="https://client.example.com/cb"`)
	assert.Contains(t, page, `name="code"`)
	assert.Contains(t, page, `name="state" value="st"`)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

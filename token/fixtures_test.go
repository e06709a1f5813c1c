package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridianid/go-sts/directory"
	"github.com/stretchr/testify/require"
)

const tokenEndpoint = "https://sts.example.com/token/t1"

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testNow() time.Time { return testTime }

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func testTenant(t *testing.T) directory.TenantInfo {
	t.Helper()
	return directory.NewTenantInfo("t1", "https://sts.example.com/t1", genKey(t), directory.TenantOptions{})
}

func newSolutionUser(t *testing.T, name string) (directory.SolutionUser, *rsa.PrivateKey) {
	t.Helper()
	key := genKey(t)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    testTime.Add(-time.Hour),
		NotAfter:     testTime.Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	su := directory.SolutionUser{
		ID:          directory.PrincipalID{Name: name, Domain: "t1"},
		Tenant:      "t1",
		Certificate: cert,
	}
	return su, key
}

// signAssertion builds a proof-of-possession assertion the way service
// clients do: RS256, iss/sub per the caller, audience of the endpoint.
func signAssertion(t *testing.T, key *rsa.PrivateKey, issuer, subject, audience string, issuedAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(5 * time.Minute)),
		ID:        "assertion-1",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

package token

import (
	"crypto/rsa"

	"github.com/go-jose/go-jose/v4"
	"github.com/meridianid/go-sts/directory"
)

// TenantJWKS exposes the tenant signing public key as a JWK set for the
// jwks endpoint.
func TenantJWKS(tenant directory.TenantInfo) jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       tenant.PublicKey(),
			KeyID:     tenant.KeyID,
			Algorithm: "RS256",
			Use:       "sig",
		}},
	}
}

// holderOfKeySet wraps a solution user's public key for the hotk claim.
func holderOfKeySet(key *rsa.PublicKey) *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       key,
			Algorithm: "RS256",
			Use:       "sig",
		}},
	}
}

package token

import (
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Class discriminates the three token classes via the token_class claim.
type Class string

const (
	ClassID      Class = "id_token"
	ClassAccess  Class = "access_token"
	ClassRefresh Class = "refresh_token"
)

// Token types. Bearer tokens are valid to whoever holds the bytes;
// holder-of-key tokens bind the solution user's public key and require
// proof of the matching private key.
const (
	TypeBearer      = "Bearer"
	TypeHolderOfKey = "hotk-pk"
)

// Claim sets are typed per token class with named optional fields; they
// hit the loosely-typed wire format only at the signing boundary.

// IDTokenClaims is the signed claim set of an ID token.
type IDTokenClaims struct {
	jwt.RegisteredClaims

	TokenClass Class  `json:"token_class"`
	TokenType  string `json:"token_type"`
	Tenant     string `json:"tenant"`
	ClientID   string `json:"client_id,omitempty"`
	Scope      string `json:"scope"`
	Nonce      string `json:"nonce,omitempty"`
	SessionID  string `json:"sid,omitempty"`

	// Groups is present when the id_groups scope was granted.
	Groups []string `json:"groups,omitempty"`

	// HOK carries the solution user's public key for holder-of-key tokens.
	HOK *jose.JSONWebKeySet `json:"hotk,omitempty"`

	// ActAs is the solution user subject when it acts on behalf of the
	// person user in sub.
	ActAs string `json:"act_as,omitempty"`
}

// AccessTokenClaims is the signed claim set of an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims

	TokenClass Class  `json:"token_class"`
	TokenType  string `json:"token_type"`
	Tenant     string `json:"tenant"`
	ClientID   string `json:"client_id,omitempty"`
	Scope      string `json:"scope"`
	Nonce      string `json:"nonce,omitempty"`

	// Groups and Admin are present when the at_groups scope was granted.
	Groups []string `json:"groups,omitempty"`
	Admin  bool     `json:"admin,omitempty"`

	HOK   *jose.JSONWebKeySet `json:"hotk,omitempty"`
	ActAs string              `json:"act_as,omitempty"`
}

// RefreshTokenClaims is the signed claim set of a refresh token. Refresh
// tokens are never stored server-side: everything needed to re-derive
// validity at redemption time lives in these claims.
type RefreshTokenClaims struct {
	jwt.RegisteredClaims

	TokenClass Class  `json:"token_class"`
	TokenType  string `json:"token_type"`
	Tenant     string `json:"tenant"`
	ClientID   string `json:"client_id,omitempty"`
	Scope      string `json:"scope"`
	SessionID  string `json:"sid,omitempty"`

	HOK   *jose.JSONWebKeySet `json:"hotk,omitempty"`
	ActAs string              `json:"act_as,omitempty"`
}

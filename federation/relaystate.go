// Package federation implements login through an external OAuth2/OIDC
// identity provider: the relay state that survives the round trip, a
// read-mostly cache of provider signing keys, and the token exchange with
// just-in-time provisioning of tenant, user and groups.
package federation

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// RelayState is everything the callback needs to resume the original
// authentication request after the external provider round trip. It
// travels in the provider's state parameter as base64url(JSON); it is not
// a secret, the session placeholder it names is.
type RelayState struct {
	Tenant       string `json:"tenant"`
	Issuer       string `json:"issuer"`
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	ResponseMode string `json:"response_mode,omitempty"`
	Scope        string `json:"scope"`
	State        string `json:"state,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	SessionID    string `json:"session_id"`
}

// Encode serializes the relay state for the state parameter.
func (r RelayState) Encode() string {
	raw, err := json.Marshal(r)
	if err != nil {
		// all fields are strings
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeRelayState parses a state parameter produced by Encode.
func DecodeRelayState(encoded string) (RelayState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return RelayState{}, errors.Wrap(err, "[DecodeRelayState] decode base64")
	}
	var state RelayState
	if err := json.Unmarshal(raw, &state); err != nil {
		return RelayState{}, errors.Wrap(err, "[DecodeRelayState] unmarshal json")
	}
	if state.Issuer == "" || state.SessionID == "" {
		return RelayState{}, errors.New("[DecodeRelayState] missing issuer or session id")
	}
	return state, nil
}

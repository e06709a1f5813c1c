package oidc

import (
	"net/url"
	"strings"
)

// ResponseType is the parsed response_type parameter. The server supports
// "code", "id_token" and "id_token token".
type ResponseType struct {
	Code    bool
	IDToken bool
	Token   bool
}

// ParseResponseType parses the space-delimited response_type value.
// Unknown values are preserved as an unsupported combination so validation
// can report unsupported_response_type.
func ParseResponseType(s string) (ResponseType, bool) {
	var rt ResponseType
	for _, v := range strings.Fields(s) {
		switch v {
		case "code":
			rt.Code = true
		case "id_token":
			rt.IDToken = true
		case "token":
			rt.Token = true
		default:
			return rt, false
		}
	}
	supported := (rt.Code && !rt.IDToken && !rt.Token) ||
		(rt.IDToken && !rt.Code && !rt.Token) ||
		(rt.IDToken && rt.Token && !rt.Code)
	return rt, supported
}

func (rt ResponseType) String() string {
	var parts []string
	if rt.Code {
		parts = append(parts, "code")
	}
	if rt.IDToken {
		parts = append(parts, "id_token")
	}
	if rt.Token {
		parts = append(parts, "token")
	}
	return strings.Join(parts, " ")
}

// ResponseMode dictates how authorize-endpoint parameters travel back to
// the client.
type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFragment ResponseMode = "fragment"
	ResponseModeFormPost ResponseMode = "form_post"
)

// AuthenticationRequest is the parsed representation of an /authorize call.
type AuthenticationRequest struct {
	ClientID     string
	RedirectURI  *url.URL
	ResponseType ResponseType
	ResponseMode ResponseMode
	Scope        Scope
	State        string
	Nonce        string

	// ClientAssertion is the raw signed JWT presented by clients that
	// registered a certificate subject. Empty when absent.
	ClientAssertion string
}

// ParseAuthenticationRequest parses authorize-endpoint parameters. On
// failure it returns a non-nil *AuthenticationRequest whenever client_id
// and a syntactically valid redirect_uri could still be recovered, so the
// caller can route the error to the client redirect instead of leaking a
// raw failure to the browser. The redirect URI is NOT yet checked against
// the client's registered set; that is the caller's job before honoring
// the partial request.
func ParseAuthenticationRequest(params url.Values) (*AuthenticationRequest, *ErrorObject) {
	req := &AuthenticationRequest{
		ClientID:        params.Get("client_id"),
		State:           params.Get("state"),
		Nonce:           params.Get("nonce"),
		ClientAssertion: params.Get("client_assertion"),
	}

	if redirect := params.Get("redirect_uri"); redirect != "" {
		u, err := url.Parse(redirect)
		if err == nil && u.IsAbs() && u.Host != "" {
			req.RedirectURI = u
		}
	}

	partial := req
	if req.ClientID == "" || req.RedirectURI == nil {
		partial = nil
	}

	if req.ClientID == "" {
		return partial, InvalidRequest("missing client_id parameter")
	}
	if req.RedirectURI == nil {
		return partial, InvalidRequest("missing or invalid redirect_uri parameter")
	}

	rt, supported := ParseResponseType(params.Get("response_type"))
	if !supported {
		return partial, UnsupportedResponseType("unsupported response_type: " + params.Get("response_type"))
	}
	req.ResponseType = rt

	switch mode := params.Get("response_mode"); mode {
	case "":
		if rt.Code {
			req.ResponseMode = ResponseModeQuery
		} else {
			req.ResponseMode = ResponseModeFragment
		}
	case string(ResponseModeQuery):
		if !rt.Code {
			return partial, InvalidRequest("response_mode=query is not allowed for implicit flows")
		}
		req.ResponseMode = ResponseModeQuery
	case string(ResponseModeFragment):
		if rt.Code {
			return partial, InvalidRequest("response_mode=fragment is not allowed for the code flow")
		}
		req.ResponseMode = ResponseModeFragment
	case string(ResponseModeFormPost):
		req.ResponseMode = ResponseModeFormPost
	default:
		return partial, InvalidRequest("invalid response_mode: " + mode)
	}

	req.Scope = ParseScope(params.Get("scope"))
	if len(req.Scope) == 0 {
		return partial, InvalidRequest("missing scope parameter")
	}

	if rt.IDToken && req.Nonce == "" {
		return partial, InvalidRequest("nonce parameter is required for implicit flows")
	}

	return req, nil
}

// GrantType returns the grant the authorize request will eventually use,
// for scope validation purposes.
func (r *AuthenticationRequest) GrantType() GrantType {
	if r.ResponseType.Code {
		return GrantTypeAuthorizationCode
	}
	return GrantTypeImplicit
}

package oidc

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// TokenResponse is the JSON body of a successful token request.
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenErrorResponse is the JSON body of a failed token request.
type TokenErrorResponse struct {
	Error            ErrorCode `json:"error"`
	ErrorDescription string    `json:"error_description,omitempty"`
}

// AuthenticationResponse carries authorize-endpoint results back to the
// client via the redirect URI, per the requested response mode.
type AuthenticationResponse struct {
	RedirectURI  *url.URL
	Mode         ResponseMode
	State        string
	params       url.Values
}

// NewSuccessResponse builds an authorize-endpoint success carrying an
// authorization code and/or tokens.
func NewSuccessResponse(redirectURI *url.URL, mode ResponseMode, state, code, idToken, accessToken string) *AuthenticationResponse {
	params := url.Values{}
	if code != "" {
		params.Set("code", code)
	}
	if idToken != "" {
		params.Set("id_token", idToken)
	}
	if accessToken != "" {
		params.Set("access_token", accessToken)
		params.Set("token_type", "Bearer")
	}
	if state != "" {
		params.Set("state", state)
	}
	return &AuthenticationResponse{RedirectURI: redirectURI, Mode: mode, State: state, params: params}
}

// NewErrorResponse builds an authorize-endpoint error delivered to the
// client redirect. Only call this with a redirect URI already verified to
// be registered for the client.
func NewErrorResponse(redirectURI *url.URL, mode ResponseMode, state string, errObj *ErrorObject) *AuthenticationResponse {
	params := url.Values{}
	params.Set("error", string(errObj.Code))
	if errObj.Description != "" {
		params.Set("error_description", errObj.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	return &AuthenticationResponse{RedirectURI: redirectURI, Mode: mode, State: state, params: params}
}

// RedirectTarget renders the response as a redirect URL for the query and
// fragment modes. It must not be used for form_post.
func (r *AuthenticationResponse) RedirectTarget() string {
	target := *r.RedirectURI
	switch r.Mode {
	case ResponseModeFragment:
		target.Fragment = ""
		return target.String() + "#" + r.params.Encode()
	default:
		q := target.Query()
		for k, vs := range r.params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		target.RawQuery = q.Encode()
		return target.String()
	}
}

// FormPostHTML renders the self-submitting document used by the form_post
// response mode.
func (r *AuthenticationResponse) FormPostHTML() string {
	var fields strings.Builder
	for k, vs := range r.params {
		for _, v := range vs {
			fmt.Fprintf(&fields, `<input type="hidden" name=%q value=%q/>`,
				html.EscapeString(k), html.EscapeString(v))
		}
	}
	return fmt.Sprintf(`<html><head><title>Submit This Form</title></head>`+
		`<body onload="javascript:document.forms[0].submit()">`+
		`<form method="post" action=%q>%s</form></body></html>`,
		html.EscapeString(r.RedirectURI.String()), fields.String())
}

package oidc

import (
	"crypto/x509"
	"encoding/base64"
	"net/url"
)

// GrantType identifies the authorization grant presented at the token
// endpoint.
type GrantType string

const (
	GrantTypeAuthorizationCode       GrantType = "authorization_code"
	GrantTypePassword                GrantType = "password"
	GrantTypeClientCredentials       GrantType = "client_credentials"
	GrantTypeRefreshToken            GrantType = "refresh_token"
	GrantTypeSolutionUserCredentials GrantType = "urn:sts:grant_type:solution_user_credentials"
	GrantTypeGSSTicket               GrantType = "urn:sts:grant_type:gss_ticket"
	GrantTypeSecurID                 GrantType = "urn:sts:grant_type:securid"
	GrantTypePersonUserCertificate   GrantType = "urn:sts:grant_type:person_user_certificate"

	// GrantTypeImplicit never appears on the wire; it exists so the
	// authorize endpoint can run the shared scope validation.
	GrantTypeImplicit GrantType = "implicit"
)

// AuthorizationGrant is the sum of all grant shapes the token endpoint
// accepts.
type AuthorizationGrant interface {
	GrantType() GrantType
}

type AuthorizationCodeGrant struct {
	Code        string
	RedirectURI *url.URL
}

func (AuthorizationCodeGrant) GrantType() GrantType { return GrantTypeAuthorizationCode }

type PasswordGrant struct {
	Username string
	Password string
}

func (PasswordGrant) GrantType() GrantType { return GrantTypePassword }

type ClientCredentialsGrant struct{}

func (ClientCredentialsGrant) GrantType() GrantType { return GrantTypeClientCredentials }

type SolutionUserCredentialsGrant struct{}

func (SolutionUserCredentialsGrant) GrantType() GrantType { return GrantTypeSolutionUserCredentials }

type GSSTicketGrant struct {
	ContextID string
	Ticket    []byte
}

func (GSSTicketGrant) GrantType() GrantType { return GrantTypeGSSTicket }

type SecurIDGrant struct {
	Username  string
	Passcode  string
	SessionID string
}

func (SecurIDGrant) GrantType() GrantType { return GrantTypeSecurID }

type PersonUserCertificateGrant struct {
	Certificate *x509.Certificate
	// Assertion is the raw signed JWT proving possession of the
	// certificate's private key.
	Assertion string
}

func (PersonUserCertificateGrant) GrantType() GrantType { return GrantTypePersonUserCertificate }

type RefreshTokenGrant struct {
	RefreshToken string
}

func (RefreshTokenGrant) GrantType() GrantType { return GrantTypeRefreshToken }

// TokenRequest is the parsed representation of a /token call.
type TokenRequest struct {
	Grant    AuthorizationGrant
	ClientID string
	Scope    Scope

	// ClientAssertion authenticates a client with a registered certificate
	// subject; SolutionUserAssertion authenticates a solution user acting
	// in its own right or on behalf of a person user. Both are raw JWTs.
	ClientAssertion       string
	SolutionUserAssertion string
}

// ParseTokenRequest parses the form body of a token request.
func ParseTokenRequest(form url.Values) (*TokenRequest, *ErrorObject) {
	req := &TokenRequest{
		ClientID:              form.Get("client_id"),
		Scope:                 ParseScope(form.Get("scope")),
		ClientAssertion:       form.Get("client_assertion"),
		SolutionUserAssertion: form.Get("solution_user_assertion"),
	}

	grantType := form.Get("grant_type")
	switch GrantType(grantType) {
	case GrantTypeAuthorizationCode:
		code := form.Get("code")
		if code == "" {
			return nil, InvalidRequest("missing code parameter")
		}
		redirect := form.Get("redirect_uri")
		u, err := url.Parse(redirect)
		if redirect == "" || err != nil || !u.IsAbs() {
			return nil, InvalidRequest("missing or invalid redirect_uri parameter")
		}
		req.Grant = AuthorizationCodeGrant{Code: code, RedirectURI: u}

	case GrantTypePassword:
		username := form.Get("username")
		password := form.Get("password")
		if username == "" || password == "" {
			return nil, InvalidRequest("missing username or password parameter")
		}
		req.Grant = PasswordGrant{Username: username, Password: password}

	case GrantTypeClientCredentials:
		if req.ClientID == "" {
			return nil, InvalidRequest("missing client_id parameter")
		}
		req.Grant = ClientCredentialsGrant{}

	case GrantTypeSolutionUserCredentials:
		if req.SolutionUserAssertion == "" {
			return nil, InvalidRequest("missing solution_user_assertion parameter")
		}
		req.Grant = SolutionUserCredentialsGrant{}

	case GrantTypeGSSTicket:
		contextID := form.Get("context_id")
		ticket64 := form.Get("gss_ticket")
		if contextID == "" || ticket64 == "" {
			return nil, InvalidRequest("missing context_id or gss_ticket parameter")
		}
		ticket, err := base64.StdEncoding.DecodeString(ticket64)
		if err != nil {
			return nil, InvalidRequest("gss_ticket parameter is not valid base64")
		}
		req.Grant = GSSTicketGrant{ContextID: contextID, Ticket: ticket}

	case GrantTypeSecurID:
		username, err := base64Field(form, "username")
		if err != nil {
			return nil, err
		}
		passcode, err := base64Field(form, "passcode")
		if err != nil {
			return nil, err
		}
		if username == "" || passcode == "" {
			return nil, InvalidRequest("missing username or passcode parameter")
		}
		sessionID, err := base64Field(form, "session_id")
		if err != nil {
			return nil, err
		}
		req.Grant = SecurIDGrant{Username: username, Passcode: passcode, SessionID: sessionID}

	case GrantTypePersonUserCertificate:
		cert64 := form.Get("person_user_certificate")
		assertion := form.Get("person_user_assertion")
		if cert64 == "" || assertion == "" {
			return nil, InvalidRequest("missing person_user_certificate or person_user_assertion parameter")
		}
		der, err := base64.StdEncoding.DecodeString(cert64)
		if err != nil {
			return nil, InvalidRequest("person_user_certificate parameter is not valid base64")
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, InvalidRequest("person_user_certificate parameter is not a valid certificate")
		}
		req.Grant = PersonUserCertificateGrant{Certificate: cert, Assertion: assertion}

	case GrantTypeRefreshToken:
		refreshToken := form.Get("refresh_token")
		if refreshToken == "" {
			return nil, InvalidRequest("missing refresh_token parameter")
		}
		req.Grant = RefreshTokenGrant{RefreshToken: refreshToken}

	case "":
		return nil, InvalidRequest("missing grant_type parameter")
	default:
		return nil, UnsupportedGrantType("unsupported grant_type: " + grantType)
	}

	return req, nil
}

func base64Field(form url.Values, name string) (string, *ErrorObject) {
	v := form.Get(name)
	if v == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", InvalidRequest(name + " parameter is not valid base64")
	}
	return string(decoded), nil
}

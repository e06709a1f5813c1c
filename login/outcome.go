// Package login is the multi-method login state machine behind the
// authorize endpoint. It turns a request's credential material (session
// cookie, login parameter, TLS client certificates) into one of four
// outcomes; continuation of multi-round methods is an ordinary outcome,
// never an error.
package login

import (
	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/session"
)

// Wire surface shared with the login form's client-side script. The login
// parameter value is "<method-tag> <method-specific-data>"; continuation
// state for multi-round methods travels in AuthzHeader (a header, not a
// cookie), and localized failure text in ErrorHeader, base64-encoded.
const (
	AuthzParam  = "sts_authorization"
	AuthzHeader = "X-Sts-Authorization"
	ErrorHeader = "X-Sts-Error"
)

// Method tags accepted in the login parameter.
const (
	TagBasic     = "Basic"
	TagNegotiate = "Negotiate"
	TagTLSClient = "TLSClient"
	TagRSAAM     = "RSAAM"
)

// Code classifies a login rejection for the form script.
type Code string

const (
	CodeInvalidCredential Code = "InvalidCredential"
	CodeNoClientCert      Code = "NoClientCert"
	CodeCertLoggedOut     Code = "CertLoggedOut"
	CodeNewPinRequired    Code = "NewPinRequired"
	CodeMalformedRequest  Code = "MalformedRequest"
	CodeServerError       Code = "ServerError"
)

// Outcome is the sum of login results.
type Outcome interface {
	loginOutcome()
}

// Authenticated is a successful login. FromSession is true when the
// principal came from an existing session rather than a fresh credential;
// no login method is reported in that case.
type Authenticated struct {
	User        directory.PersonUser
	Method      session.LoginMethod
	FromSession bool
	SessionID   string
}

// ContinuationRequired asks the caller to run another round of a
// multi-round method. HeaderValue is echoed verbatim in AuthzHeader so the
// next request can resume the same exchange.
type ContinuationRequired struct {
	Method      session.LoginMethod
	HeaderValue string
	Message     string
}

// Rejected is a hard login failure. Always recoverable: the HTTP layer
// renders it as Unauthorized with the localized message, never as a fault.
type Rejected struct {
	Code    Code
	Message string
}

// NoCredentials means the request carried no session and no login payload;
// the caller renders the login form.
type NoCredentials struct{}

func (Authenticated) loginOutcome()        {}
func (ContinuationRequired) loginOutcome() {}
func (Rejected) loginOutcome()             {}
func (NoCredentials) loginOutcome()        {}

package login

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/meridianid/go-sts/directory"
	"github.com/meridianid/go-sts/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Request is the credential material extracted from one authorize call.
type Request struct {
	Tenant string

	// Authorization is the raw login parameter value, empty when absent.
	Authorization string

	// SessionID comes from the tenant session cookie, empty when absent.
	SessionID string

	// ClientCerts is the verified TLS client chain, from the transport or a
	// trusted forwarding header.
	ClientCerts []*x509.Certificate

	// CertLoggedOut reports the certificate-logout cookie: after an explicit
	// certificate logout the browser may not silently log back in with the
	// same certificate for the rest of the browser session.
	CertLoggedOut bool

	// Locale selects the message catalog for user-facing failure text.
	Locale string
}

// Processor runs the login state machine.
type Processor struct {
	dir      directory.Directory
	sessions *session.Manager
	log      zerolog.Logger
}

// NewProcessor creates a login processor.
func NewProcessor(dir directory.Directory, sessions *session.Manager, log zerolog.Logger) *Processor {
	return &Processor{dir: dir, sessions: sessions, log: log}
}

// Login resolves req to an outcome. An existing session short-circuits any
// credential payload; absence of both session and payload is NoCredentials,
// not a failure.
func (p *Processor) Login(ctx context.Context, req Request) Outcome {
	if req.SessionID != "" {
		if entry, ok := p.sessions.Get(req.SessionID); ok {
			return Authenticated{User: entry.PersonUser, FromSession: true, SessionID: req.SessionID}
		}
	}
	if req.Authorization == "" {
		return NoCredentials{}
	}

	tag, data, _ := strings.Cut(req.Authorization, " ")
	switch tag {
	case TagBasic:
		return p.loginByPassword(ctx, req, data)
	case TagNegotiate:
		return p.loginByGSS(ctx, req, data)
	case TagTLSClient:
		return p.loginByCertificate(ctx, req)
	case TagRSAAM:
		return p.loginBySecurID(ctx, req, data)
	default:
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
}

// loginByPassword handles "Basic base64(username:password)".
func (p *Processor) loginByPassword(ctx context.Context, req Request, data string) Outcome {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found || username == "" {
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
	user, err := p.dir.AuthenticateByPassword(ctx, req.Tenant, username, password)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			return Rejected{Code: CodeInvalidCredential, Message: Message(req.Locale, MsgInvalidCredential)}
		}
		p.log.Error().Err(err).Str("tenant", req.Tenant).Msg("password login failed against directory")
		return Rejected{Code: CodeServerError, Message: Message(req.Locale, MsgServerError)}
	}
	return Authenticated{User: user, Method: session.MethodPassword}
}

// loginByGSS handles "Negotiate <context-id> <base64-ticket>". An
// incomplete exchange returns a continuation whose header value carries the
// context id and the server leg for the next round.
func (p *Processor) loginByGSS(ctx context.Context, req Request, data string) Outcome {
	contextID, ticket64, found := strings.Cut(data, " ")
	if !found || contextID == "" {
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
	ticket, err := base64.StdEncoding.DecodeString(ticket64)
	if err != nil {
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
	result, err := p.dir.AuthenticateByGSSTicket(ctx, req.Tenant, contextID, ticket)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			return Rejected{Code: CodeInvalidCredential, Message: Message(req.Locale, MsgInvalidCredential)}
		}
		p.log.Error().Err(err).Str("tenant", req.Tenant).Msg("gss login failed against directory")
		return Rejected{Code: CodeServerError, Message: Message(req.Locale, MsgServerError)}
	}
	if !result.Complete {
		return ContinuationRequired{
			Method:      session.MethodGSS,
			HeaderValue: TagNegotiate + " " + contextID + " " + base64.StdEncoding.EncodeToString(result.ServerLeg),
			Message:     Message(req.Locale, MsgContinueNegotiate),
		}
	}
	user := directory.PersonUser{ID: result.Principal, Tenant: req.Tenant}
	return Authenticated{User: user, Method: session.MethodGSS}
}

// loginByCertificate handles "TLSClient"; the credential is the TLS client
// chain itself, the parameter only selects the method.
func (p *Processor) loginByCertificate(ctx context.Context, req Request) Outcome {
	if req.CertLoggedOut {
		return Rejected{Code: CodeCertLoggedOut, Message: Message(req.Locale, MsgCertLoggedOut)}
	}
	if len(req.ClientCerts) == 0 {
		return Rejected{Code: CodeNoClientCert, Message: Message(req.Locale, MsgNoClientCert)}
	}
	user, err := p.dir.AuthenticateByCertificate(ctx, req.Tenant, req.ClientCerts)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) || errors.Is(err, directory.ErrNoSuchPrincipal) {
			return Rejected{Code: CodeInvalidCredential, Message: Message(req.Locale, MsgInvalidCredential)}
		}
		p.log.Error().Err(err).Str("tenant", req.Tenant).Msg("certificate login failed against directory")
		return Rejected{Code: CodeServerError, Message: Message(req.Locale, MsgServerError)}
	}
	return Authenticated{User: user, Method: session.MethodCertificate}
}

// loginBySecurID handles "RSAAM <b64-username> <b64-passcode>[ <b64-session-id>]".
// An incomplete exchange surfaces the provider session id so the next
// passcode is submitted against the same pending exchange.
func (p *Processor) loginBySecurID(ctx context.Context, req Request, data string) Outcome {
	fields := strings.Fields(data)
	if len(fields) != 2 && len(fields) != 3 {
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
	var parts [3]string
	for i, f := range fields {
		decoded, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
		}
		parts[i] = string(decoded)
	}
	username, passcode, sessionID := parts[0], parts[1], parts[2]
	if username == "" || passcode == "" {
		return Rejected{Code: CodeMalformedRequest, Message: Message(req.Locale, MsgMalformedRequest)}
	}
	result, err := p.dir.AuthenticateBySecurID(ctx, req.Tenant, username, passcode, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrSecurIDNewPinRequired):
			return Rejected{Code: CodeNewPinRequired, Message: Message(req.Locale, MsgNewPinRequired)}
		case errors.Is(err, directory.ErrInvalidCredentials):
			return Rejected{Code: CodeInvalidCredential, Message: Message(req.Locale, MsgInvalidCredential)}
		}
		p.log.Error().Err(err).Str("tenant", req.Tenant).Msg("securid login failed against directory")
		return Rejected{Code: CodeServerError, Message: Message(req.Locale, MsgServerError)}
	}
	if !result.Complete {
		return ContinuationRequired{
			Method:      session.MethodSecurID,
			HeaderValue: TagRSAAM + " " + base64.StdEncoding.EncodeToString([]byte(result.SessionID)),
			Message:     Message(req.Locale, MsgNextPasscode),
		}
	}
	user := directory.PersonUser{ID: result.Principal, Tenant: req.Tenant}
	return Authenticated{User: user, Method: session.MethodSecurID}
}

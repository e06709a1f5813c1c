package server

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/url"
	"strings"

	"github.com/meridianid/go-sts/auth"
	"github.com/meridianid/go-sts/login"
	"github.com/meridianid/go-sts/oidc"
	"github.com/meridianid/go-sts/session"
)

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.tenantParam(r)
	if err != nil {
		writeJSONError(w, oidc.ServerError("failed to resolve tenant"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, oidc.InvalidRequest("malformed request body"))
		return
	}

	result := s.authorize.Process(r.Context(), tenant, r.Form, s.loginRequest(r, tenant), s.requestURI(r))
	switch result.Kind {
	case auth.ResultResponse:
		if result.SetSessionCookie {
			s.setSessionCookie(w, result.TenantName, result.SessionID)
		}
		s.renderAuthResponse(w, r, result.Response)

	case auth.ResultLoginForm:
		s.renderLoginForm(w, r, result)

	case auth.ResultLoginError:
		// The localized message and continuation state are for the login
		// page script; base64 keeps the header value ASCII-clean.
		w.Header().Set(login.ErrorHeader, base64.StdEncoding.EncodeToString([]byte(result.LoginMessage)))
		if result.ContinuationHeader != "" {
			w.Header().Set(login.AuthzHeader, result.ContinuationHeader)
		}
		http.Error(w, result.LoginMessage, http.StatusUnauthorized)

	default:
		writeJSONError(w, result.Err)
	}
}

func (s *Server) renderAuthResponse(w http.ResponseWriter, r *http.Request, response *oidc.AuthenticationResponse) {
	if response.Mode == oidc.ResponseModeFormPost {
		w.Header().Set("Content-Type", contentTypeHTML)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(response.FormPostHTML()))
		return
	}
	http.Redirect(w, r, response.RedirectTarget(), http.StatusFound)
}

// ClientCertHeader carries the client certificate chain when TLS is
// terminated upstream; the value is the PEM chain, usually URL-encoded by
// the proxy.
const ClientCertHeader = "X-Ssl-Client-Cert"

// loginRequest collects the request's credential material: login parameter
// (or its continuation header), session and certificate-logout cookies and
// the client certificate chain.
func (s *Server) loginRequest(r *http.Request, tenant string) login.Request {
	authorization := r.Form.Get(login.AuthzParam)
	if authorization == "" {
		authorization = r.Header.Get(login.AuthzHeader)
	}
	return login.Request{
		Tenant:        tenant,
		Authorization: authorization,
		SessionID:     cookieValue(r, session.CookieName(tenant)),
		ClientCerts:   clientCertificates(r),
		CertLoggedOut: cookieValue(r, session.CertLoggedOutCookieName(tenant)) != "",
		Locale:        preferredLocale(r),
	}
}

// clientCertificates prefers the forwarded header over the transport chain
// so smart-card login works behind a TLS-terminating proxy.
func clientCertificates(r *http.Request) []*x509.Certificate {
	if header := r.Header.Get(ClientCertHeader); header != "" {
		if certs := parseForwardedCerts(header); len(certs) > 0 {
			return certs
		}
	}
	if r.TLS != nil {
		return r.TLS.PeerCertificates
	}
	return nil
}

func parseForwardedCerts(header string) []*x509.Certificate {
	if decoded, err := url.QueryUnescape(header); err == nil {
		header = decoded
	}
	var certs []*x509.Certificate
	rest := []byte(header)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil
		}
		certs = append(certs, cert)
	}
	return certs
}

// preferredLocale takes the first tag of Accept-Language; full q-value
// negotiation is not worth the trouble for login-form messages.
func preferredLocale(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(strings.TrimSpace(first), ";")
	return tag
}

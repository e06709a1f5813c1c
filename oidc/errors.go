package oidc

import (
	"fmt"
	"net/http"
)

// ErrorCode is an OAuth2/OIDC protocol error code.
type ErrorCode string

const (
	ErrorInvalidRequest          ErrorCode = "invalid_request"
	ErrorInvalidClient           ErrorCode = "invalid_client"
	ErrorInvalidGrant            ErrorCode = "invalid_grant"
	ErrorInvalidScope            ErrorCode = "invalid_scope"
	ErrorUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrorUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrorAccessDenied            ErrorCode = "access_denied"
	ErrorServerError             ErrorCode = "server_error"

	// ErrorUnauthorized is the login-layer failure code. It never leaves the
	// authorize endpoint as an OAuth error; the HTTP layer surfaces it as a
	// 401 together with a localized message header for the login form.
	ErrorUnauthorized ErrorCode = "Unauthorized"
)

// ErrorObject is a structured, always-recoverable protocol error. It turns
// into a well-formed OAuth error response (JSON at the token endpoint,
// redirect-carried at the authorize endpoint) rather than a raw failure.
type ErrorObject struct {
	Code        ErrorCode
	Description string
	StatusCode  int
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newError(code ErrorCode, status int, description string) *ErrorObject {
	return &ErrorObject{Code: code, Description: description, StatusCode: status}
}

func InvalidRequest(description string) *ErrorObject {
	return newError(ErrorInvalidRequest, http.StatusBadRequest, description)
}

func InvalidClient(description string) *ErrorObject {
	return newError(ErrorInvalidClient, http.StatusUnauthorized, description)
}

func InvalidGrant(description string) *ErrorObject {
	return newError(ErrorInvalidGrant, http.StatusBadRequest, description)
}

func InvalidScope(description string) *ErrorObject {
	return newError(ErrorInvalidScope, http.StatusBadRequest, description)
}

func UnsupportedGrantType(description string) *ErrorObject {
	return newError(ErrorUnsupportedGrantType, http.StatusBadRequest, description)
}

func UnsupportedResponseType(description string) *ErrorObject {
	return newError(ErrorUnsupportedResponseType, http.StatusBadRequest, description)
}

func AccessDenied(description string) *ErrorObject {
	return newError(ErrorAccessDenied, http.StatusForbidden, description)
}

func ServerError(description string) *ErrorObject {
	return newError(ErrorServerError, http.StatusInternalServerError, description)
}

func Unauthorized(description string) *ErrorObject {
	return newError(ErrorUnauthorized, http.StatusUnauthorized, description)
}

package login

import "strings"

// MessageKey names a localized login-form message.
type MessageKey string

const (
	MsgInvalidCredential  MessageKey = "invalid_credential"
	MsgNoClientCert       MessageKey = "no_client_cert"
	MsgCertLoggedOut      MessageKey = "cert_logged_out"
	MsgNewPinRequired     MessageKey = "new_pin_required"
	MsgMalformedRequest   MessageKey = "malformed_request"
	MsgContinueNegotiate  MessageKey = "continue_negotiate"
	MsgNextPasscode       MessageKey = "next_passcode"
	MsgServerError        MessageKey = "server_error"
	MsgSessionUnavailable MessageKey = "session_unavailable"
)

const defaultLocale = "en"

// catalog holds the per-locale message tables. Locales fall back to their
// base language and finally to English.
var catalog = map[string]map[MessageKey]string{
	"en": {
		MsgInvalidCredential:  "Invalid credentials",
		MsgNoClientCert:       "No client certificate was presented",
		MsgCertLoggedOut:      "Certificate login is disabled until the browser session ends",
		MsgNewPinRequired:     "A new PIN is required, set it with your passcode provider and retry",
		MsgMalformedRequest:   "Malformed login request",
		MsgContinueNegotiate:  "Continue the negotiate exchange",
		MsgNextPasscode:       "Next passcode required",
		MsgServerError:        "Login failed due to a server error, try again later",
		MsgSessionUnavailable: "Your session has expired, log in again",
	},
	"de": {
		MsgInvalidCredential: "Ungültige Anmeldedaten",
		MsgNoClientCert:      "Es wurde kein Clientzertifikat vorgelegt",
		MsgMalformedRequest:  "Fehlerhafte Anmeldeanfrage",
		MsgServerError:       "Anmeldung wegen eines Serverfehlers fehlgeschlagen",
	},
	"fr": {
		MsgInvalidCredential: "Identifiants non valides",
		MsgNoClientCert:      "Aucun certificat client n'a été présenté",
		MsgMalformedRequest:  "Requête de connexion mal formée",
		MsgServerError:       "Échec de la connexion en raison d'une erreur du serveur",
	},
}

// Message resolves key against locale, an Accept-Language style tag such as
// "de-DE". Unknown locales and untranslated keys fall back to English.
func Message(locale string, key MessageKey) string {
	locale = strings.ToLower(locale)
	if msg, ok := catalog[locale][key]; ok {
		return msg
	}
	if base, _, found := strings.Cut(locale, "-"); found {
		if msg, ok := catalog[base][key]; ok {
			return msg
		}
	}
	return catalog[defaultLocale][key]
}

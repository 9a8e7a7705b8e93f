package authreducer

import "github.com/aelexs/authcore/internal/domain"

// Action is the auth reducers' action union. Concrete action types below
// are passed through effect.Effect values as effect.Action (any); the
// reducers switch on concrete type, the executor never inspects them.

// InitiateOAuth starts an OAuth2/OIDC login: a fresh CSRF state token is
// generated and stored, and an authorization URL effect is produced.
type InitiateOAuth struct {
	Provider  string
	IP        string
	UserAgent string
}

// OAuthCallback is dispatched when the provider redirects back with a code
// and the original state parameter.
type OAuthCallback struct {
	Code      string
	State     string
	IP        string
	UserAgent string
}

// OAuthSuccess is dispatched once the code exchange and userinfo fetch have
// both succeeded.
type OAuthSuccess struct {
	Email        string
	Name         string
	Provider     string
	AccessToken  string
	RefreshToken string
	IP           string
	UserAgent    string
}

// OAuthFailed is dispatched for any OAuth-path failure. Reason is an
// internal classification for tracing only; Message is always the generic
// user-facing string.
type OAuthFailed struct {
	Reason  string
	Message string
}

// SessionCreated is dispatched once a session has been durably created,
// installing it into reducer state.
type SessionCreated struct {
	Session domain.Session
}

// SendMagicLinkRequested starts the magic-link flow for an email address.
type SendMagicLinkRequested struct {
	Email string
}

// MagicLinkSent is dispatched once the token has been stored and the email
// enqueued for delivery.
type MagicLinkSent struct {
	Email string
}

// VerifyMagicLink is dispatched when a user follows the link with the raw
// token embedded in it.
type VerifyMagicLink struct {
	Token     string
	IP        string
	UserAgent string
}

// MagicLinkFailed is dispatched for any magic-link failure (expired,
// replayed, nonexistent) — these are indistinguishable by construction.
type MagicLinkFailed struct {
	Reason  string
	Message string
}

// BeginPasskeyRegistration issues a registration challenge for a known
// user/device pair (the caller is assumed already authenticated by some
// other means, e.g. an existing session, when registering an additional
// passkey).
type BeginPasskeyRegistration struct {
	UserID   string
	DeviceID string
}

// PasskeyRegistrationChallengeIssued carries the challenge back to the
// caller once stored.
type PasskeyRegistrationChallengeIssued struct {
	ChallengeID string
	Challenge   string
}

// FinishPasskeyRegistration is dispatched with the authenticator's
// attestation response.
type FinishPasskeyRegistration struct {
	ChallengeID    string
	Attestation    []byte
	ExpectedOrigin string
	ExpectedRPID   string
}

// PasskeyRegistered is dispatched once a credential has been verified and
// persisted.
type PasskeyRegistered struct {
	CredentialID string
}

// PasskeyRegistrationFailed is dispatched for any registration failure.
type PasskeyRegistrationFailed struct {
	Reason  string
	Message string
}

// BeginPasskeyLogin issues an authentication challenge not yet bound to any
// particular user (discoverable-credential flow).
type BeginPasskeyLogin struct{}

// PasskeyLoginChallengeIssued carries the login challenge back to the
// caller once stored.
type PasskeyLoginChallengeIssued struct {
	ChallengeID string
	Challenge   string
}

// FinishPasskeyLogin is dispatched with the authenticator's assertion
// response.
type FinishPasskeyLogin struct {
	ChallengeID  string
	CredentialID string
	Assertion    []byte
	IP           string
	UserAgent    string
}

// PasskeyLoginFailed is dispatched for any assertion failure, including a
// detected counter rollback.
type PasskeyLoginFailed struct {
	Reason  string
	Message string
}

// CounterRollbackDetected is dispatched alongside PasskeyLoginFailed when
// the forward difference from the stored to the presented counter is at
// least domain.CounterRollbackThreshold (the presented counter went
// backwards) — a signal for the audit/security layer, not a retryable error.
type CounterRollbackDetected struct {
	CredentialID  string
	StoredCounter uint32
	NewCounter    uint32
}

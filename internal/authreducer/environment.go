package authreducer

import (
	"context"
	"time"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
	"github.com/aelexs/authcore/internal/eventstore"
	"github.com/aelexs/authcore/internal/sessionstore"
	"github.com/aelexs/authcore/internal/tokenstore"
)

// ProviderTokens is the token pair an OAuth exchange hands back, plus
// whatever the provider's userinfo endpoint reports about the caller.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	Email        string
	Name         string
}

// OAuthProvider exchanges an authorization code for tokens and user info.
// An implementation serves every registered provider and selects one by the
// canonical provider tag carried in the token-store blob (never parsed from a debug
// string — see DESIGN.md on the source bug this fixes).
type OAuthProvider interface {
	// AuthorizationURL builds the RFC 6749 authorization-request URL a
	// client should be redirected to, embedding state as the CSRF token.
	AuthorizationURL(provider, state string) (string, error)
	// Exchange trades an authorization code for provider tokens and user
	// info. Any failure — network, malformed response, rejected code —
	// returns an error; the reducer maps every such error to the generic
	// authentication_failed outcome without passing its detail on.
	Exchange(ctx context.Context, provider, code string) (ProviderTokens, error)
}

// EmailSender delivers a magic-link URL to a recipient. Implemented by
// internal/authadapter's SES and log-only senders.
type EmailSender interface {
	SendMagicLink(ctx context.Context, recipient, verifyURL string) error
}

// WebAuthnAttestationResult is what a successful registration verification
// yields: the credential's public key and initial signature counter.
type WebAuthnAttestationResult struct {
	CredentialID string
	PublicKey    []byte
	Counter      uint32
}

// WebAuthnAssertionResult is what a successful authentication verification
// yields: the credential id asserted against and its counter as presented
// by the authenticator (the reducer applies the CAS decision afterward).
type WebAuthnAssertionResult struct {
	CredentialID string
	Counter      uint32
}

// WebAuthnVerifier verifies WebAuthn attestation and assertion objects
// against the challenge that was issued. Signature verification itself is
// assumed to live in this capability's implementation; the reducer only
// orchestrates challenge issuance/consumption and the counter CAS that
// follows a successful assertion check.
type WebAuthnVerifier interface {
	VerifyAttestation(ctx context.Context, challenge string, attestation []byte, expectedOrigin, expectedRPID string) (WebAuthnAttestationResult, error)
	VerifyAssertion(ctx context.Context, challenge string, assertion []byte, storedPublicKey []byte, expectedOrigin, expectedRPID string) (WebAuthnAssertionResult, error)
}

// RiskCalculator scores a login attempt. A scoring failure is not fatal to
// the login: reducers fall back to domain.DefaultLoginRiskScore rather than
// blocking authentication on an unavailable risk engine.
type RiskCalculator interface {
	Score(ctx context.Context, userID domain.UserID, ip, userAgent string) (float64, error)
}

// UserLookup resolves an existing user by email, backed by the Postgres
// projections (C4) rather than the event log itself.
type UserLookup interface {
	FindUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
}

// PasskeyCredentialLookup resolves a registered credential and applies the
// counter CAS decision (C5) on a successful assertion.
type PasskeyCredentialLookup interface {
	GetCredential(ctx context.Context, id domain.CredentialID) (domain.PasskeyCredential, error)
	RegisterCredential(ctx context.Context, cred domain.PasskeyCredential) error
	CompareAndSwapCounter(ctx context.Context, id domain.CredentialID, newCounter uint32) (domain.CounterOutcome, error)
}

// Environment bundles every capability an auth reducer's effects close
// over. Reducers read Clock, Policy and the URL/relying-party fields
// synchronously while reducing; the I/O capabilities (stores, providers,
// sender, verifier, risk calculator) are called only from inside
// effect.Future closures.
type Environment struct {
	Clock domain.Clock

	Tokens   tokenstore.Store
	Sessions sessionstore.Store
	Passkeys PasskeyCredentialLookup
	Users    UserLookup

	OAuthTokens eventstore.OAuthTokenStore
	EventLog    effect.EventLog
	Publisher   effect.EventPublisher

	OAuth    OAuthProvider
	Email    EmailSender
	WebAuthn WebAuthnVerifier
	Risk     RiskCalculator

	// BaseURL prefixes magic-link verification links (e.g.
	// "https://auth.example.com"); VerifyPath is appended as
	// "{BaseURL}{VerifyPath}?token={raw_token}".
	BaseURL    string
	VerifyPath string

	// RPOrigin/RPID are the WebAuthn relying-party origin and id used to
	// verify a login assertion. Registration verification takes these as
	// explicit action fields instead, since a client may be registering a
	// credential for use against more than one origin.
	RPOrigin string
	RPID     string

	// Policy carries the configured overrides of the defaults in
	// internal/domain/constants.go (cmd/authd assembles this at startup
	// from internal/config's TokenConfig/SessionConfig).
	Policy Policy
}

// Policy is the subset of configuration the reducers consult directly,
// rather than reaching into internal/config themselves.
type Policy struct {
	OAuthStateTTL          time.Duration
	MagicLinkTTL           time.Duration
	PasskeyChallengeTTL    time.Duration
	SessionTTL             time.Duration
	SessionIdleTimeout     time.Duration
	MaxConcurrentSessions  int
}

package domain

import (
	"fmt"
	"time"
)

// User is the identity anchor. Created on first successful login via any of
// the three flows (OAuth, magic link, passkey); never destroyed by the core.
type User struct {
	UserID         UserID
	Email          string
	DisplayName    string
	EmailVerified  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Device records a client the user has authenticated from. Trust level is a
// pure function of age and login count below Trusted; at or above Trusted it
// is manually assigned and sticky (see TrustLevel.IsSticky).
type Device struct {
	DeviceID             DeviceID
	UserID               UserID
	Name                 string
	Type                 DeviceType
	Platform             string
	FirstSeenIP          string
	FirstSeen            time.Time
	LastSeen             time.Time
	LoginCount           int
	TrustLevel           TrustLevel
	LinkedCredentialID   CredentialID
}

// Session is a server-side authenticated session. UserID, DeviceID,
// IPAddress, OAuthProvider, and LoginRiskScore are immutable after creation;
// any attempt to change them on Update is a policy violation.
type Session struct {
	SessionID      SessionID
	UserID         UserID
	DeviceID       DeviceID
	Email          string
	CreatedAt      time.Time
	LastActive     time.Time
	ExpiresAt      time.Time
	IdleTimeout    time.Duration
	IPAddress      string
	UserAgent      string
	OAuthProvider  string
	LoginRiskScore float64
}

// ValidateUpdate checks that updated changes none of the fields that are
// immutable after creation (user, device, IP, OAuth provider, risk score).
// Returns ErrPolicyViolation if any of them differ.
func (s Session) ValidateUpdate(updated Session) error {
	switch {
	case s.UserID != updated.UserID:
		return fmt.Errorf("session user_id is immutable: %w", ErrPolicyViolation)
	case s.DeviceID != updated.DeviceID:
		return fmt.Errorf("session device_id is immutable: %w", ErrPolicyViolation)
	case s.IPAddress != updated.IPAddress:
		return fmt.Errorf("session ip_address is immutable: %w", ErrPolicyViolation)
	case s.OAuthProvider != updated.OAuthProvider:
		return fmt.Errorf("session oauth_provider is immutable: %w", ErrPolicyViolation)
	case s.LoginRiskScore != updated.LoginRiskScore:
		return fmt.Errorf("session login_risk_score is immutable: %w", ErrPolicyViolation)
	default:
		return nil
	}
}

// IsLive reports whether the session is valid at instant now: its absolute
// expiry has not passed and its idle timeout has not elapsed since
// last-active.
func (s Session) IsLive(now time.Time) bool {
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastActive) <= s.IdleTimeout
}

// Token is a single-use secret record: OAuth CSRF state, magic-link token, or
// a WebAuthn challenge. Data carries a type-specific opaque payload (e.g. the
// provider hint for OAuth state, the recipient email for a magic link).
type Token struct {
	TokenID   TokenID
	Type      TokenType
	Secret    string
	Data      map[string]any
	ExpiresAt time.Time
	StoredAt  time.Time
}

// PasskeyCredential is a registered WebAuthn authenticator. Counter is
// monotonic modulo u32 wraparound; see domain.ClassifyCounter.
type PasskeyCredential struct {
	CredentialID CredentialID
	UserID       UserID
	DeviceID     DeviceID
	PublicKey    []byte
	Counter      uint32
	CreatedAt    time.Time
	LastUsed     time.Time
}

// Event is an append-only record in a per-aggregate stream ("user-{user_id}").
type Event struct {
	StreamID      string
	Version       uint64
	EventType     string
	Payload       []byte
	Metadata      map[string]string
	Timestamp     time.Time
	CorrelationID string
}

// AuditEvent is a structured record of an observable boundary crossing
// (login attempt, config change, data access, and so on), independent of the
// domain event stream.
type AuditEvent struct {
	ID         string
	Timestamp  time.Time
	Type       AuditEventType
	Severity   AuditSeverity
	Actor      string
	Action     string
	Resource   string
	Success    bool
	Error      string
	SourceIP   string
	UserAgent  string
	SessionID  string
	RequestID  string
	Metadata   map[string]string
}

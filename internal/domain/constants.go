package domain

import "time"

// Compiled defaults that can be overridden via configuration (internal/config).
const (
	// Single-use token TTLs (C2), keyed by token type.
	OAuthStateTTL                   = 10 * time.Minute
	MagicLinkTokenTTL               = 15 * time.Minute
	PasskeyChallengeTTL             = 5 * time.Minute
	PasskeyRegistrationChallengeTTL = 5 * time.Minute

	// Session defaults (C3).
	DefaultSessionTTL       = 24 * time.Hour
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultMaxConcurrent    = 5
	ClockSkewTolerance      = 2 * time.Minute
	SessionIndexTTLFloor    = 24 * time.Hour  // index TTL = max(session TTLs) + SessionIndexTTLFloor
	SessionRefreshRateLimit = 30 * time.Second // not applied by sessionstore: Get rewrites the record on every successful read

	// Passkey counter CAS (C5). H = u32::MAX/2 = 2^31-1; the threshold is
	// H+1, so a forward diff >= threshold (that is, > H) is a rollback.
	CounterRollbackThreshold = uint32(1) << 31

	// Risk scoring defaults.
	DefaultLoginRiskScore = 0.0

	// Audit / security monitor (C8).
	BruteForceIPThreshold = 5
	AuditRetentionTTL     = 90 * 24 * time.Hour
	TopAttackersLimit     = 10
	RecentIncidentsLimit  = 20

	// Timeout contracts carried from the ambient stack.
	PostgresTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second
	DynamoDBTimeout = 5 * time.Second

	// Graceful shutdown.
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 2 * time.Second  // grace period before stopping listeners
	ShutdownHTTPTimeout     = 10 * time.Second // budget for HTTP server drain / cleanup callback
	ShutdownOTELTimeout     = 5 * time.Second  // budget for flushing tracer/metrics providers

	// Pagination defaults for projection list queries.
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// TokenType enumerates the single-use token kinds the token store (C2) holds.
type TokenType string

const (
	TokenTypeOAuthState                     TokenType = "oauth-state"
	TokenTypeMagicLink                      TokenType = "magic-link"
	TokenTypePasskeyRegistrationChallenge    TokenType = "passkey-registration-challenge"
	TokenTypePasskeyAuthenticationChallenge  TokenType = "passkey-authentication-challenge"
)

// IsValidTokenType reports whether t is a recognized single-use token type.
func IsValidTokenType(t TokenType) bool {
	switch t {
	case TokenTypeOAuthState, TokenTypeMagicLink, TokenTypePasskeyRegistrationChallenge, TokenTypePasskeyAuthenticationChallenge:
		return true
	default:
		return false
	}
}

// DeviceType enumerates the device categories carried on a Device record.
type DeviceType string

const (
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeOther   DeviceType = "other"
)

// TrustLevel is the progression of confidence a device has earned. Levels
// below Trusted are recomputed automatically from age and login count;
// Trusted and above are sticky once manually assigned.
type TrustLevel string

const (
	TrustUnknown       TrustLevel = "unknown"
	TrustRecognized    TrustLevel = "recognized"
	TrustFamiliar      TrustLevel = "familiar"
	TrustTrusted       TrustLevel = "trusted"
	TrustHighlyTrusted TrustLevel = "highly-trusted"
)

// IsSticky reports whether a trust level is manually assigned and therefore
// immune to automatic recomputation.
func (t TrustLevel) IsSticky() bool {
	return t == TrustTrusted || t == TrustHighlyTrusted
}

// AuditEventType categorizes an audit event for the security monitor.
type AuditEventType string

const (
	AuditTypeAuth     AuditEventType = "auth"
	AuditTypeAuthz    AuditEventType = "authz"
	AuditTypeData     AuditEventType = "data"
	AuditTypeConfig   AuditEventType = "config"
	AuditTypeSecurity AuditEventType = "security"
	AuditTypeLLM      AuditEventType = "llm"
)

// AuditSeverity is the severity tier of an audit event.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarn     AuditSeverity = "warn"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// ThreatLevel classifies a derived security incident.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

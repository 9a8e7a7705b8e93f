package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/postgres"
)

// Event type tags the projection applier switches on. Reducers stamp
// these onto domain.Event.EventType when appending.
const (
	EventUserRegistered     = "user_registered"
	EventEmailVerified      = "email_verified"
	EventDeviceRegistered   = "device_registered"
	EventDeviceTrusted      = "device_trusted"
	EventDeviceAccessed     = "device_accessed"
	EventOAuthAccountLinked = "oauth_account_linked"
	EventPasskeyRegistered  = "passkey_registered"
	EventPasskeyUsed        = "passkey_used"
)

// userRegisteredPayload/etc. are the JSON payload shapes projections
// decode from domain.Event.Payload.
type userRegisteredPayload struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
}

type emailVerifiedPayload struct {
	UserID string `json:"user_id"`
}

type deviceRegisteredPayload struct {
	DeviceID   string `json:"device_id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	Platform   string `json:"platform"`
}

type deviceTrustedPayload struct {
	DeviceID   string `json:"device_id"`
	TrustLevel string `json:"trust_level"`
}

type deviceAccessedPayload struct {
	DeviceID string `json:"device_id"`
}

type oauthAccountLinkedPayload struct {
	UserID         string `json:"user_id"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
}

type passkeyRegisteredPayload struct {
	CredentialID string `json:"credential_id"`
	UserID       string `json:"user_id"`
	DeviceID     string `json:"device_id"`
	PublicKey    []byte `json:"public_key"`
	Counter      uint32 `json:"counter"`
}

type passkeyUsedPayload struct {
	CredentialID string `json:"credential_id"`
	Counter      uint32 `json:"counter"`
}

// Projections applies auth events to the Postgres read-model tables.
// Every apply is idempotent and commutative under timestamp reordering:
// a write only lands if the stored last_event_timestamp is strictly
// older than the event's own timestamp.
type Projections struct {
	pool postgres.Pool
}

// NewProjections creates a Projections applier backed by pool.
func NewProjections(pool postgres.Pool) *Projections {
	return &Projections{pool: pool}
}

// Apply routes event to the handler for its type. Event types this
// projection does not track (audit-only events) are silently ignored,
// mirroring the original's "these don't update projections" branch.
func (p *Projections) Apply(ctx context.Context, event domain.Event) error {
	ctx, span := tracer.Start(ctx, "eventstore.projections.apply")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", event.EventType))

	var err error
	switch event.EventType {
	case EventUserRegistered:
		err = p.applyUserRegistered(ctx, event)
	case EventEmailVerified:
		err = p.applyEmailVerified(ctx, event)
	case EventDeviceRegistered:
		err = p.applyDeviceRegistered(ctx, event)
	case EventDeviceTrusted:
		err = p.applyDeviceTrusted(ctx, event)
	case EventDeviceAccessed:
		err = p.applyDeviceAccessed(ctx, event)
	case EventOAuthAccountLinked:
		err = p.applyOAuthAccountLinked(ctx, event)
	case EventPasskeyRegistered:
		err = p.applyPasskeyRegistered(ctx, event)
	case EventPasskeyUsed:
		err = p.applyPasskeyUsed(ctx, event)
	default:
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func decodePayload[T any](event domain.Event) (T, error) {
	var out T
	if err := json.Unmarshal(event.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: decode %s payload: %v", domain.ErrStorageError, event.EventType, err)
	}
	return out, nil
}

func (p *Projections) applyUserRegistered(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[userRegisteredPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO user_projections (user_id, email, display_name, email_verified, created_at, updated_at, last_event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $5, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			email_verified = EXCLUDED.email_verified,
			updated_at = EXCLUDED.updated_at,
			last_event_timestamp = EXCLUDED.last_event_timestamp
		WHERE user_projections.last_event_timestamp < EXCLUDED.last_event_timestamp
	`, payload.UserID, payload.Email, payload.DisplayName, payload.EmailVerified, event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply user_registered: %v", domain.ErrStorageError, err)
	}
	return nil
}

func (p *Projections) applyEmailVerified(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[emailVerifiedPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE user_projections
		SET email_verified = true, updated_at = $2, last_event_timestamp = $2
		WHERE user_id = $1 AND last_event_timestamp < $2
	`, payload.UserID, event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply email_verified: %v", domain.ErrStorageError, err)
	}
	return nil
}

func (p *Projections) applyDeviceRegistered(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[deviceRegisteredPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO device_projections (device_id, user_id, name, device_type, platform, first_seen, last_seen, trust_level, login_count, last_event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $6, 'unknown', 0, $6)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			device_type = EXCLUDED.device_type,
			platform = EXCLUDED.platform,
			last_event_timestamp = EXCLUDED.last_event_timestamp
		WHERE device_projections.last_event_timestamp < EXCLUDED.last_event_timestamp
	`, payload.DeviceID, payload.UserID, payload.Name, payload.DeviceType, payload.Platform, event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply device_registered: %v", domain.ErrStorageError, err)
	}
	return nil
}

func (p *Projections) applyDeviceTrusted(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[deviceTrustedPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE device_projections
		SET trust_level = $2, last_event_timestamp = $3
		WHERE device_id = $1 AND last_event_timestamp < $3
	`, payload.DeviceID, payload.TrustLevel, event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply device_trusted: %v", domain.ErrStorageError, err)
	}
	return nil
}

// applyDeviceAccessed increments login_count and recomputes progressive
// trust (unless the device has been manually pinned to trusted or
// highly-trusted), mirroring the original's read-then-recompute step.
func (p *Projections) applyDeviceAccessed(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[deviceAccessedPayload](event)
	if err != nil {
		return err
	}

	var firstSeen time.Time
	var trustLevel string
	var loginCount int
	row := p.pool.QueryRow(ctx, `
		SELECT first_seen, trust_level, login_count FROM device_projections WHERE device_id = $1
	`, payload.DeviceID)
	if err := row.Scan(&firstSeen, &trustLevel, &loginCount); err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("%w: fetch device for access update: %v", domain.ErrStorageError, err)
	}

	newTrust := domain.TrustLevel(trustLevel)
	if !newTrust.IsSticky() {
		newTrust = progressiveTrust(loginCount+1, firstSeen, event.Timestamp)
	}

	_, err = p.pool.Exec(ctx, `
		UPDATE device_projections
		SET last_seen = $2, login_count = login_count + 1, trust_level = $3, last_event_timestamp = $2
		WHERE device_id = $1 AND last_event_timestamp < $2
	`, payload.DeviceID, event.Timestamp, string(newTrust))
	if err != nil {
		return fmt.Errorf("%w: apply device_accessed: %v", domain.ErrStorageError, err)
	}
	return nil
}

// progressiveTrust implements the automatic trust progression algorithm:
// under 7 days old and under 5 logins stays Unknown, 7-30 days or 5-20
// logins reaches Recognized, 30+ days or 20+ logins reaches Familiar.
// It never returns Trusted or HighlyTrusted; those are assigned manually
// and are sticky (see domain.TrustLevel.IsSticky).
func progressiveTrust(loginCount int, firstSeen, now time.Time) domain.TrustLevel {
	ageDays := int(now.Sub(firstSeen).Hours() / 24)
	switch {
	case ageDays >= 30 || loginCount >= 20:
		return domain.TrustFamiliar
	case ageDays >= 7 || loginCount >= 5:
		return domain.TrustRecognized
	default:
		return domain.TrustUnknown
	}
}

func (p *Projections) applyOAuthAccountLinked(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[oauthAccountLinkedPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO oauth_link_projections (user_id, provider, provider_user_id, linked_at, last_event_timestamp)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			linked_at = EXCLUDED.linked_at,
			last_event_timestamp = EXCLUDED.last_event_timestamp
		WHERE oauth_link_projections.last_event_timestamp < EXCLUDED.last_event_timestamp
	`, payload.UserID, payload.Provider, payload.ProviderUserID, event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply oauth_account_linked: %v", domain.ErrStorageError, err)
	}
	return nil
}

func (p *Projections) applyPasskeyRegistered(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[passkeyRegisteredPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO passkey_projections (credential_id, user_id, device_id, public_key, counter, registered_at, last_event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (credential_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_id = EXCLUDED.device_id,
			public_key = EXCLUDED.public_key,
			counter = EXCLUDED.counter,
			registered_at = EXCLUDED.registered_at,
			last_event_timestamp = EXCLUDED.last_event_timestamp
		WHERE passkey_projections.last_event_timestamp < EXCLUDED.last_event_timestamp
	`, payload.CredentialID, payload.UserID, payload.DeviceID, payload.PublicKey, int64(payload.Counter), event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply passkey_registered: %v", domain.ErrStorageError, err)
	}

	_, err = p.pool.Exec(ctx, `
		UPDATE device_projections SET linked_credential_id = $2, last_event_timestamp = $3
		WHERE device_id = $1 AND last_event_timestamp < $3
	`, payload.DeviceID, payload.CredentialID, event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: link passkey to device: %v", domain.ErrStorageError, err)
	}
	return nil
}

func (p *Projections) applyPasskeyUsed(ctx context.Context, event domain.Event) error {
	payload, err := decodePayload[passkeyUsedPayload](event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE passkey_projections
		SET counter = $2, last_used = $3, last_event_timestamp = $3
		WHERE credential_id = $1 AND last_event_timestamp < $3
	`, payload.CredentialID, int64(payload.Counter), event.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: apply passkey_used: %v", domain.ErrStorageError, err)
	}
	return nil
}

// FindUserByEmail looks up a user by canonical email in the user
// projection. This is the read side internal/authreducer's reducers
// consult to decide whether a login belongs to an existing user or
// should mint a new one; it never reads the event log directly.
func (p *Projections) FindUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	ctx, span := tracer.Start(ctx, "eventstore.projections.find_user_by_email")
	defer span.End()

	var (
		userID        string
		displayName   string
		emailVerified bool
		createdAt     time.Time
		updatedAt     time.Time
	)
	row := p.pool.QueryRow(ctx, `
		SELECT user_id, display_name, email_verified, created_at, updated_at
		FROM user_projections WHERE email = $1
	`, email)
	if err := row.Scan(&userID, &displayName, &emailVerified, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return domain.User{}, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.User{}, false, fmt.Errorf("%w: find user by email: %v", domain.ErrStorageError, err)
	}

	id, err := domain.NewUserID(userID)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("%w: decode user_id: %v", domain.ErrStorageError, err)
	}

	return domain.User{
		UserID:        id,
		Email:         email,
		DisplayName:   displayName,
		EmailVerified: emailVerified,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, true, nil
}

// Rebuild truncates every projection table and replays the events of each
// stream in streamIDs, one stream after another in version order,
// rebuilding every read model from scratch.
func (p *Projections) Rebuild(ctx context.Context, store *Store, streamIDs []string) error {
	ctx, span := tracer.Start(ctx, "eventstore.projections.rebuild")
	defer span.End()

	for _, table := range []string{"user_projections", "device_projections", "oauth_link_projections", "passkey_projections"} {
		if _, err := p.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: truncate %s: %v", domain.ErrStorageError, table, err)
		}
	}

	for _, streamID := range streamIDs {
		events, err := store.LoadEvents(ctx, streamID, nil)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := p.Apply(ctx, event); err != nil {
				return err
			}
		}
	}
	return nil
}

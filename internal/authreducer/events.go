package authreducer

import (
	"encoding/json"
	"time"

	"github.com/aelexs/authcore/internal/domain"
)

// eventUserLoggedIn/eventUserLoggedOut are not tracked by any projection
// (eventstore.Projections.Apply ignores unknown event types). The login
// reducers still append eventUserLoggedIn to the stream for the audit
// trail; no reducer appends eventUserLoggedOut.
const (
	eventUserLoggedIn  = "user_logged_in"
	eventUserLoggedOut = "user_logged_out"
)

// Payload shapes mirror, field-for-field, the unexported payload structs
// eventstore.Projections.Apply decodes — duplicated here because a
// reducer producing an event and a projection consuming it are different
// packages by design (the event log has no compile-time dependency on
// who writes to it).
type userRegisteredPayload struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
}

type deviceRegisteredPayload struct {
	DeviceID   string `json:"device_id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	Platform   string `json:"platform"`
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

type userLoggedInPayload struct {
	UserID    string `json:"user_id"`
	Method    string `json:"method"`
	DeviceID  string `json:"device_id"`
	IPAddress string `json:"ip_address"`
}

// marshalEvent serializes payload and wraps it in a domain.Event ready for
// AppendEvents; the version field is left zero, as the event store assigns
// it during the append.
func marshalEvent(streamID, eventType string, payload any, now time.Time) (domain.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		StreamID:  streamID,
		EventType: eventType,
		Payload:   raw,
		Timestamp: now,
	}, nil
}

// Package domain contains pure business logic and types.
// No external dependencies allowed - this is the innermost ring of Clean Architecture.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// UserID is a value object representing a unique user identifier.
type UserID struct {
	value string
}

// NewUserID creates a UserID from a raw string, validating it is a valid UUID.
func NewUserID(raw string) (UserID, error) {
	if raw == "" {
		return UserID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return UserID{}, fmt.Errorf("invalid user ID %q: %w", raw, ErrInvalidID)
	}
	return UserID{value: raw}, nil
}

// MustUserID creates a UserID, panicking on invalid input. Use only in tests.
func MustUserID(raw string) UserID {
	id, err := NewUserID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateUserID creates a new random UserID.
func GenerateUserID() UserID {
	return UserID{value: uuid.NewString()}
}

func (id UserID) String() string { return id.value }
func (id UserID) IsZero() bool   { return id.value == "" }

// SessionID is a value object representing a unique, unguessable session identifier.
type SessionID struct {
	value string
}

// NewSessionID creates a SessionID from a raw string, validating it is a valid UUID.
func NewSessionID(raw string) (SessionID, error) {
	if raw == "" {
		return SessionID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return SessionID{}, fmt.Errorf("invalid session ID %q: %w", raw, ErrInvalidID)
	}
	return SessionID{value: raw}, nil
}

// MustSessionID creates a SessionID, panicking on invalid input. Use only in tests.
func MustSessionID(raw string) SessionID {
	id, err := NewSessionID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateSessionID creates a new random SessionID.
func GenerateSessionID() SessionID {
	return SessionID{value: uuid.NewString()}
}

func (id SessionID) String() string { return id.value }
func (id SessionID) IsZero() bool   { return id.value == "" }

// DeviceID is a value object representing a unique device identifier.
type DeviceID struct {
	value string
}

// NewDeviceID creates a DeviceID from a raw string, validating it is a valid UUID.
func NewDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return DeviceID{}, fmt.Errorf("invalid device ID %q: %w", raw, ErrInvalidID)
	}
	return DeviceID{value: raw}, nil
}

// MustDeviceID creates a DeviceID, panicking on invalid input. Use only in tests.
func MustDeviceID(raw string) DeviceID {
	id, err := NewDeviceID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateDeviceID creates a new random DeviceID.
func GenerateDeviceID() DeviceID {
	return DeviceID{value: uuid.NewString()}
}

func (id DeviceID) String() string { return id.value }
func (id DeviceID) IsZero() bool   { return id.value == "" }

// TokenID is the routing key for a single-use token record (OAuth CSRF state,
// magic-link hash, WebAuthn challenge id). Unlike other ids it is not
// necessarily a UUID: magic-link tokens are routed by the SHA-256 hash of the
// raw secret, so TokenID accepts any non-empty opaque string.
type TokenID struct {
	value string
}

// NewTokenID creates a TokenID from a raw, non-empty string.
func NewTokenID(raw string) (TokenID, error) {
	if raw == "" {
		return TokenID{}, ErrEmptyID
	}
	return TokenID{value: raw}, nil
}

// MustTokenID creates a TokenID, panicking on invalid input. Use only in tests.
func MustTokenID(raw string) TokenID {
	id, err := NewTokenID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateTokenID creates a new random TokenID (used for routing keys that are
// not content-addressed, e.g. OAuth state and challenge ids).
func GenerateTokenID() TokenID {
	return TokenID{value: uuid.NewString()}
}

func (id TokenID) String() string { return id.value }
func (id TokenID) IsZero() bool   { return id.value == "" }

// CredentialID is a value object wrapping a WebAuthn passkey credential
// identifier. Credential ids are assigned by the authenticator and arrive
// base64url-encoded; they are not UUIDs, so this type only enforces
// non-emptiness.
type CredentialID struct {
	value string
}

// NewCredentialID creates a CredentialID from a raw, non-empty string.
func NewCredentialID(raw string) (CredentialID, error) {
	if raw == "" {
		return CredentialID{}, ErrEmptyID
	}
	return CredentialID{value: raw}, nil
}

// MustCredentialID creates a CredentialID, panicking on invalid input. Use only in tests.
func MustCredentialID(raw string) CredentialID {
	id, err := NewCredentialID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id CredentialID) String() string { return id.value }
func (id CredentialID) IsZero() bool   { return id.value == "" }

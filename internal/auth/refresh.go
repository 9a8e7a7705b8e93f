package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const secureTokenBytes = 32

// GenerateSecureToken generates a cryptographically random 256-bit secret,
// base64url-encoded (43 characters). The single-use token store (C2) uses
// this for OAuth CSRF state, magic-link tokens, and WebAuthn challenges; the
// raw value returned here is handed to the caller (e.g. embedded in a
// redirect URL or email link) and is also stored as the token record's
// secret. OAuth state and challenges use it as their store key as well;
// magic links are keyed by its hash instead.
func GenerateSecureToken() (string, error) {
	b := make([]byte, secureTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secure token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Magic links use
// this hash as their token-store key.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ValidateTokenHash verifies a raw token against its stored hash using
// constant-time comparison, so the comparison never short-circuits on the
// first differing byte or on length and cannot be used to time-probe the
// hash.
func ValidateTokenHash(token, storedHash string) bool {
	candidateHash := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(candidateHash), []byte(storedHash)) == 1
}

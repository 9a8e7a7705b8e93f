package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/authcore/internal/auth"
)

func TestGenerateSecureToken(t *testing.T) {
	t.Run("produces 43-char base64url string", func(t *testing.T) {
		token, err := auth.GenerateSecureToken()
		require.NoError(t, err)
		assert.Len(t, token, 43) // 32 bytes base64url (no padding) = 43 chars
	})

	t.Run("produces different tokens", func(t *testing.T) {
		t1, err := auth.GenerateSecureToken()
		require.NoError(t, err)
		t2, err := auth.GenerateSecureToken()
		require.NoError(t, err)
		assert.NotEqual(t, t1, t2)
	})
}

func TestHashToken(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		h1 := auth.HashToken("some-token")
		h2 := auth.HashToken("some-token")
		assert.Equal(t, h1, h2)
	})

	t.Run("different tokens produce different hashes", func(t *testing.T) {
		h1 := auth.HashToken("token-a")
		h2 := auth.HashToken("token-b")
		assert.NotEqual(t, h1, h2)
	})

	t.Run("produces 64-char hex SHA-256", func(t *testing.T) {
		h := auth.HashToken("some-token")
		assert.Len(t, h, 64)
	})
}

func TestValidateTokenHash(t *testing.T) {
	token := "dGhpcyBpcyBhIHJlZnJlc2ggdG9rZW4AAAA"
	hash := auth.HashToken(token)

	t.Run("matching token validates", func(t *testing.T) {
		assert.True(t, auth.ValidateTokenHash(token, hash))
	})

	t.Run("different token rejects", func(t *testing.T) {
		assert.False(t, auth.ValidateTokenHash("wrong-token", hash))
	})

	t.Run("empty token rejects", func(t *testing.T) {
		assert.False(t, auth.ValidateTokenHash("", hash))
	})
}

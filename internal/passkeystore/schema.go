package passkeystore

import (
	"context"
	"fmt"

	"github.com/aelexs/authcore/internal/postgres"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS passkey_credentials (
	credential_id TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	device_id     TEXT NOT NULL,
	public_key    BYTEA NOT NULL,
	counter       BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	last_used     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_passkey_credentials_user_id ON passkey_credentials (user_id);
`

// EnsureSchema creates the passkey_credentials table if it does not already
// exist. Called once at startup, mirroring eventstore.EnsureSchema.
func EnsureSchema(ctx context.Context, pool postgres.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure passkeystore schema: %w", err)
	}
	return nil
}

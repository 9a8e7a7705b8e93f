package eventstore

import (
	"context"
	"fmt"

	"github.com/aelexs/authcore/internal/postgres"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	stream_id      TEXT NOT NULL,
	version        BIGINT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        BYTEA NOT NULL,
	metadata       JSONB NOT NULL DEFAULT '{}',
	correlation_id TEXT NOT NULL DEFAULT '',
	occurred_at    TIMESTAMPTZ NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stream_id, version)
);

CREATE TABLE IF NOT EXISTS snapshots (
	stream_id TEXT PRIMARY KEY,
	version   BIGINT NOT NULL,
	state     BYTEA NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_projections (
	user_id              TEXT PRIMARY KEY,
	email                TEXT NOT NULL,
	display_name         TEXT,
	email_verified       BOOLEAN NOT NULL DEFAULT false,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	last_event_timestamp TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS device_projections (
	device_id            TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	name                 TEXT,
	device_type          TEXT NOT NULL,
	platform             TEXT,
	first_seen           TIMESTAMPTZ NOT NULL,
	last_seen            TIMESTAMPTZ NOT NULL,
	login_count          INTEGER NOT NULL DEFAULT 0,
	trust_level          TEXT NOT NULL DEFAULT 'unknown',
	linked_credential_id TEXT,
	last_event_timestamp TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_link_projections (
	user_id              TEXT NOT NULL,
	provider             TEXT NOT NULL,
	provider_user_id     TEXT NOT NULL,
	linked_at            TIMESTAMPTZ NOT NULL,
	last_event_timestamp TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, provider)
);

CREATE TABLE IF NOT EXISTS passkey_projections (
	credential_id        TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	device_id            TEXT NOT NULL,
	public_key           BYTEA NOT NULL,
	counter              BIGINT NOT NULL,
	registered_at        TIMESTAMPTZ NOT NULL,
	last_used            TIMESTAMPTZ,
	last_event_timestamp TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_token_cache (
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT,
	expires_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, provider)
);
`

// EnsureSchema creates every table the event store and its projections
// need, if they do not already exist. Safe to call on every process
// start; it performs no destructive operation.
func EnsureSchema(ctx context.Context, pool postgres.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure eventstore schema: %w", err)
	}
	return nil
}

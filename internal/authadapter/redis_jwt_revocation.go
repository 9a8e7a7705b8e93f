package authadapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	redisclient "github.com/aelexs/authcore/internal/redis"
)

const (
	// revokedJTIPrefix is the Redis key prefix for revoked JWT-id entries.
	// Key pattern: revoked_jti:{jti}.
	revokedJTIPrefix = "revoked_jti:"

	// revokedJTITTL is the fixed TTL for revoked-jti entries: the maximum
	// access token lifetime, so a revocation marker never outlives every
	// token it could apply to. Fixed rather than derived from exp-now so
	// admin-initiated revocations (which don't have a token in hand) use
	// the same code path as session-triggered ones.
	revokedJTITTL = 1 * time.Hour
)

// RevocationStore implements JWT-access-token revocation backed by Redis,
// keyed by JWT id. It is separate from the C3 session store, which does
// not consult it: a session can be live while an access token minted for
// it has been explicitly revoked. All read failures fail closed: treat as
// revoked rather than risk admitting a revoked token because Redis was
// unreachable.
type RevocationStore struct {
	cmd redisclient.Cmdable
}

// NewRevocationStore creates a RevocationStore that uses cmd for Redis operations.
func NewRevocationStore(cmd redisclient.Cmdable) *RevocationStore {
	return &RevocationStore{cmd: cmd}
}

// Revoke marks a JWT id as revoked.
func (s *RevocationStore) Revoke(ctx context.Context, jti string) error {
	ctx, span := tracer.Start(ctx, "redis.revocation.revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	key := revokedJTIPrefix + jti
	err := s.cmd.Set(ctx, key, "1", revokedJTITTL).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("revoke JTI %q: %w", jti, err)
	}

	return nil
}

// IsRevoked checks whether a JWT id has been revoked.
// Returns (true, nil) if revoked, (false, nil) if not revoked, and
// (true, err) on Redis failure — fail closed.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.revocation.is_revoked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	key := revokedJTIPrefix + jti
	result, err := s.cmd.Exists(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("check revocation %q: %w", jti, err)
	}

	return result > 0, nil
}

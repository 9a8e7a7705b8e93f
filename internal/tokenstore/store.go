package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	redisclient "github.com/aelexs/authcore/internal/redis"
)

const tokenKeyPrefix = "auth:token:"

// Store is the capability interface the auth reducers (C6) depend on for
// single-use token storage. A successful Consume both validates the secret
// (constant-time) and atomically removes the record; consuming with the
// wrong secret leaves the record in place; consuming an expired or missing
// record always returns domain.ErrAuthenticationFailed, and an expired
// record may be deleted as a side effect of the attempt.
type Store interface {
	Store(ctx context.Context, token domain.Token) error
	Consume(ctx context.Context, id domain.TokenID, secret string) (domain.Token, error)
	Delete(ctx context.Context, id domain.TokenID) error
	Exists(ctx context.Context, id domain.TokenID) (bool, error)
}

var _ Store = (*RedisStore)(nil)

// RedisStore is the Store implementation backed by Redis.
type RedisStore struct {
	cmd   redisclient.Cmdable
	clock domain.Clock
}

// NewRedisStore creates a RedisStore using cmd for Redis operations and
// clock for expiry checks (injectable for deterministic tests).
func NewRedisStore(cmd redisclient.Cmdable, clock domain.Clock) *RedisStore {
	return &RedisStore{cmd: cmd, clock: clock}
}

func tokenKey(id domain.TokenID) string {
	return tokenKeyPrefix + id.String()
}

// consumeScript is the atomic test-and-remove primitive. The record is kept
// as a Redis hash (rather than a single JSON blob) so the secret comparison
// and expiry check can happen server-side without a JSON codec in Lua:
//   - missing key → nil (caller treats identically to wrong secret / expired)
//   - expired → the key is deleted eagerly and nil is returned
//   - secret mismatch → nil is returned and the record is left untouched
//   - match → the hash is deleted and its fields are returned
//
// Running all of this as one script means concurrent Consume calls for the
// same token_id serialize on Redis's single-threaded script execution: at
// most one can observe the matching secret before the DEL takes effect.
//
// The secret comparison itself runs its own constant-time byte loop rather
// than Lua's native `~=`, which compares lengths and then short-circuits at
// the first differing byte (effectively `memcmp`) — exactly the kind of
// signal spec §4.1 forbids. Both the mismatch and match paths always read
// the full hash (HGETALL) and always walk the comparison loop to its end
// before branching once, at the very end, on whether to DEL; the only work
// that differs between "wrong secret" and "right secret" is that final,
// unavoidable delete-or-don't decision, not the comparison that precedes it.
var consumeScript = redisclient.NewScript(`
local exists = redis.call('EXISTS', KEYS[1])
if exists == 0 then
  return false
end
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at_unix_ms'))
if expiresAt ~= nil and expiresAt <= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return false
end
local storedSecret = redis.call('HGET', KEYS[1], 'secret')
local presented = ARGV[1]
local lenPresented = #presented
local lenStored = #storedSecret
local maxLen = lenPresented
if lenStored > maxLen then
  maxLen = lenStored
end
local diff = 0
if lenPresented ~= lenStored then
  diff = 1
end
for i = 1, maxLen do
  local a = 0
  local b = 0
  if i <= lenPresented then a = string.byte(presented, i) end
  if i <= lenStored then b = string.byte(storedSecret, i) end
  if a ~= b then
    diff = 1
  end
end
local fields = redis.call('HGETALL', KEYS[1])
if diff ~= 0 then
  return false
end
redis.call('DEL', KEYS[1])
return fields
`)

// hashFields is the Redis hash representation of a Token. Data (the opaque
// provider-hint/email/challenge blob) is stored JSON-encoded as a single
// field since its shape varies by token type, but secret and expires_at
// stay plain hash fields so consumeScript can read them without decoding.
type hashFields struct {
	TokenID     string
	Type        domain.TokenType
	Secret      string
	Data        []byte // json-encoded map[string]any
	ExpiresAtMS int64
	StoredAtMS  int64
}

func toHash(t domain.Token) (hashFields, error) {
	data, err := json.Marshal(t.Data)
	if err != nil {
		return hashFields{}, err
	}
	return hashFields{
		TokenID:     t.TokenID.String(),
		Type:        t.Type,
		Secret:      t.Secret,
		Data:        data,
		ExpiresAtMS: t.ExpiresAt.UnixMilli(),
		StoredAtMS:  t.StoredAt.UnixMilli(),
	}, nil
}

// Store persists token as a Redis hash with a TTL derived from its
// ExpiresAt, then sets the key's expiry in a second call — HSET itself
// cannot carry a TTL, so the record is briefly persistent-until-EXPIRE;
// that window is invisible to callers since they only learn the token id
// after Store returns.
func (s *RedisStore) Store(ctx context.Context, token domain.Token) error {
	ctx, span := tracer.Start(ctx, "tokenstore.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "HSET"),
		attribute.String("token.type", string(token.Type)),
	)

	h, err := toHash(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: marshal token: %v", domain.ErrStorageError, err)
	}

	key := tokenKey(token.TokenID)
	fields := map[string]any{
		"token_id":           h.TokenID,
		"type":               string(h.Type),
		"secret":             h.Secret,
		"data":               h.Data,
		"expires_at_unix_ms": h.ExpiresAtMS,
		"stored_at_unix_ms":  h.StoredAtMS,
	}
	if err := s.cmd.HSet(ctx, key, fields).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: store token: %v", domain.ErrStorageError, err)
	}

	ttl := token.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.cmd.PExpire(ctx, key, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: set token ttl: %v", domain.ErrStorageError, err)
	}

	return nil
}

// Consume atomically tests the presented secret against the stored one and,
// only on a match against a non-expired record, removes it — see
// consumeScript, which performs the comparison itself in constant time.
// Every failure path — missing key, wrong secret, expired record — collapses
// to the same domain.ErrAuthenticationFailed so a caller cannot distinguish
// them.
func (s *RedisStore) Consume(ctx context.Context, id domain.TokenID, secret string) (domain.Token, error) {
	ctx, span := tracer.Start(ctx, "tokenstore.consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVALSHA"),
	)

	res, err := consumeScript.Run(ctx, s.cmd,
		[]string{tokenKey(id)},
		secret, s.clock.Now().UnixMilli(),
	).Result()
	if err != nil {
		if errors.Is(err, redisclient.Nil) {
			return domain.Token{}, domain.ErrAuthenticationFailed
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Token{}, fmt.Errorf("%w: consume token: %v", domain.ErrStorageError, err)
	}

	fields, ok := res.([]any)
	if !ok || len(fields) == 0 {
		return domain.Token{}, domain.ErrAuthenticationFailed
	}

	tok, err := fromHashReply(fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Token{}, fmt.Errorf("%w: decode consumed token: %v", domain.ErrStorageError, err)
	}

	return tok, nil
}

// fromHashReply decodes the flat field/value array HGETALL (and therefore
// consumeScript, which only ever returns it after consumeScript's own
// constant-time comparison has already matched) into a domain.Token.
func fromHashReply(fields []any) (domain.Token, error) {
	m := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		val, _ := fields[i+1].(string)
		m[key] = val
	}

	id, err := domain.NewTokenID(m["token_id"])
	if err != nil {
		return domain.Token{}, err
	}

	var data map[string]any
	if raw := m["data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return domain.Token{}, err
		}
	}

	expiresAtMS, err := strconv.ParseInt(m["expires_at_unix_ms"], 10, 64)
	if err != nil {
		return domain.Token{}, err
	}
	storedAtMS, err := strconv.ParseInt(m["stored_at_unix_ms"], 10, 64)
	if err != nil {
		return domain.Token{}, err
	}

	tok := domain.Token{
		TokenID:   id,
		Type:      domain.TokenType(m["type"]),
		Secret:    m["secret"],
		Data:      data,
		ExpiresAt: time.UnixMilli(expiresAtMS),
		StoredAt:  time.UnixMilli(storedAtMS),
	}
	return tok, nil
}

// Delete removes a token record without validating its secret, used when a
// caller wants to invalidate a token it issued (e.g. superseding a prior
// challenge).
func (s *RedisStore) Delete(ctx context.Context, id domain.TokenID) error {
	ctx, span := tracer.Start(ctx, "tokenstore.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	if err := s.cmd.Del(ctx, tokenKey(id)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: delete token: %v", domain.ErrStorageError, err)
	}
	return nil
}

// Exists reports whether a token record is currently present.
func (s *RedisStore) Exists(ctx context.Context, id domain.TokenID) (bool, error) {
	ctx, span := tracer.Start(ctx, "tokenstore.exists")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	n, err := s.cmd.Exists(ctx, tokenKey(id)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("%w: check token existence: %v", domain.ErrStorageError, err)
	}
	return n > 0, nil
}

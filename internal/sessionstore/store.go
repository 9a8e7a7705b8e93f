package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	redisclient "github.com/aelexs/authcore/internal/redis"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "user:"
	userIndexSuffix  = ":sessions"
)

// Store is the capability interface the auth reducers (C6) depend on for
// session CRUD. Implementations must provide linearizable Create/Delete/
// Rotate per session_id (spec §4.2).
type Store interface {
	Create(ctx context.Context, session domain.Session, ttl time.Duration, maxConcurrent int) error
	Get(ctx context.Context, id domain.SessionID) (domain.Session, error)
	Update(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, id domain.SessionID) error
	DeleteUserSessions(ctx context.Context, userID domain.UserID) (int, error)
	Rotate(ctx context.Context, oldID domain.SessionID) (domain.SessionID, error)
	GetUserSessions(ctx context.Context, userID domain.UserID) ([]domain.SessionID, error)
	Exists(ctx context.Context, id domain.SessionID) (bool, error)
	GetTTL(ctx context.Context, id domain.SessionID) (time.Duration, error)
}

var _ Store = (*RedisStore)(nil)

// createScript atomically guards against session fixation (KEYS[1] must not
// already exist) and performs the primary-record write plus index update in
// one round trip.
var createScript = redisclient.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('session_fixation')
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
if redis.call('TTL', KEYS[2]) < tonumber(ARGV[4]) then
  redis.call('EXPIRE', KEYS[2], ARGV[4])
end
return 'OK'
`)

// rotateScript atomically swaps the primary record's key while preserving
// its TTL, and updates the user index in the same round trip.
var rotateScript = redisclient.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('session_not_found')
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 'OK'
`)

// deleteUserSessionsScript atomically deletes every session a user's index
// names, then the index itself, so no concurrent create can orphan a new
// session between the SMEMBERS read and the deletes.
var deleteUserSessionsScript = redisclient.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local deleted = 0
for _, id in ipairs(ids) do
  if redis.call('DEL', 'session:' .. id) == 1 then
    deleted = deleted + 1
  end
end
redis.call('DEL', KEYS[1])
return deleted
`)

// RedisStore is the Store implementation backed by Redis.
type RedisStore struct {
	cmd   redisclient.Cmdable
	clock domain.Clock
}

// NewRedisStore creates a RedisStore using cmd for Redis operations and
// clock for expiration/idle-timeout checks.
func NewRedisStore(cmd redisclient.Cmdable, clock domain.Clock) *RedisStore {
	return &RedisStore{cmd: cmd, clock: clock}
}

func sessionKey(id domain.SessionID) string {
	return sessionKeyPrefix + id.String()
}

func userIndexKey(userID domain.UserID) string {
	return userIndexPrefix + userID.String() + userIndexSuffix
}

// record is the Redis wire representation of a Session.
type record struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	DeviceID       string    `json:"device_id"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
	ExpiresAt      time.Time `json:"expires_at"`
	IdleTimeout    int64     `json:"idle_timeout_ns"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	OAuthProvider  string    `json:"oauth_provider"`
	LoginRiskScore float64   `json:"login_risk_score"`
}

func toRecord(s domain.Session) record {
	return record{
		SessionID:      s.SessionID.String(),
		UserID:         s.UserID.String(),
		DeviceID:       s.DeviceID.String(),
		Email:          s.Email,
		CreatedAt:      s.CreatedAt,
		LastActive:     s.LastActive,
		ExpiresAt:      s.ExpiresAt,
		IdleTimeout:    int64(s.IdleTimeout),
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		OAuthProvider:  s.OAuthProvider,
		LoginRiskScore: s.LoginRiskScore,
	}
}

func (r record) toDomain() (domain.Session, error) {
	sid, err := domain.NewSessionID(r.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	uid, err := domain.NewUserID(r.UserID)
	if err != nil {
		return domain.Session{}, err
	}
	did, err := domain.NewDeviceID(r.DeviceID)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		SessionID:      sid,
		UserID:         uid,
		DeviceID:       did,
		Email:          r.Email,
		CreatedAt:      r.CreatedAt,
		LastActive:     r.LastActive,
		ExpiresAt:      r.ExpiresAt,
		IdleTimeout:    time.Duration(r.IdleTimeout),
		IPAddress:      r.IPAddress,
		UserAgent:      r.UserAgent,
		OAuthProvider:  r.OAuthProvider,
		LoginRiskScore: r.LoginRiskScore,
	}, nil
}

// Create inserts session, evicting the oldest-by-created_at session first
// if the user is already at maxConcurrent live sessions (spec §4.2). The
// fixation check and the primary/index write are one atomic script
// invocation; the eviction scan that may precede it is a best-effort bulk
// MGET, not part of the same atomic unit (mirrors the original's trade-off:
// a race here only means the cap is briefly exceeded by one session, which
// the next Create self-heals).
func (s *RedisStore) Create(ctx context.Context, session domain.Session, ttl time.Duration, maxConcurrent int) error {
	ctx, span := tracer.Start(ctx, "sessionstore.create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"))

	if maxConcurrent > 0 {
		if err := s.evictOldestIfAtCap(ctx, session.UserID, maxConcurrent); err != nil {
			span.RecordError(err)
			return err
		}
	}

	payload, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("%w: marshal session: %v", domain.ErrStorageError, err)
	}

	indexTTL := ttl + domain.SessionIndexTTLFloor

	res, err := createScript.Run(ctx, s.cmd,
		[]string{sessionKey(session.SessionID), userIndexKey(session.UserID)},
		payload, ttl.Milliseconds(), session.SessionID.String(), int64(indexTTL.Seconds()),
	).Result()
	if err != nil {
		if isScriptError(err, "session_fixation") {
			return fmt.Errorf("session %s: %w", session.SessionID, domain.ErrSessionFixation)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: create session: %v", domain.ErrStorageError, err)
	}
	_ = res
	return nil
}

// evictOldestIfAtCap fetches the user's live sessions in one MGET round
// trip and, if at or above maxConcurrent, deletes the oldest-by-created_at.
func (s *RedisStore) evictOldestIfAtCap(ctx context.Context, userID domain.UserID, maxConcurrent int) error {
	live, err := s.GetUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	if len(live) < maxConcurrent {
		return nil
	}

	keys := make([]string, len(live))
	for i, id := range live {
		keys[i] = sessionKey(id)
	}
	values, err := s.cmd.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("%w: mget candidate sessions: %v", domain.ErrStorageError, err)
	}

	var oldestID domain.SessionID
	var oldestAt time.Time
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		if oldestAt.IsZero() || r.CreatedAt.Before(oldestAt) {
			oldestAt = r.CreatedAt
			oldestID = live[i]
		}
	}
	if oldestID.IsZero() {
		return nil
	}
	return s.Delete(ctx, oldestID)
}

// Get validates expiration and idle timeout, tolerating last_active strictly
// in the future as benign clock skew (resetting it to now rather than
// rejecting), and on success refreshes last_active and the sliding TTL.
func (s *RedisStore) Get(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	ctx, span := tracer.Start(ctx, "sessionstore.get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"))

	payload, err := s.cmd.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redisclient.Nil) {
			return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Session{}, fmt.Errorf("%w: get session: %v", domain.ErrStorageError, err)
	}

	var r record
	if err := json.Unmarshal(payload, &r); err != nil {
		return domain.Session{}, fmt.Errorf("%w: unmarshal session: %v", domain.ErrStorageError, err)
	}
	sess, err := r.toDomain()
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: decode session: %v", domain.ErrStorageError, err)
	}

	now := s.clock.Now()
	if !now.Before(sess.ExpiresAt) {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionExpired)
	}
	if now.Sub(sess.LastActive) > sess.IdleTimeout {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionExpired)
	}

	sess.LastActive = now

	fresh := sess.ExpiresAt.Sub(now)
	if fresh <= 0 {
		fresh = time.Second
	}
	updated, err := json.Marshal(toRecord(sess))
	if err == nil {
		if err := s.cmd.Set(ctx, sessionKey(id), updated, fresh).Err(); err != nil {
			span.RecordError(err)
		}
	}

	return sess, nil
}

// Update refuses to persist changes to any immutable field (spec §3, §4.2);
// the pre-read and the write accept a micro-TOCTOU race on mutable fields
// only, per spec §9 Open Question 3 — both the existing and incoming values
// are checked against each other, so the race cannot smuggle an immutable
// mutation through.
func (s *RedisStore) Update(ctx context.Context, session domain.Session) error {
	ctx, span := tracer.Start(ctx, "sessionstore.update")
	defer span.End()

	existing, err := s.rawGet(ctx, session.SessionID)
	if err != nil {
		return err
	}
	if err := existing.ValidateUpdate(session); err != nil {
		return err
	}

	payload, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("%w: marshal session: %v", domain.ErrStorageError, err)
	}

	fresh := session.ExpiresAt.Sub(s.clock.Now())
	if fresh <= 0 {
		fresh = time.Second
	}
	if err := s.cmd.Set(ctx, sessionKey(session.SessionID), payload, fresh).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: update session: %v", domain.ErrStorageError, err)
	}
	return nil
}

// rawGet reads the record without validating expiration/idle timeout or
// refreshing last_active; used internally where Update needs the raw
// immutable fields of the existing record, not a validity check.
func (s *RedisStore) rawGet(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	payload, err := s.cmd.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redisclient.Nil) {
			return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
		}
		return domain.Session{}, fmt.Errorf("%w: get session: %v", domain.ErrStorageError, err)
	}
	var r record
	if err := json.Unmarshal(payload, &r); err != nil {
		return domain.Session{}, fmt.Errorf("%w: unmarshal session: %v", domain.ErrStorageError, err)
	}
	return r.toDomain()
}

// Delete removes the primary record and its user-index entry; idempotent.
func (s *RedisStore) Delete(ctx context.Context, id domain.SessionID) error {
	ctx, span := tracer.Start(ctx, "sessionstore.delete")
	defer span.End()

	sess, err := s.rawGet(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	if err := s.cmd.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: delete session: %v", domain.ErrStorageError, err)
	}
	if !sess.UserID.IsZero() {
		if err := s.cmd.SRem(ctx, userIndexKey(sess.UserID), id.String()).Err(); err != nil {
			span.RecordError(err)
		}
	}
	return nil
}

// DeleteUserSessions atomically removes every session belonging to userID
// and the index entry itself, returning the count removed.
func (s *RedisStore) DeleteUserSessions(ctx context.Context, userID domain.UserID) (int, error) {
	ctx, span := tracer.Start(ctx, "sessionstore.delete_user_sessions")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"))

	n, err := deleteUserSessionsScript.Run(ctx, s.cmd, []string{userIndexKey(userID)}).Int()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: delete user sessions: %v", domain.ErrStorageError, err)
	}
	return n, nil
}

// Rotate atomically generates a new session id, preserves the record's
// fields, deletes the old record, and updates the user index.
func (s *RedisStore) Rotate(ctx context.Context, oldID domain.SessionID) (domain.SessionID, error) {
	ctx, span := tracer.Start(ctx, "sessionstore.rotate")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "redis"))

	existing, err := s.rawGet(ctx, oldID)
	if err != nil {
		return domain.SessionID{}, err
	}

	newID := domain.GenerateSessionID()
	rotated := existing
	rotated.SessionID = newID

	ttl, err := s.GetTTL(ctx, oldID)
	if err != nil || ttl <= 0 {
		ttl = existing.ExpiresAt.Sub(s.clock.Now())
		if ttl <= 0 {
			ttl = time.Second
		}
	}

	payload, err := json.Marshal(toRecord(rotated))
	if err != nil {
		return domain.SessionID{}, fmt.Errorf("%w: marshal session: %v", domain.ErrStorageError, err)
	}

	_, err = rotateScript.Run(ctx, s.cmd,
		[]string{sessionKey(oldID), sessionKey(newID), userIndexKey(existing.UserID)},
		payload, ttl.Milliseconds(), oldID.String(), newID.String(),
	).Result()
	if err != nil {
		if isScriptError(err, "session_not_found") {
			return domain.SessionID{}, fmt.Errorf("session %s: %w", oldID, domain.ErrSessionNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.SessionID{}, fmt.Errorf("%w: rotate session: %v", domain.ErrStorageError, err)
	}
	return newID, nil
}

// GetUserSessions returns live session ids for userID, opportunistically
// pruning index entries whose backing record no longer exists.
func (s *RedisStore) GetUserSessions(ctx context.Context, userID domain.UserID) ([]domain.SessionID, error) {
	ctx, span := tracer.Start(ctx, "sessionstore.get_user_sessions")
	defer span.End()

	raw, err := s.cmd.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: get user sessions: %v", domain.ErrStorageError, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	keys := make([]string, len(raw))
	for i, id := range raw {
		keys[i] = sessionKeyPrefix + id
	}
	values, err := s.cmd.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: mget user sessions: %v", domain.ErrStorageError, err)
	}

	live := make([]domain.SessionID, 0, len(raw))
	var stale []string
	for i, v := range values {
		if v == nil {
			stale = append(stale, raw[i])
			continue
		}
		id, err := domain.NewSessionID(raw[i])
		if err != nil {
			continue
		}
		live = append(live, id)
	}
	if len(stale) > 0 {
		if err := s.cmd.SRem(ctx, userIndexKey(userID), toAny(stale)...).Err(); err != nil {
			span.RecordError(err)
		}
	}

	sort.Slice(live, func(i, j int) bool { return live[i].String() < live[j].String() })
	return live, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Exists reports whether a session record is currently present.
func (s *RedisStore) Exists(ctx context.Context, id domain.SessionID) (bool, error) {
	n, err := s.cmd.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: session existence: %v", domain.ErrStorageError, err)
	}
	return n > 0, nil
}

// GetTTL returns the remaining Redis TTL of a session record, or zero if
// the key is absent or has no expiration set.
func (s *RedisStore) GetTTL(ctx context.Context, id domain.SessionID) (time.Duration, error) {
	ttl, err := s.cmd.TTL(ctx, sessionKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: session ttl: %v", domain.ErrStorageError, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func isScriptError(err error, marker string) bool {
	return err != nil && len(marker) > 0 && containsSubstring(err.Error(), marker)
}

func containsSubstring(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

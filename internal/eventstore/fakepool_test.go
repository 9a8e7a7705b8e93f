package eventstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aelexs/authcore/internal/postgres"
)

// fakePool is an in-memory postgres.Pool double. It understands exactly
// the statement shapes store.go/projections.go/oauthtokens.go issue, and
// reproduces their ON CONFLICT ... WHERE last_event_timestamp < ...
// idempotency gate in plain Go. It is not a SQL engine; it exists so
// these packages' behavior can be exercised without a live database.
type fakePool struct {
	mu sync.Mutex

	events    []fakeEventRow
	snapshots map[string]fakeSnapshotRow

	userProjs   map[string]*fakeUserProj
	deviceProjs map[string]*fakeDeviceProj
	oauthLinks  map[string]*fakeOAuthLinkProj
	passkeys    map[string]*fakePasskeyProj
	oauthTokens map[string]*fakeOAuthToken
}

func newFakePool() *fakePool {
	return &fakePool{
		snapshots:   make(map[string]fakeSnapshotRow),
		userProjs:   make(map[string]*fakeUserProj),
		deviceProjs: make(map[string]*fakeDeviceProj),
		oauthLinks:  make(map[string]*fakeOAuthLinkProj),
		passkeys:    make(map[string]*fakePasskeyProj),
		oauthTokens: make(map[string]*fakeOAuthToken),
	}
}

type fakeEventRow struct {
	streamID      string
	version       int64
	eventType     string
	payload       []byte
	metadata      []byte
	correlationID string
	occurredAt    time.Time
}

type fakeSnapshotRow struct {
	version int64
	state   []byte
	savedAt time.Time
}

type fakeUserProj struct {
	email, displayName        string
	emailVerified              bool
	createdAt, updatedAt      time.Time
	lastEventTimestamp        time.Time
}

type fakeDeviceProj struct {
	userID, name, deviceType, platform string
	firstSeen, lastSeen                time.Time
	loginCount                         int
	trustLevel                         string
	linkedCredentialID                 string
	lastEventTimestamp                 time.Time
}

type fakeOAuthLinkProj struct {
	providerUserID     string
	linkedAt           time.Time
	lastEventTimestamp time.Time
}

type fakePasskeyProj struct {
	userID, deviceID   string
	publicKey          []byte
	counter            int64
	registeredAt       time.Time
	lastUsed           *time.Time
	lastEventTimestamp time.Time
}

type fakeOAuthToken struct {
	accessToken, refreshToken string
	expiresAt                 time.Time
}

func oauthKey(userID, provider string) string { return userID + "|" + provider }

func (p *fakePool) Close() {}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.execLocked(sql, args...)
}

func (p *fakePool) execLocked(sql string, args ...any) (int64, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO snapshots"):
		streamID, version, state, savedAt := args[0].(string), args[1].(int64), args[2].([]byte), args[3].(time.Time)
		existing, ok := p.snapshots[streamID]
		if !ok || existing.version < version {
			p.snapshots[streamID] = fakeSnapshotRow{version: version, state: state, savedAt: savedAt}
		}
		return 1, nil

	case strings.Contains(sql, "INSERT INTO user_projections"):
		userID, email, displayName, verified, ts := args[0].(string), args[1].(string), args[2].(string), args[3].(bool), args[4].(time.Time)
		existing, ok := p.userProjs[userID]
		if !ok || existing.lastEventTimestamp.Before(ts) {
			created := ts
			if ok {
				created = existing.createdAt
			}
			p.userProjs[userID] = &fakeUserProj{email: email, displayName: displayName, emailVerified: verified, createdAt: created, updatedAt: ts, lastEventTimestamp: ts}
		}
		return 1, nil

	case strings.Contains(sql, "UPDATE user_projections"):
		userID, ts := args[0].(string), args[1].(time.Time)
		if u, ok := p.userProjs[userID]; ok && u.lastEventTimestamp.Before(ts) {
			u.emailVerified = true
			u.updatedAt = ts
			u.lastEventTimestamp = ts
		}
		return 1, nil

	case strings.Contains(sql, "INSERT INTO device_projections"):
		deviceID, userID, name, deviceType, platform, ts := args[0].(string), args[1].(string), args[2].(string), args[3].(string), args[4].(string), args[5].(time.Time)
		existing, ok := p.deviceProjs[deviceID]
		if !ok || existing.lastEventTimestamp.Before(ts) {
			firstSeen := ts
			if ok {
				firstSeen = existing.firstSeen
			}
			p.deviceProjs[deviceID] = &fakeDeviceProj{userID: userID, name: name, deviceType: deviceType, platform: platform, firstSeen: firstSeen, lastSeen: ts, trustLevel: "unknown", lastEventTimestamp: ts}
		}
		return 1, nil

	case strings.Contains(sql, "UPDATE device_projections") && strings.Contains(sql, "trust_level = $2"):
		deviceID, trustLevel, ts := args[0].(string), args[1].(string), args[2].(time.Time)
		if d, ok := p.deviceProjs[deviceID]; ok && d.lastEventTimestamp.Before(ts) {
			d.trustLevel = trustLevel
			d.lastEventTimestamp = ts
		}
		return 1, nil

	case strings.Contains(sql, "UPDATE device_projections") && strings.Contains(sql, "login_count = login_count + 1"):
		deviceID, ts, newTrust := args[0].(string), args[1].(time.Time), args[2].(string)
		if d, ok := p.deviceProjs[deviceID]; ok && d.lastEventTimestamp.Before(ts) {
			d.lastSeen = ts
			d.loginCount++
			d.trustLevel = newTrust
			d.lastEventTimestamp = ts
		}
		return 1, nil

	case strings.Contains(sql, "UPDATE device_projections") && strings.Contains(sql, "linked_credential_id"):
		deviceID, credentialID, ts := args[0].(string), args[1].(string), args[2].(time.Time)
		if d, ok := p.deviceProjs[deviceID]; ok && d.lastEventTimestamp.Before(ts) {
			d.linkedCredentialID = credentialID
			d.lastEventTimestamp = ts
		}
		return 1, nil

	case strings.Contains(sql, "INSERT INTO oauth_link_projections"):
		userID, provider, providerUserID, ts := args[0].(string), args[1].(string), args[2].(string), args[3].(time.Time)
		key := oauthKey(userID, provider)
		existing, ok := p.oauthLinks[key]
		if !ok || existing.lastEventTimestamp.Before(ts) {
			p.oauthLinks[key] = &fakeOAuthLinkProj{providerUserID: providerUserID, linkedAt: ts, lastEventTimestamp: ts}
		}
		return 1, nil

	case strings.Contains(sql, "INSERT INTO passkey_projections"):
		credentialID, userID, deviceID, publicKey, counter, ts := args[0].(string), args[1].(string), args[2].(string), args[3].([]byte), args[4].(int64), args[5].(time.Time)
		existing, ok := p.passkeys[credentialID]
		if !ok || existing.lastEventTimestamp.Before(ts) {
			p.passkeys[credentialID] = &fakePasskeyProj{userID: userID, deviceID: deviceID, publicKey: publicKey, counter: counter, registeredAt: ts, lastEventTimestamp: ts}
		}
		return 1, nil

	case strings.Contains(sql, "UPDATE passkey_projections"):
		credentialID, counter, ts := args[0].(string), args[1].(int64), args[2].(time.Time)
		if pk, ok := p.passkeys[credentialID]; ok && pk.lastEventTimestamp.Before(ts) {
			pk.counter = counter
			tsCopy := ts
			pk.lastUsed = &tsCopy
			pk.lastEventTimestamp = ts
		}
		return 1, nil

	case strings.Contains(sql, "TRUNCATE TABLE"):
		table := strings.TrimSpace(strings.TrimPrefix(sql, "TRUNCATE TABLE"))
		switch table {
		case "user_projections":
			p.userProjs = make(map[string]*fakeUserProj)
		case "device_projections":
			p.deviceProjs = make(map[string]*fakeDeviceProj)
		case "oauth_link_projections":
			p.oauthLinks = make(map[string]*fakeOAuthLinkProj)
		case "passkey_projections":
			p.passkeys = make(map[string]*fakePasskeyProj)
		}
		return 0, nil

	case strings.Contains(sql, "INSERT INTO oauth_token_cache"):
		userID, provider, access, refresh, expires := args[0].(string), args[1].(string), args[2].(string), args[3].(string), args[4].(time.Time)
		p.oauthTokens[oauthKey(userID, provider)] = &fakeOAuthToken{accessToken: access, refreshToken: refresh, expiresAt: expires}
		return 1, nil

	case strings.Contains(sql, "DELETE FROM oauth_token_cache"):
		userID, provider := args[0].(string), args[1].(string)
		delete(p.oauthTokens, oauthKey(userID, provider))
		return 1, nil
	}
	return 0, fmt.Errorf("fakePool: unsupported exec: %s", sql)
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (postgres.Rows, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.Contains(sql, "FROM events") {
		streamID := args[0].(string)
		var fromVersion int64 = -1
		if len(args) > 1 {
			fromVersion = args[1].(int64)
		}
		var rows []fakeEventRow
		for _, ev := range p.events {
			if ev.streamID != streamID {
				continue
			}
			if fromVersion >= 0 && ev.version < fromVersion {
				continue
			}
			rows = append(rows, ev)
		}
		return &fakeEventRows{rows: rows, idx: -1}, nil
	}
	return nil, fmt.Errorf("fakePool: unsupported query: %s", sql)
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) postgres.Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryRowLocked(sql, args...)
}

func (p *fakePool) queryRowLocked(sql string, args ...any) postgres.Row {
	switch {
	case strings.Contains(sql, "SELECT version, state FROM snapshots"):
		streamID := args[0].(string)
		snap, ok := p.snapshots[streamID]
		if !ok {
			return snapshotRow{found: false}
		}
		return snapshotRow{found: true, version: snap.version, state: snap.state}

	case strings.Contains(sql, "SELECT first_seen, trust_level, login_count FROM device_projections"):
		deviceID := args[0].(string)
		d, ok := p.deviceProjs[deviceID]
		if !ok {
			return deviceAccessRow{found: false}
		}
		return deviceAccessRow{found: true, firstSeen: d.firstSeen, trustLevel: d.trustLevel, loginCount: d.loginCount}

	case strings.Contains(sql, "FROM oauth_token_cache"):
		userID, provider := args[0].(string), args[1].(string)
		tok, ok := p.oauthTokens[oauthKey(userID, provider)]
		if !ok {
			return oauthTokenRow{found: false}
		}
		refresh := tok.refreshToken
		return oauthTokenRow{found: true, accessToken: tok.accessToken, refreshToken: &refresh, expiresAt: tok.expiresAt}

	case strings.Contains(sql, "FROM user_projections WHERE email"):
		email := args[0].(string)
		for userID, u := range p.userProjs {
			if u.email == email {
				return userByEmailRow{
					found: true, userID: userID, displayName: u.displayName,
					emailVerified: u.emailVerified, createdAt: u.createdAt, updatedAt: u.updatedAt,
				}
			}
		}
		return userByEmailRow{found: false}
	}
	return errRow{err: fmt.Errorf("fakePool: unsupported query row: %s", sql)}
}

func (p *fakePool) Begin(ctx context.Context) (postgres.Tx, error) {
	return &fakeTx{pool: p}, nil
}

// fakeTx buffers event inserts and flushes them to the pool only on
// Commit, so a failed append (error returned before Commit) leaves no
// trace, matching real transactional rollback.
type fakeTx struct {
	pool      *fakePool
	buffered  []fakeEventRow
	committed bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if strings.Contains(sql, "INSERT INTO events") {
		t.buffered = append(t.buffered, fakeEventRow{
			streamID:      args[0].(string),
			version:       args[1].(int64),
			eventType:     args[2].(string),
			payload:       args[3].([]byte),
			metadata:      args[4].([]byte),
			correlationID: args[5].(string),
			occurredAt:    args[6].(time.Time),
		})
		return 1, nil
	}
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	return t.pool.execLocked(sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (postgres.Rows, error) {
	return t.pool.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) postgres.Row {
	if strings.Contains(sql, "MAX(version)") {
		streamID := args[0].(string)
		t.pool.mu.Lock()
		defer t.pool.mu.Unlock()
		var current int64
		for _, ev := range t.pool.events {
			if ev.streamID == streamID && ev.version > current {
				current = ev.version
			}
		}
		return scanInt64Row{v: current}
	}
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	return t.pool.queryRowLocked(sql, args...)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	t.pool.events = append(t.pool.events, t.buffered...)
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.buffered = nil
	return nil
}

// --- Row/Rows implementations, each scoped to exactly one call site's
// scan destination types. ---

type scanInt64Row struct{ v int64 }

func (r scanInt64Row) Scan(dest ...any) error {
	p, ok := dest[0].(*int64)
	if !ok {
		return fmt.Errorf("scanInt64Row: unexpected dest type")
	}
	*p = r.v
	return nil
}

type snapshotRow struct {
	found   bool
	version int64
	state   []byte
}

func (r snapshotRow) Scan(dest ...any) error {
	if !r.found {
		return postgres.ErrNoRows
	}
	*dest[0].(*int64) = r.version
	*dest[1].(*[]byte) = r.state
	return nil
}

type deviceAccessRow struct {
	found      bool
	firstSeen  time.Time
	trustLevel string
	loginCount int
}

func (r deviceAccessRow) Scan(dest ...any) error {
	if !r.found {
		return postgres.ErrNoRows
	}
	*dest[0].(*time.Time) = r.firstSeen
	*dest[1].(*string) = r.trustLevel
	*dest[2].(*int) = r.loginCount
	return nil
}

type oauthTokenRow struct {
	found        bool
	accessToken  string
	refreshToken *string
	expiresAt    time.Time
}

func (r oauthTokenRow) Scan(dest ...any) error {
	if !r.found {
		return postgres.ErrNoRows
	}
	*dest[0].(*string) = r.accessToken
	*dest[1].(**string) = r.refreshToken
	*dest[2].(*time.Time) = r.expiresAt
	return nil
}

type userByEmailRow struct {
	found         bool
	userID        string
	displayName   string
	emailVerified bool
	createdAt     time.Time
	updatedAt     time.Time
}

func (r userByEmailRow) Scan(dest ...any) error {
	if !r.found {
		return postgres.ErrNoRows
	}
	*dest[0].(*string) = r.userID
	*dest[1].(*string) = r.displayName
	*dest[2].(*bool) = r.emailVerified
	*dest[3].(*time.Time) = r.createdAt
	*dest[4].(*time.Time) = r.updatedAt
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

type fakeEventRows struct {
	rows []fakeEventRow
	idx  int
}

func (r *fakeEventRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeEventRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	*dest[0].(*string) = row.streamID
	*dest[1].(*int64) = row.version
	*dest[2].(*string) = row.eventType
	*dest[3].(*[]byte) = row.payload
	*dest[4].(*[]byte) = row.metadata
	*dest[5].(*string) = row.correlationID
	*dest[6].(*time.Time) = row.occurredAt
	return nil
}

func (r *fakeEventRows) Close() {}
func (r *fakeEventRows) Err() error { return nil }

package passkeystore_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aelexs/authcore/internal/postgres"
)

// fakePool is an in-memory postgres.Pool double understanding exactly the
// statement shapes store.go issues against passkey_credentials. It emulates
// SELECT ... FOR UPDATE by holding a single mutex for the lifetime of any
// open transaction, so two concurrent CompareAndSwapCounter calls against
// the pool serialize the same way two connections contending for the same
// row lock would.
type fakePool struct {
	mu   sync.Mutex
	rows map[string]*fakeCredRow

	txMu sync.Mutex
}

type fakeCredRow struct {
	userID, deviceID string
	publicKey        []byte
	counter          int64
	createdAt        time.Time
	lastUsed         *time.Time
}

func newFakePool() *fakePool {
	return &fakePool{rows: make(map[string]*fakeCredRow)}
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(sql, "INSERT INTO passkey_credentials"):
		id := args[0].(string)
		if _, exists := p.rows[id]; exists {
			return 0, nil // ON CONFLICT DO NOTHING
		}
		var lastUsed *time.Time
		if lu, ok := args[6].(time.Time); ok {
			lastUsed = &lu
		}
		p.rows[id] = &fakeCredRow{
			userID:    args[1].(string),
			deviceID:  args[2].(string),
			publicKey: args[3].([]byte),
			counter:   args[4].(int64),
			createdAt: args[5].(time.Time),
			lastUsed:  lastUsed,
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("fakePool: unsupported exec: %s", sql)
	}
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (postgres.Rows, error) {
	return nil, fmt.Errorf("fakePool: Query not supported: %s", sql)
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) postgres.Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(sql, "SELECT credential_id, user_id, device_id, public_key, counter, created_at, last_used"):
		id := args[0].(string)
		row, ok := p.rows[id]
		if !ok {
			return errRow{err: postgres.ErrNoRows}
		}
		return credentialRow{id: id, row: row}
	default:
		return errRow{err: fmt.Errorf("fakePool: unsupported query row: %s", sql)}
	}
}

func (p *fakePool) Begin(ctx context.Context) (postgres.Tx, error) {
	p.txMu.Lock()
	return &fakeTx{pool: p}, nil
}

func (p *fakePool) Close() {}

// fakeTx serializes on the pool's txMu for its whole lifetime, releasing it
// on whichever of Commit/Rollback runs first — store.go always calls
// Rollback via defer even after a successful Commit, so the release must be
// idempotent.
type fakeTx struct {
	pool     *fakePool
	id       string
	released bool
}

func (t *fakeTx) release() {
	if !t.released {
		t.released = true
		t.pool.txMu.Unlock()
	}
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()

	if !strings.Contains(sql, "UPDATE passkey_credentials SET counter") {
		return 0, fmt.Errorf("fakeTx: unsupported exec: %s", sql)
	}
	newCounter := args[0].(int64)
	id := args[1].(string)
	row, ok := t.pool.rows[id]
	if !ok {
		return 0, postgres.ErrNoRows
	}
	row.counter = newCounter
	now := time.Now()
	row.lastUsed = &now
	return 1, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (postgres.Rows, error) {
	return nil, fmt.Errorf("fakeTx: Query not supported: %s", sql)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) postgres.Row {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()

	if !strings.Contains(sql, "FOR UPDATE") {
		return errRow{err: fmt.Errorf("fakeTx: unsupported query row: %s", sql)}
	}
	id := args[0].(string)
	row, ok := t.pool.rows[id]
	if !ok {
		return errRow{err: postgres.ErrNoRows}
	}
	t.id = id
	return counterRow{v: row.counter}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.release()
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.release()
	return nil
}

type credentialRow struct {
	id  string
	row *fakeCredRow
}

func (r credentialRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.id
	*dest[1].(*string) = r.row.userID
	*dest[2].(*string) = r.row.deviceID
	*dest[3].(*[]byte) = r.row.publicKey
	*dest[4].(*int64) = r.row.counter
	*dest[5].(*time.Time) = r.row.createdAt
	*dest[6].(**time.Time) = r.row.lastUsed
	return nil
}

type counterRow struct{ v int64 }

func (r counterRow) Scan(dest ...any) error {
	*dest[0].(*int64) = r.v
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// Package postgres provides a shared pgx connection pool factory.
// Only this package may import jackc/pgx/v5 directly — adapters in other
// packages depend on the re-exported Pool interface defined here.
// See CONTRIBUTING.md: "Only internal/postgres/ may import jackc/pgx/v5".
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of *pgxpool.Pool adapters depend on. Defined as an
// interface so tests can substitute a fake without a live database.
// Exec reports rows affected rather than pgx's raw CommandTag, so callers
// never need jackc/pgx/v5/pgconn either.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Rows is the subset of pgx.Rows adapters iterate over. A *pgx.Rows value
// already satisfies this narrower interface structurally, so Query can
// return one directly; a test double only needs to implement these four
// methods instead of pgx.Rows' full CommandTag/Values/RawValues/Conn surface.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

// Row re-exports pgx.Row, which is already just Scan.
type Row = pgx.Row

// Tx is the subset of pgx.Tx a transactional adapter needs. Narrowed to
// these five methods (rather than re-exporting pgx.Tx wholesale) so a
// test double can implement it without pulling in pgx's Prepare,
// SendBatch, CopyFrom, and LargeObjects surface.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// tx adapts a *pgx.Tx to the narrowed Tx interface above.
type tx struct {
	pgx.Tx
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.Tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query is defined explicitly (rather than relying on the embedded
// pgx.Tx's promoted method) because the promoted signature returns
// pgx.Rows, which does not itself satisfy the Tx interface's Query
// method even though every pgx.Rows value satisfies the narrower Rows
// interface — Go interface satisfaction checks the method signature,
// not return-type assignability.
func (t *tx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.Tx.Query(ctx, sql, args...)
}

// ErrNoRows re-exports pgx.ErrNoRows, returned by QueryRow.Scan when no row
// matched.
var ErrNoRows = pgx.ErrNoRows

// Config holds the parameters needed to connect to Postgres.
type Config struct {
	DSN         string
	MaxConns    int32
	ConnTimeout time.Duration
}

// pool wraps *pgxpool.Pool to satisfy the Pool interface's narrowed
// Exec/Query/QueryRow/Begin signatures.
type pool struct {
	*pgxpool.Pool
}

func (p *pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *pool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return p.Pool.Query(ctx, sql, args...)
}

func (p *pool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.Pool.QueryRow(ctx, sql, args...)
}

func (p *pool) Begin(ctx context.Context) (Tx, error) {
	pgxTx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{Tx: pgxTx}, nil
}

// NewPool creates a connection pool configured from cfg.
func NewPool(ctx context.Context, cfg Config) (Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	rawPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	return &pool{Pool: rawPool}, nil
}

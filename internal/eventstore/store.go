package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
	"github.com/aelexs/authcore/internal/postgres"
)

// Store is the Postgres-backed event log (C4). It satisfies
// effect.EventLog, so an executor can run EventStore effects directly
// against it.
type Store struct {
	pool  postgres.Pool
	clock domain.Clock
}

var _ effect.EventLog = (*Store)(nil)

// NewStore creates a Store using pool for Postgres access and clock for
// stamping recorded_at (injectable for deterministic tests).
func NewStore(pool postgres.Pool, clock domain.Clock) *Store {
	return &Store{pool: pool, clock: clock}
}

// AppendEvents appends events to streamID under optimistic concurrency
// control: if expectedVersion is non-nil and does not equal the stream's
// current version, the append is rejected with domain.ErrConcurrencyConflict
// and nothing is written. An empty batch is rejected outright. Returns the
// stream's version after the append.
func (s *Store) AppendEvents(ctx context.Context, streamID string, expectedVersion *uint64, events []domain.Event) (uint64, error) {
	ctx, span := tracer.Start(ctx, "eventstore.append_events")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("stream.id", streamID),
	)

	if len(events) == 0 {
		return 0, domain.ErrEmptyEventBatch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: begin append transaction: %v", domain.ErrStorageError, err)
	}
	defer tx.Rollback(ctx)

	var rawCurrent int64
	row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1`, streamID)
	if err := row.Scan(&rawCurrent); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: read current version: %v", domain.ErrStorageError, err)
	}
	current := uint64(rawCurrent)

	if expectedVersion != nil && *expectedVersion != current {
		return current, fmt.Errorf("stream %s expected version %d, has %d: %w", streamID, *expectedVersion, current, domain.ErrConcurrencyConflict)
	}

	version := current
	for _, ev := range events {
		version++
		metadata, err := json.Marshal(ev.Metadata)
		if err != nil {
			return current, fmt.Errorf("%w: marshal event metadata: %v", domain.ErrStorageError, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO events (stream_id, version, event_type, payload, metadata, correlation_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, streamID, int64(version), ev.EventType, ev.Payload, metadata, ev.CorrelationID, ev.Timestamp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return current, fmt.Errorf("%w: insert event: %v", domain.ErrStorageError, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return current, fmt.Errorf("%w: commit append transaction: %v", domain.ErrStorageError, err)
	}

	return version, nil
}

// StreamAppend is one stream's worth of input to AppendBatch.
type StreamAppend struct {
	StreamID        string
	ExpectedVersion *uint64
	Events          []domain.Event
}

// StreamAppendResult is one stream's outcome from AppendBatch.
type StreamAppendResult struct {
	StreamID   string
	NewVersion uint64
	Err        error
}

// AppendBatch appends to multiple streams independently: a concurrency
// conflict or storage error on one stream does not roll back or block the
// others. By design this is not all-or-nothing.
func (s *Store) AppendBatch(ctx context.Context, batch []StreamAppend) []StreamAppendResult {
	results := make([]StreamAppendResult, len(batch))
	for i, item := range batch {
		version, err := s.AppendEvents(ctx, item.StreamID, item.ExpectedVersion, item.Events)
		results[i] = StreamAppendResult{StreamID: item.StreamID, NewVersion: version, Err: err}
	}
	return results
}

// LoadEvents returns every event in streamID at or after fromVersion
// (nil loads the full stream), ordered by version.
func (s *Store) LoadEvents(ctx context.Context, streamID string, fromVersion *uint64) ([]domain.Event, error) {
	ctx, span := tracer.Start(ctx, "eventstore.load_events")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("stream.id", streamID))

	var rows postgres.Rows
	var err error
	if fromVersion != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT stream_id, version, event_type, payload, metadata, correlation_id, occurred_at
			FROM events WHERE stream_id = $1 AND version >= $2 ORDER BY version
		`, streamID, int64(*fromVersion))
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT stream_id, version, event_type, payload, metadata, correlation_id, occurred_at
			FROM events WHERE stream_id = $1 ORDER BY version
		`, streamID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: query events: %v", domain.ErrStorageError, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var metadata []byte
		var version int64
		if err := rows.Scan(&ev.StreamID, &version, &ev.EventType, &ev.Payload, &metadata, &ev.CorrelationID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan event row: %v", domain.ErrStorageError, err)
		}
		ev.Version = uint64(version)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal event metadata: %v", domain.ErrStorageError, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", domain.ErrStorageError, err)
	}

	return events, nil
}

// SaveSnapshot upserts a point-in-time serialized state for streamID.
func (s *Store) SaveSnapshot(ctx context.Context, streamID string, version uint64, state []byte) error {
	ctx, span := tracer.Start(ctx, "eventstore.save_snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("stream.id", streamID))

	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (stream_id, version, state, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			saved_at = EXCLUDED.saved_at
		WHERE snapshots.version < EXCLUDED.version
	`, streamID, int64(version), state, s.clock.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: save snapshot: %v", domain.ErrStorageError, err)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot for streamID, if any.
func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (uint64, []byte, bool, error) {
	ctx, span := tracer.Start(ctx, "eventstore.load_snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("stream.id", streamID))

	var rawVersion int64
	var state []byte
	err := s.pool.QueryRow(ctx, `SELECT version, state FROM snapshots WHERE stream_id = $1`, streamID).Scan(&rawVersion, &state)
	if err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return 0, nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, nil, false, fmt.Errorf("%w: load snapshot: %v", domain.ErrStorageError, err)
	}
	return uint64(rawVersion), state, true, nil
}

// Package eventstore implements the append-only event log, snapshotting,
// and idempotent read-model projections (C4). Backed by Postgres: an
// `events` table unique on (stream_id, version) for optimistic
// concurrency, a `snapshots` table upserted by stream_id, and one
// projection table per read model, each carrying a last_event_timestamp
// column that makes projection application commutative under
// out-of-order delivery.
package eventstore

import "github.com/aelexs/authcore/internal/observability"

var tracer = observability.Tracer("authcore/eventstore")

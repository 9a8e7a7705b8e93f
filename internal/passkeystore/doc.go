// Package passkeystore implements the passkey credential store and
// signature-counter compare-and-swap (C5). Credentials live in a table
// separate from eventstore's passkey_projections: the projection is a
// derived, rebuildable read model, while this table is the live
// source of truth the counter CAS itself depends on and must never be
// rebuilt from the event log (replaying the same PasskeyUsed events
// would just replay the same counter values, not recover concurrent
// writes).
//
// Only this package reaches for `SELECT ... FOR UPDATE`: every other
// Postgres-backed store in this module is a plain upsert, but the
// counter CAS must serialize concurrent assertions against the same
// credential, so CompareAndSwapCounter locks the row for the duration
// of its decision.
package passkeystore

import "github.com/aelexs/authcore/internal/observability"

var tracer = observability.Tracer("authcore/passkeystore")

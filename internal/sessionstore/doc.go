// Package sessionstore implements the session substrate (C3): creation,
// validation with idle/absolute expiration, sliding-window TTL refresh,
// rotation, immutable-field enforcement, and concurrent-session capping.
// Backed by Redis: primary key "session:<id>", auxiliary index
// "user:<id>:sessions".
package sessionstore

import "github.com/aelexs/authcore/internal/observability"

var tracer = observability.Tracer("authcore/sessionstore")

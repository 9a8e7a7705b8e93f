// Package tokenstore implements the single-use token substrate (C2): atomic
// storage and consumption for OAuth CSRF state, magic-link tokens, and
// WebAuthn challenges.
package tokenstore

import "github.com/aelexs/authcore/internal/observability"

var tracer = observability.Tracer("authcore/tokenstore")

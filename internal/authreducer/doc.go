// Package authreducer implements the pure login reducers (C6): OAuth2/OIDC,
// magic link, and WebAuthn passkey. Each reducer is a function
// (State, Action, *Environment) -> (State, effect.Effect); it never performs I/O
// itself, only describes the I/O it wants via the effect package, and the
// outer executor feeds results back in as new actions.
//
// Environment bundles capability interfaces (OAuth provider, email sender,
// WebAuthn verifier, risk calculator, token/session/passkey stores, user
// lookup, OAuth token cache) so the reducers stay testable against fakes and
// storage-agnostic.
package authreducer

import "github.com/aelexs/authcore/internal/observability"

var tracer = observability.Tracer("authcore/authreducer")

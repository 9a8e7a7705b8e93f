// Package authadapter holds concrete adapters that back the auth core's
// capability interfaces but don't belong to any single store package:
// the JWT signing key store, JWT revocation, magic-link email delivery,
// and the OAuth2 authorization-code exchange client.
package authadapter

import (
	"github.com/aelexs/authcore/internal/observability"
)

var tracer = observability.Tracer("authcore/authadapter")

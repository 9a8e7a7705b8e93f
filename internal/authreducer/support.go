package authreducer

import (
	"net/mail"
	"time"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
)

// immediate wraps action in a zero-duration Delay so a synchronous
// decision still rejoins the reducer loop through the dispatch path
// rather than being folded into state directly.
func immediate(action effect.Action) effect.Effect {
	return effect.Delay{Duration: 0, Action: action}
}

// isValidEmail reports whether email is a structurally valid address. No
// third-party validator appears anywhere in the retrieved example repos,
// so this is the one place authreducer falls back to the standard
// library (net/mail) rather than an ecosystem dependency.
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

func sessionTTL(env *Environment) time.Duration {
	if env.Policy.SessionTTL > 0 {
		return env.Policy.SessionTTL
	}
	return domain.DefaultSessionTTL
}

func idleTimeout(env *Environment) time.Duration {
	if env.Policy.SessionIdleTimeout > 0 {
		return env.Policy.SessionIdleTimeout
	}
	return domain.DefaultIdleTimeout
}

func maxConcurrent(env *Environment) int {
	if env.Policy.MaxConcurrentSessions > 0 {
		return env.Policy.MaxConcurrentSessions
	}
	return domain.DefaultMaxConcurrent
}

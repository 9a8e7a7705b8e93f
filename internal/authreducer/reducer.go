package authreducer

import "github.com/aelexs/authcore/internal/effect"

// Reduce is the single entry point the executor drives: it tries each
// login family's reducer in turn and returns the first one that claims
// the action. The only action type the families share is SessionCreated,
// which all three handle identically; the OAuth reducer, tried first,
// claims it.
func Reduce(state State, action effect.Action, env *Environment) (State, effect.Effect) {
	if next, eff, ok := reduceOAuth(state, action, env); ok {
		return next, eff
	}
	if next, eff, ok := reduceMagicLink(state, action, env); ok {
		return next, eff
	}
	if next, eff, ok := reducePasskey(state, action, env); ok {
		return next, eff
	}
	return state, effect.None{}
}

// Package effect is the imperative shell's counterpart to the pure auth
// reducers (C7). Reducers return Effect values describing what should
// happen — never performing I/O themselves — and an Executor interprets
// those values, feeding any action a callback produces back into the
// reducer loop via Dispatch.
package effect

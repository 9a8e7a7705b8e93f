package authreducer

import (
	"context"
	"sync"

	"github.com/aelexs/authcore/internal/effect"
)

// Store is the production counterpart of the Environment: it owns one
// login attempt's State and drives the reduce/execute loop. Dispatch is
// safe to call from multiple goroutines; actions are processed FIFO by
// exactly one draining goroutine at a time, so the reducer is
// single-threaded per store instance. Effects produced by a reduction may
// run in parallel relative to each other, but every action they eventually
// produce rejoins this same queue and is reduced in arrival order.
//
// A Store is scoped to a single login attempt, not to a user or session:
// the durable token store — not this in-memory queue — is what
// enforces the single-use CSRF/challenge guarantees across the gap between
// an HTTP request that starts a flow (InitiateOAuth, BeginPasskeyLogin)
// and the one that finishes it (OAuthCallback, FinishPasskeyLogin). A
// composition root is therefore free to construct a fresh Store per
// incoming request; nothing about the auth guarantees depends on any two
// requests sharing one Store instance.
type Store struct {
	env *Environment

	mu       sync.Mutex
	queue    []effect.Action
	draining bool
	state    State

	executor *effect.Executor
}

// NewStore creates a Store bound to env, starting from the zero State
// (no pending OAuth/challenge fragment, no session).
func NewStore(env *Environment) *Store {
	s := &Store{env: env}
	s.executor = effect.NewExecutor(s.enqueue, env.EventLog, env.Publisher)
	return s
}

// State returns a snapshot of the store's current state. Safe to call at
// any time, including concurrently with Dispatch.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch enqueues action and drains the queue to quiescence: it reduces
// the action, runs the effect it produces (which may itself dispatch
// further actions through the executor's callbacks), and keeps going until
// no action remains in flight. If another goroutine is already draining
// this Store, Dispatch only enqueues — the active drainer will reach the
// new action in FIFO order — and returns immediately without waiting for
// it to be processed.
func (s *Store) Dispatch(ctx context.Context, action effect.Action) {
	s.enqueue(action)
	s.drain(ctx)
}

// DispatchAndWait behaves like Dispatch and then returns the store's state.
// When no other goroutine is draining this Store, that is after every
// action transitively produced by action has been reduced. This is what a
// synchronous HTTP handler wants: it needs the terminal state (session
// installed, or LastError set) before it can write a response. When
// another goroutine is draining, it returns as soon as action is enqueued,
// and the returned state may not reflect action yet.
func (s *Store) DispatchAndWait(ctx context.Context, action effect.Action) State {
	s.enqueue(action)
	s.drain(ctx)
	return s.State()
}

func (s *Store) enqueue(a effect.Action) {
	s.mu.Lock()
	s.queue = append(s.queue, a)
	s.mu.Unlock()
}

func (s *Store) pop() (effect.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	a := s.queue[0]
	s.queue = s.queue[1:]
	return a, true
}

// drain becomes the sole processor of the queue unless one is already
// running, in which case it returns immediately: the running drainer will
// pick up whatever was just enqueued.
func (s *Store) drain(ctx context.Context) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	for {
		// The empty check and the release of draining happen under one
		// lock, so an action enqueued by a concurrent Dispatch is either
		// seen here or finds draining false and drains itself.
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		a := s.queue[0]
		s.queue = s.queue[1:]
		next, eff := Reduce(s.state, a, s.env)
		s.state = next
		s.mu.Unlock()

		// Run never returns a domain error to the caller: effect-level
		// failures are reported through a dispatched action (OAuthFailed
		// etc.), not this error, which is only the context's error when
		// cancellation cuts a Delay short.
		_ = s.executor.Run(ctx, eff)
	}
}

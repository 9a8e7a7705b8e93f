// Package effect defines the side-effect vocabulary emitted by the auth
// reducers (C6) and the executor that interprets it. Effects are values
// describing what should happen, never executed by the reducer itself;
// an outer runtime walks the tree and feeds any produced actions back into
// the reducer loop, preserving the (State, Action) -> (State, Effect)
// purity of reduce.
package effect

import (
	"context"
	"time"

	"github.com/aelexs/authcore/internal/domain"
)

// Action is the unqualified payload a reducer produces and consumes. Auth
// reducers define their own concrete action types and pass them through
// Effect values as any; the executor never inspects an action's shape, it
// only dispatches it.
type Action = any

// Effect is the side-effect sum type. Every concrete variant in this
// package implements it via an unexported marker method, so the set of
// variants is closed to this package (callers switch over the exported
// struct types).
type Effect interface {
	effect()
}

// None performs no side effect.
type None struct{}

func (None) effect() {}

// Parallel runs every effect in Effects concurrently. The executor starts
// all of them before waiting on any.
type Parallel struct {
	Effects []Effect
}

func (Parallel) effect() {}

// Sequential runs each effect in Effects in order, waiting for one to
// finish before starting the next.
type Sequential struct {
	Effects []Effect
}

func (Sequential) effect() {}

// Delay dispatches Action after Duration elapses. The auth reducers use it
// only with a zero Duration, to feed a synchronous decision back through
// the dispatch path.
type Delay struct {
	Duration time.Duration
	Action   Action
}

func (Delay) effect() {}

// Future runs an arbitrary asynchronous computation. Run is given a
// context bound to the executor's lifetime; it returns the action to
// dispatch and whether one should be dispatched at all (false suppresses
// the feedback, mirroring a Rust `Option<Action>` of None).
type Future struct {
	Run func(ctx context.Context) (Action, bool)
}

func (Future) effect() {}

// EventStore wraps an EventStoreOperation: an append, load, or snapshot
// request against the event log (C4), executed with access to the
// concrete store and reported back via the operation's own callbacks.
type EventStore struct {
	Operation EventStoreOperation
}

func (EventStore) effect() {}

// PublishEvent wraps a PublishEventOperation: a request to publish a
// domain event onto an outbound channel, reported back via callbacks.
type PublishEvent struct {
	Operation PublishEventOperation
}

func (PublishEvent) effect() {}

// EventStoreOperation is the closed set of event-log requests an EventStore
// effect can carry.
type EventStoreOperation interface {
	eventStoreOperation()
}

// AppendEvents appends Events to StreamID, failing with a concurrency
// conflict if the stream's current version does not match ExpectedVersion
// (when set).
type AppendEvents struct {
	StreamID        string
	ExpectedVersion *uint64
	Events          []domain.Event
	OnSuccess       func(newVersion uint64) (Action, bool)
	OnError         func(err error) (Action, bool)
}

func (AppendEvents) eventStoreOperation() {}

// LoadEvents loads every event in StreamID at or after FromVersion (nil
// loads the full stream).
type LoadEvents struct {
	StreamID   string
	FromVersion *uint64
	OnSuccess  func(events []domain.Event) (Action, bool)
	OnError    func(err error) (Action, bool)
}

func (LoadEvents) eventStoreOperation() {}

// SaveSnapshot persists a point-in-time serialized state for StreamID at
// Version.
type SaveSnapshot struct {
	StreamID  string
	Version   uint64
	State     []byte
	OnSuccess func() (Action, bool)
	OnError   func(err error) (Action, bool)
}

func (SaveSnapshot) eventStoreOperation() {}

// LoadSnapshot loads the latest snapshot for StreamID, if any.
type LoadSnapshot struct {
	StreamID  string
	OnSuccess func(version uint64, state []byte, found bool) (Action, bool)
	OnError   func(err error) (Action, bool)
}

func (LoadSnapshot) eventStoreOperation() {}

// PublishEventOperation is the closed set of requests a PublishEvent effect
// can carry.
type PublishEventOperation interface {
	publishEventOperation()
}

// Publish sends Event to Topic (e.g. "user-events", "security-incidents").
type Publish struct {
	Topic     string
	Event     domain.Event
	OnSuccess func() (Action, bool)
	OnError   func(err error) (Action, bool)
}

func (Publish) publishEventOperation() {}

// Merge combines effects to run concurrently. Equivalent to Rust's
// `Effect::merge`.
func Merge(effects ...Effect) Effect {
	return Parallel{Effects: effects}
}

// Chain combines effects to run one after another. Equivalent to Rust's
// `Effect::chain`.
func Chain(effects ...Effect) Effect {
	return Sequential{Effects: effects}
}

package effect

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aelexs/authcore/internal/domain"
)

// Dispatch feeds an action produced by effect execution back into the
// reducer loop. Implementations are expected to be non-blocking or to
// apply their own backpressure; the executor never inspects the action.
type Dispatch func(Action)

// EventLog is the capability the executor uses to perform EventStore
// effects. It is the imperative-shell counterpart to the append-only log
// described in the EventStoreOperation variants; reducers never hold a
// reference to it directly, only describe what they want done with it.
type EventLog interface {
	AppendEvents(ctx context.Context, streamID string, expectedVersion *uint64, events []domain.Event) (newVersion uint64, err error)
	LoadEvents(ctx context.Context, streamID string, fromVersion *uint64) ([]domain.Event, error)
	SaveSnapshot(ctx context.Context, streamID string, version uint64, state []byte) error
	LoadSnapshot(ctx context.Context, streamID string) (version uint64, state []byte, found bool, err error)
}

// EventPublisher is the capability the executor uses to perform
// PublishEvent effects.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
}

// Executor walks an Effect tree and performs the side effects it
// describes, reporting every callback-produced action to Dispatch.
// EventLog/EventPublisher may be nil if the calling reducer never emits
// those effect variants.
type Executor struct {
	dispatch  Dispatch
	eventLog  EventLog
	publisher EventPublisher
}

// NewExecutor creates an Executor that reports produced actions to
// dispatch and performs EventStore/PublishEvent effects against eventLog
// and publisher.
func NewExecutor(dispatch Dispatch, eventLog EventLog, publisher EventPublisher) *Executor {
	return &Executor{dispatch: dispatch, eventLog: eventLog, publisher: publisher}
}

// Run executes e. Parallel fans its children out concurrently and waits
// for all of them; Sequential runs its children one at a time in order.
// Run returns the first error encountered from a Parallel/Sequential
// child's own effect execution (not from domain callbacks, which report
// through Dispatch instead of an error return, mirroring the original's
// Option<Action>-based feedback rather than a Result-based one).
func (ex *Executor) Run(ctx context.Context, e Effect) error {
	switch v := e.(type) {
	case None:
		return nil

	case Parallel:
		g, gctx := errgroup.WithContext(ctx)
		for _, inner := range v.Effects {
			inner := inner
			g.Go(func() error {
				return ex.Run(gctx, inner)
			})
		}
		return g.Wait()

	case Sequential:
		for _, inner := range v.Effects {
			if err := ex.Run(ctx, inner); err != nil {
				return err
			}
		}
		return nil

	case Delay:
		timer := time.NewTimer(v.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			ex.dispatch(v.Action)
			return nil
		}

	case Future:
		action, ok := v.Run(ctx)
		if ok {
			ex.dispatch(action)
		}
		return nil

	case EventStore:
		ex.runEventStoreOperation(ctx, v.Operation)
		return nil

	case PublishEvent:
		ex.runPublishEventOperation(ctx, v.Operation)
		return nil

	default:
		return nil
	}
}

func (ex *Executor) dispatchResult(a Action, ok bool) {
	if ok {
		ex.dispatch(a)
	}
}

func (ex *Executor) runEventStoreOperation(ctx context.Context, op EventStoreOperation) {
	switch v := op.(type) {
	case AppendEvents:
		newVersion, err := ex.eventLog.AppendEvents(ctx, v.StreamID, v.ExpectedVersion, v.Events)
		if err != nil {
			ex.dispatchResult(v.OnError(err))
			return
		}
		ex.dispatchResult(v.OnSuccess(newVersion))

	case LoadEvents:
		events, err := ex.eventLog.LoadEvents(ctx, v.StreamID, v.FromVersion)
		if err != nil {
			ex.dispatchResult(v.OnError(err))
			return
		}
		ex.dispatchResult(v.OnSuccess(events))

	case SaveSnapshot:
		if err := ex.eventLog.SaveSnapshot(ctx, v.StreamID, v.Version, v.State); err != nil {
			ex.dispatchResult(v.OnError(err))
			return
		}
		ex.dispatchResult(v.OnSuccess())

	case LoadSnapshot:
		version, state, found, err := ex.eventLog.LoadSnapshot(ctx, v.StreamID)
		if err != nil {
			ex.dispatchResult(v.OnError(err))
			return
		}
		ex.dispatchResult(v.OnSuccess(version, state, found))
	}
}

func (ex *Executor) runPublishEventOperation(ctx context.Context, op PublishEventOperation) {
	switch v := op.(type) {
	case Publish:
		if err := ex.publisher.Publish(ctx, v.Topic, v.Event); err != nil {
			ex.dispatchResult(v.OnError(err))
			return
		}
		ex.dispatchResult(v.OnSuccess())
	}
}

package effect

import (
	"context"

	"github.com/aelexs/authcore/internal/domain"
)

// MapAction transforms the action type carried by e, recursing into every
// nested effect and rewriting every callback so its eventual result also
// passes through f. Used to lift a sub-reducer's effect tree into a
// parent action type (e.g. wrapping a passkey-reducer action in the
// top-level auth action union).
func MapAction(e Effect, f func(Action) Action) Effect {
	switch v := e.(type) {
	case None:
		return None{}
	case Parallel:
		mapped := make([]Effect, len(v.Effects))
		for i, inner := range v.Effects {
			mapped[i] = MapAction(inner, f)
		}
		return Parallel{Effects: mapped}
	case Sequential:
		mapped := make([]Effect, len(v.Effects))
		for i, inner := range v.Effects {
			mapped[i] = MapAction(inner, f)
		}
		return Sequential{Effects: mapped}
	case Delay:
		return Delay{Duration: v.Duration, Action: f(v.Action)}
	case Future:
		run := v.Run
		return Future{Run: func(ctx context.Context) (Action, bool) {
			a, ok := run(ctx)
			return mapResult(a, ok, f)
		}}
	case EventStore:
		return EventStore{Operation: mapEventStoreOperation(v.Operation, f)}
	case PublishEvent:
		return PublishEvent{Operation: mapPublishEventOperation(v.Operation, f)}
	default:
		return v
	}
}

// mapResult applies f to a only when ok is true, mirroring Rust's
// `Option<Action>::map`.
func mapResult(a Action, ok bool, f func(Action) Action) (Action, bool) {
	if !ok {
		return nil, false
	}
	return f(a), true
}

func mapEventStoreOperation(op EventStoreOperation, f func(Action) Action) EventStoreOperation {
	switch v := op.(type) {
	case AppendEvents:
		onSuccess, onError := v.OnSuccess, v.OnError
		return AppendEvents{
			StreamID:        v.StreamID,
			ExpectedVersion: v.ExpectedVersion,
			Events:          v.Events,
			OnSuccess: func(newVersion uint64) (Action, bool) {
				a, ok := onSuccess(newVersion)
				return mapResult(a, ok, f)
			},
			OnError: func(err error) (Action, bool) {
				a, ok := onError(err)
				return mapResult(a, ok, f)
			},
		}
	case LoadEvents:
		onSuccess, onError := v.OnSuccess, v.OnError
		return LoadEvents{
			StreamID:    v.StreamID,
			FromVersion: v.FromVersion,
			OnSuccess: func(events []domain.Event) (Action, bool) {
				a, ok := onSuccess(events)
				return mapResult(a, ok, f)
			},
			OnError: func(err error) (Action, bool) {
				a, ok := onError(err)
				return mapResult(a, ok, f)
			},
		}
	case SaveSnapshot:
		onSuccess, onError := v.OnSuccess, v.OnError
		return SaveSnapshot{
			StreamID: v.StreamID,
			Version:  v.Version,
			State:    v.State,
			OnSuccess: func() (Action, bool) {
				a, ok := onSuccess()
				return mapResult(a, ok, f)
			},
			OnError: func(err error) (Action, bool) {
				a, ok := onError(err)
				return mapResult(a, ok, f)
			},
		}
	case LoadSnapshot:
		onSuccess, onError := v.OnSuccess, v.OnError
		return LoadSnapshot{
			StreamID: v.StreamID,
			OnSuccess: func(version uint64, state []byte, found bool) (Action, bool) {
				a, ok := onSuccess(version, state, found)
				return mapResult(a, ok, f)
			},
			OnError: func(err error) (Action, bool) {
				a, ok := onError(err)
				return mapResult(a, ok, f)
			},
		}
	default:
		return op
	}
}

func mapPublishEventOperation(op PublishEventOperation, f func(Action) Action) PublishEventOperation {
	switch v := op.(type) {
	case Publish:
		onSuccess, onError := v.OnSuccess, v.OnError
		return Publish{
			Topic: v.Topic,
			Event: v.Event,
			OnSuccess: func() (Action, bool) {
				a, ok := onSuccess()
				return mapResult(a, ok, f)
			},
			OnError: func(err error) (Action, bool) {
				a, ok := onError(err)
				return mapResult(a, ok, f)
			},
		}
	default:
		return op
	}
}

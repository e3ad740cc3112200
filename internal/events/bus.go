package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(StateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Type switch so the generic Publish sees the concrete type.
	switch e := ev.(type) {
	case StateChangedEvent:
		event.Publish(b.dispatcher, e)
	case PlaybackStartedEvent:
		event.Publish(b.dispatcher, e)
	case PlaybackStoppedEvent:
		event.Publish(b.dispatcher, e)
	case StreamInfoEvent:
		event.Publish(b.dispatcher, e)
	case ErrorEvent:
		event.Publish(b.dispatcher, e)
	case DropModeEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function. The handler's
// parameter type determines which events it receives. Returns an
// unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e StateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PlaybackStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PlaybackStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamInfoEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DropModeEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// No-op unsubscribe for unrecognized handler types.
		return func() {}
	}
}

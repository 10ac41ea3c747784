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
// Usage: bus.Publish(ConnectedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case ConnectedEvent:
		event.Publish(b.dispatcher, e)
	case DisconnectedEvent:
		event.Publish(b.dispatcher, e)
	case ConnectionErrorEvent:
		event.Publish(b.dispatcher, e)
	case ConnectionLostEvent:
		event.Publish(b.dispatcher, e)
	case NewFrameEvent:
		event.Publish(b.dispatcher, e)
	case StatisticsUpdateEvent:
		event.Publish(b.dispatcher, e)
	case SettingsChangedEvent:
		event.Publish(b.dispatcher, e)
	case DecodeErrorEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case RingMetricsEvent:
		event.Publish(b.dispatcher, e)
	case ProducerStateEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e ConnectionLostEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DisconnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConnectionErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConnectionLostEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(NewFrameEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StatisticsUpdateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SettingsChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DecodeErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RingMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProducerStateEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unknown handler types get a no-op unsubscribe
		return func() {}
	}
}

// SubscribeToChannel bridges callback subscriptions to a channel for the
// SSE select loop. Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

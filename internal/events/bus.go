// Package events carries rig notifications between components over a
// kelindar/event dispatcher.
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

// Publish publishes an event to all subscribers. Unknown event types are
// dropped.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case PipelineStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case CommandIssuedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingStartedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingStoppedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingFailedEvent:
		event.Publish(b.dispatcher, e)
	case SnapshotSavedEvent:
		event.Publish(b.dispatcher, e)
	case CueRequestedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type named by its parameter and
// returns an unsubscribe function. Unknown handler types get a no-op.
//
//	unsub := bus.Subscribe(func(e events.CueRequestedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(PipelineStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommandIssuedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SnapshotSavedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CueRequestedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Forward delivers events of type T into ch without blocking the publisher,
// for handlers that consume from a select loop. While ch is full events are
// dropped and onDrop, if set, is called. Returns the unsubscribe function.
func Forward[T Event](bus *Bus, ch chan<- any, onDrop func()) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			if onDrop != nil {
				onDrop()
			}
		}
	})
}

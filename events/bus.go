// Package events carries in-process notifications between the capture
// pipeline and its observers.
package events

import (
	"time"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers. A nil bus drops it.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case CameraToggled:
		event.Publish(b.dispatcher, e)
	case RecordingStarted:
		event.Publish(b.dispatcher, e)
	case RecordingStopped:
		event.Publish(b.dispatcher, e)
	case StreamRestarted:
		event.Publish(b.dispatcher, e)
	case RecordingsChanged:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a typed handler and returns the unsubscribe function.
// Usage: unsub := events.Subscribe(bus, func(e RecordingStarted) { ... })
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// SubscribeAll forwards every known event type to handler.
func SubscribeAll(b *Bus, handler func(Event)) func() {
	unsubs := []func(){
		Subscribe(b, func(e CameraToggled) { handler(e) }),
		Subscribe(b, func(e RecordingStarted) { handler(e) }),
		Subscribe(b, func(e RecordingStopped) { handler(e) }),
		Subscribe(b, func(e StreamRestarted) { handler(e) }),
		Subscribe(b, func(e RecordingsChanged) { handler(e) }),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Now formats the current time for event payloads
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

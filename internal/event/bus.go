package event

import (
	"log/slog"
	"sync"
)

// Sink receives published events. Implementations must not block for long:
// events are published synchronously after the state change they describe.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Bus fans events out to every subscribed sink.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates a bus with the given sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers ev to all sinks. A nil bus drops events.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ev)
	}
}

// LogSink writes every event to a structured logger.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(ev Event) {
		logger.Info("EVENT", slog.String("type", ev.GetType().String()), slog.String("key", ev.Key()), slog.Any("event", ev))
	})
}

// Recorder keeps every event in memory, in publish order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.GetType() == t {
			out = append(out, ev)
		}
	}
	return out
}

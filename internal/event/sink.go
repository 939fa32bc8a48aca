package event

import (
	"errors"
	"sync"
)

// Sink receives events from the samplers. Implementations must be safe for
// concurrent use and must not block the caller for long; delivery is
// fire-and-forget.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) error {
	return f(e)
}

// ErrSinkClosed is returned by sinks that no longer accept events.
var ErrSinkClosed = errors.New("event sink closed")

// ErrSinkFull is returned by buffered sinks that would have to block.
var ErrSinkFull = errors.New("event sink full")

// Recorder is an in-memory Sink that keeps every accepted event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	fail   func(Event) error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes Emit consult fn first; a non-nil result rejects the event.
func (r *Recorder) FailWith(fn func(Event) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
}

// Emit records e.
func (r *Recorder) Emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(e); err != nil {
			return err
		}
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

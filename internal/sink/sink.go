// Package sink provides the event.Sink implementations that carry sampler
// output out of the process: structured logs, JSON lines, D-Bus signals and
// in-process channels.
package sink

import (
	"errors"
	"io"

	"telemetryd/internal/event"
)

// Fanout delivers every event to all of its sinks. A failing sink does not
// keep the others from receiving the event; the errors are joined.
type Fanout []event.Sink

// Emit forwards e to every sink in order.
func (f Fanout) Emit(e event.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

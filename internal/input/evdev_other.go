//go:build !linux

package input

import (
	"log/slog"

	"telemetryd/internal/event"
)

// EvdevOptions configure the evdev device.
type EvdevOptions struct {
	Width  int32
	Height int32
	Logger *slog.Logger
}

// Evdev is only available on Linux.
type Evdev struct{}

// OpenEvdev always fails outside Linux.
func OpenEvdev(EvdevOptions) (*Evdev, error) {
	return nil, ErrNotAvailable
}

func (*Evdev) Keys() (event.KeySet, error)      { return nil, ErrNotAvailable }
func (*Evdev) Mouse() (event.MouseState, error) { return event.MouseState{}, ErrNotAvailable }
func (*Evdev) Close() error                     { return nil }

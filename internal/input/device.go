// Package input turns polled keyboard and mouse state into an
// edge-triggered event stream.
//
// The Sampler reads an InputSnapshot from a Device every tick, compares it
// with the state it saw before, and emits key_down, key_up, mouse_move and
// (optionally) mouse_idle events. Devices only report current state; they
// never see or produce events themselves.
//
// Platform support:
//   - Linux: Evdev reads /dev/input/event* (requires the input group or root)
//   - Everywhere: Simulated replays scripted snapshots
package input

import (
	"errors"
	"fmt"
	"strings"

	"telemetryd/internal/event"
)

// Device reports the current keyboard and mouse state. It is opened once and
// queried every tick, so both queries must be cheap and free of side effects
// on the sampler.
type Device interface {
	// Keys returns the set of keys held right now.
	Keys() (event.KeySet, error)

	// Mouse returns the current cursor position.
	Mouse() (event.MouseState, error)

	// Close releases the device.
	Close() error
}

// ErrNotAvailable is returned when no input device can be opened.
var ErrNotAvailable = errors.New("input device not available on this platform")

// ErrClosed is returned by a device queried after Close.
var ErrClosed = errors.New("input device closed")

// Snapshot reads keys then mouse from d.
func Snapshot(d Device) (event.InputSnapshot, error) {
	keys, err := d.Keys()
	if err != nil {
		return event.InputSnapshot{}, fmt.Errorf("read keys: %w", err)
	}
	mouse, err := d.Mouse()
	if err != nil {
		return event.InputSnapshot{}, fmt.Errorf("read mouse: %w", err)
	}
	return event.InputSnapshot{Keys: keys, Mouse: mouse}, nil
}

// IdleMode selects when MouseIdle events are emitted for a tick in which the
// cursor did not move.
type IdleMode int

const (
	// IdleNever emits nothing when the cursor is still.
	IdleNever IdleMode = iota
	// IdleAlways emits MouseIdle on every still tick.
	IdleAlways
	// IdleWhileKeysHeld emits MouseIdle on still ticks with at least one
	// key held.
	IdleWhileKeysHeld
)

// String returns the configuration name of the mode.
func (m IdleMode) String() string {
	switch m {
	case IdleNever:
		return "never"
	case IdleAlways:
		return "always"
	case IdleWhileKeysHeld:
		return "keys_held"
	default:
		return fmt.Sprintf("IdleMode(%d)", int(m))
	}
}

// ParseIdleMode parses a configuration name.
func ParseIdleMode(s string) (IdleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never", "off":
		return IdleNever, nil
	case "always":
		return IdleAlways, nil
	case "keys_held", "keys-held":
		return IdleWhileKeysHeld, nil
	default:
		return IdleNever, fmt.Errorf("unknown idle mode %q", s)
	}
}

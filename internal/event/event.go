// Package event defines the telemetry data model shared by the samplers and
// the sinks: key sets, mouse coordinates, brightness samples and the typed
// events pushed into a Sink.
package event

import (
	"fmt"
	"sort"
)

// Kind identifies an event variant. The string values are the channel names
// consumed by the presentation layer.
type Kind string

const (
	KindKeyDown          Kind = "key_down"
	KindKeyUp            Kind = "key_up"
	KindMouseMove        Kind = "mouse_move"
	KindMouseIdle        Kind = "mouse_idle"
	KindScreenBrightness Kind = "screen_brightness"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{KindKeyDown, KindKeyUp, KindMouseMove, KindMouseIdle, KindScreenBrightness}

// Event is one immutable state-change notification. The set of
// implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// KeyDown reports that a key started being held.
type KeyDown struct {
	Code KeyCode
}

// KeyUp reports that a previously held key was released.
type KeyUp struct {
	Code KeyCode
}

// MouseMove reports a new cursor position.
type MouseMove struct {
	Coords MouseState
}

// MouseIdle reports that the cursor stayed at Coords for a tick.
type MouseIdle struct {
	Coords MouseState
}

// ScreenBrightness carries the luma statistics of one captured display.
type ScreenBrightness struct {
	Display string
	Sample  BrightnessSample
}

func (KeyDown) Kind() Kind          { return KindKeyDown }
func (KeyUp) Kind() Kind            { return KindKeyUp }
func (MouseMove) Kind() Kind        { return KindMouseMove }
func (MouseIdle) Kind() Kind        { return KindMouseIdle }
func (ScreenBrightness) Kind() Kind { return KindScreenBrightness }

func (KeyDown) isEvent()          {}
func (KeyUp) isEvent()            {}
func (MouseMove) isEvent()        {}
func (MouseIdle) isEvent()        {}
func (ScreenBrightness) isEvent() {}

func (e KeyDown) String() string   { return fmt.Sprintf("key_down(%s)", e.Code) }
func (e KeyUp) String() string     { return fmt.Sprintf("key_up(%s)", e.Code) }
func (e MouseMove) String() string { return fmt.Sprintf("mouse_move(%d,%d)", e.Coords.X, e.Coords.Y) }
func (e MouseIdle) String() string { return fmt.Sprintf("mouse_idle(%d,%d)", e.Coords.X, e.Coords.Y) }
func (e ScreenBrightness) String() string {
	return fmt.Sprintf("screen_brightness(%s mean=%.3f median=%.3f stddev=%.3f)",
		e.Display, e.Sample.Mean, e.Sample.Median, e.Sample.StdDev)
}

// MouseState is a cursor position in screen coordinates.
type MouseState struct {
	X int32
	Y int32
}

// BrightnessSample holds the luma statistics of one frame.
type BrightnessSample struct {
	Mean   float64
	Median float64
	StdDev float64
}

// InputSnapshot is the keyboard and mouse state read in a single tick.
type InputSnapshot struct {
	Keys  KeySet
	Mouse MouseState
}

// KeySet is a set of currently held keys. The zero value is an empty set
// that must not be written to; use NewKeySet.
type KeySet map[KeyCode]struct{}

// NewKeySet returns a set containing codes.
func NewKeySet(codes ...KeyCode) KeySet {
	s := make(KeySet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether code is in the set.
func (s KeySet) Has(code KeyCode) bool {
	_, ok := s[code]
	return ok
}

// Add inserts code.
func (s KeySet) Add(code KeyCode) {
	s[code] = struct{}{}
}

// Remove deletes code.
func (s KeySet) Remove(code KeyCode) {
	delete(s, code)
}

// Len returns the number of held keys.
func (s KeySet) Len() int {
	return len(s)
}

// Clone returns an independent copy.
func (s KeySet) Clone() KeySet {
	c := make(KeySet, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

// Equal compares by membership.
func (s KeySet) Equal(o KeySet) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if !o.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the codes in ascending order.
func (s KeySet) Sorted() []KeyCode {
	codes := make([]KeyCode, 0, len(s))
	for k := range s {
		codes = append(codes, k)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

package input

import (
	"math"
	"sync"

	"telemetryd/internal/event"
)

// Simulated is a Device that replays scripted snapshots. Each Keys call
// advances to the next frame and Mouse reports that frame's cursor. After
// the last frame the device either loops or keeps reporting the last frame.
type Simulated struct {
	mu      sync.Mutex
	frames  []event.InputSnapshot
	pos     int
	loop    bool
	failKey []error
	failPos []error
	closed  bool
}

// NewSimulated creates a device replaying frames once.
func NewSimulated(frames ...event.InputSnapshot) *Simulated {
	return &Simulated{frames: frames, pos: -1}
}

// NewLoopingSimulated creates a device replaying frames forever.
func NewLoopingSimulated(frames ...event.InputSnapshot) *Simulated {
	s := NewSimulated(frames...)
	s.loop = true
	return s
}

// Push appends frames to the script.
func (s *Simulated) Push(frames ...event.InputSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frames...)
}

// FailKeys makes the next Keys call return err without advancing.
func (s *Simulated) FailKeys(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKey = append(s.failKey, err)
}

// FailMouse makes the next Mouse call return err.
func (s *Simulated) FailMouse(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPos = append(s.failPos, err)
}

// Keys advances one frame and returns its key set.
func (s *Simulated) Keys() (event.KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.failKey) > 0 {
		err := s.failKey[0]
		s.failKey = s.failKey[1:]
		return nil, err
	}
	if len(s.frames) == 0 {
		return event.NewKeySet(), nil
	}
	s.pos++
	if s.pos >= len(s.frames) {
		if s.loop {
			s.pos = 0
		} else {
			s.pos = len(s.frames) - 1
		}
	}
	return s.frames[s.pos].Keys.Clone(), nil
}

// Mouse returns the cursor of the current frame.
func (s *Simulated) Mouse() (event.MouseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return event.MouseState{}, ErrClosed
	}
	if len(s.failPos) > 0 {
		err := s.failPos[0]
		s.failPos = s.failPos[1:]
		return event.MouseState{}, err
	}
	if len(s.frames) == 0 || s.pos < 0 {
		return event.MouseState{}, nil
	}
	return s.frames[s.pos].Mouse, nil
}

// Close marks the device closed.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// DemoScript returns a looping script of n frames: the cursor traces a
// circle of the given radius around (cx, cy), pausing every few frames, while
// a short word is typed with a held shift.
func DemoScript(n int, cx, cy, radius int32) []event.InputSnapshot {
	if n <= 0 {
		n = 240
	}
	word := []event.KeyCode{event.KeyH, event.KeyE, event.KeyL, event.KeyL, event.KeyO}
	frames := make([]event.InputSnapshot, 0, n)
	var last event.MouseState
	for i := 0; i < n; i++ {
		mouse := last
		if (i/10)%3 != 2 {
			angle := 2 * math.Pi * float64(i) / float64(n)
			mouse = event.MouseState{
				X: cx + int32(float64(radius)*math.Cos(angle)),
				Y: cy + int32(float64(radius)*math.Sin(angle)),
			}
		}
		last = mouse

		keys := event.NewKeySet()
		phase := i % 40
		if phase < len(word)*4 {
			if phase < 4 {
				keys.Add(event.KeyLShift)
			}
			if phase%4 < 2 {
				keys.Add(word[phase/4])
			}
		}
		frames = append(frames, event.InputSnapshot{Keys: keys, Mouse: mouse})
	}
	return frames
}

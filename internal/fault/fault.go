// Package fault classifies sampler failures and implements the retry policy
// applied by the sampler loops.
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a sampler failure.
type Kind int

const (
	// DeviceQuery is a failure to read keyboard or mouse state.
	DeviceQuery Kind = iota + 1
	// Capture is a failure to enumerate displays or capture a frame.
	Capture
	// Emit is a failure of the sink to accept an event.
	Emit
)

// String returns the metric/log label of the kind.
func (k Kind) String() string {
	switch k {
	case DeviceQuery:
		return "device_query"
	case Capture:
		return "capture"
	case Emit:
		return "emit"
	default:
		return "unknown"
	}
}

// Error is a classified sampler failure.
type Error struct {
	Kind Kind
	Task string
	Err  error
}

// New wraps err as a fault of the given kind raised by task.
func New(kind Kind, task string, err error) *Error {
	return &Error{Kind: kind, Task: task, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s fault: %v", e.Task, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first fault in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// ErrTooManyFaults is returned by a sampler loop that gave up.
var ErrTooManyFaults = errors.New("too many consecutive faults")

// Policy decides how a sampler loop reacts to consecutive faults.
type Policy struct {
	// MaxConsecutive ends the loop after that many faults in a row.
	// Zero retries forever.
	MaxConsecutive int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxConsecutive: 10,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Backoff returns the delay before retrying after the n-th consecutive
// fault (n starts at 1).
func (p Policy) Backoff(n int) time.Duration {
	if n <= 0 || p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Exhausted reports whether n consecutive faults end the loop.
func (p Policy) Exhausted(n int) bool {
	return p.MaxConsecutive > 0 && n >= p.MaxConsecutive
}

// Tracker counts consecutive faults for one loop.
type Tracker struct {
	policy      Policy
	consecutive int
	last        error
}

// NewTracker creates a tracker for p.
func NewTracker(p Policy) *Tracker {
	return &Tracker{policy: p}
}

// Success resets the consecutive count.
func (t *Tracker) Success() {
	t.consecutive = 0
	t.last = nil
}

// Failure records err and returns the backoff to wait, or a terminal error
// once the policy is exhausted.
func (t *Tracker) Failure(err error) (time.Duration, error) {
	t.consecutive++
	t.last = err
	if t.policy.Exhausted(t.consecutive) {
		return 0, fmt.Errorf("%w (%d): %w", ErrTooManyFaults, t.consecutive, err)
	}
	return t.policy.Backoff(t.consecutive), nil
}

// Consecutive returns the current run of faults.
func (t *Tracker) Consecutive() int {
	return t.consecutive
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

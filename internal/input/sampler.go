package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"telemetryd/internal/event"
	"telemetryd/internal/fault"
	"telemetryd/internal/metrics"
)

// TaskName labels the input sampler in logs, metrics and faults.
const TaskName = "input"

// DefaultMinInterval bounds the polling rate.
const DefaultMinInterval = 8 * time.Millisecond

// Options configure an input Sampler.
type Options struct {
	Device Device
	Sink   event.Sink

	// Idle selects the MouseIdle behaviour.
	Idle IdleMode

	// MinInterval is the minimum time between ticks. Zero polls as fast as
	// the scheduler allows.
	MinInterval time.Duration

	Policy  fault.Policy
	Logger  *slog.Logger
	Metrics *metrics.TelemetryMetrics

	// OnTick is called after every clean tick. Used for health reporting.
	OnTick func(time.Time)
}

// Sampler diffs consecutive input snapshots into events.
type Sampler struct {
	device      Device
	sink        event.Sink
	idle        IdleMode
	minInterval time.Duration
	policy      fault.Policy
	logger      *slog.Logger
	metrics     *metrics.TelemetryMetrics
	onTick      func(time.Time)

	mu        sync.Mutex
	prevMouse event.MouseState
	pressed   event.KeySet
}

// NewSampler validates options and returns a sampler with empty state.
func NewSampler(opts Options) (*Sampler, error) {
	if opts.Device == nil {
		return nil, errors.New("input sampler: device must not be nil")
	}
	if opts.Sink == nil {
		return nil, errors.New("input sampler: sink must not be nil")
	}
	if opts.MinInterval < 0 {
		return nil, errors.New("input sampler: min interval must not be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		device:      opts.Device,
		sink:        opts.Sink,
		idle:        opts.Idle,
		minInterval: opts.MinInterval,
		policy:      opts.Policy,
		logger:      logger.With(slog.String("task", TaskName)),
		metrics:     opts.Metrics,
		onTick:      opts.OnTick,
		pressed:     event.NewKeySet(),
	}, nil
}

// Pressed returns a copy of the keys the sampler currently believes held.
func (s *Sampler) Pressed() event.KeySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed.Clone()
}

// Mouse returns the last cursor position the sampler reported.
func (s *Sampler) Mouse() event.MouseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevMouse
}

// Snapshot returns the sampler's current belief about held keys and the
// cursor.
func (s *Sampler) Snapshot() event.InputSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return event.InputSnapshot{Keys: s.pressed.Clone(), Mouse: s.prevMouse}
}

// Step runs one tick: read the device, then emit the mouse event, the
// rising key edges and the falling key edges, in that order.
//
// State follows the device snapshot before each event is handed to the
// sink, so every edge is emitted exactly once. Sink failures do not stop
// the tick; they are joined into one Emit fault and never retried.
func (s *Sampler) Step() error {
	snap, err := Snapshot(s.device)
	if err != nil {
		return fault.New(fault.DeviceQuery, TaskName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if snap.Mouse != s.prevMouse {
		s.prevMouse = snap.Mouse
		errs = s.emit(errs, event.MouseMove{Coords: snap.Mouse})
	} else if s.idleDue(snap) {
		errs = s.emit(errs, event.MouseIdle{Coords: snap.Mouse})
	}

	for _, code := range snap.Keys.Sorted() {
		if s.pressed.Has(code) {
			continue
		}
		s.pressed.Add(code)
		errs = s.emit(errs, event.KeyDown{Code: code})
	}

	for _, code := range s.pressed.Sorted() {
		if snap.Keys.Has(code) {
			continue
		}
		s.pressed.Remove(code)
		errs = s.emit(errs, event.KeyUp{Code: code})
	}

	s.metrics.SetPressed(s.pressed.Len())
	if len(errs) > 0 {
		return fault.New(fault.Emit, TaskName, errors.Join(errs...))
	}
	return nil
}

func (s *Sampler) idleDue(snap event.InputSnapshot) bool {
	switch s.idle {
	case IdleAlways:
		return true
	case IdleWhileKeysHeld:
		return snap.Keys.Len() > 0
	default:
		return false
	}
}

func (s *Sampler) emit(errs []error, e event.Event) []error {
	if err := s.sink.Emit(e); err != nil {
		return append(errs, fmt.Errorf("%s: %w", e.Kind(), err))
	}
	s.metrics.EventEmitted(e.Kind())
	return errs
}

// Run ticks until ctx is done or the fault policy gives up. It returns nil
// on cancellation.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("input sampler started",
		"min_interval", s.minInterval,
		"idle_mode", s.idle.String())
	defer s.logger.Info("input sampler stopped")

	tracker := fault.NewTracker(s.policy)

	var ticker *time.Ticker
	if s.minInterval > 0 {
		ticker = time.NewTicker(s.minInterval)
		defer ticker.Stop()
	}

	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else {
			if ctx.Err() != nil {
				return nil
			}
			runtime.Gosched()
		}

		err := s.Step()
		if err == nil {
			tracker.Success()
			s.metrics.Tick(TaskName)
			if s.onTick != nil {
				s.onTick(time.Now())
			}
			continue
		}

		kind := fault.KindOf(err)
		s.metrics.Fault(TaskName, kind)
		wait, terminal := tracker.Failure(err)
		if terminal != nil {
			s.logger.Error("input sampler giving up", "error", terminal)
			return terminal
		}
		s.logger.Warn("input tick failed",
			"error", err,
			"fault", kind.String(),
			"consecutive", tracker.Consecutive(),
			"backoff", wait)
		if err := fault.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

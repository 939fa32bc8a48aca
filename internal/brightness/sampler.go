package brightness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telemetryd/internal/event"
	"telemetryd/internal/fault"
	"telemetryd/internal/metrics"
)

// TaskName labels the brightness sampler in logs, metrics and faults.
const TaskName = "brightness"

// DefaultInterval is the capture cadence.
const DefaultInterval = 100 * time.Millisecond

// Options configure a brightness Sampler.
type Options struct {
	Capturer Capturer
	Sink     event.Sink
	Interval time.Duration

	Clock   func() time.Time
	Sleeper func(context.Context, time.Duration) error

	Policy  fault.Policy
	Logger  *slog.Logger
	Metrics *metrics.TelemetryMetrics

	// OnTick is called after every capture attempt without faults.
	OnTick func(time.Time)
}

// Sampler captures every display once per interval and emits one
// ScreenBrightness event per display.
type Sampler struct {
	capturer Capturer
	sink     event.Sink
	clock    func() time.Time
	sleeper  func(context.Context, time.Duration) error
	policy   fault.Policy
	logger   *slog.Logger
	metrics  *metrics.TelemetryMetrics
	onTick   func(time.Time)

	mu          sync.Mutex
	interval    time.Duration
	lastCapture time.Time
}

// NewSampler validates options and constructs a sampler.
func NewSampler(opts Options) (*Sampler, error) {
	if opts.Capturer == nil {
		return nil, errors.New("brightness sampler: capturer must not be nil")
	}
	if opts.Sink == nil {
		return nil, errors.New("brightness sampler: sink must not be nil")
	}
	if opts.Interval < 0 {
		return nil, errors.New("brightness sampler: interval must not be negative")
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = fault.Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		capturer: opts.Capturer,
		sink:     opts.Sink,
		interval: interval,
		clock:    clock,
		sleeper:  sleeper,
		policy:   opts.Policy,
		logger:   logger.With(slog.String("task", TaskName)),
		metrics:  opts.Metrics,
		onTick:   opts.OnTick,
	}, nil
}

// Interval returns the current capture cadence.
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the cadence; it takes effect at the next due check.
func (s *Sampler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// LastCapture returns the time of the last completed capture attempt.
func (s *Sampler) LastCapture() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCapture
}

// due returns whether a capture is due at now, and otherwise how long to
// wait.
func (s *Sampler) due(now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCapture.IsZero() {
		return true, 0
	}
	elapsed := now.Sub(s.lastCapture)
	if elapsed >= s.interval {
		return true, 0
	}
	return false, s.interval - elapsed
}

// Step captures all displays if a capture is due at now. It reports
// whether an attempt was made.
//
// A failure to enumerate displays leaves the last capture time untouched so
// the next check retries. Per-display failures, including sink rejections,
// do not stop the remaining displays; they are joined into one fault after
// the attempt, and the attempt still counts for the cadence. The fault is
// an Emit fault when any display failed to emit, a Capture fault otherwise.
func (s *Sampler) Step(ctx context.Context, now time.Time) (bool, error) {
	if ok, _ := s.due(now); !ok {
		return false, nil
	}

	displays, err := s.capturer.Displays(ctx)
	if err != nil {
		return true, fault.New(fault.Capture, TaskName, fmt.Errorf("list displays: %w", err))
	}

	var errs []error
	kind := fault.Capture
	for _, d := range displays {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if err := s.sampleDisplay(ctx, d); err != nil {
			if fault.KindOf(err) == fault.Emit {
				kind = fault.Emit
			}
			errs = append(errs, err)
		}
	}

	s.markCaptured(now)
	if len(errs) > 0 {
		return true, fault.New(kind, TaskName, errors.Join(errs...))
	}
	return true, nil
}

func (s *Sampler) markCaptured(now time.Time) {
	s.mu.Lock()
	s.lastCapture = now
	s.mu.Unlock()
}

func (s *Sampler) sampleDisplay(ctx context.Context, d Display) error {
	start := time.Now()
	img, err := s.capturer.Capture(ctx, d)
	if err != nil {
		return fmt.Errorf("capture display %s: %w", d.ID, err)
	}
	s.metrics.ObserveCapture(time.Since(start))

	start = time.Now()
	sample, err := Analyze(img)
	if err != nil {
		return fmt.Errorf("analyze display %s: %w", d.ID, err)
	}
	s.metrics.ObserveAnalyze(time.Since(start))

	e := event.ScreenBrightness{Display: d.ID, Sample: sample}
	if err := s.sink.Emit(e); err != nil {
		return fault.New(fault.Emit, TaskName, fmt.Errorf("emit display %s: %w", d.ID, err))
	}
	s.metrics.EventEmitted(e.Kind())
	return nil
}

// Run checks the cadence until ctx is done or the fault policy gives up,
// sleeping until the next capture is due. It returns nil on cancellation.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("brightness sampler started", "interval", s.Interval())
	defer s.logger.Info("brightness sampler stopped")

	tracker := fault.NewTracker(s.policy)
	for {
		if ctx.Err() != nil {
			return nil
		}

		now := s.clock()
		if ok, wait := s.due(now); !ok {
			if err := s.sleeper(ctx, wait); err != nil {
				return nil
			}
			continue
		}

		_, err := s.Step(ctx, now)
		if err == nil {
			tracker.Success()
			s.metrics.Tick(TaskName)
			if s.onTick != nil {
				s.onTick(now)
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		kind := fault.KindOf(err)
		s.metrics.Fault(TaskName, kind)
		wait, terminal := tracker.Failure(err)
		if terminal != nil {
			s.logger.Error("brightness sampler giving up", "error", terminal)
			return terminal
		}
		s.logger.Warn("brightness capture failed",
			"error", err,
			"fault", kind.String(),
			"consecutive", tracker.Consecutive(),
			"backoff", wait)
		if err := s.sleeper(ctx, wait); err != nil {
			return nil
		}
	}
}

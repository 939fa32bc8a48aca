// Package supervisor runs the sampler tasks side by side. Each task gets
// its own goroutine, panic isolation through the crash handler, a bounded
// number of restarts, and a health entry fed from its ticks.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"telemetryd/internal/fault"
	"telemetryd/internal/health"
	"telemetryd/internal/logging"
	"telemetryd/internal/metrics"
)

// DefaultMaxTickAge is the health threshold for tasks that do not set one.
const DefaultMaxTickAge = 5 * time.Second

// Task is one long-running sampler.
type Task struct {
	Name string
	Run  func(ctx context.Context) error

	// State receives ticks from the task. The sampler's OnTick hook should
	// point at State.Tick. Nil allocates a fresh state.
	State *health.TaskState

	// MaxTickAge marks the task degraded when its last tick is older.
	MaxTickAge time.Duration
}

// Options configure a Supervisor.
type Options struct {
	// Restarts is how many times a failed task is started again. A task
	// that returns nil or is cancelled is never restarted.
	Restarts     int
	RestartDelay time.Duration

	Logger  *slog.Logger
	Crash   *logging.CrashHandler
	Metrics *metrics.TelemetryMetrics
	Health  *health.Checker

	Sleeper func(context.Context, time.Duration) error
}

// Supervisor owns the task goroutines of one daemon run.
type Supervisor struct {
	runID   string
	opts    Options
	logger  *slog.Logger
	sleeper func(context.Context, time.Duration) error

	mu      sync.Mutex
	tasks   []Task
	running bool
}

// ErrAlreadyRunning is returned by Add and Run once Run has started.
var ErrAlreadyRunning = errors.New("supervisor already running")

// New creates a supervisor with a fresh run ID.
func New(opts Options) *Supervisor {
	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Crash == nil {
		opts.Crash = logging.NewCrashHandler(&logging.CrashHandlerConfig{
			Component: "supervisor",
			Logger:    logger,
		})
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = fault.Sleep
	}
	return &Supervisor{
		runID:   runID,
		opts:    opts,
		logger:  logger.With(slog.String("run_id", runID)),
		sleeper: sleeper,
	}
}

// RunID identifies this run in logs and crash reports.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Add registers a task. It returns the task's state so callers can read
// tick counts after Run.
func (s *Supervisor) Add(t Task) (*health.TaskState, error) {
	if t.Name == "" || t.Run == nil {
		return nil, errors.New("supervisor: task needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrAlreadyRunning
	}
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return nil, fmt.Errorf("supervisor: duplicate task %q", t.Name)
		}
	}
	if t.State == nil {
		t.State = &health.TaskState{}
	}
	if t.MaxTickAge <= 0 {
		t.MaxTickAge = DefaultMaxTickAge
	}
	s.tasks = append(s.tasks, t)
	if s.opts.Health != nil {
		s.opts.Health.Register(&health.Component{
			Name:     t.Name,
			Critical: true,
			Check:    health.TaskCheck(t.State, t.MaxTickAge, nil),
		})
	}
	return t.State, nil
}

// Run starts every task and blocks until all of them have finished. Tasks
// stop on ctx cancellation, on a clean return, or after their restarts are
// used up. The returned error joins the terminal failures of all tasks.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	if len(tasks) == 0 {
		return errors.New("supervisor: no tasks")
	}

	ctx = logging.ContextWithRunID(ctx, s.runID)
	s.logger.Info("supervisor started", "tasks", len(tasks))

	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			errs[i] = s.runTask(ctx, t)
		}(i, t)
	}
	if s.opts.Health != nil {
		s.opts.Health.SetReady(true)
	}

	wg.Wait()
	if s.opts.Health != nil {
		s.opts.Health.SetReady(false)
	}
	err := errors.Join(errs...)
	s.logger.Info("supervisor stopped", "error", err)
	return err
}

func (s *Supervisor) runTask(ctx context.Context, t Task) error {
	logger := s.logger.With(slog.String("task", t.Name))

	for attempt := 0; ; attempt++ {
		err := s.opts.Crash.Guard(map[string]any{
			"task":    t.Name,
			"run_id":  s.runID,
			"attempt": attempt,
		}, func() error {
			return t.Run(ctx)
		})

		if ctx.Err() != nil {
			t.State.Stopped(nil)
			return nil
		}
		if err == nil {
			logger.Info("task finished")
			t.State.Stopped(nil)
			return nil
		}

		if attempt >= s.opts.Restarts {
			logger.Error("task failed permanently", "error", err, "attempts", attempt+1)
			t.State.Stopped(err)
			return fmt.Errorf("%s: %w", t.Name, err)
		}

		logger.Warn("task failed, restarting",
			"error", err,
			"attempt", attempt+1,
			"delay", s.opts.RestartDelay)
		t.State.Failed(err)
		t.State.Restarted()
		s.opts.Metrics.TaskRestarted(t.Name)

		if err := s.sleeper(ctx, s.opts.RestartDelay); err != nil {
			t.State.Stopped(nil)
			return nil
		}
	}
}

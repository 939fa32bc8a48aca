package health

import (
	"context"
	"sync"
	"time"
)

// TaskState tracks the progress of one sampler task. The supervisor feeds
// it from the sampler's OnTick hook and from task exits.
type TaskState struct {
	mu       sync.Mutex
	lastTick time.Time
	ticks    uint64
	restarts int
	lastErr  error
	stopped  bool
}

// Tick records a clean tick.
func (t *TaskState) Tick(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTick = at
	t.ticks++
	t.stopped = false
}

// Failed records that the task exited with err.
func (t *TaskState) Failed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
}

// Restarted records a supervisor restart.
func (t *TaskState) Restarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restarts++
}

// Stopped marks the task as permanently finished.
func (t *TaskState) Stopped(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if err != nil {
		t.lastErr = err
	}
}

// TaskSnapshot is a point-in-time copy of a TaskState.
type TaskSnapshot struct {
	LastTick time.Time
	Ticks    uint64
	Restarts int
	LastErr  error
	Stopped  bool
}

// Snapshot returns a copy of the state.
func (t *TaskState) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskSnapshot{
		LastTick: t.lastTick,
		Ticks:    t.ticks,
		Restarts: t.restarts,
		LastErr:  t.lastErr,
		Stopped:  t.stopped,
	}
}

// TaskCheck reports a task as healthy while its last clean tick is younger
// than maxAge, degraded when it is older or the task was restarted, and
// unhealthy once the task has stopped for good. A task that never ticked
// is unknown.
func TaskCheck(state *TaskState, maxAge time.Duration, now func() time.Time) Check {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) CheckResult {
		snap := state.Snapshot()
		details := map[string]any{
			"ticks":    snap.Ticks,
			"restarts": snap.Restarts,
		}
		result := CheckResult{Details: details}
		if snap.LastErr != nil {
			result.Error = snap.LastErr.Error()
		}

		if snap.Stopped {
			result.Status = StatusUnhealthy
			result.Message = "task stopped"
			return result
		}
		if snap.LastTick.IsZero() {
			result.Status = StatusUnknown
			result.Message = "no tick yet"
			return result
		}

		age := now().Sub(snap.LastTick)
		details["last_tick_age"] = age.String()
		switch {
		case age > maxAge:
			result.Status = StatusDegraded
			result.Message = "last tick too old"
		case snap.Restarts > 0:
			result.Status = StatusDegraded
			result.Message = "task restarted"
		default:
			result.Status = StatusHealthy
			result.Message = "ticking"
		}
		return result
	}
}

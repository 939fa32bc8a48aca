package metrics

import (
	"time"

	"telemetryd/internal/event"
	"telemetryd/internal/fault"
)

// TelemetryMetrics holds the sampler and sink metrics. A nil
// *TelemetryMetrics is valid and records nothing.
type TelemetryMetrics struct {
	registry *Registry
	started  time.Time

	events  map[event.Kind]*Counter
	uptime  *Gauge
	pressed *Gauge

	CaptureDuration  *Histogram
	AnalyzeDuration  *Histogram
	DisplaysCaptured *Counter
}

// NewTelemetryMetrics registers the telemetry metrics in registry.
func NewTelemetryMetrics(registry *Registry) *TelemetryMetrics {
	if registry == nil {
		registry = NewRegistry("telemetryd")
	}
	m := &TelemetryMetrics{
		registry: registry,
		started:  time.Now(),
		events:   make(map[event.Kind]*Counter, len(event.Kinds)),
		uptime: registry.Gauge("uptime_seconds",
			"Seconds since the samplers were started", nil),
		pressed: registry.Gauge("keys_pressed",
			"Keys the input sampler currently considers held", nil),
		CaptureDuration: registry.Histogram("capture_duration_seconds",
			"Time spent capturing one display frame", nil, DurationBuckets),
		AnalyzeDuration: registry.Histogram("analyze_duration_seconds",
			"Time spent computing brightness statistics for one frame", nil, DurationBuckets),
		DisplaysCaptured: registry.Counter("displays_captured_total",
			"Display frames captured successfully", nil),
	}
	for _, kind := range event.Kinds {
		m.events[kind] = registry.Counter("events_total",
			"Events accepted by the sink", Labels{"kind": string(kind)})
	}
	return m
}

// Registry returns the backing registry.
func (m *TelemetryMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// EventEmitted counts an event accepted by the sink.
func (m *TelemetryMetrics) EventEmitted(kind event.Kind) {
	if m == nil {
		return
	}
	if c, ok := m.events[kind]; ok {
		c.Inc()
	}
}

// EventCount returns how many events of kind were accepted.
func (m *TelemetryMetrics) EventCount(kind event.Kind) uint64 {
	if m == nil {
		return 0
	}
	if c, ok := m.events[kind]; ok {
		return c.Value()
	}
	return 0
}

// Fault counts a sampler fault.
func (m *TelemetryMetrics) Fault(task string, kind fault.Kind) {
	if m == nil {
		return
	}
	m.registry.Counter("faults_total", "Sampler faults by task and kind",
		Labels{"task": task, "kind": kind.String()}).Inc()
}

// Tick counts a completed sampler iteration.
func (m *TelemetryMetrics) Tick(task string) {
	if m == nil {
		return
	}
	m.registry.Counter("ticks_total", "Sampler iterations completed",
		Labels{"task": task}).Inc()
}

// TaskRestarted counts a supervisor restart of task.
func (m *TelemetryMetrics) TaskRestarted(task string) {
	if m == nil {
		return
	}
	m.registry.Counter("task_restarts_total", "Sampler tasks restarted by the supervisor",
		Labels{"task": task}).Inc()
}

// SinkDropped counts an event a sink could not deliver.
func (m *TelemetryMetrics) SinkDropped(sink string) {
	if m == nil {
		return
	}
	m.registry.Counter("sink_dropped_total", "Events a sink failed to deliver",
		Labels{"sink": sink}).Inc()
}

// SetPressed records the size of the input sampler's pressed set.
func (m *TelemetryMetrics) SetPressed(n int) {
	if m == nil {
		return
	}
	m.pressed.Set(int64(n))
}

// ObserveCapture records a frame capture duration.
func (m *TelemetryMetrics) ObserveCapture(d time.Duration) {
	if m == nil {
		return
	}
	m.CaptureDuration.ObserveDuration(d)
	m.DisplaysCaptured.Inc()
}

// ObserveAnalyze records a brightness analysis duration.
func (m *TelemetryMetrics) ObserveAnalyze(d time.Duration) {
	if m == nil {
		return
	}
	m.AnalyzeDuration.ObserveDuration(d)
}

// UpdateUptime refreshes the uptime gauge.
func (m *TelemetryMetrics) UpdateUptime() {
	if m == nil {
		return
	}
	m.uptime.Set(int64(time.Since(m.started).Seconds()))
}

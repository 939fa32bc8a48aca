package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/godbus/dbus/v5"

	"telemetryd/internal/input"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field failed validation.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateBrightness(&c.Brightness)...)
	errs = append(errs, validateSink(&c.Sink)...)
	errs = append(errs, validateFaults(&c.Faults)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if c.Daemon.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "daemon.data_dir",
			Message: "data directory is required",
		})
	}

	if !c.Input.Enabled && !c.Brightness.Enabled {
		errs = append(errs, ValidationError{
			Field:   "input.enabled",
			Message: "at least one of input and brightness must be enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors

	switch in.Device {
	case "evdev", "simulated":
	default:
		errs = append(errs, ValidationError{
			Field:   "input.device",
			Message: fmt.Sprintf("invalid device: %s (valid: evdev, simulated)", in.Device),
		})
	}

	if in.MinIntervalMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "input.min_interval_ms",
			Message: "min interval cannot be negative",
		})
	}
	if in.MinIntervalMs > 1000 {
		errs = append(errs, ValidationError{
			Field:   "input.min_interval_ms",
			Message: "min interval cannot exceed 1000ms",
		})
	}

	if _, err := input.ParseIdleMode(in.IdleMode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "input.idle_mode",
			Message: err.Error(),
		})
	}

	if in.ScreenWidth <= 0 || in.ScreenHeight <= 0 {
		errs = append(errs, ValidationError{
			Field:   "input.screen_width",
			Message: "screen dimensions must be positive",
		})
	}

	return errs
}

func validateBrightness(b *BrightnessConfig) ValidationErrors {
	var errs ValidationErrors

	switch b.Capturer {
	case "auto", "gnome", "framebuffer", "synthetic":
	default:
		errs = append(errs, ValidationError{
			Field:   "brightness.capturer",
			Message: fmt.Sprintf("invalid capturer: %s (valid: auto, gnome, framebuffer, synthetic)", b.Capturer),
		})
	}

	if b.IntervalMs < 10 {
		errs = append(errs, ValidationError{
			Field:   "brightness.interval_ms",
			Message: "interval must be at least 10ms",
		})
	}

	if b.SyntheticDisplays < 1 || b.SyntheticDisplays > 16 {
		errs = append(errs, ValidationError{
			Field:   "brightness.synthetic_displays",
			Message: "synthetic displays must be between 1 and 16",
		})
	}

	return errs
}

func validateSink(s *SinkConfig) ValidationErrors {
	var errs ValidationErrors

	if len(s.Outputs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "sink.outputs",
			Message: "at least one output is required",
		})
	}

	seen := make(map[string]bool, len(s.Outputs))
	for i, o := range s.Outputs {
		field := fmt.Sprintf("sink.outputs[%d]", i)
		switch o {
		case "log", "jsonl", "dbus":
		default:
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid output: %s (valid: log, jsonl, dbus)", o),
			})
			continue
		}
		if seen[o] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate output: %s", o),
			})
		}
		seen[o] = true
	}

	if seen["jsonl"] && s.JSONLPath == "" {
		errs = append(errs, ValidationError{
			Field:   "sink.jsonl_path",
			Message: "jsonl path is required when the jsonl output is enabled (use - for stdout)",
		})
	}

	if seen["dbus"] && !dbus.ObjectPath(s.DBusPath).IsValid() {
		errs = append(errs, ValidationError{
			Field:   "sink.dbus_path",
			Message: fmt.Sprintf("invalid D-Bus object path: %q", s.DBusPath),
		})
	}

	return errs
}

func validateFaults(f *FaultsConfig) ValidationErrors {
	var errs ValidationErrors

	if f.MaxConsecutive < 0 {
		errs = append(errs, ValidationError{
			Field:   "faults.max_consecutive",
			Message: "max consecutive faults cannot be negative",
		})
	}
	if f.InitialBackoffMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "faults.initial_backoff_ms",
			Message: "initial backoff cannot be negative",
		})
	}
	if f.MaxBackoffMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "faults.max_backoff_ms",
			Message: "max backoff cannot be negative",
		})
	}
	if f.MaxBackoffMs > 0 && f.MaxBackoffMs < f.InitialBackoffMs {
		errs = append(errs, ValidationError{
			Field:   "faults.max_backoff_ms",
			Message: "max backoff must not be below the initial backoff",
		})
	}
	if f.Restarts < 0 {
		errs = append(errs, ValidationError{
			Field:   "faults.restarts",
			Message: "restarts cannot be negative",
		})
	}
	if f.RestartDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "faults.restart_delay_ms",
			Message: "restart delay cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors
	if !m.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.ListenAddr, err),
		})
	}
	return errs
}

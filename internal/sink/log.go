package sink

import (
	"context"
	"log/slog"

	"telemetryd/internal/event"
)

// Log writes each event as one structured log record.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog returns a sink logging at level. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger, level slog.Level) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, level: level}
}

// Emit logs e with its payload fields as attributes.
func (l *Log) Emit(e event.Event) error {
	attrs := []slog.Attr{slog.String("event", string(e.Kind()))}
	switch v := e.(type) {
	case event.KeyDown:
		attrs = append(attrs, slog.String("code", v.Code.String()))
	case event.KeyUp:
		attrs = append(attrs, slog.String("code", v.Code.String()))
	case event.MouseMove:
		attrs = append(attrs, slog.Int("x", int(v.Coords.X)), slog.Int("y", int(v.Coords.Y)))
	case event.MouseIdle:
		attrs = append(attrs, slog.Int("x", int(v.Coords.X)), slog.Int("y", int(v.Coords.Y)))
	case event.ScreenBrightness:
		attrs = append(attrs,
			slog.String("display", v.Display),
			slog.Float64("mean", v.Sample.Mean),
			slog.Float64("median", v.Sample.Median),
			slog.Float64("stddev", v.Sample.StdDev))
	}
	l.logger.LogAttrs(context.Background(), l.level, "event", attrs...)
	return nil
}

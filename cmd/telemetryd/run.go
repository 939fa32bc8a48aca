package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"telemetryd/internal/brightness"
	"telemetryd/internal/config"
	"telemetryd/internal/daemon"
	"telemetryd/internal/event"
	"telemetryd/internal/health"
	"telemetryd/internal/input"
	"telemetryd/internal/logging"
	"telemetryd/internal/metrics"
	"telemetryd/internal/sink"
	"telemetryd/internal/supervisor"
)

type runOptions struct {
	configPath string
	simulate   bool
	jsonl      string
	logLevel   string
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	opts := runOptions{}
	fs.StringVar(&opts.configPath, "config", "", "configuration file")
	fs.BoolVar(&opts.simulate, "simulate", false, "use scripted input and synthetic displays")
	fs.StringVar(&opts.jsonl, "jsonl", "", "write events as JSON lines to this file (\"-\" for stdout)")
	fs.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	fs.Parse(args)

	loader, cfg, err := loadRunConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer loader.Close()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				logger.Info("reloading configuration", "path", loader.Path())
				loader.Reload()
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}()

	if err := runDaemon(ctx, cfg, loader, logger); err != nil {
		logger.Error("telemetryd stopped with error", "error", err)
		return 1
	}
	return 0
}

// loadRunConfig loads the file (defaults when it does not exist) and
// applies command-line overrides on top.
func loadRunConfig(opts runOptions) (*config.Loader, *config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}

	if opts.simulate {
		cfg.Input.Device = "simulated"
		cfg.Brightness.Capturer = "synthetic"
	}
	if opts.jsonl != "" {
		cfg.Sink.JSONLPath = opts.jsonl
		if !cfg.HasOutput("jsonl") {
			cfg.Sink.Outputs = append(cfg.Sink.Outputs, "jsonl")
		}
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.Logging.FilePath
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAge = cfg.Logging.MaxAgeDays
	lc.Compress = cfg.Logging.Compress
	return logging.New(lc)
}

// runDaemon wires the samplers to the configured sinks and blocks until
// ctx is cancelled or every sampler has stopped.
func runDaemon(ctx context.Context, cfg *config.Config, loader *config.Loader, logger *logging.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	mgr := daemon.NewManager(cfg.PIDFile(), cfg.StateFile())
	if err := mgr.Acquire(); err != nil {
		return err
	}
	defer mgr.Cleanup()

	registry := metrics.NewRegistry("telemetryd")
	tm := metrics.NewTelemetryMetrics(registry)
	checker := health.NewChecker()

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  filepath.Join(cfg.Daemon.DataDir, "crashes"),
		Version:   Version,
		Component: "telemetryd",
		Logger:    logger.Logger,
	})
	sup := supervisor.New(supervisor.Options{
		Restarts:     cfg.Faults.Restarts,
		RestartDelay: cfg.RestartDelay(),
		Logger:       logger.Logger,
		Crash:        crash,
		Metrics:      tm,
		Health:       checker,
	})
	ctx = logging.ContextWithRunID(ctx, sup.RunID())
	runLogger := logger.WithContext(ctx)

	if err := crash.CleanupOldCrashReports(crashRetention); err != nil {
		runLogger.Warn("could not prune crash reports", "error", err)
	}

	out, err := buildSinks(cfg, runLogger.WithComponent("sink").Logger, tm)
	if err != nil {
		return err
	}
	defer out.Close()

	var tasks []string
	if cfg.Input.Enabled {
		device, err := openDevice(cfg, runLogger.WithComponent("input").Logger)
		if err != nil {
			return err
		}
		defer device.Close()

		idle, _ := input.ParseIdleMode(cfg.Input.IdleMode)
		state := &health.TaskState{}
		sampler, err := input.NewSampler(input.Options{
			Device:      device,
			Sink:        out,
			Idle:        idle,
			MinInterval: cfg.MinInterval(),
			Policy:      cfg.FaultPolicy(),
			Logger:      runLogger.WithComponent("input").Logger,
			Metrics:     tm,
			OnTick:      state.Tick,
		})
		if err != nil {
			return err
		}
		if _, err := sup.Add(supervisor.Task{
			Name:       input.TaskName,
			Run:        sampler.Run,
			State:      state,
			MaxTickAge: maxTickAge(cfg.MinInterval(), time.Second),
		}); err != nil {
			return err
		}
		tasks = append(tasks, input.TaskName)
	}

	var bright *brightness.Sampler
	if cfg.Brightness.Enabled {
		capturer, closeCapturer, err := openCapturer(cfg, runLogger.WithComponent("brightness").Logger)
		if err != nil {
			return err
		}
		defer closeCapturer()

		state := &health.TaskState{}
		bright, err = brightness.NewSampler(brightness.Options{
			Capturer: capturer,
			Sink:     out,
			Interval: cfg.BrightnessInterval(),
			Policy:   cfg.FaultPolicy(),
			Logger:   runLogger.WithComponent("brightness").Logger,
			Metrics:  tm,
			OnTick:   state.Tick,
		})
		if err != nil {
			return err
		}
		if _, err := sup.Add(supervisor.Task{
			Name:       brightness.TaskName,
			Run:        bright.Run,
			State:      state,
			MaxTickAge: maxTickAge(cfg.BrightnessInterval(), 2*time.Second),
		}); err != nil {
			return err
		}
		tasks = append(tasks, brightness.TaskName)
	}

	loader.OnChange(func(next *config.Config) {
		applyLiveConfig(next, logger, bright)
	})
	if err := loader.Watch(); err != nil {
		runLogger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	}

	metricsURL := ""
	if cfg.Metrics.Enabled {
		srv, url, err := startHTTP(cfg.Metrics.ListenAddr, registry, tm, checker, runLogger.Logger)
		if err != nil {
			return err
		}
		metricsURL = url
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := mgr.WriteState(&daemon.State{
		PID:        os.Getpid(),
		RunID:      sup.RunID(),
		StartedAt:  time.Now(),
		Version:    Version,
		ConfigPath: loader.Path(),
		Tasks:      tasks,
		Outputs:    cfg.Sink.Outputs,
		MetricsURL: metricsURL,
	}); err != nil {
		runLogger.Warn("could not write state file", "error", err)
	}

	runLogger.Info("telemetryd started",
		"version", Version,
		"tasks", tasks,
		"outputs", cfg.Sink.Outputs)
	return sup.Run(ctx)
}

// applyLiveConfig applies the settings that can change without a restart.
func applyLiveConfig(next *config.Config, logger *logging.Logger, bright *brightness.Sampler) {
	if level, err := logging.ParseLevel(next.Logging.Level); err == nil && level != logger.Level() {
		logger.SetLevel(level)
		logger.Info("log level changed", "level", logging.LevelString(level))
	}
	if bright != nil && next.BrightnessInterval() != bright.Interval() {
		bright.SetInterval(next.BrightnessInterval())
		logger.Info("brightness interval changed", "interval", next.BrightnessInterval())
	}
}

// crashRetention bounds how long crash dumps stay in the data dir.
const crashRetention = 30 * 24 * time.Hour

func maxTickAge(interval, floor time.Duration) time.Duration {
	if age := 20 * interval; age > floor {
		return age
	}
	return floor
}

// buildSinks opens every configured output and combines them.
func buildSinks(cfg *config.Config, logger *slog.Logger, tm *metrics.TelemetryMetrics) (sink.Fanout, error) {
	var out sink.Fanout
	for _, name := range cfg.Sink.Outputs {
		var s event.Sink
		switch name {
		case "log":
			s = sink.NewLog(logger, slog.LevelInfo)
		case "jsonl":
			j, err := sink.OpenJSONLines(cfg.Sink.JSONLPath)
			if err != nil {
				out.Close()
				return nil, err
			}
			s = j
		case "dbus":
			d, err := sink.OpenDBus(cfg.Sink.DBusPath)
			if err != nil {
				out.Close()
				return nil, err
			}
			s = d
		default:
			out.Close()
			return nil, fmt.Errorf("unknown sink output %q", name)
		}
		out = append(out, countingSink{name: name, next: s, metrics: tm})
	}
	return out, nil
}

// countingSink records failed deliveries per output.
type countingSink struct {
	name    string
	next    event.Sink
	metrics *metrics.TelemetryMetrics
}

func (c countingSink) Emit(e event.Event) error {
	if err := c.next.Emit(e); err != nil {
		c.metrics.SinkDropped(c.name)
		return fmt.Errorf("%s sink: %w", c.name, err)
	}
	return nil
}

func (c countingSink) Close() error {
	if closer, ok := c.next.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// openDevice returns the configured input device.
func openDevice(cfg *config.Config, logger *slog.Logger) (input.Device, error) {
	switch cfg.Input.Device {
	case "simulated":
		cx, cy := int32(cfg.Input.ScreenWidth/2), int32(cfg.Input.ScreenHeight/2)
		radius := min(cx, cy) / 2
		return input.NewLoopingSimulated(input.DemoScript(0, cx, cy, radius)...), nil
	default:
		dev, err := input.OpenEvdev(input.EvdevOptions{
			Width:  int32(cfg.Input.ScreenWidth),
			Height: int32(cfg.Input.ScreenHeight),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open evdev input: %w (try --simulate)", err)
		}
		return dev, nil
	}
}

// openCapturer returns the configured capture backend. "auto" prefers
// GNOME Shell, then the framebuffer, then synthetic frames.
func openCapturer(cfg *config.Config, logger *slog.Logger) (brightness.Capturer, func() error, error) {
	noop := func() error { return nil }
	synthetic := func() (brightness.Capturer, func() error, error) {
		return brightness.NewSynthetic(cfg.Brightness.SyntheticDisplays, 320, 200), noop, nil
	}

	switch cfg.Brightness.Capturer {
	case "synthetic":
		return synthetic()
	case "gnome":
		g, err := brightness.NewGnomeShell()
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	case "framebuffer":
		fb, err := brightness.NewFramebuffer()
		if err != nil {
			return nil, nil, err
		}
		return fb, noop, nil
	}

	g, err := brightness.NewGnomeShell()
	if err == nil {
		logger.Info("capturing through GNOME Shell")
		return g, g.Close, nil
	}
	logger.Debug("GNOME Shell capture unavailable", "error", err)

	fb, fbErr := brightness.NewFramebuffer()
	if fbErr == nil {
		logger.Info("capturing from the framebuffer")
		return fb, noop, nil
	}
	logger.Warn("no screen capture backend, using synthetic frames",
		"gnome_error", err,
		"framebuffer_error", fbErr)
	return synthetic()
}

// startHTTP serves /metrics and the health endpoints.
func startHTTP(addr string, registry *metrics.Registry, tm *metrics.TelemetryMetrics, checker *health.Checker, logger *slog.Logger) (*http.Server, string, error) {
	mux := http.NewServeMux()
	metricsHandler := registry.HTTPHandler()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tm.UpdateUptime()
		metricsHandler.ServeHTTP(w, r)
	}))
	checker.Mux(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	url := "http://" + ln.Addr().String() + "/metrics"
	logger.Info("serving metrics", "url", url)
	return srv, url, nil
}

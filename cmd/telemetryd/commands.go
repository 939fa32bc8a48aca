package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"telemetryd/internal/brightness"
	"telemetryd/internal/config"
	"telemetryd/internal/daemon"
	"telemetryd/internal/event"
)

func cmdAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print a screen_brightness event as JSON")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: telemetryd analyze [--json] <image>...")
		return 1
	}

	code := 0
	for _, path := range fs.Args() {
		if err := analyzeFile(os.Stdout, path, *asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			code = 1
		}
	}
	return code
}

func analyzeFile(w io.Writer, path string, asJSON bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	sample, err := brightness.Analyze(img)
	if err != nil {
		return err
	}

	if asJSON {
		line, err := event.Encode(event.ScreenBrightness{Display: filepath.Base(path), Sample: sample})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", line)
		return err
	}

	b := img.Bounds()
	fmt.Fprintf(w, "%s (%s, %dx%d)\n", path, format, b.Dx(), b.Dy())
	fmt.Fprintf(w, "  mean:   %.3f\n", sample.Mean)
	fmt.Fprintf(w, "  median: %.1f\n", sample.Median)
	fmt.Fprintf(w, "  stddev: %.3f\n", sample.StdDev)
	return nil
}

func cmdKeys(args []string) int {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	codes := fs.Bool("codes", false, "also print the evdev code of each key")
	fs.Parse(args)

	for _, k := range event.KnownKeyCodes() {
		if *codes {
			fmt.Printf("%-5d %s\n", uint16(k), k)
		} else {
			fmt.Println(k)
		}
	}
	return 0
}

func cmdConfig(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: telemetryd config init|show [--config <path>]")
		return 1
	}

	sub := args[0]
	fs := flag.NewFlagSet("config "+sub, flag.ExitOnError)
	path := fs.String("config", "", "configuration file")
	force := fs.Bool("force", false, "overwrite an existing file (init)")
	format := fs.String("format", "toml", "output format: toml, json or yaml (show)")
	fs.Parse(args[1:])

	switch sub {
	case "init":
		target := *path
		if target == "" {
			target = config.ConfigPath()
		}
		if *force {
			if err := config.SaveConfig(config.DefaultConfig(), target); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
				return 1
			}
			fmt.Printf("Wrote %s\n", target)
			return 0
		}
		if _, created, err := config.LoadOrCreate(target); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		} else if !created {
			fmt.Fprintf(os.Stderr, "Config already exists: %s (use --force to overwrite)\n", target)
			return 1
		}
		fmt.Printf("Wrote %s\n", target)
		return 0

	case "show":
		source := *path
		if source == "" {
			source = config.FindConfigFile()
		}
		cfg, err := config.Load(source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		data, err := cfg.Encode("." + strings.TrimPrefix(*format, "."))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		os.Stdout.Write(data)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "\nWarning: configuration is invalid:\n%v\n", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", sub)
		return 1
	}
}

// daemonManager parses fs and locates the PID and state files of the
// configured data directory.
func daemonManager(fs *flag.FlagSet, args []string) (*daemon.Manager, error) {
	path := fs.String("config", "", "configuration file")
	fs.Parse(args)

	source := *path
	if source == "" {
		source = config.FindConfigFile()
	}
	cfg, err := config.Load(source)
	if err != nil {
		return nil, err
	}
	return daemon.NewManager(cfg.PIDFile(), cfg.StateFile()), nil
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the status as JSON")
	mgr, err := daemonManager(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	status, err := mgr.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]any{
			"running": status.Running,
			"pid":     status.PID,
			"uptime":  status.Uptime.Truncate(time.Second).String(),
			"state":   status.State,
		})
		return 0
	}

	fmt.Println("=== telemetryd Status ===")
	fmt.Println()
	if !status.Running {
		fmt.Println("Daemon: not running")
		if status.State != nil {
			fmt.Printf("Last run: %s (started %s)\n", status.State.RunID,
				status.State.StartedAt.Format(time.RFC3339))
		}
		return 3
	}

	fmt.Printf("Daemon:   running (pid %d)\n", status.PID)
	fmt.Printf("Uptime:   %s\n", status.Uptime.Truncate(time.Second))
	if st := status.State; st != nil {
		fmt.Printf("Version:  %s\n", st.Version)
		fmt.Printf("Run ID:   %s\n", st.RunID)
		fmt.Printf("Tasks:    %s\n", strings.Join(st.Tasks, ", "))
		fmt.Printf("Outputs:  %s\n", strings.Join(st.Outputs, ", "))
		if st.ConfigPath != "" {
			fmt.Printf("Config:   %s\n", st.ConfigPath)
		}
		if st.MetricsURL != "" {
			fmt.Printf("Metrics:  %s\n", st.MetricsURL)
		}
	}
	return 0
}

func cmdStop(args []string) int {
	mgr, err := daemonManager(flag.NewFlagSet("stop", flag.ExitOnError), args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := mgr.SignalStop(); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Println("telemetryd is not running")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := mgr.WaitForStop(10 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("telemetryd stopped")
	return 0
}

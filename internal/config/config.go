// Package config handles configuration loading, validation, and management for telemetryd.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"telemetryd/internal/fault"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Input configures the keyboard and pointer sampler.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// Brightness configures the screen brightness sampler.
	Brightness BrightnessConfig `toml:"brightness" json:"brightness" yaml:"brightness"`

	// Sink selects where events are delivered.
	Sink SinkConfig `toml:"sink" json:"sink" yaml:"sink"`

	// Faults configures retry and give-up behaviour of the samplers.
	Faults FaultsConfig `toml:"faults" json:"faults" yaml:"faults"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures the HTTP metrics and health endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Daemon configures PID and state bookkeeping.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// InputConfig holds input sampler configuration.
type InputConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Device is "evdev" or "simulated".
	Device string `toml:"device" json:"device" yaml:"device"`

	// MinIntervalMs bounds the polling rate. 0 polls as fast as possible.
	MinIntervalMs int `toml:"min_interval_ms" json:"min_interval_ms" yaml:"min_interval_ms"`

	// IdleMode is "never", "always" or "keys_held".
	IdleMode string `toml:"idle_mode" json:"idle_mode" yaml:"idle_mode"`

	// ScreenWidth and ScreenHeight clamp the integrated evdev pointer.
	ScreenWidth  int `toml:"screen_width" json:"screen_width" yaml:"screen_width"`
	ScreenHeight int `toml:"screen_height" json:"screen_height" yaml:"screen_height"`
}

// BrightnessConfig holds brightness sampler configuration.
type BrightnessConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Capturer is "auto", "gnome", "framebuffer" or "synthetic".
	Capturer string `toml:"capturer" json:"capturer" yaml:"capturer"`

	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`

	// SyntheticDisplays is the display count of the synthetic capturer.
	SyntheticDisplays int `toml:"synthetic_displays" json:"synthetic_displays" yaml:"synthetic_displays"`
}

// SinkConfig holds event delivery configuration.
type SinkConfig struct {
	// Outputs lists the enabled sinks: "log", "jsonl", "dbus".
	Outputs []string `toml:"outputs" json:"outputs" yaml:"outputs"`

	// JSONLPath is the JSON lines file; "-" writes to stdout.
	JSONLPath string `toml:"jsonl_path" json:"jsonl_path" yaml:"jsonl_path"`

	// DBusPath is the object path signals are emitted from.
	DBusPath string `toml:"dbus_path" json:"dbus_path" yaml:"dbus_path"`
}

// FaultsConfig holds the sampler fault policy.
type FaultsConfig struct {
	// MaxConsecutive faults end a sampler run. 0 retries forever.
	MaxConsecutive   int `toml:"max_consecutive" json:"max_consecutive" yaml:"max_consecutive"`
	InitialBackoffMs int `toml:"initial_backoff_ms" json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `toml:"max_backoff_ms" json:"max_backoff_ms" yaml:"max_backoff_ms"`

	// Restarts is how often the supervisor restarts a sampler that gave
	// up or panicked.
	Restarts       int `toml:"restarts" json:"restarts" yaml:"restarts"`
	RestartDelayMs int `toml:"restart_delay_ms" json:"restart_delay_ms" yaml:"restart_delay_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level" json:"level" yaml:"level"`

	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr" or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DaemonConfig holds process bookkeeping configuration.
type DaemonConfig struct {
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := TelemetrydDir()

	return &Config{
		Version: Version,
		Input: InputConfig{
			Enabled:       true,
			Device:        "evdev",
			MinIntervalMs: 8,
			IdleMode:      "never",
			ScreenWidth:   1920,
			ScreenHeight:  1080,
		},
		Brightness: BrightnessConfig{
			Enabled:           true,
			Capturer:          "auto",
			IntervalMs:        100,
			SyntheticDisplays: 2,
		},
		Sink: SinkConfig{
			Outputs:   []string{"jsonl"},
			JSONLPath: "-",
			DBusPath:  "/org/telemetryd/Sampler",
		},
		Faults: FaultsConfig{
			MaxConsecutive:   10,
			InitialBackoffMs: 50,
			MaxBackoffMs:     5000,
			Restarts:         3,
			RestartDelayMs:   1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "telemetryd.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9477",
		},
		Daemon: DaemonConfig{
			DataDir: dir,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist. Environment overrides are applied but the result is
// not validated; use a Loader for that.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// MinInterval returns the input polling bound.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Input.MinIntervalMs) * time.Millisecond
}

// BrightnessInterval returns the capture cadence.
func (c *Config) BrightnessInterval() time.Duration {
	return time.Duration(c.Brightness.IntervalMs) * time.Millisecond
}

// FaultPolicy converts the faults section.
func (c *Config) FaultPolicy() fault.Policy {
	return fault.Policy{
		MaxConsecutive: c.Faults.MaxConsecutive,
		InitialBackoff: time.Duration(c.Faults.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.Faults.MaxBackoffMs) * time.Millisecond,
	}
}

// RestartDelay returns the pause before a supervised restart.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Faults.RestartDelayMs) * time.Millisecond
}

// HasOutput reports whether the named sink is enabled.
func (c *Config) HasOutput(name string) bool {
	for _, o := range c.Sink.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

// PIDFile returns the daemon PID file path.
func (c *Config) PIDFile() string {
	return filepath.Join(c.Daemon.DataDir, "telemetryd.pid")
}

// StateFile returns the daemon state file path.
func (c *Config) StateFile() string {
	return filepath.Join(c.Daemon.DataDir, "state.json")
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Daemon.DataDir}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.HasOutput("jsonl") && c.Sink.JSONLPath != "-" && c.Sink.JSONLPath != "" {
		dirs = append(dirs, filepath.Dir(c.Sink.JSONLPath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// TelemetrydDir returns the base data directory.
// Uses platform-specific paths or the TELEMETRYD_DATA_DIR override.
func TelemetrydDir() string {
	if envDir := os.Getenv("TELEMETRYD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TELEMETRYD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("TELEMETRYD_DATA_DIR"); v != "" {
		c.Daemon.DataDir = v
	}

	// Input overrides
	if v := os.Getenv("TELEMETRYD_INPUT_DEVICE"); v != "" {
		c.Input.Device = v
	}
	if v := os.Getenv("TELEMETRYD_IDLE_MODE"); v != "" {
		c.Input.IdleMode = v
	}
	if v, ok := envInt("TELEMETRYD_MIN_INTERVAL_MS"); ok {
		c.Input.MinIntervalMs = v
	}

	// Brightness overrides
	if v := os.Getenv("TELEMETRYD_CAPTURER"); v != "" {
		c.Brightness.Capturer = v
	}
	if v, ok := envInt("TELEMETRYD_BRIGHTNESS_INTERVAL_MS"); ok {
		c.Brightness.IntervalMs = v
	}

	// Sink overrides
	if v := os.Getenv("TELEMETRYD_OUTPUTS"); v != "" {
		c.Sink.Outputs = splitList(v)
	}
	if v := os.Getenv("TELEMETRYD_JSONL_PATH"); v != "" {
		c.Sink.JSONLPath = v
	}

	// Logging overrides
	if v := os.Getenv("TELEMETRYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TELEMETRYD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("TELEMETRYD_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
		c.Metrics.Enabled = true
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:    c.Version,
		Input:      c.Input,
		Brightness: c.Brightness,
		Sink:       c.Sink,
		Faults:     c.Faults,
		Logging:    c.Logging,
		Metrics:    c.Metrics,
		Daemon:     c.Daemon,
	}
	clone.Sink.Outputs = append([]string{}, c.Sink.Outputs...)
	return clone
}

// Encode serialises the configuration in the format named by ext
// (".toml", ".json", ".yaml"/".yml"). Unknown extensions use TOML.
func (c *Config) Encode(ext string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch ext {
	case ".json":
		return json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// SaveConfig writes cfg to path in the format matching its extension.
func SaveConfig(cfg *Config, path string) error {
	data, err := cfg.Encode(filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

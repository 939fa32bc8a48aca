// Package daemon manages the PID file and state file of a running
// telemetryd, so that `telemetryd status` and `telemetryd stop` can find it.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when another live process holds
// the PID file.
var ErrAlreadyRunning = errors.New("telemetryd is already running")

// ErrNotRunning is returned when no live daemon owns the PID file.
var ErrNotRunning = errors.New("telemetryd is not running")

// State is the persistent description of a running daemon.
type State struct {
	PID        int       `json:"pid"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Version    string    `json:"version"`
	ConfigPath string    `json:"config_path,omitempty"`
	Tasks      []string  `json:"tasks"`
	Outputs    []string  `json:"outputs"`
	MetricsURL string    `json:"metrics_url,omitempty"`
}

// Manager handles daemon lifecycle files.
type Manager struct {
	pidFile   string
	stateFile string
}

// NewManager creates a manager for the given PID and state files.
func NewManager(pidFile, stateFile string) *Manager {
	return &Manager{pidFile: pidFile, stateFile: stateFile}
}

// IsRunning checks if the PID file names a live process.
func (m *Manager) IsRunning() bool {
	pid, err := m.ReadPID()
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

// ReadPID reads the daemon's PID from the PID file.
func (m *Manager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// Acquire writes the current PID unless a live process already owns the
// PID file. A stale PID file is replaced.
func (m *Manager) Acquire() error {
	if pid, err := m.ReadPID(); err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// WriteState writes the daemon state atomically.
func (m *Manager) WriteState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := m.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, m.stateFile)
}

// ReadState reads the daemon state.
func (m *Manager) ReadState() (*State, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// SignalStop sends SIGTERM to the daemon.
func (m *Manager) SignalStop() error {
	return m.signal(syscall.SIGTERM)
}

// SignalReload sends SIGHUP to the daemon, which reloads its config file.
func (m *Manager) SignalReload() error {
	return m.signal(syscall.SIGHUP)
}

func (m *Manager) signal(sig os.Signal) error {
	pid, err := m.ReadPID()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotRunning
		}
		return fmt.Errorf("read PID: %w", err)
	}
	if !isProcessRunning(pid) {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	return process.Signal(sig)
}

// WaitForStop polls until the daemon is gone or timeout elapses.
func (m *Manager) WaitForStop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %v", timeout)
}

// Cleanup removes the PID and state files.
func (m *Manager) Cleanup() {
	os.Remove(m.pidFile)
	os.Remove(m.stateFile)
}

// Status is the daemon status for display.
type Status struct {
	Running bool
	PID     int
	Uptime  time.Duration
	State   *State
}

// Status returns the current daemon status. The last state is reported
// even when the daemon is no longer running.
func (m *Manager) Status() (*Status, error) {
	status := &Status{}

	if pid, err := m.ReadPID(); err == nil && isProcessRunning(pid) {
		status.Running = true
		status.PID = pid
	}

	state, err := m.ReadState()
	switch {
	case err == nil:
		status.State = state
		if status.Running {
			status.Uptime = time.Since(state.StartedAt)
		}
	case !os.IsNotExist(err):
		return status, err
	}
	return status, nil
}

// isProcessRunning sends signal 0 to check whether pid exists.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

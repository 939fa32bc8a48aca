package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	dir := t.TempDir()
	return NewManager(filepath.Join(dir, "run", "telemetryd.pid"), filepath.Join(dir, "state.json")), dir
}

func TestAcquireAndStatus(t *testing.T) {
	m, _ := newTestManager(t)

	status, err := m.Status()
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Nil(t, status.State)

	require.NoError(t, m.Acquire())
	pid, err := m.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, m.IsRunning())

	// The owning process may re-acquire.
	require.NoError(t, m.Acquire())

	started := time.Now().Add(-time.Minute)
	require.NoError(t, m.WriteState(&State{
		PID:       pid,
		RunID:     "run-1",
		StartedAt: started,
		Version:   "1.0.0",
		Tasks:     []string{"input", "brightness"},
		Outputs:   []string{"jsonl"},
	}))

	status, err = m.Status()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, pid, status.PID)
	require.NotNil(t, status.State)
	assert.Equal(t, "run-1", status.State.RunID)
	assert.Equal(t, []string{"input", "brightness"}, status.State.Tasks)
	assert.GreaterOrEqual(t, status.Uptime, time.Minute)

	m.Cleanup()
	assert.False(t, m.IsRunning())
	_, err = m.ReadState()
	assert.True(t, os.IsNotExist(err))
}

func TestStalePIDFileIsReplaced(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(m.pidFile), 0700))
	// PIDs this large are never handed out.
	require.NoError(t, os.WriteFile(m.pidFile, []byte(strconv.Itoa(1<<30)), 0600))

	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.SignalStop(), ErrNotRunning)
	require.NoError(t, m.Acquire())

	pid, err := m.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestSignalWithoutPIDFile(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ErrorIs(t, m.SignalStop(), ErrNotRunning)
	assert.ErrorIs(t, m.SignalReload(), ErrNotRunning)
	assert.NoError(t, m.WaitForStop(time.Millisecond))
}

func TestInvalidPIDFile(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(m.pidFile), 0700))
	require.NoError(t, os.WriteFile(m.pidFile, []byte("not-a-pid"), 0600))

	_, err := m.ReadPID()
	assert.Error(t, err)
	assert.False(t, m.IsRunning())
}

func TestCorruptStateIsReported(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.WriteFile(m.stateFile, []byte("{"), 0600))
	_, err := m.Status()
	assert.Error(t, err)
}

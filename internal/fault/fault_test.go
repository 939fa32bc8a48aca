package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	root := errors.New("permission denied")
	err := fmt.Errorf("tick: %w", New(DeviceQuery, "input", root))

	assert.Equal(t, DeviceQuery, KindOf(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "input: device_query fault")
	assert.Equal(t, Kind(0), KindOf(root))
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 10*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(4))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(60))
}

func TestTrackerExhaustion(t *testing.T) {
	tr := NewTracker(Policy{MaxConsecutive: 3, InitialBackoff: time.Millisecond})
	cause := New(Capture, "brightness", errors.New("no display"))

	_, err := tr.Failure(cause)
	require.NoError(t, err)
	_, err = tr.Failure(cause)
	require.NoError(t, err)
	tr.Success()
	assert.Equal(t, 0, tr.Consecutive())

	for i := 0; i < 2; i++ {
		_, err = tr.Failure(cause)
		require.NoError(t, err)
	}
	_, err = tr.Failure(cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyFaults)
	assert.Equal(t, Capture, KindOf(err))
}

func TestTrackerUnlimited(t *testing.T) {
	tr := NewTracker(Policy{})
	for i := 0; i < 100; i++ {
		d, err := tr.Failure(errors.New("x"))
		require.NoError(t, err)
		assert.Zero(t, d)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

package input

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetryd/internal/event"
	"telemetryd/internal/fault"
	"telemetryd/internal/metrics"
	"telemetryd/internal/sink"
)

func snap(x, y int32, keys ...event.KeyCode) event.InputSnapshot {
	return event.InputSnapshot{Keys: event.NewKeySet(keys...), Mouse: event.MouseState{X: x, Y: y}}
}

func newTestSampler(t *testing.T, dev Device, idle IdleMode) (*Sampler, *event.Recorder) {
	t.Helper()
	rec := event.NewRecorder()
	s, err := NewSampler(Options{Device: dev, Sink: rec, Idle: idle})
	require.NoError(t, err)
	return s, rec
}

func stepN(t *testing.T, s *Sampler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Step())
	}
}

func TestNewSamplerValidation(t *testing.T) {
	_, err := NewSampler(Options{Sink: event.NewRecorder()})
	assert.Error(t, err)
	_, err = NewSampler(Options{Device: NewSimulated()})
	assert.Error(t, err)
	_, err = NewSampler(Options{Device: NewSimulated(), Sink: event.NewRecorder(), MinInterval: -1})
	assert.Error(t, err)
}

func TestMouseMoveOnlyOnChange(t *testing.T) {
	frames := []event.InputSnapshot{snap(0, 0), snap(0, 0), snap(5, 5), snap(5, 5)}

	tests := []struct {
		name string
		idle IdleMode
		want [][]event.Event
	}{
		{
			name: "never",
			idle: IdleNever,
			want: [][]event.Event{nil, nil, {event.MouseMove{Coords: event.MouseState{X: 5, Y: 5}}}, nil},
		},
		{
			name: "always",
			idle: IdleAlways,
			want: [][]event.Event{
				{event.MouseIdle{}},
				{event.MouseIdle{}},
				{event.MouseMove{Coords: event.MouseState{X: 5, Y: 5}}},
				{event.MouseIdle{Coords: event.MouseState{X: 5, Y: 5}}},
			},
		},
		{
			name: "keys_held without keys",
			idle: IdleWhileKeysHeld,
			want: [][]event.Event{nil, nil, {event.MouseMove{Coords: event.MouseState{X: 5, Y: 5}}}, nil},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, rec := newTestSampler(t, NewSimulated(frames...), tc.idle)
			for i, want := range tc.want {
				rec.Reset()
				require.NoError(t, s.Step())
				got := rec.Events()
				if len(want) == 0 {
					assert.Empty(t, got, "tick %d", i)
					continue
				}
				assert.Equal(t, want, got, "tick %d", i)
			}
		})
	}
}

func TestIdleWhileKeysHeld(t *testing.T) {
	s, rec := newTestSampler(t, NewSimulated(
		snap(1, 1),
		snap(1, 1, event.KeyA),
		snap(1, 1, event.KeyA),
		snap(1, 1),
	), IdleWhileKeysHeld)

	stepN(t, s, 4)
	assert.Equal(t, []event.Event{
		event.MouseMove{Coords: event.MouseState{X: 1, Y: 1}},
		event.MouseIdle{Coords: event.MouseState{X: 1, Y: 1}},
		event.KeyDown{Code: event.KeyA},
		event.MouseIdle{Coords: event.MouseState{X: 1, Y: 1}},
		event.KeyUp{Code: event.KeyA},
	}, rec.Events())
}

func TestTickOrdering(t *testing.T) {
	s, rec := newTestSampler(t, NewSimulated(
		snap(0, 0, event.KeyB, event.KeyC),
		snap(3, 4, event.KeyA, event.KeyC),
	), IdleNever)

	stepN(t, s, 2)
	assert.Equal(t, []event.Event{
		event.KeyDown{Code: event.KeyC},
		event.KeyDown{Code: event.KeyB},
		event.MouseMove{Coords: event.MouseState{X: 3, Y: 4}},
		event.KeyDown{Code: event.KeyA},
		event.KeyUp{Code: event.KeyB},
	}, rec.Events())
}

// replay rebuilds the pressed set from a key event stream and fails on a
// duplicate down or an up without a down.
func replay(t *testing.T, pressed event.KeySet, events []event.Event) {
	t.Helper()
	for _, e := range events {
		switch v := e.(type) {
		case event.KeyDown:
			require.False(t, pressed.Has(v.Code), "duplicate key_down for %s", v.Code)
			pressed.Add(v.Code)
		case event.KeyUp:
			require.True(t, pressed.Has(v.Code), "key_up for %s without key_down", v.Code)
			pressed.Remove(v.Code)
		}
	}
}

func TestEdgeReplayReconstructsKeySets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pool := []event.KeyCode{event.KeyA, event.KeyS, event.KeyD, event.KeyLShift, event.KeySpace, event.KeyF1}

	dev := NewSimulated()
	s, rec := newTestSampler(t, dev, IdleNever)
	pressed := event.NewKeySet()

	for tick := 0; tick < 500; tick++ {
		keys := event.NewKeySet()
		for _, k := range pool {
			if rng.Intn(3) == 0 {
				keys.Add(k)
			}
		}
		dev.Push(event.InputSnapshot{Keys: keys, Mouse: event.MouseState{X: int32(rng.Intn(4))}})

		rec.Reset()
		require.NoError(t, s.Step())
		replay(t, pressed, rec.Events())

		require.True(t, keys.Equal(pressed), "tick %d: replay %v, device %v", tick, pressed.Sorted(), keys.Sorted())
		require.True(t, keys.Equal(s.Pressed()), "tick %d: sampler state diverged", tick)
	}
}

func TestDeviceFailureEmitsNothing(t *testing.T) {
	dev := NewSimulated(snap(1, 1, event.KeyA))
	s, rec := newTestSampler(t, dev, IdleAlways)

	dev.FailMouse(errors.New("mouse gone"))
	err := s.Step()
	require.Error(t, err)
	assert.Equal(t, fault.DeviceQuery, fault.KindOf(err))
	assert.Empty(t, rec.Events())
	assert.Equal(t, 0, s.Pressed().Len())

	dev.FailKeys(errors.New("keyboard gone"))
	err = s.Step()
	assert.Equal(t, fault.DeviceQuery, fault.KindOf(err))
	assert.Empty(t, rec.Events())
}

func TestEmitFailureIsNotRetried(t *testing.T) {
	dev := NewSimulated(snap(0, 0, event.KeyA, event.KeyB), snap(0, 0, event.KeyA, event.KeyB), snap(0, 0))
	s, rec := newTestSampler(t, dev, IdleNever)

	sinkErr := errors.New("ui not ready")
	rec.FailWith(func(e event.Event) error {
		if e == (event.KeyDown{Code: event.KeyA}) {
			return sinkErr
		}
		return nil
	})

	err := s.Step()
	require.Error(t, err)
	assert.Equal(t, fault.Emit, fault.KindOf(err))
	assert.ErrorIs(t, err, sinkErr)
	assert.True(t, s.Pressed().Equal(event.NewKeySet(event.KeyA, event.KeyB)))
	assert.Equal(t, []event.Event{event.KeyDown{Code: event.KeyB}}, rec.Events())

	rec.FailWith(nil)
	rec.Reset()
	require.NoError(t, s.Step())
	assert.Empty(t, rec.Events())

	require.NoError(t, s.Step())
	assert.Equal(t, []event.Event{
		event.KeyUp{Code: event.KeyA},
		event.KeyUp{Code: event.KeyB},
	}, rec.Events())

	belief := s.Snapshot()
	assert.Equal(t, 0, belief.Keys.Len())
	assert.Equal(t, event.MouseState{}, belief.Mouse)
}

func TestFanoutWithFlakyOutputKeepsEdgesUnique(t *testing.T) {
	good := event.NewRecorder()
	flaky := event.NewRecorder()
	failed := false
	flaky.FailWith(func(event.Event) error {
		if !failed {
			failed = true
			return errors.New("dbus hiccup")
		}
		return nil
	})

	dev := NewSimulated(
		snap(2, 2, event.KeyA),
		snap(2, 2, event.KeyA),
		snap(3, 2),
	)
	s, err := NewSampler(Options{Device: dev, Sink: sink.Fanout{good, flaky}})
	require.NoError(t, err)

	err = s.Step()
	require.Error(t, err)
	assert.Equal(t, fault.Emit, fault.KindOf(err))
	require.NoError(t, s.Step())
	require.NoError(t, s.Step())

	assert.Equal(t, []event.Event{
		event.MouseMove{Coords: event.MouseState{X: 2, Y: 2}},
		event.KeyDown{Code: event.KeyA},
		event.MouseMove{Coords: event.MouseState{X: 3, Y: 2}},
		event.KeyUp{Code: event.KeyA},
	}, good.Events())
	replay(t, event.NewKeySet(), good.Events())

	// The rejected mouse_move is lost for the flaky output, not re-sent.
	assert.Equal(t, []event.Event{
		event.KeyDown{Code: event.KeyA},
		event.MouseMove{Coords: event.MouseState{X: 3, Y: 2}},
		event.KeyUp{Code: event.KeyA},
	}, flaky.Events())
}

func TestRunStopsOnCancel(t *testing.T) {
	dev := NewLoopingSimulated(DemoScript(60, 100, 100, 20)...)
	rec := event.NewRecorder()
	m := metrics.NewTelemetryMetrics(metrics.NewRegistry("test"))
	ticks := 0
	s, err := NewSampler(Options{
		Device:      dev,
		Sink:        rec,
		MinInterval: time.Millisecond,
		Metrics:     m,
		OnTick:      func(time.Time) { ticks++ },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Greater(t, ticks, 0)
	assert.NotEmpty(t, rec.Events())
	replay(t, event.NewKeySet(), rec.Events())
	assert.Greater(t, m.EventCount(event.KindMouseMove), uint64(0))
}

func TestRunBusyPollStopsOnCancel(t *testing.T) {
	s, _ := newTestSampler(t, NewLoopingSimulated(snap(0, 0)), IdleNever)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestRunGivesUpAfterConsecutiveFaults(t *testing.T) {
	dev := NewSimulated()
	for i := 0; i < 5; i++ {
		dev.FailKeys(errors.New("EIO"))
	}
	s, err := NewSampler(Options{
		Device:      dev,
		Sink:        event.NewRecorder(),
		MinInterval: time.Millisecond,
		Policy:      fault.Policy{MaxConsecutive: 3, InitialBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrTooManyFaults)
	assert.Equal(t, fault.DeviceQuery, fault.KindOf(err))
}

func TestParseIdleMode(t *testing.T) {
	for in, want := range map[string]IdleMode{
		"":          IdleNever,
		"never":     IdleNever,
		"ALWAYS":    IdleAlways,
		"keys_held": IdleWhileKeysHeld,
	} {
		got, err := ParseIdleMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseIdleMode("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "keys_held", IdleWhileKeysHeld.String())
}

package brightness

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetryd/internal/event"
	"telemetryd/internal/fault"
	"telemetryd/internal/sink"
)

// fakeCapturer returns uniform frames at a fixed level per display.
type fakeCapturer struct {
	mu          sync.Mutex
	displays    []Display
	levels      map[string]uint8
	listErr     error
	captureErrs map[string]error
	captures    int
}

func newFakeCapturer(ids ...string) *fakeCapturer {
	f := &fakeCapturer{levels: map[string]uint8{}, captureErrs: map[string]error{}}
	for i, id := range ids {
		f.displays = append(f.displays, Display{ID: id, Name: id, Bounds: image.Rect(i*4, 0, i*4+4, 4)})
		f.levels[id] = uint8(50 * (i + 1))
	}
	return f
}

func (f *fakeCapturer) Displays(ctx context.Context) ([]Display, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Display(nil), f.displays...), nil
}

func (f *fakeCapturer) Capture(ctx context.Context, d Display) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if err := f.captureErrs[d.ID]; err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, d.Bounds.Dx(), d.Bounds.Dy()))
	for i := range img.Pix {
		img.Pix[i] = f.levels[d.ID]
	}
	return img, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBrightness(t *testing.T, capt Capturer, out event.Sink) *Sampler {
	t.Helper()
	s, err := NewSampler(Options{Capturer: capt, Sink: out, Interval: 100 * time.Millisecond})
	require.NoError(t, err)
	return s
}

func TestNewSamplerValidation(t *testing.T) {
	_, err := NewSampler(Options{Sink: event.NewRecorder()})
	assert.Error(t, err)
	_, err = NewSampler(Options{Capturer: newFakeCapturer("a")})
	assert.Error(t, err)
	_, err = NewSampler(Options{Capturer: newFakeCapturer("a"), Sink: event.NewRecorder(), Interval: -time.Second})
	assert.Error(t, err)

	s, err := NewSampler(Options{Capturer: newFakeCapturer("a"), Sink: event.NewRecorder()})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.Interval())
}

func TestStepEmitsPerDisplayInOrder(t *testing.T) {
	capt := newFakeCapturer("DP-1", "HDMI-1")
	rec := event.NewRecorder()
	s := newTestBrightness(t, capt, rec)

	now := time.Unix(1000, 0)
	attempted, err := s.Step(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, attempted)
	assert.Equal(t, now, s.LastCapture())

	events := rec.Events()
	require.Len(t, events, 2)
	first := events[0].(event.ScreenBrightness)
	second := events[1].(event.ScreenBrightness)
	assert.Equal(t, "DP-1", first.Display)
	assert.InDelta(t, 50.0, first.Sample.Mean, 1e-9)
	assert.Equal(t, "HDMI-1", second.Display)
	assert.InDelta(t, 100.0, second.Sample.Median, 1e-9)
}

func TestStepCadence(t *testing.T) {
	capt := newFakeCapturer("DP-1")
	rec := event.NewRecorder()
	s := newTestBrightness(t, capt, rec)
	ctx := context.Background()
	start := time.Unix(1000, 0)

	// Checks every 10ms over one second capture exactly ten times.
	var captures []time.Time
	for i := 0; i < 100; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Millisecond)
		attempted, err := s.Step(ctx, now)
		require.NoError(t, err)
		if attempted {
			captures = append(captures, now)
		}
	}
	require.Len(t, captures, 10)
	for i := 1; i < len(captures); i++ {
		assert.GreaterOrEqual(t, captures[i].Sub(captures[i-1]), 100*time.Millisecond)
	}
	assert.Len(t, rec.Events(), 10)
}

func TestStepPartialDisplayFailure(t *testing.T) {
	capt := newFakeCapturer("one", "two", "three")
	capt.captureErrs["two"] = errors.New("display vanished")
	rec := event.NewRecorder()
	s := newTestBrightness(t, capt, rec)

	now := time.Unix(1000, 0)
	attempted, err := s.Step(context.Background(), now)
	assert.True(t, attempted)
	require.Error(t, err)
	assert.Equal(t, fault.Capture, fault.KindOf(err))
	assert.Contains(t, err.Error(), "two")

	var ids []string
	for _, e := range rec.Events() {
		ids = append(ids, e.(event.ScreenBrightness).Display)
	}
	assert.Equal(t, []string{"one", "three"}, ids)
	assert.Equal(t, now, s.LastCapture(), "partial failure still counts for the cadence")
}

func TestStepEnumerationFailureRetries(t *testing.T) {
	capt := newFakeCapturer("one")
	capt.listErr = errors.New("bus gone")
	rec := event.NewRecorder()
	s := newTestBrightness(t, capt, rec)

	now := time.Unix(1000, 0)
	_, err := s.Step(context.Background(), now)
	require.Error(t, err)
	assert.Equal(t, fault.Capture, fault.KindOf(err))
	assert.True(t, s.LastCapture().IsZero())

	capt.mu.Lock()
	capt.listErr = nil
	capt.mu.Unlock()

	attempted, err := s.Step(context.Background(), now.Add(time.Millisecond))
	require.NoError(t, err)
	assert.True(t, attempted)
	assert.Len(t, rec.Events(), 1)
}

func TestStepEmitFailureKeepsOtherDisplays(t *testing.T) {
	capt := newFakeCapturer("one", "two", "three")
	capt.captureErrs["three"] = errors.New("crtc off")
	rec := event.NewRecorder()
	sinkErr := errors.New("consumer gone")
	rec.FailWith(func(e event.Event) error {
		if e.(event.ScreenBrightness).Display == "one" {
			return sinkErr
		}
		return nil
	})
	s := newTestBrightness(t, capt, rec)
	now := time.Unix(1000, 0)

	_, err := s.Step(context.Background(), now)
	require.Error(t, err)
	assert.Equal(t, fault.Emit, fault.KindOf(err))
	assert.ErrorIs(t, err, sinkErr)
	assert.ErrorContains(t, err, "crtc off")
	assert.Equal(t, 3, capt.captures)
	assert.Equal(t, now, s.LastCapture())

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "two", events[0].(event.ScreenBrightness).Display)
}

func TestStepFanoutDeliversAllDisplaysToHealthyOutput(t *testing.T) {
	good := event.NewRecorder()
	broken := event.NewRecorder()
	broken.FailWith(func(event.Event) error { return errors.New("dbus disconnected") })
	s := newTestBrightness(t, newFakeCapturer("one", "two", "three"), sink.Fanout{broken, good})

	_, err := s.Step(context.Background(), time.Unix(1000, 0))
	assert.Equal(t, fault.Emit, fault.KindOf(err))

	var ids []string
	for _, e := range good.Events() {
		ids = append(ids, e.(event.ScreenBrightness).Display)
	}
	assert.Equal(t, []string{"one", "two", "three"}, ids)
}

func TestSetInterval(t *testing.T) {
	s := newTestBrightness(t, newFakeCapturer("one"), event.NewRecorder())
	ctx := context.Background()
	start := time.Unix(1000, 0)

	_, err := s.Step(ctx, start)
	require.NoError(t, err)

	s.SetInterval(time.Second)
	assert.Equal(t, time.Second, s.Interval())
	s.SetInterval(0)
	assert.Equal(t, time.Second, s.Interval())

	attempted, _ := s.Step(ctx, start.Add(500*time.Millisecond))
	assert.False(t, attempted)
	attempted, _ = s.Step(ctx, start.Add(time.Second))
	assert.True(t, attempted)
}

func TestRunWithFakeClock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rec := event.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int
	s, err := NewSampler(Options{
		Capturer: newFakeCapturer("one"),
		Sink:     rec,
		Interval: 100 * time.Millisecond,
		Clock:    clock.Now,
		Sleeper: func(ctx context.Context, d time.Duration) error {
			clock.Advance(d)
			return ctx.Err()
		},
		OnTick: func(time.Time) {
			ticks++
			if ticks == 5 {
				cancel()
			}
		},
	})
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 5, ticks)
	assert.Len(t, rec.Events(), 5)
	assert.Equal(t, time.Unix(1000, 0).Add(400*time.Millisecond), s.LastCapture())
}

func TestRunGivesUp(t *testing.T) {
	capt := newFakeCapturer("one")
	capt.listErr = errors.New("no compositor")
	clock := &fakeClock{now: time.Unix(1000, 0)}

	s, err := NewSampler(Options{
		Capturer: capt,
		Sink:     event.NewRecorder(),
		Clock:    clock.Now,
		Sleeper: func(ctx context.Context, d time.Duration) error {
			clock.Advance(d)
			return ctx.Err()
		},
		Policy: fault.Policy{MaxConsecutive: 3, InitialBackoff: time.Millisecond},
	})
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrTooManyFaults)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestBrightness(t, newFakeCapturer("one"), event.NewRecorder())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSyntheticCapturer(t *testing.T) {
	syn := NewSynthetic(2, 32, 16)
	ctx := context.Background()

	displays, err := syn.Displays(ctx)
	require.NoError(t, err)
	require.Len(t, displays, 2)
	assert.Equal(t, "synthetic-0", displays[0].ID)
	assert.Equal(t, image.Rect(32, 0, 64, 16), displays[1].Bounds)

	img, err := syn.Capture(ctx, displays[1])
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	s, err := Analyze(img)
	require.NoError(t, err)
	assert.Greater(t, s.StdDev, 0.0)

	_, err = syn.Capture(ctx, Display{ID: "missing"})
	assert.Error(t, err)
}

func TestDisplaysFromResources(t *testing.T) {
	crtcs := []mutterCRTC{
		{ID: 0, X: 0, Y: 0, Width: 1920, Height: 1080, CurrentMode: 3},
		{ID: 1, X: 1920, Y: 0, Width: 2560, Height: 1440, CurrentMode: 7},
		{ID: 2, CurrentMode: -1},
	}
	outputs := []mutterOutput{
		{ID: 10, Name: "eDP-1", CurrentCRTC: 0, Properties: map[string]dbus.Variant{
			"display-name": dbus.MakeVariant("Built-in display"),
		}},
		{ID: 11, Name: "DP-2", CurrentCRTC: 1},
		{ID: 12, Name: "HDMI-1", CurrentCRTC: -1},
		{ID: 13, Name: "DP-3", CurrentCRTC: 2},
	}

	displays := displaysFromResources(crtcs, outputs)
	require.Len(t, displays, 2)
	assert.Equal(t, Display{ID: "eDP-1", Name: "Built-in display", Bounds: image.Rect(0, 0, 1920, 1080)}, displays[0])
	assert.Equal(t, Display{ID: "DP-2", Name: "DP-2", Bounds: image.Rect(1920, 0, 4480, 1440)}, displays[1])
}

func TestIsAccessDenied(t *testing.T) {
	denied := dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}
	assert.True(t, isAccessDenied(denied))
	assert.True(t, isAccessDenied(&denied))
	assert.False(t, isAccessDenied(dbus.Error{Name: "org.freedesktop.DBus.Error.Failed"}))
	assert.False(t, isAccessDenied(errors.New("plain")))
}

func TestReadFBGeometry(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("virtual_size", "1280,800\n")
	write("bits_per_pixel", "32\n")
	write("name", "simpledrmdrmfb\n")

	g, err := readFBGeometry(dir)
	require.NoError(t, err)
	assert.Equal(t, fbGeometry{Name: "simpledrmdrmfb", Width: 1280, Height: 800, BPP: 32, Stride: 5120}, g)

	write("stride", "5376\n")
	g, err = readFBGeometry(dir)
	require.NoError(t, err)
	assert.Equal(t, 5376, g.Stride)

	write("virtual_size", "garbage")
	_, err = readFBGeometry(dir)
	assert.Error(t, err)
}

package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetryd/internal/event"
	"telemetryd/internal/metrics"
)

func sampleEvents() []event.Event {
	return []event.Event{
		event.MouseMove{Coords: event.MouseState{X: 10, Y: -4}},
		event.KeyDown{Code: event.KeyA},
		event.KeyUp{Code: event.KeyA},
		event.MouseIdle{Coords: event.MouseState{X: 10, Y: -4}},
		event.ScreenBrightness{Display: "DP-1", Sample: event.BrightnessSample{Mean: 25, Median: 25, StdDev: 11.180339887498949}},
	}
}

func TestJSONLinesMatchesSchema(t *testing.T) {
	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource(event.SchemaURL, bytes.NewReader(event.Schema)))
	schema, err := compiler.Compile(event.SchemaURL)
	require.NoError(t, err)

	var buf bytes.Buffer
	s := NewJSONLines(&buf)
	for _, e := range sampleEvents() {
		require.NoError(t, s.Emit(e))
	}

	scanner := bufio.NewScanner(&buf)
	var decoded []event.Event
	for scanner.Scan() {
		line := scanner.Bytes()
		var doc interface{}
		require.NoError(t, json.Unmarshal(line, &doc))
		assert.NoError(t, schema.Validate(doc), "line %s", line)

		e, err := event.Decode(line)
		require.NoError(t, err)
		decoded = append(decoded, e)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, sampleEvents(), decoded)
}

func TestJSONLinesWireShape(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLines(&buf)
	require.NoError(t, s.Emit(event.KeyDown{Code: event.KeyA}))
	require.NoError(t, s.Emit(event.MouseMove{Coords: event.MouseState{X: 3, Y: 4}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"key_down","payload":{"code":"A"}}`, lines[0])
	assert.JSONEq(t, `{"event":"mouse_move","payload":{"coords":[3,4]}}`, lines[1])
}

func TestJSONLinesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	s, err := OpenJSONLines(path)
	require.NoError(t, err)
	require.NoError(t, s.Emit(event.KeyUp{Code: event.KeySpace}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Emit(event.KeyUp{Code: event.KeySpace}), event.ErrSinkClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"key_up","payload":{"code":"Space"}}`, strings.TrimSpace(string(data)))
}

func TestJSONLinesConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLines(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Emit(event.MouseMove{Coords: event.MouseState{X: int32(j), Y: int32(j)}})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
	for _, line := range lines {
		_, err := event.Decode([]byte(line))
		require.NoError(t, err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewLog(logger, slog.LevelInfo)

	require.NoError(t, s.Emit(event.ScreenBrightness{Display: "fb0", Sample: event.BrightnessSample{Mean: 1, Median: 2, StdDev: 3}}))
	require.NoError(t, s.Emit(event.KeyDown{Code: event.KeyLShift}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "screen_brightness", rec["event"])
	assert.Equal(t, "fb0", rec["display"])
	assert.Equal(t, 2.0, rec["median"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "LShift", rec["code"])
}

func TestChannelNonBlocking(t *testing.T) {
	m := metrics.NewTelemetryMetrics(metrics.NewRegistry("test"))
	c := NewChannel("ui", 2, m)

	require.NoError(t, c.Emit(event.KeyDown{Code: event.KeyA}))
	require.NoError(t, c.Emit(event.KeyUp{Code: event.KeyA}))
	assert.ErrorIs(t, c.Emit(event.KeyDown{Code: event.KeyB}), event.ErrSinkFull)

	assert.Equal(t, event.KeyDown{Code: event.KeyA}, <-c.C())
	require.NoError(t, c.Emit(event.KeyDown{Code: event.KeyB}))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Emit(event.KeyDown{Code: event.KeyC}), event.ErrSinkClosed)

	var rest []event.Event
	for e := range c.C() {
		rest = append(rest, e)
	}
	assert.Equal(t, []event.Event{event.KeyUp{Code: event.KeyA}, event.KeyDown{Code: event.KeyB}}, rest)

	var out bytes.Buffer
	require.NoError(t, m.Registry().WritePrometheus(&out))
	assert.Contains(t, out.String(), `test_sink_dropped_total{sink="ui"} 1`)
}

type closingSink struct {
	event.Recorder
	closed bool
}

func (c *closingSink) Close() error {
	c.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	a := event.NewRecorder()
	b := &closingSink{}
	failing := event.SinkFunc(func(event.Event) error { return errors.New("broken pipe") })

	f := Fanout{a, failing, b}
	err := f.Emit(event.KeyDown{Code: event.KeyA})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)

	require.NoError(t, f.Close())
	assert.True(t, b.closed)

	assert.NoError(t, Fanout{a}.Emit(event.KeyUp{Code: event.KeyA}))
}

type fakeEmitter struct {
	path  dbus.ObjectPath
	names []string
	args  [][]interface{}
	err   error
}

func (f *fakeEmitter) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.path = path
	f.names = append(f.names, name)
	f.args = append(f.args, values)
	return nil
}

func TestDBusSignals(t *testing.T) {
	em := &fakeEmitter{}
	d := &DBus{path: DBusPath, emitter: em}

	for _, e := range sampleEvents() {
		require.NoError(t, d.Emit(e))
	}
	assert.Equal(t, DBusPath, em.path)
	assert.Equal(t, []string{
		"org.telemetryd.Sampler1.MouseMove",
		"org.telemetryd.Sampler1.KeyDown",
		"org.telemetryd.Sampler1.KeyUp",
		"org.telemetryd.Sampler1.MouseIdle",
		"org.telemetryd.Sampler1.ScreenBrightness",
	}, em.names)
	assert.Equal(t, []interface{}{int32(10), int32(-4)}, em.args[0])
	assert.Equal(t, []interface{}{"A"}, em.args[1])
	assert.Equal(t, []interface{}{"DP-1", 25.0, 25.0, 11.180339887498949}, em.args[4])

	em.err = errors.New("disconnected")
	assert.ErrorIs(t, d.Emit(event.KeyDown{Code: event.KeyA}), em.err)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Emit(event.KeyDown{Code: event.KeyA}), event.ErrSinkClosed)
}

func TestIntrospectionCoversEveryKind(t *testing.T) {
	node := introspectNode()
	require.Len(t, node.Interfaces, 2)
	var names []string
	for _, s := range node.Interfaces[1].Signals {
		names = append(names, s.Name)
	}
	for _, k := range event.Kinds {
		assert.Contains(t, names, dbusMembers[k])
	}
}

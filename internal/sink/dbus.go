package sink

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"telemetryd/internal/event"
)

// D-Bus identity of the signal emitter.
const (
	DBusName      = "org.telemetryd"
	DBusInterface = "org.telemetryd.Sampler1"
	DBusPath      = dbus.ObjectPath("/org/telemetryd/Sampler")
)

// Signal member names, one per event kind.
var dbusMembers = map[event.Kind]string{
	event.KindKeyDown:          "KeyDown",
	event.KindKeyUp:            "KeyUp",
	event.KindMouseMove:        "MouseMove",
	event.KindMouseIdle:        "MouseIdle",
	event.KindScreenBrightness: "ScreenBrightness",
}

// signalEmitter is the part of *dbus.Conn the sink needs.
type signalEmitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// DBus broadcasts every event as a signal on the session bus so desktop
// shells can subscribe with a match rule.
type DBus struct {
	path    dbus.ObjectPath
	emitter signalEmitter
	conn    *dbus.Conn

	mu     sync.Mutex
	closed bool
}

// OpenDBus connects to the session bus, claims DBusName and exports
// introspection data for path. An empty path uses DBusPath.
func OpenDBus(path string) (*DBus, error) {
	objPath := DBusPath
	if path != "" {
		objPath = dbus.ObjectPath(path)
	}
	if !objPath.IsValid() {
		return nil, fmt.Errorf("invalid D-Bus object path %q", path)
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	reply, err := conn.RequestName(DBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", DBusName)
	}
	if err := conn.Export(introspect.NewIntrospectable(introspectNode()), objPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	return &DBus{path: objPath, emitter: conn, conn: conn}, nil
}

func introspectNode() *introspect.Node {
	keyArgs := []introspect.Arg{{Name: "code", Type: "s"}}
	mouseArgs := []introspect.Arg{{Name: "x", Type: "i"}, {Name: "y", Type: "i"}}
	return &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: DBusInterface,
				Signals: []introspect.Signal{
					{Name: "KeyDown", Args: keyArgs},
					{Name: "KeyUp", Args: keyArgs},
					{Name: "MouseMove", Args: mouseArgs},
					{Name: "MouseIdle", Args: mouseArgs},
					{Name: "ScreenBrightness", Args: []introspect.Arg{
						{Name: "display", Type: "s"},
						{Name: "mean", Type: "d"},
						{Name: "median", Type: "d"},
						{Name: "stddev", Type: "d"},
					}},
				},
			},
		},
	}
}

// signalArgs returns the member name and body of the signal for e.
func signalArgs(e event.Event) (string, []interface{}, error) {
	member, ok := dbusMembers[e.Kind()]
	if !ok {
		return "", nil, fmt.Errorf("no signal for event %q", e.Kind())
	}
	name := DBusInterface + "." + member
	switch v := e.(type) {
	case event.KeyDown:
		return name, []interface{}{v.Code.String()}, nil
	case event.KeyUp:
		return name, []interface{}{v.Code.String()}, nil
	case event.MouseMove:
		return name, []interface{}{v.Coords.X, v.Coords.Y}, nil
	case event.MouseIdle:
		return name, []interface{}{v.Coords.X, v.Coords.Y}, nil
	case event.ScreenBrightness:
		return name, []interface{}{v.Display, v.Sample.Mean, v.Sample.Median, v.Sample.StdDev}, nil
	}
	return "", nil, fmt.Errorf("unsupported event type %T", e)
}

// Emit sends the signal for e.
func (d *DBus) Emit(e event.Event) error {
	name, args, err := signalArgs(e)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return event.ErrSinkClosed
	}
	if err := d.emitter.Emit(d.path, name, args...); err != nil {
		return fmt.Errorf("emit %s: %w", name, err)
	}
	return nil
}

// Close releases the bus name and connection.
func (d *DBus) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.conn == nil {
		return nil
	}
	_, _ = d.conn.ReleaseName(DBusName)
	return d.conn.Close()
}

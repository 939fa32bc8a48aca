package brightness

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

// D-Bus names used by the GNOME Shell backend.
const (
	displayConfigDest  = "org.gnome.Mutter.DisplayConfig"
	displayConfigPath  = dbus.ObjectPath("/org/gnome/Mutter/DisplayConfig")
	getResourcesMethod = "org.gnome.Mutter.DisplayConfig.GetResources"

	screenshotDest   = "org.gnome.Shell.Screenshot"
	screenshotPath   = dbus.ObjectPath("/org/gnome/Shell/Screenshot")
	screenshotMethod = "org.gnome.Shell.Screenshot.ScreenshotArea"
)

// mutterCRTC mirrors (uxiiiiiuaua{sv}).
type mutterCRTC struct {
	ID               uint32
	WinsysID         int64
	X                int32
	Y                int32
	Width            int32
	Height           int32
	CurrentMode      int32
	CurrentTransform uint32
	Transforms       []uint32
	Properties       map[string]dbus.Variant
}

// mutterOutput mirrors (uxiausauaua{sv}).
type mutterOutput struct {
	ID            uint32
	WinsysID      int64
	CurrentCRTC   int32
	PossibleCRTCs []uint32
	Name          string
	Modes         []uint32
	Clones        []uint32
	Properties    map[string]dbus.Variant
}

// mutterMode mirrors (uxuudu).
type mutterMode struct {
	ID        uint32
	WinsysID  int64
	Width     uint32
	Height    uint32
	Frequency float64
	Flags     uint32
}

// GnomeShell captures displays through the GNOME Shell screenshot service
// on the session bus. Monitors are enumerated from Mutter's display
// configuration, so each one is captured and reported separately.
type GnomeShell struct {
	conn    *dbus.Conn
	tempDir string
	seq     atomic.Uint64
}

// NewGnomeShell connects to the session bus.
func NewGnomeShell() (*GnomeShell, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect session bus: %v", ErrNotAvailable, err)
	}
	if !hasOwner(conn, screenshotDest) || !hasOwner(conn, displayConfigDest) {
		conn.Close()
		return nil, fmt.Errorf("%w: GNOME Shell screenshot service not on the session bus", ErrNotAvailable)
	}
	dir, err := os.MkdirTemp("", "telemetryd-capture-")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &GnomeShell{conn: conn, tempDir: dir}, nil
}

func hasOwner(conn *dbus.Conn, name string) bool {
	var owned bool
	err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&owned)
	return err == nil && owned
}

// Displays lists the outputs that are driven by an active CRTC.
func (g *GnomeShell) Displays(ctx context.Context) ([]Display, error) {
	var (
		serial  uint32
		crtcs   []mutterCRTC
		outputs []mutterOutput
		modes   []mutterMode
		maxW    int32
		maxH    int32
	)
	obj := g.conn.Object(displayConfigDest, displayConfigPath)
	call := obj.CallWithContext(ctx, getResourcesMethod, 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetResources: %w", call.Err)
	}
	if err := call.Store(&serial, &crtcs, &outputs, &modes, &maxW, &maxH); err != nil {
		return nil, fmt.Errorf("decode GetResources: %w", err)
	}
	return displaysFromResources(crtcs, outputs), nil
}

func displaysFromResources(crtcs []mutterCRTC, outputs []mutterOutput) []Display {
	byID := make(map[uint32]mutterCRTC, len(crtcs))
	for _, c := range crtcs {
		byID[c.ID] = c
	}

	var displays []Display
	for _, o := range outputs {
		if o.CurrentCRTC < 0 {
			continue
		}
		c, ok := byID[uint32(o.CurrentCRTC)]
		if !ok || c.CurrentMode < 0 || c.Width <= 0 || c.Height <= 0 {
			continue
		}
		name := o.Name
		if v, ok := o.Properties["display-name"]; ok {
			if s, ok := v.Value().(string); ok && s != "" {
				name = s
			}
		}
		displays = append(displays, Display{
			ID:     o.Name,
			Name:   name,
			Bounds: image.Rect(int(c.X), int(c.Y), int(c.X+c.Width), int(c.Y+c.Height)),
		})
	}
	return displays
}

// Capture asks the shell to write the display area to a PNG and decodes
// it.
func (g *GnomeShell) Capture(ctx context.Context, d Display) (image.Image, error) {
	path := filepath.Join(g.tempDir, fmt.Sprintf("frame-%d.png", g.seq.Add(1)))
	defer os.Remove(path)

	var (
		success bool
		used    string
	)
	r := d.Bounds
	obj := g.conn.Object(screenshotDest, screenshotPath)
	call := obj.CallWithContext(ctx, screenshotMethod, 0,
		int32(r.Min.X), int32(r.Min.Y), int32(r.Dx()), int32(r.Dy()), false, path)
	if call.Err != nil {
		if isAccessDenied(call.Err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionRequired, call.Err)
		}
		return nil, fmt.Errorf("ScreenshotArea: %w", call.Err)
	}
	if err := call.Store(&success, &used); err != nil {
		return nil, fmt.Errorf("decode ScreenshotArea: %w", err)
	}
	if !success {
		return nil, fmt.Errorf("screenshot of %s refused by shell", d.ID)
	}
	if used == "" {
		used = path
	} else if used != path {
		defer os.Remove(used)
	}

	f, err := os.Open(used)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

func isAccessDenied(err error) bool {
	const denied = "org.freedesktop.DBus.Error.AccessDenied"
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name == denied
	}
	var p *dbus.Error
	if errors.As(err, &p) {
		return p.Name == denied
	}
	return false
}

// Close releases the bus connection and the scratch directory.
func (g *GnomeShell) Close() error {
	err := g.conn.Close()
	if rmErr := os.RemoveAll(g.tempDir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

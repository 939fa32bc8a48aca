//go:build linux

package brightness

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

const graphicsClassDir = "/sys/class/graphics"

// Framebuffer captures /dev/fbN devices by mapping their memory. It works
// on consoles and kiosk sessions without a compositor.
type Framebuffer struct {
	sysRoot string
	devRoot string
}

// NewFramebuffer returns a capturer if at least one framebuffer exists.
func NewFramebuffer() (*Framebuffer, error) {
	fb := &Framebuffer{sysRoot: graphicsClassDir, devRoot: "/dev"}
	matches, err := filepath.Glob(filepath.Join(fb.sysRoot, "fb*"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("%w: no framebuffer devices", ErrNotAvailable)
	}
	return fb, nil
}

// Displays lists framebuffers in device order.
func (f *Framebuffer) Displays(ctx context.Context) ([]Display, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(f.sysRoot, "fb*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	displays := make([]Display, 0, len(matches))
	for _, dir := range matches {
		g, err := readFBGeometry(dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		id := filepath.Base(dir)
		name := g.Name
		if name == "" {
			name = id
		}
		displays = append(displays, Display{
			ID:     id,
			Name:   name,
			Bounds: image.Rect(0, 0, g.Width, g.Height),
		})
	}
	return displays, nil
}

// Capture maps the device read-only and converts the visible area.
func (f *Framebuffer) Capture(ctx context.Context, d Display) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := readFBGeometry(filepath.Join(f.sysRoot, d.ID))
	if err != nil {
		return nil, err
	}

	dev, err := os.Open(filepath.Join(f.devRoot, d.ID))
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v (need the video group)", ErrPermissionRequired, err)
		}
		return nil, err
	}
	defer dev.Close()

	size := g.Stride * g.Height
	mem, err := unix.Mmap(int(dev.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", d.ID, err)
	}
	defer unix.Munmap(mem)

	return decodeFramebuffer(mem, g)
}

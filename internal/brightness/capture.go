package brightness

import (
	"context"
	"errors"
	"image"
)

// Display identifies one attached screen.
type Display struct {
	// ID is stable for the lifetime of the display and is reported in
	// ScreenBrightness events.
	ID     string
	Name   string
	Bounds image.Rectangle
}

// Capturer enumerates displays and captures still frames from them.
// Capture may take tens of milliseconds.
type Capturer interface {
	Displays(ctx context.Context) ([]Display, error)
	Capture(ctx context.Context, d Display) (image.Image, error)
}

// ErrNotAvailable is returned when a capture backend cannot run here.
var ErrNotAvailable = errors.New("screen capture backend not available")

// ErrPermissionRequired indicates the compositor refused the capture.
var ErrPermissionRequired = errors.New("screen capture permission required")

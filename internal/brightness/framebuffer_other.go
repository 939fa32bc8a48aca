//go:build !linux

package brightness

import (
	"context"
	"image"
)

// Framebuffer is only available on Linux.
type Framebuffer struct{}

// NewFramebuffer always fails outside Linux.
func NewFramebuffer() (*Framebuffer, error) {
	return nil, ErrNotAvailable
}

func (*Framebuffer) Displays(context.Context) ([]Display, error) {
	return nil, ErrNotAvailable
}

func (*Framebuffer) Capture(context.Context, Display) (image.Image, error) {
	return nil, ErrNotAvailable
}

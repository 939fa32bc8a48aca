package brightness

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"
)

// Synthetic renders gradient frames whose overall brightness drifts slowly
// over time, one phase-shifted pattern per display. It backs the
// --simulate mode and needs no compositor.
type Synthetic struct {
	displays []Display
	period   time.Duration
	clock    func() time.Time
	epoch    time.Time
}

// NewSynthetic creates count displays of width x height pixels laid out
// side by side.
func NewSynthetic(count, width, height int) *Synthetic {
	if count <= 0 {
		count = 1
	}
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 200
	}
	displays := make([]Display, count)
	for i := range displays {
		displays[i] = Display{
			ID:     fmt.Sprintf("synthetic-%d", i),
			Name:   fmt.Sprintf("Synthetic display %d", i),
			Bounds: image.Rect(i*width, 0, (i+1)*width, height),
		}
	}
	return &Synthetic{
		displays: displays,
		period:   10 * time.Second,
		clock:    time.Now,
		epoch:    time.Now(),
	}
}

// Displays returns the configured displays.
func (s *Synthetic) Displays(ctx context.Context) ([]Display, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Display, len(s.displays))
	copy(out, s.displays)
	return out, nil
}

// Capture renders the current frame of d.
func (s *Synthetic) Capture(ctx context.Context, d Display) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	index := -1
	for i, known := range s.displays {
		if known.ID == d.ID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("unknown display %q", d.ID)
	}

	w, h := d.Bounds.Dx(), d.Bounds.Dy()
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	phase := 2*math.Pi*float64(s.clock().Sub(s.epoch))/float64(s.period) + float64(index)*math.Pi/2
	offset := 64 * math.Sin(phase)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			base := 128 + 96*float64(x)/float64(max(w-1, 1)) - 48 + offset
			v := uint8(math.Max(0, math.Min(255, base)))
			i := x * 4
			row[i] = v
			row[i+1] = uint8(float64(v) * 0.9)
			row[i+2] = uint8(float64(v) * 0.8)
			row[i+3] = 0xff
		}
	}
	return img, nil
}

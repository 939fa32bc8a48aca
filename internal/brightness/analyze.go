// Package brightness reduces captured display frames to luma statistics
// and samples every attached display on a fixed cadence.
package brightness

import (
	"errors"
	"image"
	"image/color"
	"math"

	"telemetryd/internal/event"
)

// Luma coefficients (ITU-R BT.601).
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// ErrEmptyFrame is returned for frames without pixels.
var ErrEmptyFrame = errors.New("frame has no pixels")

// Gray converts an 8-bit RGB triple to its rounded luma value. Alpha is not
// an input.
func Gray(r, g, b uint8) uint8 {
	v := math.Round(lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(b))
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Histogram counts gray values of one frame.
type Histogram [256]uint64

// Total returns the number of counted pixels.
func (h *Histogram) Total() uint64 {
	var n uint64
	for _, c := range h {
		n += c
	}
	return n
}

// HistogramOf converts every pixel of img to gray and counts the values.
func HistogramOf(img image.Image) *Histogram {
	var h Histogram
	bounds := img.Bounds()
	if bounds.Empty() {
		return &h
	}

	switch src := img.(type) {
	case *image.RGBA:
		rgbaRows(&h, src.Pix, src.Stride, bounds.Dx(), bounds.Dy(), src.PixOffset(bounds.Min.X, bounds.Min.Y))
	case *image.NRGBA:
		// Colour channels are stored unpremultiplied; alpha is ignored
		// either way.
		rgbaRows(&h, src.Pix, src.Stride, bounds.Dx(), bounds.Dy(), src.PixOffset(bounds.Min.X, bounds.Min.Y))
	case *image.Gray:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			row := src.Pix[src.PixOffset(bounds.Min.X, y):]
			for x := 0; x < bounds.Dx(); x++ {
				h[row[x]]++
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				h[grayOf(img.At(x, y))]++
			}
		}
	}
	return &h
}

// grayOf converts any colour through its unpremultiplied channels so alpha
// never scales the result.
func grayOf(c color.Color) uint8 {
	switch v := c.(type) {
	case color.NRGBA:
		return Gray(v.R, v.G, v.B)
	case color.NRGBA64:
		return Gray(uint8(v.R>>8), uint8(v.G>>8), uint8(v.B>>8))
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return Gray(n.R, n.G, n.B)
}

func rgbaRows(h *Histogram, pix []uint8, stride, w, ht, start int) {
	for y := 0; y < ht; y++ {
		row := pix[start+y*stride : start+y*stride+w*4]
		for i := 0; i < len(row); i += 4 {
			h[Gray(row[i], row[i+1], row[i+2])]++
		}
	}
}

// Analyze computes the mean, median and population standard deviation of
// the frame's gray values.
func Analyze(img image.Image) (event.BrightnessSample, error) {
	if img == nil {
		return event.BrightnessSample{}, ErrEmptyFrame
	}
	return HistogramOf(img).Sample()
}

// Stats computes the statistics over already converted gray values.
func Stats(grays []uint8) (event.BrightnessSample, error) {
	var h Histogram
	for _, g := range grays {
		h[g]++
	}
	return h.Sample()
}

// Sample derives the statistics from the histogram. The median is the
// middle element of the sorted values, or the mean of the two middle
// elements when the count is even.
func (h *Histogram) Sample() (event.BrightnessSample, error) {
	n := h.Total()
	if n == 0 {
		return event.BrightnessSample{}, ErrEmptyFrame
	}

	var sum float64
	for v, c := range h {
		sum += float64(v) * float64(c)
	}
	mean := sum / float64(n)

	var sq float64
	for v, c := range h {
		if c == 0 {
			continue
		}
		d := float64(v) - mean
		sq += d * d * float64(c)
	}

	var median float64
	if n%2 == 1 {
		median = float64(h.nth(n / 2))
	} else {
		median = (float64(h.nth(n/2-1)) + float64(h.nth(n/2))) / 2
	}

	return event.BrightnessSample{
		Mean:   mean,
		Median: median,
		StdDev: math.Sqrt(sq / float64(n)),
	}, nil
}

// nth returns the k-th smallest value (0-based).
func (h *Histogram) nth(k uint64) uint8 {
	var seen uint64
	for v, c := range h {
		seen += c
		if seen > k {
			return uint8(v)
		}
	}
	return 255
}

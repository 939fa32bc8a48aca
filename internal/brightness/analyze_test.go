package brightness

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGray(t *testing.T) {
	assert.Equal(t, uint8(0), Gray(0, 0, 0))
	assert.Equal(t, uint8(255), Gray(255, 255, 255))
	assert.Equal(t, uint8(76), Gray(255, 0, 0))
	assert.Equal(t, uint8(150), Gray(0, 255, 0))
	assert.Equal(t, uint8(29), Gray(0, 0, 255))
	assert.Equal(t, uint8(128), Gray(128, 128, 128))
}

func TestStatsKnownValues(t *testing.T) {
	s, err := Stats([]uint8{10, 20, 30, 40})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, s.Mean, 1e-9)
	assert.InDelta(t, 25.0, s.Median, 1e-9)
	assert.InDelta(t, math.Sqrt(125), s.StdDev, 1e-9)

	s, err = Stats([]uint8{7, 1, 3})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, s.Median, 1e-9)
}

func TestStatsEmpty(t *testing.T) {
	_, err := Stats(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Analyze(image.NewRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Analyze(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestUniformFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 200, 200, 255
	}
	s, err := Analyze(img)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, s.Mean, 1e-9)
	assert.InDelta(t, 200.0, s.Median, 1e-9)
	assert.InDelta(t, 0.0, s.StdDev, 1e-9)
}

// naiveStats sorts the values, the straightforward definition the histogram
// path must agree with.
func naiveStats(vals []uint8) (mean, median, std float64) {
	sorted := append([]uint8(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	mean = sum / float64(len(sorted))
	var sq float64
	for _, v := range sorted {
		d := float64(v) - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(sorted)))
	n := len(sorted)
	if n%2 == 1 {
		median = float64(sorted[n/2])
	} else {
		median = (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
	}
	return mean, median, std
}

func TestAnalyzeMatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []image.Rectangle{
		image.Rect(0, 0, 1, 1),
		image.Rect(0, 0, 7, 3),
		image.Rect(0, 0, 32, 32),
		image.Rect(5, 5, 20, 12),
	} {
		img := image.NewRGBA(size)
		rng.Read(img.Pix)

		var grays []uint8
		for y := size.Min.Y; y < size.Max.Y; y++ {
			for x := size.Min.X; x < size.Max.X; x++ {
				c := img.RGBAAt(x, y)
				grays = append(grays, Gray(c.R, c.G, c.B))
			}
		}
		mean, median, std := naiveStats(grays)

		s, err := Analyze(img)
		require.NoError(t, err)
		assert.InDelta(t, mean, s.Mean, 1e-9, "mean for %v", size)
		assert.InDelta(t, median, s.Median, 1e-9, "median for %v", size)
		assert.InDelta(t, std, s.StdDev, 1e-9, "stddev for %v", size)

		again, err := Analyze(img)
		require.NoError(t, err)
		assert.Equal(t, s, again)
	}
}

func TestAnalyzeSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			v := uint8(0)
			if x >= 2 {
				v = 255
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	sub := img.SubImage(image.Rect(2, 0, 4, 4))
	s, err := Analyze(sub)
	require.NoError(t, err)
	assert.InDelta(t, 255.0, s.Mean, 1e-9)
}

func TestAnalyzeOtherModels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix[0], gray.Pix[1] = 10, 30
	s, err := Analyze(gray)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, s.Mean, 1e-9)

	// Alpha does not take part in the conversion.
	nrgba := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	nrgba.Pix[0], nrgba.Pix[1], nrgba.Pix[2], nrgba.Pix[3] = 255, 0, 0, 0
	s, err = Analyze(nrgba)
	require.NoError(t, err)
	assert.InDelta(t, 76.0, s.Mean, 1e-9)

	paletted := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.RGBA{0, 0, 255, 255}})
	s, err = Analyze(paletted)
	require.NoError(t, err)
	assert.InDelta(t, 29.0, s.Mean, 1e-9)
}

func TestAnalyzeIgnoresAlphaInEveryModel(t *testing.T) {
	nrgba := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	nrgba.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	want, err := Analyze(nrgba)
	require.NoError(t, err)
	assert.InDelta(t, float64(Gray(200, 100, 50)), want.Mean, 1e-9)

	nrgba64 := image.NewNRGBA64(image.Rect(0, 0, 1, 1))
	nrgba64.SetNRGBA64(0, 0, color.NRGBA64{R: 200 << 8, G: 100 << 8, B: 50 << 8, A: 0x8000})
	got, err := Analyze(nrgba64)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	paletted := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.NRGBA{R: 200, G: 100, B: 50, A: 128}})
	got, err = Analyze(paletted)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Converted through the unpremultiplied model rather than RGBA.
	assert.InDelta(t, float64(Gray(200, 100, 50)), float64(grayOf(color.RGBA{R: 100, G: 50, B: 25, A: 128})), 1)
}

func TestDecodeFramebuffer(t *testing.T) {
	g := fbGeometry{Width: 2, Height: 1, BPP: 32, Stride: 12}
	raw := []byte{
		0x10, 0x20, 0x30, 0x00, // B G R X
		0xff, 0x00, 0x00, 0x00,
		0xaa, 0xaa, 0xaa, 0xaa, // padding
	}
	img, err := decodeFramebuffer(raw, g)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0x30, 0x20, 0x10, 0xff}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{0x00, 0x00, 0xff, 0xff}, img.RGBAAt(1, 0))

	g = fbGeometry{Width: 1, Height: 1, BPP: 16, Stride: 2}
	img, err = decodeFramebuffer([]byte{0x00, 0xf8}, g)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0xff, 0x00, 0x00, 0xff}, img.RGBAAt(0, 0))

	_, err = decodeFramebuffer([]byte{0}, fbGeometry{Width: 1, Height: 1, BPP: 32, Stride: 4})
	assert.Error(t, err)

	_, err = decodeFramebuffer(make([]byte, 3), fbGeometry{Width: 1, Height: 1, BPP: 24, Stride: 3})
	assert.Error(t, err)
}

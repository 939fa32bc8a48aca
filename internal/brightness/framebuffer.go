package brightness

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// fbGeometry describes a Linux framebuffer as reported by sysfs.
type fbGeometry struct {
	Name   string
	Width  int
	Height int
	BPP    int
	Stride int
}

// readFBGeometry reads /sys/class/graphics/<dev>/ attributes.
func readFBGeometry(sysDir string) (fbGeometry, error) {
	var g fbGeometry

	size, err := readSysString(filepath.Join(sysDir, "virtual_size"))
	if err != nil {
		return g, err
	}
	w, h, ok := strings.Cut(size, ",")
	if !ok {
		return g, fmt.Errorf("malformed virtual_size %q", size)
	}
	if g.Width, err = strconv.Atoi(w); err != nil {
		return g, fmt.Errorf("virtual_size width: %w", err)
	}
	if g.Height, err = strconv.Atoi(h); err != nil {
		return g, fmt.Errorf("virtual_size height: %w", err)
	}

	bpp, err := readSysString(filepath.Join(sysDir, "bits_per_pixel"))
	if err != nil {
		return g, err
	}
	if g.BPP, err = strconv.Atoi(bpp); err != nil {
		return g, fmt.Errorf("bits_per_pixel: %w", err)
	}

	stride, err := readSysString(filepath.Join(sysDir, "stride"))
	if err == nil {
		g.Stride, _ = strconv.Atoi(stride)
	}
	if g.Stride <= 0 {
		g.Stride = g.Width * g.BPP / 8
	}

	g.Name, _ = readSysString(filepath.Join(sysDir, "name"))
	if g.Width <= 0 || g.Height <= 0 {
		return g, fmt.Errorf("framebuffer %s has no visible area", sysDir)
	}
	return g, nil
}

func readSysString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// decodeFramebuffer converts raw framebuffer memory into RGBA. 32 bpp is
// read as little-endian XRGB8888 and 16 bpp as RGB565, the formats of the
// common DRM fbdev emulation.
func decodeFramebuffer(raw []byte, g fbGeometry) (*image.RGBA, error) {
	if len(raw) < g.Stride*g.Height {
		return nil, fmt.Errorf("framebuffer too small: %d bytes for %dx%d stride %d", len(raw), g.Width, g.Height, g.Stride)
	}
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))

	switch g.BPP {
	case 32:
		for y := 0; y < g.Height; y++ {
			src := raw[y*g.Stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < g.Width; x++ {
				s, d := x*4, x*4
				dst[d] = src[s+2]
				dst[d+1] = src[s+1]
				dst[d+2] = src[s]
				dst[d+3] = 0xff
			}
		}
	case 16:
		for y := 0; y < g.Height; y++ {
			src := raw[y*g.Stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < g.Width; x++ {
				p := uint16(src[x*2]) | uint16(src[x*2+1])<<8
				r := uint8(p >> 11 & 0x1f)
				gr := uint8(p >> 5 & 0x3f)
				b := uint8(p & 0x1f)
				d := x * 4
				dst[d] = r<<3 | r>>2
				dst[d+1] = gr<<2 | gr>>4
				dst[d+2] = b<<3 | b>>2
				dst[d+3] = 0xff
			}
		}
	default:
		return nil, fmt.Errorf("unsupported framebuffer depth %d bpp", g.BPP)
	}
	return img, nil
}

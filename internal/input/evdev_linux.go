//go:build linux

package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"telemetryd/internal/event"
)

const devicesPath = "/proc/bus/input/devices"

// keyBitmapLen is the size of the EVIOCGKEY buffer, one bit per key code.
const keyBitmapLen = int(event.MaxKeyCode)/8 + 1

// EvdevOptions configure the evdev device.
type EvdevOptions struct {
	// Width and Height bound the tracked cursor. The cursor starts at the
	// centre.
	Width  int32
	Height int32

	Logger *slog.Logger
}

// Evdev reads keyboard state with the EVIOCGKEY ioctl and tracks the cursor
// from relative pointer motion.
//
// Keyboard state is a pure query: the kernel keeps the bitmap of held keys
// for every device. Pointer devices only report motion, so a reader
// goroutine per pointer integrates REL_X/REL_Y into a position clamped to
// the configured bounds.
type Evdev struct {
	keyboards []*os.File
	pointers  []*os.File
	logger    *slog.Logger

	width  int32
	height int32

	mu     sync.Mutex
	pos    event.MouseState
	closed bool
	wg     sync.WaitGroup
}

// OpenEvdev opens every readable keyboard and pointer device.
func OpenEvdev(opts EvdevOptions) (*Evdev, error) {
	f, err := os.Open(devicesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	devices, err := parseInputDevices(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", devicesPath, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Width <= 0 {
		opts.Width = 1920
	}
	if opts.Height <= 0 {
		opts.Height = 1080
	}

	e := &Evdev{
		logger: logger,
		width:  opts.Width,
		height: opts.Height,
		pos:    event.MouseState{X: opts.Width / 2, Y: opts.Height / 2},
	}

	var openErrs []error
	for _, d := range devices {
		node := d.EventNode()
		if node == "" {
			continue
		}
		switch {
		case d.IsKeyboard():
			kf, err := os.OpenFile(node, os.O_RDONLY, 0)
			if err != nil {
				openErrs = append(openErrs, err)
				continue
			}
			e.keyboards = append(e.keyboards, kf)
			logger.Debug("evdev keyboard opened", "device", node, "name", d.Name)
		case d.IsPointer():
			pf, err := os.OpenFile(node, os.O_RDONLY, 0)
			if err != nil {
				openErrs = append(openErrs, err)
				continue
			}
			e.pointers = append(e.pointers, pf)
			logger.Debug("evdev pointer opened", "device", node, "name", d.Name)
		}
	}

	if len(e.keyboards) == 0 {
		e.Close()
		if len(openErrs) > 0 {
			return nil, fmt.Errorf("%w: cannot read keyboard devices (need to be in 'input' group or run as root): %w",
				ErrNotAvailable, errors.Join(openErrs...))
		}
		return nil, fmt.Errorf("%w: no keyboard devices found", ErrNotAvailable)
	}

	for _, pf := range e.pointers {
		e.wg.Add(1)
		go e.readPointer(pf)
	}
	return e, nil
}

// Keys returns the union of held keys across all keyboards.
func (e *Evdev) Keys() (event.KeySet, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	var union [keyBitmapLen]byte
	var buf [keyBitmapLen]byte
	for _, kf := range e.keyboards {
		if err := ioctlKeyState(kf, buf[:]); err != nil {
			return nil, fmt.Errorf("EVIOCGKEY %s: %w", kf.Name(), err)
		}
		for i := range buf {
			union[i] |= buf[i]
		}
	}

	keys := event.NewKeySet()
	for i, b := range union {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				keys.Add(event.KeyCode(i*8 + bit))
			}
		}
	}
	return keys, nil
}

// Mouse returns the integrated cursor position.
func (e *Evdev) Mouse() (event.MouseState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return event.MouseState{}, ErrClosed
	}
	return e.pos, nil
}

// Close closes all devices and waits for the pointer readers.
func (e *Evdev) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	files := make([]*os.File, 0, len(e.keyboards)+len(e.pointers))
	files = append(files, e.keyboards...)
	files = append(files, e.pointers...)

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.wg.Wait()
	return errors.Join(errs...)
}

// eventSize is sizeof(struct input_event): a timeval then type, code, value.
var eventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

func (e *Evdev) readPointer(f *os.File) {
	defer e.wg.Done()

	buf := make([]byte, eventSize*64)
	for {
		n, err := f.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				e.logger.Warn("evdev pointer read failed", "device", f.Name(), "error", err)
			}
			return
		}
		for off := 0; off+eventSize <= n; off += eventSize {
			rec := buf[off+eventSize-8 : off+eventSize]
			typ := binary.NativeEndian.Uint16(rec[0:2])
			code := binary.NativeEndian.Uint16(rec[2:4])
			value := int32(binary.NativeEndian.Uint32(rec[4:8]))
			if typ == evRel {
				e.move(code, value)
			}
		}
	}
}

func (e *Evdev) move(code uint16, delta int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch code {
	case relX:
		e.pos.X = clamp(e.pos.X+delta, 0, e.width-1)
	case relY:
		e.pos.Y = clamp(e.pos.Y+delta, 0, e.height-1)
	}
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// eviocgkey builds EVIOCGKEY(len): _IOC(_IOC_READ, 'E', 0x18, len).
func eviocgkey(length int) uintptr {
	const (
		iocRead     = 2
		iocNRShift  = 0
		iocTypShift = 8
		iocSzShift  = 16
		iocDirShift = 30
	)
	return uintptr(iocRead)<<iocDirShift | uintptr(length)<<iocSzShift |
		uintptr('E')<<iocTypShift | uintptr(0x18)<<iocNRShift
}

func ioctlKeyState(f *os.File, buf []byte) error {
	clear(buf)
	conn, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	ctrlErr := conn.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, eviocgkey(len(buf)), uintptr(unsafe.Pointer(&buf[0])))
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if errno != 0 {
		return errno
	}
	return nil
}

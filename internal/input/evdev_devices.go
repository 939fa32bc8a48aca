package input

import (
	"bufio"
	"io"
	"math/big"
	"strings"
)

// inputDevice is one block of /proc/bus/input/devices.
type inputDevice struct {
	Name     string
	Handlers []string
	EV       *big.Int
	REL      *big.Int
}

const (
	evKey = 0x01
	evRel = 0x02
	evRep = 0x14

	relX = 0x00
	relY = 0x01
)

// EventNode returns the /dev/input/eventN path of the device, or "".
func (d inputDevice) EventNode() string {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return "/dev/input/" + h
		}
	}
	return ""
}

// IsKeyboard reports whether the device has keys with autorepeat, which
// separates keyboards from mice, power buttons and lid switches.
func (d inputDevice) IsKeyboard() bool {
	if d.EV == nil {
		return false
	}
	return d.EV.Bit(evKey) == 1 && d.EV.Bit(evRep) == 1
}

// IsPointer reports whether the device reports relative X and Y motion.
func (d inputDevice) IsPointer() bool {
	if d.EV == nil || d.REL == nil || d.EV.Bit(evRel) == 0 {
		return false
	}
	return d.REL.Bit(relX) == 1 && d.REL.Bit(relY) == 1
}

// parseInputDevices parses the /proc/bus/input/devices format.
func parseInputDevices(r io.Reader) ([]inputDevice, error) {
	var (
		devices []inputDevice
		cur     inputDevice
		started bool
	)
	flush := func() {
		if started {
			devices = append(devices, cur)
		}
		cur = inputDevice{}
		started = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		started = true
		switch {
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			cur.Handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		case strings.HasPrefix(line, "B: EV="):
			cur.EV = parseBitmap(strings.TrimPrefix(line, "B: EV="))
		case strings.HasPrefix(line, "B: REL="):
			cur.REL = parseBitmap(strings.TrimPrefix(line, "B: REL="))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return devices, nil
}

// parseBitmap decodes the kernel's space-separated hex words, most
// significant word first, into one integer.
func parseBitmap(s string) *big.Int {
	n := new(big.Int)
	for _, word := range strings.Fields(s) {
		w, ok := new(big.Int).SetString(word, 16)
		if !ok {
			return new(big.Int)
		}
		n.Lsh(n, 64)
		n.Or(n, w)
	}
	return n
}

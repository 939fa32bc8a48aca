package input

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetryd/internal/event"
)

const procDevices = `I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
P: Phys=PNP0C0C/button/input0
H: Handlers=kbd event0
B: PROP=0
B: EV=3
B: KEY=10000000000000 0

I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
H: Handlers=sysrq kbd leds event3
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe
B: MSC=10
B: LED=7

I: Bus=0003 Vendor=046d Product=c077 Version=0111
N: Name="Logitech USB Optical Mouse"
P: Phys=usb-0000:00:14.0-1/input0
H: Handlers=mouse0 event5
B: PROP=0
B: EV=17
B: KEY=70000 0 0 0 0
B: REL=903
B: MSC=10
`

func TestParseInputDevices(t *testing.T) {
	devices, err := parseInputDevices(strings.NewReader(procDevices))
	require.NoError(t, err)
	require.Len(t, devices, 3)

	power, kbd, mouse := devices[0], devices[1], devices[2]

	assert.Equal(t, "Power Button", power.Name)
	assert.False(t, power.IsKeyboard(), "power button has no autorepeat")
	assert.False(t, power.IsPointer())

	assert.Equal(t, "/dev/input/event3", kbd.EventNode())
	assert.True(t, kbd.IsKeyboard())
	assert.False(t, kbd.IsPointer())

	assert.Equal(t, "/dev/input/event5", mouse.EventNode())
	assert.False(t, mouse.IsKeyboard())
	assert.True(t, mouse.IsPointer())
}

func TestParseBitmapMultiWord(t *testing.T) {
	b := parseBitmap("1 0")
	assert.Equal(t, uint(1), b.Bit(64))
	assert.Equal(t, uint(0), b.Bit(0))
	assert.Equal(t, 0, parseBitmap("zz").Sign())
}

func TestDemoScriptIsConsistent(t *testing.T) {
	frames := DemoScript(120, 50, 50, 10)
	require.Len(t, frames, 120)

	s, rec := newTestSampler(t, NewSimulated(frames...), IdleNever)
	stepN(t, s, len(frames))

	pressed := event.NewKeySet()
	replay(t, pressed, rec.Events())
	assert.True(t, pressed.Equal(frames[len(frames)-1].Keys))
}

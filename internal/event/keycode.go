package event

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// KeyCode identifies a physical key. Values follow the Linux evdev code
// space (linux/input-event-codes.h) so the evdev device needs no
// translation; other devices map into it.
type KeyCode uint16

// Well-known key codes.
const (
	KeyEscape     KeyCode = 1
	Key1          KeyCode = 2
	Key2          KeyCode = 3
	Key3          KeyCode = 4
	Key4          KeyCode = 5
	Key5          KeyCode = 6
	Key6          KeyCode = 7
	Key7          KeyCode = 8
	Key8          KeyCode = 9
	Key9          KeyCode = 10
	Key0          KeyCode = 11
	KeyMinus      KeyCode = 12
	KeyEqual      KeyCode = 13
	KeyBackspace  KeyCode = 14
	KeyTab        KeyCode = 15
	KeyQ          KeyCode = 16
	KeyW          KeyCode = 17
	KeyE          KeyCode = 18
	KeyR          KeyCode = 19
	KeyT          KeyCode = 20
	KeyY          KeyCode = 21
	KeyU          KeyCode = 22
	KeyI          KeyCode = 23
	KeyO          KeyCode = 24
	KeyP          KeyCode = 25
	KeyLeftBrace  KeyCode = 26
	KeyRightBrace KeyCode = 27
	KeyEnter      KeyCode = 28
	KeyLControl   KeyCode = 29
	KeyA          KeyCode = 30
	KeyS          KeyCode = 31
	KeyD          KeyCode = 32
	KeyF          KeyCode = 33
	KeyG          KeyCode = 34
	KeyH          KeyCode = 35
	KeyJ          KeyCode = 36
	KeyK          KeyCode = 37
	KeyL          KeyCode = 38
	KeySemicolon  KeyCode = 39
	KeyApostrophe KeyCode = 40
	KeyGrave      KeyCode = 41
	KeyLShift     KeyCode = 42
	KeyBackSlash  KeyCode = 43
	KeyZ          KeyCode = 44
	KeyX          KeyCode = 45
	KeyC          KeyCode = 46
	KeyV          KeyCode = 47
	KeyB          KeyCode = 48
	KeyN          KeyCode = 49
	KeyM          KeyCode = 50
	KeyComma      KeyCode = 51
	KeyDot        KeyCode = 52
	KeySlash      KeyCode = 53
	KeyRShift     KeyCode = 54
	KeyNumpadMul  KeyCode = 55
	KeyLAlt       KeyCode = 56
	KeySpace      KeyCode = 57
	KeyCapsLock   KeyCode = 58
	KeyF1         KeyCode = 59
	KeyF2         KeyCode = 60
	KeyF3         KeyCode = 61
	KeyF4         KeyCode = 62
	KeyF5         KeyCode = 63
	KeyF6         KeyCode = 64
	KeyF7         KeyCode = 65
	KeyF8         KeyCode = 66
	KeyF9         KeyCode = 67
	KeyF10        KeyCode = 68
	KeyNumLock    KeyCode = 69
	KeyScrollLock KeyCode = 70
	KeyNumpad7    KeyCode = 71
	KeyNumpad8    KeyCode = 72
	KeyNumpad9    KeyCode = 73
	KeyNumpadSub  KeyCode = 74
	KeyNumpad4    KeyCode = 75
	KeyNumpad5    KeyCode = 76
	KeyNumpad6    KeyCode = 77
	KeyNumpadAdd  KeyCode = 78
	KeyNumpad1    KeyCode = 79
	KeyNumpad2    KeyCode = 80
	KeyNumpad3    KeyCode = 81
	KeyNumpad0    KeyCode = 82
	KeyNumpadDot  KeyCode = 83
	KeyF11        KeyCode = 87
	KeyF12        KeyCode = 88
	KeyNumpadEnt  KeyCode = 96
	KeyRControl   KeyCode = 97
	KeyNumpadDiv  KeyCode = 98
	KeySysRq      KeyCode = 99
	KeyRAlt       KeyCode = 100
	KeyHome       KeyCode = 102
	KeyArrowUp    KeyCode = 103
	KeyPageUp     KeyCode = 104
	KeyLeft       KeyCode = 105
	KeyRight      KeyCode = 106
	KeyEnd        KeyCode = 107
	KeyArrowDown  KeyCode = 108
	KeyPageDown   KeyCode = 109
	KeyInsert     KeyCode = 110
	KeyDelete     KeyCode = 111
	KeyPause      KeyCode = 119
	KeyLMeta      KeyCode = 125
	KeyRMeta      KeyCode = 126
	KeyMenu       KeyCode = 127
)

// MaxKeyCode is the highest code the evdev key bitmap can report (KEY_MAX).
const MaxKeyCode KeyCode = 0x2ff

var keyNames = map[KeyCode]string{
	KeyEscape: "Escape", Key1: "Key1", Key2: "Key2", Key3: "Key3", Key4: "Key4",
	Key5: "Key5", Key6: "Key6", Key7: "Key7", Key8: "Key8", Key9: "Key9", Key0: "Key0",
	KeyMinus: "Minus", KeyEqual: "Equal", KeyBackspace: "Backspace", KeyTab: "Tab",
	KeyQ: "Q", KeyW: "W", KeyE: "E", KeyR: "R", KeyT: "T", KeyY: "Y", KeyU: "U",
	KeyI: "I", KeyO: "O", KeyP: "P", KeyLeftBrace: "LeftBracket", KeyRightBrace: "RightBracket",
	KeyEnter: "Enter", KeyLControl: "LControl", KeyA: "A", KeyS: "S", KeyD: "D",
	KeyF: "F", KeyG: "G", KeyH: "H", KeyJ: "J", KeyK: "K", KeyL: "L",
	KeySemicolon: "Semicolon", KeyApostrophe: "Apostrophe", KeyGrave: "Grave",
	KeyLShift: "LShift", KeyBackSlash: "BackSlash", KeyZ: "Z", KeyX: "X", KeyC: "C",
	KeyV: "V", KeyB: "B", KeyN: "N", KeyM: "M", KeyComma: "Comma", KeyDot: "Dot",
	KeySlash: "Slash", KeyRShift: "RShift", KeyNumpadMul: "NumpadMultiply",
	KeyLAlt: "LAlt", KeySpace: "Space", KeyCapsLock: "CapsLock",
	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5", KeyF6: "F6",
	KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10", KeyF11: "F11", KeyF12: "F12",
	KeyNumLock: "NumLock", KeyScrollLock: "ScrollLock",
	KeyNumpad0: "Numpad0", KeyNumpad1: "Numpad1", KeyNumpad2: "Numpad2", KeyNumpad3: "Numpad3",
	KeyNumpad4: "Numpad4", KeyNumpad5: "Numpad5", KeyNumpad6: "Numpad6", KeyNumpad7: "Numpad7",
	KeyNumpad8: "Numpad8", KeyNumpad9: "Numpad9", KeyNumpadSub: "NumpadSubtract",
	KeyNumpadAdd: "NumpadAdd", KeyNumpadDot: "NumpadDecimal", KeyNumpadEnt: "NumpadEnter",
	KeyNumpadDiv: "NumpadDivide", KeyRControl: "RControl", KeySysRq: "PrintScreen",
	KeyRAlt: "RAlt", KeyHome: "Home", KeyArrowUp: "Up", KeyPageUp: "PageUp", KeyLeft: "Left",
	KeyRight: "Right", KeyEnd: "End", KeyArrowDown: "Down", KeyPageDown: "PageDown",
	KeyInsert: "Insert", KeyDelete: "Delete", KeyPause: "Pause",
	KeyLMeta: "LMeta", KeyRMeta: "RMeta", KeyMenu: "Menu",
}

var keyCodes = func() map[string]KeyCode {
	m := make(map[string]KeyCode, len(keyNames))
	for code, name := range keyNames {
		m[strings.ToLower(name)] = code
	}
	return m
}()

// String returns the key name, or "Code(N)" for codes without one.
func (k KeyCode) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return "Code(" + strconv.Itoa(int(k)) + ")"
}

// ParseKeyCode is the inverse of KeyCode.String. Names are case-insensitive.
func ParseKeyCode(name string) (KeyCode, error) {
	trimmed := strings.TrimSpace(name)
	if code, ok := keyCodes[strings.ToLower(trimmed)]; ok {
		return code, nil
	}
	if strings.HasPrefix(trimmed, "Code(") && strings.HasSuffix(trimmed, ")") {
		n, err := strconv.ParseUint(trimmed[len("Code("):len(trimmed)-1], 10, 16)
		if err == nil && KeyCode(n) <= MaxKeyCode {
			return KeyCode(n), nil
		}
	}
	return 0, fmt.Errorf("unknown key name %q", name)
}

// KnownKeyCodes returns every named key in ascending code order.
func KnownKeyCodes() []KeyCode {
	codes := make([]KeyCode, 0, len(keyNames))
	for code := range keyNames {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

package x11

import (
	"encoding/binary"
	"strings"

	"github.com/jezek/xgb/xproto"
)

// Keysyms used for back navigation.
const (
	keysymAltL xproto.Keysym = 0xffe9
	keysymLeft xproto.Keysym = 0xff51
)

// UnknownApp identifies windows without a WM_CLASS. Such a window is still a
// foreground change away from whatever was active before.
const UnknownApp = "unknown"

// parseWMClass splits a WM_CLASS value into instance and class.
func parseWMClass(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

// appID is the identifier a window reports as foreground source: the
// lower-cased WM_CLASS class, falling back to the instance, then UnknownApp.
func appID(data []byte) string {
	instance, class := parseWMClass(data)
	if class == "" {
		class = instance
	}
	if class == "" {
		return UnknownApp
	}
	return strings.ToLower(class)
}

// parseWindow decodes a 32-bit WINDOW property value.
func parseWindow(data []byte) xproto.Window {
	if len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

// parseName decodes a WM_NAME or _NET_WM_NAME value.
func parseName(data []byte) string {
	return strings.TrimRight(string(data), "\x00")
}

// findKeycode looks keysym up in a GetKeyboardMapping reply laid out as
// perKeycode keysyms for each keycode starting at first.
func findKeycode(keysyms []xproto.Keysym, perKeycode int, first xproto.Keycode, target xproto.Keysym) (xproto.Keycode, bool) {
	if perKeycode <= 0 {
		return 0, false
	}
	for i, ks := range keysyms {
		if ks == target {
			return first + xproto.Keycode(i/perKeycode), true
		}
	}
	return 0, false
}

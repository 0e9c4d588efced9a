// Package hotkey parses push-to-talk key bindings and matches raw key
// transitions against them. The platform hook that produces transitions
// sits behind the Source interface; everything above it is portable.
package hotkey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Modifier is a bitmask of held modifier keys.
type Modifier uint32

const (
	ModAlt Modifier = 1 << iota
	ModCtrl
	ModShift
	ModSuper
)

func (m Modifier) String() string {
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "ctrl")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "alt")
	}
	if m&ModShift != 0 {
		parts = append(parts, "shift")
	}
	if m&ModSuper != 0 {
		parts = append(parts, "super")
	}
	return strings.Join(parts, "+")
}

// Event is one raw key transition from the platform hook.
type Event struct {
	Code    uint32
	Mods    Modifier
	Pressed bool
	When    time.Time
}

// Binding is one parsed hotkey: required modifiers plus a single
// terminal key identified by its virtual-key code.
type Binding struct {
	Mods Modifier
	Code uint32
	Name string
}

// Matches reports whether a key transition triggers this binding. All
// required modifiers must be held; extra modifiers are tolerated so a
// sticky shift does not break push-to-talk.
func (b Binding) Matches(code uint32, mods Modifier) bool {
	return code == b.Code && mods&b.Mods == b.Mods
}

func (b Binding) String() string { return b.Name }

var modAliases = map[string]Modifier{
	"alt": ModAlt, "menu": ModAlt,
	"ctrl": ModCtrl, "control": ModCtrl,
	"shift": ModShift,
	"win":   ModSuper, "meta": ModSuper, "super": ModSuper, "cmd": ModSuper,
}

// namedKeys maps every accepted key token to its virtual-key code.
// Aliases for the same key share a code; single letters, digits, and
// function keys are handled structurally in Parse.
var namedKeys = map[string]uint32{
	"esc": 0x1B, "escape": 0x1B,
	"space": 0x20,
	"enter": 0x0D, "return": 0x0D,
	"tab":       0x09,
	"backspace": 0x08,
	"insert":    0x2D,
	"delete":    0x2E,
	"home":      0x24,
	"end":       0x23,
	"pageup":    0x21,
	"pagedown":  0x22,
	"left":      0x25,
	"up":        0x26,
	"right":     0x27,
	"down":      0x28,
	"capslock":  0x14,
	"numpad0":   0x60, "num0": 0x60, "kp0": 0x60,
	"numpad1": 0x61, "num1": 0x61, "kp1": 0x61,
	"numpad2": 0x62, "num2": 0x62, "kp2": 0x62,
	"numpad3": 0x63, "num3": 0x63, "kp3": 0x63,
	"numpad4": 0x64, "num4": 0x64, "kp4": 0x64,
	"numpad5": 0x65, "num5": 0x65, "kp5": 0x65,
	"numpad6": 0x66, "num6": 0x66, "kp6": 0x66,
	"numpad7": 0x67, "num7": 0x67, "kp7": 0x67,
	"numpad8": 0x68, "num8": 0x68, "kp8": 0x68,
	"numpad9": 0x69, "num9": 0x69, "kp9": 0x69,
	"add": 0x6B, "plus": 0x6B, "kpadd": 0x6B,
	"subtract": 0x6D, "minus": 0x6D, "kpsubtract": 0x6D,
}

// Parse turns a spec like "ctrl+alt+f9" or "esc" into a Binding. The
// last '+'-separated token is the key; everything before it must be a
// modifier.
func Parse(spec string) (Binding, error) {
	if strings.TrimSpace(spec) == "" {
		return Binding{}, fmt.Errorf("empty hotkey")
	}
	parts := strings.Split(spec, "+")
	for i := range parts {
		parts[i] = strings.TrimSpace(strings.ToLower(parts[i]))
	}

	var mods Modifier
	for _, p := range parts[:len(parts)-1] {
		m, ok := modAliases[p]
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", p, spec)
		}
		mods |= m
	}

	keyToken := parts[len(parts)-1]
	code, err := keyCode(keyToken)
	if err != nil {
		return Binding{}, fmt.Errorf("hotkey %q: %w", spec, err)
	}
	return Binding{Mods: mods, Code: code, Name: canonicalName(mods, keyToken, code)}, nil
}

func keyCode(token string) (uint32, error) {
	if token == "" {
		return 0, fmt.Errorf("empty key token")
	}
	if len(token) == 1 {
		ch := token[0]
		if ch >= 'a' && ch <= 'z' {
			return uint32(ch - 'a' + 'A'), nil
		}
		if ch >= '0' && ch <= '9' {
			return uint32(ch), nil
		}
	}
	if strings.HasPrefix(token, "f") {
		if n, err := strconv.Atoi(strings.TrimPrefix(token, "f")); err == nil && n >= 1 && n <= 24 {
			return 0x70 + uint32(n-1), nil
		}
	}
	if code, ok := namedKeys[token]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unsupported key token %q", token)
}

// canonicalName renders the binding in a stable form so two aliases of
// the same chord compare equal as strings.
func canonicalName(mods Modifier, keyToken string, code uint32) string {
	key := keyToken
	// Collapse aliases deterministically: shortest name wins.
	if aliases := aliasesFor(code); len(aliases) > 0 {
		key = aliases[0]
	}
	if mods == 0 {
		return key
	}
	return mods.String() + "+" + key
}

func aliasesFor(code uint32) []string {
	var names []string
	for name, c := range namedKeys {
		if c == code {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

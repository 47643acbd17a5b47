// Package keys holds the byte sequences a terminal sends for keys, for use
// with Session.SendRaw.
//
// Sequences follow xterm in normal cursor mode. See
// https://invisible-island.net/xterm/ctlseqs/ctlseqs.html.
package keys

import (
	"fmt"
	"strconv"
	"strings"
)

// Control characters.
const (
	Null      = "\x00"
	CtrlA     = "\x01"
	CtrlB     = "\x02"
	CtrlC     = "\x03"
	CtrlD     = "\x04"
	CtrlE     = "\x05"
	CtrlF     = "\x06"
	CtrlG     = "\x07"
	CtrlH     = "\x08"
	CtrlI     = "\x09"
	CtrlJ     = "\x0a"
	CtrlK     = "\x0b"
	CtrlL     = "\x0c"
	CtrlM     = "\x0d"
	CtrlN     = "\x0e"
	CtrlO     = "\x0f"
	CtrlP     = "\x10"
	CtrlQ     = "\x11"
	CtrlR     = "\x12"
	CtrlS     = "\x13"
	CtrlT     = "\x14"
	CtrlU     = "\x15"
	CtrlV     = "\x16"
	CtrlW     = "\x17"
	CtrlX     = "\x18"
	CtrlY     = "\x19"
	CtrlZ     = "\x1a"
	Escape    = "\x1b"
	Enter     = "\r"
	Tab       = "\t"
	Backspace = "\x7f"
	Space     = " "
)

// Cursor and editing keys.
const (
	Up       = "\x1b[A"
	Down     = "\x1b[B"
	Right    = "\x1b[C"
	Left     = "\x1b[D"
	Home     = "\x1b[H"
	End      = "\x1b[F"
	Insert   = "\x1b[2~"
	Delete   = "\x1b[3~"
	PageUp   = "\x1b[5~"
	PageDown = "\x1b[6~"
	BackTab  = "\x1b[Z"
)

// Function keys.
const (
	F1  = "\x1bOP"
	F2  = "\x1bOQ"
	F3  = "\x1bOR"
	F4  = "\x1bOS"
	F5  = "\x1b[15~"
	F6  = "\x1b[17~"
	F7  = "\x1b[18~"
	F8  = "\x1b[19~"
	F9  = "\x1b[20~"
	F10 = "\x1b[21~"
	F11 = "\x1b[23~"
	F12 = "\x1b[24~"
)

// TmuxPrefix is tmux's default prefix key, Ctrl-b.
const TmuxPrefix = CtrlB

// Modifier is a set of modifier keys held with another key.
type Modifier int

const (
	ModShift Modifier = 1 << iota
	ModAlt
	ModCtrl
)

// param is the xterm modifier parameter: 1 plus the modifier bits.
func (m Modifier) param() int { return 1 + int(m) }

// Ctrl returns the control character for r, such as Ctrl('c') for
// Ctrl-C. Letters are case-insensitive. It panics on runes that have no
// control form.
func Ctrl(r rune) string {
	s, ok := control(r)
	if !ok {
		panic(fmt.Sprintf("keys: no control character for %q", r))
	}
	return s
}

func control(r rune) (string, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return string(r - 'a' + 1), true
	case r >= '@' && r <= '_':
		return string(r - '@'), true
	case r == '?':
		return Backspace, true
	case r == ' ' || r == '2':
		return Null, true
	}
	return "", false
}

// Meta prefixes s with Escape, as terminals send Alt/Meta combinations.
func Meta(s string) string { return Escape + s }

var cursorFinal = map[string]byte{
	Up:    'A',
	Down:  'B',
	Right: 'C',
	Left:  'D',
	Home:  'H',
	End:   'F',
}

var tildeCode = map[string]int{
	Insert: 2, Delete: 3, PageUp: 5, PageDown: 6,
	F5: 15, F6: 17, F7: 18, F8: 19, F9: 20, F10: 21, F11: 23, F12: 24,
}

var ss3Final = map[string]byte{F1: 'P', F2: 'Q', F3: 'R', F4: 'S'}

// With returns the sequence for key pressed with modifiers, for example
// With(Up, ModCtrl) is "\x1b[1;5A". Keys without a modified form are returned
// unchanged when m is zero and prefixed with Escape when m is Alt.
func With(key string, m Modifier) string {
	if m == 0 {
		return key
	}
	p := strconv.Itoa(m.param())
	if f, ok := cursorFinal[key]; ok {
		return "\x1b[1;" + p + string(f)
	}
	if f, ok := ss3Final[key]; ok {
		return "\x1b[1;" + p + string(f)
	}
	if c, ok := tildeCode[key]; ok {
		return "\x1b[" + strconv.Itoa(c) + ";" + p + "~"
	}
	if m == ModAlt {
		return Meta(key)
	}
	return key
}

// F returns function key n (1-12). It returns "" for other n.
func F(n int) string {
	fkeys := [...]string{F1, F2, F3, F4, F5, F6, F7, F8, F9, F10, F11, F12}
	if n < 1 || n > len(fkeys) {
		return ""
	}
	return fkeys[n-1]
}

var named = map[string]string{
	"enter":     Enter,
	"return":    Enter,
	"tab":       Tab,
	"backtab":   BackTab,
	"backspace": Backspace,
	"bs":        Backspace,
	"esc":       Escape,
	"escape":    Escape,
	"space":     Space,
	"up":        Up,
	"down":      Down,
	"left":      Left,
	"right":     Right,
	"home":      Home,
	"end":       End,
	"insert":    Insert,
	"delete":    Delete,
	"del":       Delete,
	"pageup":    PageUp,
	"pgup":      PageUp,
	"pagedown":  PageDown,
	"pgdn":      PageDown,
}

// Lookup translates a key description to its sequence. Names are
// case-insensitive and take modifier prefixes joined with '+' or '-':
// "enter", "ctrl+c", "C-c", "alt+x", "M-f", "shift+up", "ctrl+alt+left",
// "f5".
func Lookup(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", fmt.Errorf("keys: empty key name")
	}

	parts := splitDesc(desc)
	base := parts[len(parts)-1]
	var mods Modifier
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(p) {
		case "ctrl", "control", "c":
			mods |= ModCtrl
		case "alt", "meta", "opt", "m":
			mods |= ModAlt
		case "shift", "s":
			mods |= ModShift
		default:
			return "", fmt.Errorf("keys: unknown modifier %q in %q", p, desc)
		}
	}

	key, single := baseKey(base)
	if key == "" {
		return "", fmt.Errorf("keys: unknown key %q", desc)
	}

	if single {
		r := []rune(key)[0]
		if mods&ModShift != 0 && r >= 'a' && r <= 'z' {
			key = strings.ToUpper(key)
			mods &^= ModShift
		}
		if mods&ModCtrl != 0 {
			c, ok := control(toLower(r))
			if !ok {
				return "", fmt.Errorf("keys: no control form for %q", desc)
			}
			key = c
			mods &^= ModCtrl
		}
		if mods&ModAlt != 0 {
			key = Meta(key)
			mods &^= ModAlt
		}
		if mods != 0 {
			return "", fmt.Errorf("keys: unsupported modifiers for %q", desc)
		}
		return key, nil
	}

	return With(key, mods), nil
}

// splitDesc splits "ctrl+alt+x" into its parts, keeping a literal trailing
// '+' or '-' as the key.
func splitDesc(desc string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(desc); i++ {
		if (desc[i] == '+' || desc[i] == '-') && i > start && i < len(desc)-1 {
			parts = append(parts, desc[start:i])
			start = i + 1
		}
	}
	return append(parts, desc[start:])
}

// baseKey resolves a key name. single reports a one-rune key that modifiers
// apply to by transformation rather than by an xterm parameter.
func baseKey(name string) (key string, single bool) {
	if len([]rune(name)) == 1 {
		return name, true
	}
	lower := strings.ToLower(name)
	if k, ok := named[lower]; ok {
		return k, false
	}
	if strings.HasPrefix(lower, "f") {
		if n, err := strconv.Atoi(lower[1:]); err == nil {
			return F(n), false
		}
	}
	return "", false
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 'a' - 'A'
	}
	return r
}

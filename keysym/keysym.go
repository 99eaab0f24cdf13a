// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

// Package keysym maps human-readable key names onto the X11 keysyms carried
// by RFB key events. It covers the names an automation caller writes
// ("enter", "ctrl", "f5"), not the full X11 catalogue; single characters
// resolve to their character keysym.
package keysym

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// X11 keysym values for the keys addressable by name.
const (
	BackSpace uint32 = 0xff08
	Tab       uint32 = 0xff09
	Return    uint32 = 0xff0d
	Escape    uint32 = 0xff1b
	Home      uint32 = 0xff50
	Left      uint32 = 0xff51
	Up        uint32 = 0xff52
	Right     uint32 = 0xff53
	Down      uint32 = 0xff54
	PageUp    uint32 = 0xff55
	PageDown  uint32 = 0xff56
	End       uint32 = 0xff57
	Insert    uint32 = 0xff63
	Delete    uint32 = 0xffff

	F1  uint32 = 0xffbe
	F2  uint32 = 0xffbf
	F3  uint32 = 0xffc0
	F4  uint32 = 0xffc1
	F5  uint32 = 0xffc2
	F6  uint32 = 0xffc3
	F7  uint32 = 0xffc4
	F8  uint32 = 0xffc5
	F9  uint32 = 0xffc6
	F10 uint32 = 0xffc7
	F11 uint32 = 0xffc8
	F12 uint32 = 0xffc9

	ShiftLeft   uint32 = 0xffe1
	ControlLeft uint32 = 0xffe3
	MetaLeft    uint32 = 0xffe7
	AltLeft     uint32 = 0xffe9
	SuperLeft   uint32 = 0xffeb

	Space uint32 = 0x20
)

// shiftedPunctuation is the punctuation reached through Shift on a US
// layout.
const shiftedPunctuation = "~!@#$%^&*()_+{}|:\"<>?"

// names maps lowercase key names and their common aliases to keysyms.
// Modifier names resolve to the left-hand variant.
var names = map[string]uint32{
	"enter":     Return,
	"return":    Return,
	"backspace": BackSpace,
	"tab":       Tab,
	"escape":    Escape,
	"esc":       Escape,
	"space":     Space,
	"insert":    Insert,
	"ins":       Insert,
	"delete":    Delete,
	"del":       Delete,
	"home":      Home,
	"end":       End,
	"pageup":    PageUp,
	"page_up":   PageUp,
	"pagedown":  PageDown,
	"page_down": PageDown,
	"up":        Up,
	"down":      Down,
	"left":      Left,
	"right":     Right,

	"shift":   ShiftLeft,
	"ctrl":    ControlLeft,
	"control": ControlLeft,
	"alt":     AltLeft,
	"option":  AltLeft,
	"meta":    MetaLeft,
	"cmd":     SuperLeft,
	"super":   SuperLeft,
	"win":     SuperLeft,

	// "+" separates combinations, so the key itself needs a name.
	"plus": '+',

	"f1":  F1,
	"f2":  F2,
	"f3":  F3,
	"f4":  F4,
	"f5":  F5,
	"f6":  F6,
	"f7":  F7,
	"f8":  F8,
	"f9":  F9,
	"f10": F10,
	"f11": F11,
	"f12": F12,
}

// Lookup resolves a key name to its keysym. Names are case-insensitive, and
// a name that is a single character resolves to that character's keysym.
func Lookup(name string) (uint32, bool) {
	if sym, ok := names[strings.ToLower(name)]; ok {
		return sym, true
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		sym, _ := ForRune(r)
		return sym, true
	}
	return 0, false
}

// ForRune returns the keysym for a text character and whether typing it
// requires Shift held on a US layout. Control characters map to their
// editing keys; everything else uses the Unicode code point, which X11
// keysyms mirror for the Latin-1 range.
func ForRune(r rune) (sym uint32, shift bool) {
	switch r {
	case '\n', '\r':
		return Return, false
	case '\t':
		return Tab, false
	case '\b':
		return BackSpace, false
	}
	shift = (r >= 'A' && r <= 'Z') || strings.ContainsRune(shiftedPunctuation, r)
	return uint32(r), shift
}

// ParseCombination splits a "+"-separated combination like "ctrl+shift+t"
// into keysyms in press order. Whitespace around each name is ignored.
func ParseCombination(combo string) ([]uint32, error) {
	parts := strings.Split(combo, "+")
	syms := make([]uint32, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, fmt.Errorf("empty key name in combination %q", combo)
		}
		sym, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown key name %q in combination %q", name, combo)
		}
		syms = append(syms, sym)
	}
	return syms, nil
}

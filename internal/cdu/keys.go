package cdu

import (
	"fmt"
	"strconv"
	"strings"
)

// NumKeys is the size of the global key index space of one keypad.
const NumKeys = 70

// lineSelectPrefix marks a key name as a line-select key ("lsk-L0").
const lineSelectPrefix = "lsk-"

// Key describes one physical key.
//
// A key carries a character, a symbolic name, or both. When both are set
// the name wins, so "space" is sent as a named button rather than ASCII 32.
type Key struct {
	Index        int
	Char         rune
	Name         string
	TrackRelease bool
}

// Mapped reports whether the key has any mapping at all.
func (k Key) Mapped() bool {
	return k.Char != 0 || k.Name != ""
}

// String returns the key's name, its character, or "#<index>".
func (k Key) String() string {
	switch {
	case k.Name != "":
		return k.Name
	case k.Char != 0:
		return string(k.Char)
	default:
		return "#" + strconv.Itoa(k.Index)
	}
}

// Side is the side of the display a line-select key sits on.
type Side byte

// Line-select sides.
const (
	SideLeft  Side = 'L'
	SideRight Side = 'R'
)

// LineSelect identifies a line-select key.
// Row is 0-based as wired on the hardware.
type LineSelect struct {
	Side Side
	Row  int
}

// maxLineSelectRow is the last line-select row on each side.
const maxLineSelectRow = 5

// ParseLineSelect decomposes a key name such as "lsk-R4".
//
// Returns:
//   - LineSelect: Side and 0-based row
//   - bool: false if name is not a line-select key
func ParseLineSelect(name string) (LineSelect, bool) {
	rest, ok := strings.CutPrefix(name, lineSelectPrefix)
	if !ok {
		return LineSelect{}, false
	}
	ls, err := parseSideRow(rest, 0)
	if err != nil {
		return LineSelect{}, false
	}
	return ls, true
}

// ParseWireLineSelect parses the 1-based wire form used in commands ("L3").
func ParseWireLineSelect(value string) (LineSelect, error) {
	return parseSideRow(value, 1)
}

// WireValue renders the 1-based wire form, e.g. {Left, 2} -> "L3".
func (ls LineSelect) WireValue() string {
	return string(ls.Side) + strconv.Itoa(ls.Row+1)
}

// KeyName renders the 0-based key name, e.g. {Left, 2} -> "lsk-L2".
func (ls LineSelect) KeyName() string {
	return lineSelectPrefix + string(ls.Side) + strconv.Itoa(ls.Row)
}

func parseSideRow(s string, base int) (LineSelect, error) {
	if len(s) < 2 {
		return LineSelect{}, fmt.Errorf("%w: %q", ErrInvalidLineSelect, s)
	}

	side := Side(s[0])
	if side != SideLeft && side != SideRight {
		return LineSelect{}, fmt.Errorf("%w: %q has no side", ErrInvalidLineSelect, s)
	}

	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return LineSelect{}, fmt.Errorf("%w: %q: %w", ErrInvalidLineSelect, s, err)
	}
	row := n - base
	if row < 0 || row > maxLineSelectRow {
		return LineSelect{}, fmt.Errorf("%w: %q row out of range", ErrInvalidLineSelect, s)
	}

	return LineSelect{Side: side, Row: row}, nil
}

// KeyTable maps a global key index to its Key.
type KeyTable []Key

// Lookup returns the key at index.
//
// Returns:
//   - Key: The key description
//   - error: ErrUnmappedKey when index is out of range or has no mapping
func (t KeyTable) Lookup(index int) (Key, error) {
	if index < 0 || index >= len(t) || !t[index].Mapped() {
		return Key{}, fmt.Errorf("%w: %d", ErrUnmappedKey, index)
	}
	return t[index], nil
}

// ByName returns the key with the given name or character.
func (t KeyTable) ByName(name string) (Key, bool) {
	for _, k := range t {
		if !k.Mapped() {
			continue
		}
		if k.Name == name || (k.Name == "" && string(k.Char) == name) {
			return k, true
		}
	}
	return Key{}, false
}

// WithRelease returns a copy of the table with TrackRelease set on the
// named keys. Unknown names are returned so callers can report them.
func (t KeyTable) WithRelease(names ...string) (KeyTable, []string) {
	out := make(KeyTable, len(t))
	copy(out, t)

	var unknown []string
	for _, name := range names {
		k, ok := out.ByName(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out[k.Index].TrackRelease = true
	}
	return out, unknown
}

// DefaultReleaseKeys are the keys whose release is forwarded by default.
var DefaultReleaseKeys = []string{"clear"}

// DefaultKeys returns the layout of the 737-style keypad, with release
// tracking enabled for DefaultReleaseKeys.
func DefaultKeys() KeyTable {
	table, _ := KeysWithRelease(DefaultReleaseKeys...)
	return table
}

// KeysWithRelease returns the keypad layout with release tracking enabled
// only for the named keys.
func KeysWithRelease(names ...string) (KeyTable, []string) {
	return layoutKeys().WithRelease(names...)
}

func layoutKeys() KeyTable {
	layout := [NumKeys]struct {
		name string
		char rune
	}{
		{"exec", 0}, {"prog", 0}, {"hold", 0}, {"cruise", 0},
		{"dep-arr", 0}, {"legs", 0}, {"menu", 0}, {"climb", 0},
		{"", 'E'}, {"", 'D'}, {"", 'C'}, {"", 'B'},
		{"", 'A'}, {"fix", 0}, {"n1-limit", 0}, {"route", 0},
		{"", 'J'}, {"", 'I'}, {"", 'H'}, {"", 'G'},
		{"", 'F'}, {"next-page", 0}, {"prev-page", 0}, {"", 0},
		{"", 'O'}, {"", 'N'}, {"", 'M'}, {"", 'L'},
		{"", 'K'}, {"", '3'}, {"", '2'}, {"", '1'},
		{"", 'T'}, {"", 'S'}, {"", 'R'}, {"", 'Q'},
		{"", 'P'}, {"", '6'}, {"", '5'}, {"", '4'},
		{"", 'Y'}, {"", 'X'}, {"", 'W'}, {"", 'V'},
		{"", 'U'}, {"", '9'}, {"", '8'}, {"", '7'},
		{"clear", 0}, {"", '/'}, {"delete", 0}, {"space", ' '},
		{"", 'Z'}, {"plus-minus", '+'}, {"", '0'}, {"period", '.'},
		{"lsk-L0", 0}, {"lsk-L1", 0}, {"lsk-L2", 0}, {"lsk-L3", 0},
		{"lsk-L4", 0}, {"lsk-L5", 0}, {"init-ref", 0}, {"lsk-R0", 0},
		{"lsk-R1", 0}, {"lsk-R2", 0}, {"lsk-R3", 0}, {"lsk-R4", 0},
		{"lsk-R5", 0}, {"descent", 0},
	}

	table := make(KeyTable, NumKeys)
	for i, l := range layout {
		table[i] = Key{Index: i, Char: l.char, Name: l.name}
	}
	return table
}

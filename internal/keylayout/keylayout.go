// Package keylayout holds the per-keyboard compile-time table mapping a
// scancode decoder's flat physical-key code to a (row, col) matrix
// position, per spec.md 3's KeyEvent and 4.D's "Output mapping from
// physical-key code to (row, col): a per-keyboard compile-time table,
// 16x16 at most."
package keylayout

// MaxRows and MaxCols bound the matrix per spec.md 3: R,C <= 16.
const (
	MaxRows = 16
	MaxCols = 16
)

// Position is a (row, col) matrix coordinate.
type Position struct {
	Row, Col uint8
}

// Unmapped is the zero value of a table slot that has no physical key
// wired to it.
var Unmapped = Position{Row: 0xFF, Col: 0xFF}

// IsMapped reports whether p is a real matrix position rather than the
// Unmapped sentinel.
func (p Position) IsMapped() bool {
	return p != Unmapped
}

// Table maps a flat physical-key code (0..0xFF) to a matrix position.
// It is built once at init from a literal per-keyboard array and never
// mutated afterward, matching the "no dynamic memory after init"
// Non-goal.
type Table struct {
	entries [256]Position
}

// NewTable builds a Table from a sparse set of (code -> position)
// entries; every code not listed resolves to Unmapped.
func NewTable(entries map[uint8]Position) *Table {
	t := &Table{}
	for i := range t.entries {
		t.entries[i] = Unmapped
	}
	for code, pos := range entries {
		t.entries[code] = pos
	}
	return t
}

// Lookup returns the matrix position for a physical-key code.
func (t *Table) Lookup(code uint8) Position {
	return t.entries[code]
}

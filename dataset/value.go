package dataset

import (
	"strconv"
	"strings"
)

// Value is a single nullable cell. The zero value is null.
type Value struct {
	s     string
	valid bool
}

// Null is the missing cell
var Null = Value{}

// String returns a non-null cell holding s
func String(s string) Value {
	return Value{s: s, valid: true}
}

// FromCell converts a raw spreadsheet cell. Empty and whitespace-only cells are null.
func FromCell(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Null
	}
	return String(trimmed)
}

// IsNull reports whether the cell is missing
func (v Value) IsNull() bool {
	return !v.valid
}

// Str returns the cell text, or "" for null
func (v Value) Str() string {
	return v.s
}

// Is reports whether the cell equals literal. Null never equals anything.
func (v Value) Is(literal string) bool {
	return v.valid && v.s == literal
}

// In reports whether the cell equals one of literals
func (v Value) In(literals ...string) bool {
	if !v.valid {
		return false
	}
	for _, l := range literals {
		if v.s == l {
			return true
		}
	}
	return false
}

// Float parses the cell as a number. ok is false for null or non-numeric cells.
func (v Value) Float() (f float64, ok bool) {
	if !v.valid {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Equal reports whether both cells are null or hold the same text
func (v Value) Equal(other Value) bool {
	return v.valid == other.valid && v.s == other.s
}

// Key returns the text used when the cell is a join or grouping key.
// Null keys group together with the empty string.
func (v Value) Key() string {
	return v.s
}

// GoString renders null distinctly for test failure output
func (v Value) GoString() string {
	if !v.valid {
		return "dataset.Null"
	}
	return strconv.Quote(v.s)
}

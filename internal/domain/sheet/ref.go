// Package sheet provides spreadsheet addressing primitives: A1-style
// reference parsing and normalized zero-based rectangles.
package sheet

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxCells is the ceiling on the number of cells any single call may
// materialize as a 2-D value matrix.
const DefaultMaxCells = 200_000

// MaxRows and MaxCols bound addressable coordinates. References beyond them
// are rejected at parse time, so downstream row*col arithmetic stays well
// inside int range.
const (
	MaxRows = 1_048_576
	MaxCols = 16_384
)

// Rect is a normalized rectangle of cells, zero-based and inclusive.
// Start coordinates are always <= end coordinates.
type Rect struct {
	StartRow int `json:"start_row"`
	StartCol int `json:"start_col"`
	EndRow   int `json:"end_row"`
	EndCol   int `json:"end_col"`
}

// NewRect builds a Rect, swapping coordinates so start <= end.
func NewRect(r1, c1, r2, c2 int) Rect {
	if r1 > r2 {
		r1, r2 = r2, r1
	}
	if c1 > c2 {
		c1, c2 = c2, c1
	}
	return Rect{StartRow: r1, StartCol: c1, EndRow: r2, EndCol: c2}
}

// Rows returns the row count.
func (r Rect) Rows() int { return r.EndRow - r.StartRow + 1 }

// Cols returns the column count.
func (r Rect) Cols() int { return r.EndCol - r.StartCol + 1 }

// CellCount returns the number of cells covered.
func (r Rect) CellCount() int { return r.Rows() * r.Cols() }

// Contains reports whether other lies entirely inside r.
func (r Rect) Contains(other Rect) bool {
	return r.StartRow <= other.StartRow && r.EndRow >= other.EndRow &&
		r.StartCol <= other.StartCol && r.EndCol >= other.EndCol
}

// String renders the rectangle in A1 notation.
func (r Rect) String() string {
	if r.StartRow == r.EndRow && r.StartCol == r.EndCol {
		return FormatA1(r.StartRow, r.StartCol)
	}
	return FormatA1(r.StartRow, r.StartCol) + ":" + FormatA1(r.EndRow, r.EndCol)
}

// ParseA1 parses a single cell reference like "B12" into zero-based row and
// column indices.
func ParseA1(ref string) (row, col int, err error) {
	s := strings.TrimSpace(ref)
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A') + 1
		if col > MaxCols {
			return 0, 0, fmt.Errorf("cell reference %q exceeds column limit", ref)
		}
		i++
	}
	if i == 0 || i == len(s) {
		return 0, 0, fmt.Errorf("malformed cell reference %q", ref)
	}
	n, convErr := strconv.Atoi(s[i:])
	if convErr != nil || n < 1 {
		return 0, 0, fmt.Errorf("malformed cell reference %q", ref)
	}
	if n > MaxRows {
		return 0, 0, fmt.Errorf("cell reference %q exceeds row limit", ref)
	}
	return n - 1, col - 1, nil
}

// ParseA1Range parses "A1:B2" (or a single cell "A1") into a Rect.
func ParseA1Range(ref string) (Rect, error) {
	first, rest, found := strings.Cut(strings.TrimSpace(ref), ":")
	r1, c1, err := ParseA1(first)
	if err != nil {
		return Rect{}, err
	}
	if !found {
		return NewRect(r1, c1, r1, c1), nil
	}
	r2, c2, err := ParseA1(rest)
	if err != nil {
		return Rect{}, err
	}
	return NewRect(r1, c1, r2, c2), nil
}

// FormatA1 renders zero-based row and column indices as an A1 reference.
func FormatA1(row, col int) string {
	var letters []byte
	c := col + 1
	for c > 0 {
		c--
		letters = append([]byte{byte('A' + c%26)}, letters...)
		c /= 26
	}
	return string(letters) + strconv.Itoa(row+1)
}

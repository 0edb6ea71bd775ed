package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseA1(t *testing.T) {
	tests := []struct {
		ref     string
		row     int
		col     int
		wantErr bool
	}{
		{ref: "A1", row: 0, col: 0},
		{ref: "B12", row: 11, col: 1},
		{ref: "Z1", row: 0, col: 25},
		{ref: "AA1", row: 0, col: 26},
		{ref: "AZ10", row: 9, col: 51},
		{ref: "BA1", row: 0, col: 52},
		{ref: " C3 ", row: 2, col: 2},
		{ref: "", wantErr: true},
		{ref: "12", wantErr: true},
		{ref: "AB", wantErr: true},
		{ref: "A0", wantErr: true},
		{ref: "A-1", wantErr: true},
		{ref: "a1", wantErr: true},
		{ref: "XFD1048576", row: MaxRows - 1, col: MaxCols - 1},
		{ref: "XFE1", wantErr: true},
		{ref: "A1048577", wantErr: true},
		{ref: "ZZZZZZZZZZZZZZZZ1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			row, col, err := ParseA1(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.row, row)
			assert.Equal(t, tt.col, col)
		})
	}
}

func TestParseA1Range(t *testing.T) {
	r, err := ParseA1Range("A1:B2")
	require.NoError(t, err)
	assert.Equal(t, Rect{StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1}, r)

	// A single cell is a 1x1 range.
	r, err = ParseA1Range("C5")
	require.NoError(t, err)
	assert.Equal(t, Rect{StartRow: 4, StartCol: 2, EndRow: 4, EndCol: 2}, r)

	// Reversed corners are normalized.
	r, err = ParseA1Range("B2:A1")
	require.NoError(t, err)
	assert.Equal(t, Rect{StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1}, r)

	_, err = ParseA1Range("A1:")
	assert.Error(t, err)

	_, err = ParseA1Range(":B2")
	assert.Error(t, err)
}

// Row numbers near the int64 ceiling used to parse successfully and then
// wrap CellCount negative, slipping past size guardrails before the value
// matrix allocation blew up. They must be rejected at parse time.
func TestParseA1Range_RejectsOutOfBoundsCoordinates(t *testing.T) {
	for _, ref := range []string{
		"A1:B9223372036854775807",
		"B9223372036854775807:A1",
		"A1:XFE1",
		"A1:A1048577",
	} {
		_, err := ParseA1Range(ref)
		require.Error(t, err, "ref %s", ref)
	}

	r, err := ParseA1Range("A1:XFD1048576")
	require.NoError(t, err)
	assert.Positive(t, r.CellCount())
}

func TestFormatA1(t *testing.T) {
	assert.Equal(t, "A1", FormatA1(0, 0))
	assert.Equal(t, "B12", FormatA1(11, 1))
	assert.Equal(t, "Z1", FormatA1(0, 25))
	assert.Equal(t, "AA1", FormatA1(0, 26))
	assert.Equal(t, "AZ10", FormatA1(9, 51))
}

func TestFormatA1_RoundTrip(t *testing.T) {
	for col := 0; col < 200; col++ {
		ref := FormatA1(3, col)
		row, parsed, err := ParseA1(ref)
		require.NoError(t, err)
		assert.Equal(t, 3, row)
		assert.Equal(t, col, parsed, "ref %s", ref)
	}
}

func TestRect_Geometry(t *testing.T) {
	r := NewRect(4, 2, 1, 5)
	assert.Equal(t, Rect{StartRow: 1, StartCol: 2, EndRow: 4, EndCol: 5}, r)
	assert.Equal(t, 4, r.Rows())
	assert.Equal(t, 4, r.Cols())
	assert.Equal(t, 16, r.CellCount())
}

func TestRect_Contains(t *testing.T) {
	outer := NewRect(0, 0, 9, 9)
	assert.True(t, outer.Contains(NewRect(2, 2, 5, 5)))
	assert.True(t, outer.Contains(outer))
	assert.False(t, outer.Contains(NewRect(2, 2, 10, 5)))
	assert.False(t, NewRect(2, 2, 5, 5).Contains(outer))
}

func TestRect_String(t *testing.T) {
	assert.Equal(t, "A1", NewRect(0, 0, 0, 0).String())
	assert.Equal(t, "A1:B2", NewRect(0, 0, 1, 1).String())
}

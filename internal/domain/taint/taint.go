// Package taint tracks which spreadsheet ranges each extension has observed,
// so the clipboard guard can reason about data provenance even after the
// extension's execution unit has been terminated and respawned.
package taint

import (
	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// DefaultMaxTracked caps the per-extension tainted-range list. Once over the
// cap, the oldest entries are dropped rather than coarsened into a bounding
// box: an old read forgotten (false negative) is preferred over tainting
// cells that were never read (false positive).
const DefaultMaxTracked = 50

// Range is a tainted rectangle on one sheet.
type Range struct {
	SheetID string `json:"sheet_id"`
	sheet.Rect
}

// NewRange builds a tainted range from a rectangle on the given sheet.
func NewRange(sheetID string, r sheet.Rect) Range {
	return Range{SheetID: sheetID, Rect: r}
}

// Equals reports value equality.
func (r Range) Equals(other Range) bool {
	return r.SheetID == other.SheetID && r.Rect == other.Rect
}

// tryMerge merges a and b into their union only if the union is itself an
// exact rectangle: one contains the other, or they share identical columns
// and their row spans overlap or touch, or symmetrically for rows. Anything
// looser would silently taint an L-shaped complement never actually read.
func tryMerge(a, b Range) (Range, bool) {
	if a.SheetID != b.SheetID {
		return Range{}, false
	}
	if a.Contains(b.Rect) {
		return a, true
	}
	if b.Contains(a.Rect) {
		return b, true
	}
	// Same columns, row spans overlapping or adjacent.
	if a.StartCol == b.StartCol && a.EndCol == b.EndCol &&
		spansTouch(a.StartRow, a.EndRow, b.StartRow, b.EndRow) {
		return Range{SheetID: a.SheetID, Rect: sheet.NewRect(
			min(a.StartRow, b.StartRow), a.StartCol,
			max(a.EndRow, b.EndRow), a.EndCol)}, true
	}
	// Same rows, column spans overlapping or adjacent.
	if a.StartRow == b.StartRow && a.EndRow == b.EndRow &&
		spansTouch(a.StartCol, a.EndCol, b.StartCol, b.EndCol) {
		return Range{SheetID: a.SheetID, Rect: sheet.NewRect(
			a.StartRow, min(a.StartCol, b.StartCol),
			a.EndRow, max(a.EndCol, b.EndCol))}, true
	}
	return Range{}, false
}

// spansTouch reports whether [s1,e1] and [s2,e2] overlap or are adjacent.
func spansTouch(s1, e1, s2, e2 int) bool {
	return s1 <= e2+1 && s2 <= e1+1
}

// AddToList inserts r into list, merging it with any existing entry whose
// union with r is an exact rectangle. Merging repeats until no entry is
// mergeable, since a union can bridge previously disjoint entries. The
// resulting entry lands at the tail (most recent). If the list then exceeds
// maxLen, the oldest entries are dropped from the head.
func AddToList(list []Range, r Range, maxLen int) []Range {
	merged := true
	for merged {
		merged = false
		for i, existing := range list {
			if union, ok := tryMerge(existing, r); ok {
				list = append(list[:i], list[i+1:]...)
				r = union
				merged = true
				break
			}
		}
	}
	list = append(list, r)
	if maxLen > 0 && len(list) > maxLen {
		list = list[len(list)-maxLen:]
	}
	return list
}

// Tracker holds per-extension tainted-range lists. It is keyed strictly by
// extension id; no extension can observe another's record.
type Tracker struct {
	maxTracked int
	ranges     map[values.ExtensionID][]Range
}

// NewTracker creates a Tracker with the given per-extension cap.
// A cap <= 0 uses DefaultMaxTracked.
func NewTracker(maxTracked int) *Tracker {
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTracked
	}
	return &Tracker{
		maxTracked: maxTracked,
		ranges:     make(map[values.ExtensionID][]Range),
	}
}

// Record marks a range as observed by the extension.
func (t *Tracker) Record(id values.ExtensionID, r Range) {
	t.ranges[id] = AddToList(t.ranges[id], r, t.maxTracked)
}

// Snapshot returns a deep copy of the extension's tainted ranges, safe to
// hand to guard hooks.
func (t *Tracker) Snapshot(id values.ExtensionID) []Range {
	src := t.ranges[id]
	if len(src) == 0 {
		return nil
	}
	out := make([]Range, len(src))
	copy(out, src)
	return out
}

// Clear removes the extension's record entirely. Called on unload and policy
// reset only; worker termination must NOT clear taint, or a malicious
// extension could evade tracking by deliberately crashing.
func (t *Tracker) Clear(id values.ExtensionID) {
	delete(t.ranges, id)
}

// ClearAll wipes every record.
func (t *Tracker) ClearAll() {
	clear(t.ranges)
}

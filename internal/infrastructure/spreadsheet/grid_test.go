package spreadsheet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
)

func TestNewGrid_HasOneSheet(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()

	sheets, err := g.ListSheets(ctx)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "Sheet1", sheets[0].Name)

	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)
	assert.Equal(t, sheets[0].ID, active.ID)
}

func TestGrid_CellRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()
	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)

	require.NoError(t, g.SetCell(ctx, active.ID, 1, 2, "hello"))

	value, err := g.Cell(ctx, active.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	// Unset cells read as nil.
	value, err = g.Cell(ctx, active.ID, 9, 9)
	require.NoError(t, err)
	assert.Nil(t, value)

	// Setting nil clears the cell.
	require.NoError(t, g.SetCell(ctx, active.ID, 1, 2, nil))
	value, err = g.Cell(ctx, active.ID, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestGrid_RangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()
	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)

	r := sheet.NewRect(0, 0, 1, 1)
	require.NoError(t, g.SetRange(ctx, active.ID, r, [][]any{
		{"a", "b"},
		{1.0, 2.0},
	}))

	values, err := g.ReadRange(ctx, active.ID, r)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a", "b"}, {1.0, 2.0}}, values)
}

func TestGrid_SetRangeDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()
	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)

	r := sheet.NewRect(0, 0, 1, 1)
	assert.Error(t, g.SetRange(ctx, active.ID, r, [][]any{{"only one row"}}))
	assert.Error(t, g.SetRange(ctx, active.ID, r, [][]any{{"a"}, {"b"}}))
}

func TestGrid_UnknownSheet(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()

	_, err := g.Cell(ctx, "nope", 0, 0)
	assert.Error(t, err)

	err = g.SetCell(ctx, "nope", 0, 0, "x")
	assert.Error(t, err)
}

func TestGrid_SheetManagement(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()

	added, err := g.AddSheet(ctx, "Data")
	require.NoError(t, err)

	_, err = g.AddSheet(ctx, "Data")
	assert.Error(t, err, "duplicate sheet names are rejected")

	require.NoError(t, g.RenameSheet(ctx, added.ID, "Data2"))
	sheets, err := g.ListSheets(ctx)
	require.NoError(t, err)
	require.Len(t, sheets, 2)
	assert.Equal(t, "Data2", sheets[1].Name)

	require.NoError(t, g.DeleteSheet(ctx, added.ID))
	sheets, err = g.ListSheets(ctx)
	require.NoError(t, err)
	require.Len(t, sheets, 1)

	assert.Error(t, g.DeleteSheet(ctx, sheets[0].ID), "the last sheet cannot be deleted")
}

func TestGrid_DeleteActiveSheetFallsBack(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()

	first, err := g.ActiveSheet(ctx)
	require.NoError(t, err)
	_, err = g.AddSheet(ctx, "Second")
	require.NoError(t, err)

	require.NoError(t, g.DeleteSheet(ctx, first.ID))

	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Second", active.Name)
}

func TestGrid_SelectionDefaultsToActiveA1(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()
	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)

	sel, err := g.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, active.ID, sel.SheetID)
	assert.Equal(t, sheet.NewRect(0, 0, 0, 0), sel.Rect)
	assert.Equal(t, [][]any{{nil}}, sel.Values)
}

func TestGrid_SelectionCarriesValues(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()
	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)

	require.NoError(t, g.SetCell(ctx, active.ID, 0, 0, "x"))
	require.NoError(t, g.SetCell(ctx, active.ID, 0, 1, "y"))
	g.SetSelection(active.ID, sheet.NewRect(0, 0, 0, 1))

	sel, err := g.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"x", "y"}}, sel.Values)
}

func TestGrid_WorkbookLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewGrid()
	active, err := g.ActiveSheet(ctx)
	require.NoError(t, err)
	require.NoError(t, g.SetCell(ctx, active.ID, 0, 0, "kept?"))

	wb, err := g.ActiveWorkbook(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, wb.ID)

	require.NoError(t, g.SaveWorkbookAs(ctx, "/tmp/book.grid"))
	wb, err = g.ActiveWorkbook(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/book.grid", wb.Location)

	// Opening a workbook resets sheets and cells.
	opened, err := g.OpenWorkbook(ctx, "/tmp/other.grid")
	require.NoError(t, err)
	assert.NotEqual(t, wb.ID, opened.ID)

	sheets, err := g.ListSheets(ctx)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	value, err := g.Cell(ctx, sheets[0].ID, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, value)
}

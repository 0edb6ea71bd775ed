// Package spreadsheet provides an in-memory spreadsheet backend. It backs
// the standalone CLI and the test suite; embedders replace it with a bridge
// to a real spreadsheet application.
package spreadsheet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
)

type gridSheet struct {
	info  ports.SheetInfo
	cells map[[2]int]any
}

// Grid implements ports.SpreadsheetAPI over in-memory sheets.
type Grid struct {
	mu          sync.Mutex
	workbook    ports.WorkbookInfo
	sheets      []*gridSheet
	activeSheet string
	selection   ports.Selection
}

// NewGrid creates a workbook with one empty sheet.
func NewGrid() *Grid {
	g := &Grid{
		workbook: ports.WorkbookInfo{ID: uuid.NewString(), Name: "Workbook"},
	}
	first := &gridSheet{
		info:  ports.SheetInfo{ID: uuid.NewString(), Name: "Sheet1"},
		cells: make(map[[2]int]any),
	}
	g.sheets = append(g.sheets, first)
	g.activeSheet = first.info.ID
	return g
}

func (g *Grid) findSheet(sheetID string) (*gridSheet, error) {
	for _, s := range g.sheets {
		if s.info.ID == sheetID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown sheet %q", sheetID)
}

// ActiveWorkbook implements ports.SpreadsheetAPI.
func (g *Grid) ActiveWorkbook(context.Context) (ports.WorkbookInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.workbook, nil
}

// OpenWorkbook replaces the current workbook state.
func (g *Grid) OpenWorkbook(_ context.Context, location string) (ports.WorkbookInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workbook = ports.WorkbookInfo{ID: uuid.NewString(), Name: location, Location: location}
	g.resetSheetsLocked()
	return g.workbook, nil
}

// CreateWorkbook implements ports.SpreadsheetAPI.
func (g *Grid) CreateWorkbook(context.Context) (ports.WorkbookInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workbook = ports.WorkbookInfo{ID: uuid.NewString(), Name: "Workbook"}
	g.resetSheetsLocked()
	return g.workbook, nil
}

func (g *Grid) resetSheetsLocked() {
	first := &gridSheet{
		info:  ports.SheetInfo{ID: uuid.NewString(), Name: "Sheet1"},
		cells: make(map[[2]int]any),
	}
	g.sheets = []*gridSheet{first}
	g.activeSheet = first.info.ID
	g.selection = ports.Selection{}
}

// SaveWorkbook is a no-op for the in-memory backend.
func (g *Grid) SaveWorkbook(context.Context) error {
	return nil
}

// SaveWorkbookAs records the new location.
func (g *Grid) SaveWorkbookAs(_ context.Context, location string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workbook.Location = location
	return nil
}

// CloseWorkbook resets to a fresh workbook.
func (g *Grid) CloseWorkbook(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workbook = ports.WorkbookInfo{ID: uuid.NewString(), Name: "Workbook"}
	g.resetSheetsLocked()
	return nil
}

// ActiveSheet implements ports.SpreadsheetAPI.
func (g *Grid) ActiveSheet(context.Context) (ports.SheetInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.findSheet(g.activeSheet)
	if err != nil {
		return ports.SheetInfo{}, err
	}
	return s.info, nil
}

// ListSheets implements ports.SpreadsheetAPI.
func (g *Grid) ListSheets(context.Context) ([]ports.SheetInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ports.SheetInfo, 0, len(g.sheets))
	for _, s := range g.sheets {
		out = append(out, s.info)
	}
	return out, nil
}

// AddSheet implements ports.SpreadsheetAPI.
func (g *Grid) AddSheet(_ context.Context, name string) (ports.SheetInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.sheets {
		if s.info.Name == name {
			return ports.SheetInfo{}, fmt.Errorf("sheet %q already exists", name)
		}
	}
	added := &gridSheet{
		info:  ports.SheetInfo{ID: uuid.NewString(), Name: name},
		cells: make(map[[2]int]any),
	}
	g.sheets = append(g.sheets, added)
	return added.info, nil
}

// RenameSheet implements ports.SpreadsheetAPI.
func (g *Grid) RenameSheet(_ context.Context, sheetID, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.findSheet(sheetID)
	if err != nil {
		return err
	}
	s.info.Name = name
	return nil
}

// DeleteSheet refuses to remove the last sheet.
func (g *Grid) DeleteSheet(_ context.Context, sheetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sheets) == 1 {
		return fmt.Errorf("cannot delete the last sheet")
	}
	for i, s := range g.sheets {
		if s.info.ID == sheetID {
			g.sheets = append(g.sheets[:i], g.sheets[i+1:]...)
			if g.activeSheet == sheetID {
				g.activeSheet = g.sheets[0].info.ID
			}
			return nil
		}
	}
	return fmt.Errorf("unknown sheet %q", sheetID)
}

// Selection implements ports.SpreadsheetAPI.
func (g *Grid) Selection(context.Context) (ports.Selection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sel := g.selection
	if sel.SheetID == "" {
		sel = ports.Selection{SheetID: g.activeSheet, Rect: sheet.NewRect(0, 0, 0, 0)}
	}
	s, err := g.findSheet(sel.SheetID)
	if err != nil {
		return ports.Selection{}, err
	}
	sel.Values = readRectLocked(s, sel.Rect)
	return sel, nil
}

// SetSelection updates the tracked selection; the host broadcasts the change.
func (g *Grid) SetSelection(sheetID string, r sheet.Rect) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selection = ports.Selection{SheetID: sheetID, Rect: r}
}

// Cell implements ports.SpreadsheetAPI.
func (g *Grid) Cell(_ context.Context, sheetID string, row, col int) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.findSheet(sheetID)
	if err != nil {
		return nil, err
	}
	return s.cells[[2]int{row, col}], nil
}

// ReadRange implements ports.SpreadsheetAPI.
func (g *Grid) ReadRange(_ context.Context, sheetID string, r sheet.Rect) ([][]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.findSheet(sheetID)
	if err != nil {
		return nil, err
	}
	return readRectLocked(s, r), nil
}

func readRectLocked(s *gridSheet, r sheet.Rect) [][]any {
	values := make([][]any, r.Rows())
	for i := range values {
		row := make([]any, r.Cols())
		for j := range row {
			row[j] = s.cells[[2]int{r.StartRow + i, r.StartCol + j}]
		}
		values[i] = row
	}
	return values
}

// SetCell implements ports.SpreadsheetAPI.
func (g *Grid) SetCell(_ context.Context, sheetID string, row, col int, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.findSheet(sheetID)
	if err != nil {
		return err
	}
	if value == nil {
		delete(s.cells, [2]int{row, col})
		return nil
	}
	s.cells[[2]int{row, col}] = value
	return nil
}

// SetRange implements ports.SpreadsheetAPI.
func (g *Grid) SetRange(_ context.Context, sheetID string, r sheet.Rect, values [][]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.findSheet(sheetID)
	if err != nil {
		return err
	}
	if len(values) != r.Rows() {
		return fmt.Errorf("value matrix has %d rows, range has %d", len(values), r.Rows())
	}
	for i, row := range values {
		if len(row) != r.Cols() {
			return fmt.Errorf("row %d has %d columns, range has %d", i, len(row), r.Cols())
		}
		for j, value := range row {
			if value == nil {
				delete(s.cells, [2]int{r.StartRow + i, r.StartCol + j})
				continue
			}
			s.cells[[2]int{r.StartRow + i, r.StartCol + j}] = value
		}
	}
	return nil
}

// Package ports defines the interfaces through which the extension host
// reaches its external collaborators: the spreadsheet backend, clipboard,
// persistent storage, UI surfaces, and the consent prompt.
package ports

import (
	"context"
	"encoding/json"

	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
	"github.com/gridlet-dev/gridlet/internal/domain/taint"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// SheetInfo identifies one sheet of the active workbook.
type SheetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkbookInfo identifies a workbook.
type WorkbookInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Selection is the current user selection, optionally carrying values.
type Selection struct {
	SheetID string     `json:"sheet_id"`
	Rect    sheet.Rect `json:"rect"`
	Values  [][]any    `json:"values,omitempty"`
}

// SpreadsheetAPI is the concrete spreadsheet backend. The host never touches
// cells directly; every read and write is delegated here after permission
// checks and taint recording.
type SpreadsheetAPI interface {
	ActiveWorkbook(ctx context.Context) (WorkbookInfo, error)
	OpenWorkbook(ctx context.Context, location string) (WorkbookInfo, error)
	CreateWorkbook(ctx context.Context) (WorkbookInfo, error)
	SaveWorkbook(ctx context.Context) error
	SaveWorkbookAs(ctx context.Context, location string) error
	CloseWorkbook(ctx context.Context) error

	ActiveSheet(ctx context.Context) (SheetInfo, error)
	ListSheets(ctx context.Context) ([]SheetInfo, error)
	AddSheet(ctx context.Context, name string) (SheetInfo, error)
	RenameSheet(ctx context.Context, sheetID, name string) error
	DeleteSheet(ctx context.Context, sheetID string) error

	Selection(ctx context.Context) (Selection, error)
	Cell(ctx context.Context, sheetID string, row, col int) (any, error)
	ReadRange(ctx context.Context, sheetID string, r sheet.Rect) ([][]any, error)
	SetCell(ctx context.Context, sheetID string, row, col int, value any) error
	SetRange(ctx context.Context, sheetID string, r sheet.Rect, values [][]any) error
}

// ClipboardAPI is the system clipboard.
type ClipboardAPI interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// KeyValueStore is one extension's private mutable record.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

// StorageAPI hands out per-extension key/value stores. Implementations must
// isolate stores by extension id.
type StorageAPI interface {
	ExtensionStore(extensionID string) (KeyValueStore, error)
	ClearExtensionStore(extensionID string) error
}

// PanelNotice describes a panel lifecycle change surfaced to the UI layer.
type PanelNotice struct {
	PanelID     string
	ExtensionID values.ExtensionID
	Title       string
	HTML        string
}

// InputBoxOptions configures a ui.showInputBox prompt.
type InputBoxOptions struct {
	Prompt      string `json:"prompt,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Value       string `json:"value,omitempty"`
}

// QuickPickOptions configures a ui.showQuickPick prompt.
type QuickPickOptions struct {
	Title string   `json:"title,omitempty"`
	Items []string `json:"items"`
}

// UIAPI is the optional application UI layer. Panel notifications are
// best-effort; failures never propagate to the extension.
type UIAPI interface {
	PanelOpened(ctx context.Context, notice PanelNotice) error
	PanelUpdated(ctx context.Context, notice PanelNotice) error
	PanelClosed(ctx context.Context, panelID string) error
	PanelMessagePosted(ctx context.Context, panelID string, message json.RawMessage) error

	ShowInputBox(ctx context.Context, opts InputBoxOptions) (value string, ok bool, err error)
	ShowQuickPick(ctx context.Context, opts QuickPickOptions) (value string, ok bool, err error)
}

// ConsentRequest is the structured context handed to the consent prompt.
type ConsentRequest struct {
	ExtensionID values.ExtensionID
	DisplayName string
	// Permissions are the needed (not yet granted) permission names.
	Permissions []string
	// NetworkHost names the specific host being requested, when the request
	// includes the network permission and a target URL is known.
	NetworkHost string
	// Reason optionally describes the operation triggering the request.
	Reason string
}

// ConsentPrompter asks the user to approve a permission request.
// Returning false, or any error, denies the whole request.
type ConsentPrompter interface {
	RequestConsent(ctx context.Context, req ConsentRequest) (bool, error)
}

// ConsentPrompterFunc adapts a function to the ConsentPrompter interface.
type ConsentPrompterFunc func(ctx context.Context, req ConsentRequest) (bool, error)

// RequestConsent implements ConsentPrompter.
func (f ConsentPrompterFunc) RequestConsent(ctx context.Context, req ConsentRequest) (bool, error) {
	return f(ctx, req)
}

// ClipboardWriteGuard inspects a pending clipboard write. It receives an
// immutable snapshot of the extension's tainted ranges and vetoes the write
// by returning an error.
type ClipboardWriteGuard func(ctx context.Context, id values.ExtensionID, tainted []taint.Range) error

// Package permissions defines the declarative permission model: the closed
// set of permission names an extension may declare, per-extension grant
// records, and the host-sensitive network policy.
package permissions

// Permission names an extension may declare in its manifest.
const (
	CellsRead      = "cells.read"
	CellsWrite     = "cells.write"
	SheetsManage   = "sheets.manage"
	WorkbookManage = "workbook.manage"
	UICommands     = "ui.commands"
	UIPanels       = "ui.panels"
	UIMenus        = "ui.menus"
	Network        = "network"
	Clipboard      = "clipboard"
	Storage        = "storage"
)

var known = map[string]bool{
	CellsRead:      true,
	CellsWrite:     true,
	SheetsManage:   true,
	WorkbookManage: true,
	UICommands:     true,
	UIPanels:       true,
	UIMenus:        true,
	Network:        true,
	Clipboard:      true,
	Storage:        true,
}

// IsKnown reports whether name is a recognized permission.
func IsKnown(name string) bool {
	return known[name]
}

// Describe returns a human-readable description of a permission, used by
// consent prompts so a user can understand what they are granting.
func Describe(name string) string {
	switch name {
	case CellsRead:
		return "Read cell values and formulas"
	case CellsWrite:
		return "Modify cell values"
	case SheetsManage:
		return "Add, rename and delete sheets"
	case WorkbookManage:
		return "Open, save and close workbooks"
	case UICommands:
		return "Register commands in the command palette"
	case UIPanels:
		return "Show custom panels"
	case UIMenus:
		return "Add context menu entries"
	case Network:
		return "Access the network"
	case Clipboard:
		return "Read and write the clipboard"
	case Storage:
		return "Store extension data on this machine"
	default:
		return name
	}
}

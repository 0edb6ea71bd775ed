package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/domain/entities"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/wireformat"
)

// broadcastEvent delivers a notification to every active extension.
// Broadcasts are best-effort: a failed or terminated unit never interrupts
// delivery to the others.
func (h *Host) broadcastEvent(ctx context.Context, name string, data json.RawMessage) {
	h.mu.Lock()
	var targets []*extension
	for _, ext := range h.extensions {
		if ext.state == entities.StateActive && ext.bridge != nil {
			targets = append(targets, ext)
		}
	}
	h.mu.Unlock()

	for _, ext := range targets {
		h.notifyExtension(ctx, ext, name, data)
	}
}

// notifyExtension sends one event to one extension, swallowing failures.
func (h *Host) notifyExtension(ctx context.Context, ext *extension, name string, data json.RawMessage) {
	b := h.bridgeFor(ext)
	if b == nil {
		return
	}
	payload := wireformat.EventPayload{Name: name, Data: data}
	if err := b.notify(ctx, wireformat.KindEvent, payload); err != nil {
		slog.Debug("event delivery failed", "extension", ext.id, "event", name, "error", err)
	}
}

// NotifySelectionChanged broadcasts a selection change. Cell values ride
// along only for extensions holding cells.read, and delivering them taints
// the recipient exactly as a range read would.
func (h *Host) NotifySelectionChanged(ctx context.Context, sel ports.Selection) {
	h.mu.Lock()
	var targets []*extension
	for _, ext := range h.extensions {
		if ext.state == entities.StateActive && ext.bridge != nil {
			targets = append(targets, ext)
		}
	}
	h.mu.Unlock()

	bare := sel
	bare.Values = nil
	bareData, _ := json.Marshal(bare)
	fullData, _ := json.Marshal(sel)

	for _, ext := range targets {
		data := bareData
		if len(sel.Values) > 0 && h.hasGrantedSimple(ext, permissions.CellsRead) {
			data = fullData
			h.recordTaint(ext, sel.SheetID, sel.Rect)
		}
		h.notifyExtension(ctx, ext, wireformat.EventSelectionChanged, data)
	}
}

func (h *Host) hasGrantedSimple(ext *extension, name string) bool {
	record := h.perms.Granted(ext.id)
	return record != nil && record.HasSimple(name)
}

// NotifyCellChanged broadcasts a cell change by reference only; no values are
// carried, so no taint is recorded.
func (h *Host) NotifyCellChanged(ctx context.Context, sheetID, ref string) {
	data, _ := json.Marshal(map[string]string{"sheet": sheetID, "ref": ref})
	h.broadcastEvent(ctx, wireformat.EventCellChanged, data)
}

// NotifySheetActivated broadcasts that a different sheet became active.
func (h *Host) NotifySheetActivated(ctx context.Context, sheetID string) {
	data, _ := json.Marshal(map[string]string{"sheet": sheetID})
	h.broadcastEvent(ctx, wireformat.EventSheetActivated, data)
}

// NotifyBeforeSave broadcasts that the workbook is about to be saved.
func (h *Host) NotifyBeforeSave(ctx context.Context) {
	h.broadcastEvent(ctx, wireformat.EventBeforeSave, nil)
}

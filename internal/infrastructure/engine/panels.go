package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
	"github.com/gridlet-dev/gridlet/wireformat"
)

// panelInstance is a live UI surface created by an extension. It dies with
// the owning execution unit.
type panelInstance struct {
	ID    string
	Title string
	HTML  string
	// Queue holds messages posted by the extension that the UI layer has
	// not drained yet.
	Queue []json.RawMessage
}

// ContextMenuEntry is one visible context-menu item, resolved against a
// host-supplied environment.
type ContextMenuEntry struct {
	ID          string
	Label       string
	ExtensionID values.ExtensionID
}

func (h *Host) apiCreatePanel(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID    string `json:"id,omitempty"`
		Title string `json:"title,omitempty"`
		HTML  string `json:"html,omitempty"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("ui.createPanel: malformed arguments")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	h.mu.Lock()
	if err := h.reg.claim(kindPanel, a.ID, ext.id); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	if _, exists := ext.panels[a.ID]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("panel %q is already open", a.ID)
	}
	panel := &panelInstance{ID: a.ID, Title: a.Title, HTML: a.HTML}
	ext.panels[a.ID] = panel
	h.mu.Unlock()

	if h.ui != nil {
		notice := ports.PanelNotice{PanelID: a.ID, ExtensionID: ext.id, Title: a.Title, HTML: a.HTML}
		if err := h.ui.PanelOpened(ctx, notice); err != nil {
			slog.Debug("panel open notification failed", "panel", a.ID, "error", err)
		}
	}
	return map[string]string{"panel": a.ID}, nil
}

func (h *Host) apiSetPanelHTML(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Panel string `json:"panel"`
		HTML  string `json:"html"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Panel == "" {
		return nil, fmt.Errorf("ui.setPanelHtml requires a panel id")
	}

	h.mu.Lock()
	panel, ok := ext.panels[a.Panel]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("unknown panel %q", a.Panel)
	}
	panel.HTML = a.HTML
	title := panel.Title
	h.mu.Unlock()

	if h.ui != nil {
		notice := ports.PanelNotice{PanelID: a.Panel, ExtensionID: ext.id, Title: title, HTML: a.HTML}
		if err := h.ui.PanelUpdated(ctx, notice); err != nil {
			slog.Debug("panel update notification failed", "panel", a.Panel, "error", err)
		}
	}
	return nil, nil
}

func (h *Host) apiPostMessageToPanel(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Panel   string          `json:"panel"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Panel == "" {
		return nil, fmt.Errorf("ui.postMessageToPanel requires a panel id")
	}

	h.mu.Lock()
	panel, ok := ext.panels[a.Panel]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("unknown panel %q", a.Panel)
	}
	panel.Queue = append(panel.Queue, a.Message)
	h.mu.Unlock()

	if h.ui != nil {
		if err := h.ui.PanelMessagePosted(ctx, a.Panel, a.Message); err != nil {
			slog.Debug("panel message notification failed", "panel", a.Panel, "error", err)
		}
	}
	return nil, nil
}

func (h *Host) apiDisposePanel(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Panel string `json:"panel"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Panel == "" {
		return nil, fmt.Errorf("ui.disposePanel requires a panel id")
	}

	h.mu.Lock()
	if _, ok := ext.panels[a.Panel]; !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("unknown panel %q", a.Panel)
	}
	delete(ext.panels, a.Panel)
	if !h.manifestDeclaresPanel(ext, a.Panel) {
		h.reg.release(kindPanel, a.Panel, ext.id)
	}
	h.mu.Unlock()

	if h.ui != nil {
		if err := h.ui.PanelClosed(ctx, a.Panel); err != nil {
			slog.Debug("panel close notification failed", "panel", a.Panel, "error", err)
		}
	}
	return nil, nil
}

// DrainPanelMessages returns and clears the messages an extension queued for
// the panel. Used by UI layers that poll instead of subscribing.
func (h *Host) DrainPanelMessages(panelID string) []json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ext := range h.extensions {
		if panel, ok := ext.panels[panelID]; ok {
			queued := panel.Queue
			panel.Queue = nil
			return queued
		}
	}
	return nil
}

// PostPanelMessage delivers a message from a panel's UI surface to the owning
// extension and waits for its reply.
func (h *Host) PostPanelMessage(ctx context.Context, panelID string, message json.RawMessage) (json.RawMessage, error) {
	h.mu.Lock()
	var owner *extension
	for _, ext := range h.extensions {
		if _, ok := ext.panels[panelID]; ok {
			owner = ext
			break
		}
	}
	var b *unitBridge
	if owner != nil {
		b = owner.bridge
	}
	h.mu.Unlock()

	if owner == nil {
		return nil, fmt.Errorf("no extension owns panel %q", panelID)
	}
	if b == nil {
		return nil, fmt.Errorf("extension %s has no live execution unit", owner.id)
	}
	return b.request(ctx, wireformat.KindPanelMessage,
		wireformat.PanelMessagePayload{Panel: panelID, Message: message}, h.cfg.CommandTimeout)
}

func (h *Host) apiRegisterContextMenu(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		When  string `json:"when,omitempty"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return nil, fmt.Errorf("ui.registerContextMenu requires an id")
	}

	item := &contextMenuItem{ID: a.ID, Label: a.Label, When: a.When, owner: ext.id}
	if a.When != "" {
		program, err := expr.Compile(a.When, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("invalid when clause %q: %w", a.When, err)
		}
		item.program = program
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.reg.claim(kindContextMenu, a.ID, ext.id); err != nil {
		return nil, err
	}
	ext.contextMenus[a.ID] = item
	return nil, nil
}

func (h *Host) apiUnregisterContextMenu(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return nil, fmt.Errorf("ui.unregisterContextMenu requires an id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg.release(kindContextMenu, a.ID, ext.id)
	delete(ext.contextMenus, a.ID)
	return nil, nil
}

// ContextMenuItems returns the items visible under env. An item whose when
// clause fails to evaluate is hidden, never an error: menu rendering must not
// surface extension bugs to the user.
func (h *Host) ContextMenuItems(env map[string]any) []ContextMenuEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ContextMenuEntry
	for _, ext := range h.extensions {
		for _, item := range ext.contextMenus {
			if item.program != nil {
				result, err := expr.Run(item.program, env)
				if err != nil {
					slog.Debug("context menu when clause failed", "menu", item.ID, "error", err)
					continue
				}
				visible, ok := result.(bool)
				if !ok || !visible {
					continue
				}
			}
			out = append(out, ContextMenuEntry{ID: item.ID, Label: item.Label, ExtensionID: ext.id})
		}
	}
	return out
}

func (h *Host) apiShowInputBox(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	ui, err := h.requireUI()
	if err != nil {
		return nil, err
	}
	var opts ports.InputBoxOptions
	if len(args) > 0 {
		if err := json.Unmarshal(args, &opts); err != nil {
			return nil, fmt.Errorf("ui.showInputBox: malformed arguments")
		}
	}
	value, ok, err := ui.ShowInputBox(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (h *Host) apiShowQuickPick(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	ui, err := h.requireUI()
	if err != nil {
		return nil, err
	}
	var opts ports.QuickPickOptions
	if len(args) > 0 {
		if err := json.Unmarshal(args, &opts); err != nil {
			return nil, fmt.Errorf("ui.showQuickPick: malformed arguments")
		}
	}
	value, ok, err := ui.ShowQuickPick(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return value, nil
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gridlet-dev/gridlet/internal/application/apperrors"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/application/services"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
	"github.com/gridlet-dev/gridlet/internal/domain/taint"
	"github.com/gridlet-dev/gridlet/wireformat"
)

// configStorageKey is the reserved key under which config.get/update state
// lives inside the extension's own store.
const configStorageKey = "$config"

type apiHandler func(ctx context.Context, ext *extension, args json.RawMessage) (any, error)

// apiOperation binds one namespace.method to its required permissions and
// handler. The table is closed: an unlisted method is UnknownApiMethod, never
// a reflective fallthrough.
type apiOperation struct {
	permissions      []string
	networkSensitive bool
	handler          apiHandler
}

func (h *Host) buildAPITable() map[string]apiOperation {
	read := []string{permissions.CellsRead}
	write := []string{permissions.CellsWrite}
	manage := []string{permissions.SheetsManage}
	workbook := []string{permissions.WorkbookManage}
	commands := []string{permissions.UICommands}
	panels := []string{permissions.UIPanels}
	menus := []string{permissions.UIMenus}
	network := []string{permissions.Network}
	clipboard := []string{permissions.Clipboard}
	storage := []string{permissions.Storage}

	return map[string]apiOperation{
		"cells.getSelection": {permissions: read, handler: h.apiGetSelection},
		"cells.getCell":      {permissions: read, handler: h.apiGetCell},
		"cells.getRange":     {permissions: read, handler: h.apiGetRange},
		"cells.setCell":      {permissions: write, handler: h.apiSetCell},
		"cells.setRange":     {permissions: write, handler: h.apiSetRange},

		"sheets.getActiveSheet": {handler: h.apiGetActiveSheet},
		"sheets.list":           {permissions: manage, handler: h.apiListSheets},
		"sheets.add":            {permissions: manage, handler: h.apiAddSheet},
		"sheets.rename":         {permissions: manage, handler: h.apiRenameSheet},
		"sheets.remove":         {permissions: manage, handler: h.apiRemoveSheet},

		"workbook.getActiveWorkbook": {handler: h.apiGetActiveWorkbook},
		"workbook.openWorkbook":      {permissions: workbook, handler: h.apiOpenWorkbook},
		"workbook.createWorkbook":    {permissions: workbook, handler: h.apiCreateWorkbook},
		"workbook.save":              {permissions: workbook, handler: h.apiSaveWorkbook},
		"workbook.saveAs":            {permissions: workbook, handler: h.apiSaveWorkbookAs},
		"workbook.close":             {permissions: workbook, handler: h.apiCloseWorkbook},

		"commands.registerCommand":   {permissions: commands, handler: h.apiRegisterCommand},
		"commands.unregisterCommand": {permissions: commands, handler: h.apiUnregisterCommand},
		"commands.executeCommand":    {permissions: commands, handler: h.apiExecuteCommand},

		"ui.createPanel":           {permissions: panels, handler: h.apiCreatePanel},
		"ui.setPanelHtml":          {permissions: panels, handler: h.apiSetPanelHTML},
		"ui.postMessageToPanel":    {permissions: panels, handler: h.apiPostMessageToPanel},
		"ui.disposePanel":          {permissions: panels, handler: h.apiDisposePanel},
		"ui.registerContextMenu":   {permissions: menus, handler: h.apiRegisterContextMenu},
		"ui.unregisterContextMenu": {permissions: menus, handler: h.apiUnregisterContextMenu},
		"ui.showInputBox":          {handler: h.apiShowInputBox},
		"ui.showQuickPick":         {handler: h.apiShowQuickPick},

		"network.fetch":          {permissions: network, networkSensitive: true, handler: h.apiFetch},
		"network.openWebSocket":  {permissions: network, networkSensitive: true, handler: h.apiOpenWebSocket},
		"network.sendWebSocket":  {permissions: network, handler: h.apiSendWebSocket},
		"network.closeWebSocket": {permissions: network, handler: h.apiCloseWebSocket},

		"clipboard.readText":  {permissions: clipboard, handler: h.apiClipboardRead},
		"clipboard.writeText": {permissions: clipboard, handler: h.apiClipboardWrite},

		"storage.get":    {permissions: storage, handler: h.apiStorageGet},
		"storage.set":    {permissions: storage, handler: h.apiStorageSet},
		"storage.delete": {permissions: storage, handler: h.apiStorageDelete},
		"config.get":     {permissions: storage, handler: h.apiConfigGet},
		"config.update":  {permissions: storage, handler: h.apiConfigUpdate},

		"functions.register":        {handler: h.apiRegisterFunction},
		"functions.unregister":      {handler: h.apiUnregisterFunction},
		"dataConnectors.register":   {handler: h.apiRegisterConnector},
		"dataConnectors.unregister": {handler: h.apiUnregisterConnector},
	}
}

// handleAPICall enforces the permission set for the called method, runs the
// handler, and serializes the outcome. Every error crossing back into the
// unit is flattened to an ErrorDetail.
func (h *Host) handleAPICall(ctx context.Context, ext *extension, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail) {
	method := call.Namespace + "." + call.Method
	op, ok := h.api[method]
	if !ok {
		return nil, errorDetailFrom(apperrors.NewUnknownAPIMethodError(call.Namespace, call.Method))
	}

	if len(op.permissions) > 0 {
		req := services.PermissionRequest{
			Permissions: op.permissions,
			Declared:    ext.manifest.Permissions,
			Reason:      method,
		}
		if op.networkSensitive {
			req.TargetURL = targetURLFromArgs(call.Args)
		}
		if err := h.perms.EnsurePermissions(ctx, ext.id, ext.manifest.Display(), req); err != nil {
			h.countAPICall(ext, method, "denied")
			var denied *apperrors.PermissionDeniedError
			if h.metrics != nil && errors.As(err, &denied) {
				h.metrics.PermissionDenials.WithLabelValues(ext.id.String()).Inc()
			}
			return nil, errorDetailFrom(err)
		}
	}

	value, err := op.handler(ctx, ext, call.Args)
	if err != nil {
		h.countAPICall(ext, method, "error")
		return nil, errorDetailFrom(err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		h.countAPICall(ext, method, "error")
		return nil, errorDetailFrom(fmt.Errorf("serialize %s result: %w", method, err))
	}
	h.countAPICall(ext, method, "ok")
	return data, nil
}

func (h *Host) countAPICall(ext *extension, method, outcome string) {
	if h.metrics != nil {
		h.metrics.APICalls.WithLabelValues(ext.id.String(), method, outcome).Inc()
	}
}

// targetURLFromArgs extracts the destination URL from a host-sensitive call's
// arguments before the permission check runs.
func targetURLFromArgs(args json.RawMessage) string {
	var probe struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &probe); err != nil {
		return ""
	}
	return probe.URL
}

// errorDetailFrom flattens an error into the wire representation, tagging
// typed host errors with a stable machine-readable code.
func errorDetailFrom(err error) *wireformat.ErrorDetail {
	detail := &wireformat.ErrorDetail{Message: err.Error()}

	var undeclared *apperrors.UndeclaredPermissionError
	var denied *apperrors.PermissionDeniedError
	var timeout *apperrors.TimeoutError
	var terminated *apperrors.WorkerTerminatedError
	var duplicate *apperrors.DuplicateContributionError
	var notActivated *apperrors.NotActivatedError
	var unknown *apperrors.UnknownAPIMethodError
	var rangeErr *apperrors.RangeError
	var wire *wireformat.ErrorDetail

	switch {
	case errors.As(err, &wire):
		return wire
	case errors.As(err, &undeclared):
		detail.Name, detail.Code = "UndeclaredPermission", "undeclared_permission"
	case errors.As(err, &denied):
		detail.Name, detail.Code = "PermissionDenied", "permission_denied"
	case errors.As(err, &timeout):
		detail.Name, detail.Code = "Timeout", "timeout"
	case errors.As(err, &terminated):
		detail.Name, detail.Code = "WorkerTerminated", "worker_terminated"
	case errors.As(err, &duplicate):
		detail.Name, detail.Code = "DuplicateContribution", "duplicate_contribution"
	case errors.As(err, &notActivated):
		detail.Name, detail.Code = "NotActivated", "not_activated"
	case errors.As(err, &unknown):
		detail.Name, detail.Code = "UnknownApiMethod", "unknown_api_method"
	case errors.As(err, &rangeErr):
		detail.Name, detail.Code = "RangeError", "range_error"
	}
	return detail
}

// recordTaint adds a rectangle to the extension's tainted ranges. Taint
// recording is best-effort and never fails the data-returning call.
func (h *Host) recordTaint(ext *extension, sheetID string, r sheet.Rect) {
	h.mu.Lock()
	h.taint.Record(ext.id, taint.NewRange(sheetID, r))
	h.mu.Unlock()
}

func (h *Host) requireSpreadsheet() (ports.SpreadsheetAPI, error) {
	if h.spreadsheet == nil {
		return nil, fmt.Errorf("no spreadsheet backend configured")
	}
	return h.spreadsheet, nil
}

func (h *Host) requireUI() (ports.UIAPI, error) {
	if h.ui == nil {
		return nil, fmt.Errorf("no ui backend configured")
	}
	return h.ui, nil
}

func (h *Host) extensionStore(ext *extension) (ports.KeyValueStore, error) {
	if h.storage == nil {
		return nil, fmt.Errorf("no storage backend configured")
	}
	return h.storage.ExtensionStore(ext.id.String())
}

// resolveSheet defaults an empty sheet argument to the active sheet.
func (h *Host) resolveSheet(ctx context.Context, api ports.SpreadsheetAPI, sheetID string) (string, error) {
	if sheetID != "" {
		return sheetID, nil
	}
	info, err := api.ActiveSheet(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve active sheet: %w", err)
	}
	return info.ID, nil
}

func (h *Host) checkCellCount(ref string, r sheet.Rect) error {
	if r.CellCount() > h.cfg.MaxRangeCells {
		return apperrors.NewRangeError(ref, fmt.Sprintf("%d cells exceeds the %d cell limit", r.CellCount(), h.cfg.MaxRangeCells))
	}
	return nil
}

// --- cells ---

type cellRefArgs struct {
	Sheet string `json:"sheet,omitempty"`
	Ref   string `json:"ref"`
}

func (h *Host) apiGetSelection(ctx context.Context, ext *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	sel, err := api.Selection(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.checkCellCount(sel.Rect.String(), sel.Rect); err != nil {
		return nil, err
	}
	if len(sel.Values) > 0 {
		h.recordTaint(ext, sel.SheetID, sel.Rect)
	}
	return sel, nil
}

func (h *Host) apiGetCell(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a cellRefArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperrors.NewRangeError("", "malformed arguments")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	row, col, err := sheet.ParseA1(a.Ref)
	if err != nil {
		return nil, err
	}
	sheetID, err := h.resolveSheet(ctx, api, a.Sheet)
	if err != nil {
		return nil, err
	}
	value, err := api.Cell(ctx, sheetID, row, col)
	if err != nil {
		return nil, err
	}
	h.recordTaint(ext, sheetID, sheet.NewRect(row, col, row, col))
	return value, nil
}

func (h *Host) apiGetRange(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a cellRefArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperrors.NewRangeError("", "malformed arguments")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	r, err := sheet.ParseA1Range(a.Ref)
	if err != nil {
		return nil, err
	}
	if err := h.checkCellCount(a.Ref, r); err != nil {
		return nil, err
	}
	sheetID, err := h.resolveSheet(ctx, api, a.Sheet)
	if err != nil {
		return nil, err
	}
	values, err := api.ReadRange(ctx, sheetID, r)
	if err != nil {
		return nil, err
	}
	h.recordTaint(ext, sheetID, r)
	return values, nil
}

func (h *Host) apiSetCell(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		cellRefArgs
		Value any `json:"value"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperrors.NewRangeError("", "malformed arguments")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	row, col, err := sheet.ParseA1(a.Ref)
	if err != nil {
		return nil, err
	}
	sheetID, err := h.resolveSheet(ctx, api, a.Sheet)
	if err != nil {
		return nil, err
	}
	return nil, api.SetCell(ctx, sheetID, row, col, a.Value)
}

func (h *Host) apiSetRange(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		cellRefArgs
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, apperrors.NewRangeError("", "malformed arguments")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	r, err := sheet.ParseA1Range(a.Ref)
	if err != nil {
		return nil, err
	}
	if err := h.checkCellCount(a.Ref, r); err != nil {
		return nil, err
	}
	if len(a.Values) != r.Rows() {
		return nil, apperrors.NewRangeError(a.Ref, fmt.Sprintf("value matrix has %d rows, range has %d", len(a.Values), r.Rows()))
	}
	for i, row := range a.Values {
		if len(row) != r.Cols() {
			return nil, apperrors.NewRangeError(a.Ref, fmt.Sprintf("row %d has %d columns, range has %d", i, len(row), r.Cols()))
		}
	}
	sheetID, err := h.resolveSheet(ctx, api, a.Sheet)
	if err != nil {
		return nil, err
	}
	return nil, api.SetRange(ctx, sheetID, r, a.Values)
}

// --- sheets ---

func (h *Host) apiGetActiveSheet(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return api.ActiveSheet(ctx)
}

func (h *Host) apiListSheets(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return api.ListSheets(ctx)
}

func (h *Host) apiAddSheet(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Name == "" {
		return nil, fmt.Errorf("sheets.add requires a name")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return api.AddSheet(ctx, a.Name)
}

func (h *Host) apiRenameSheet(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		Sheet string `json:"sheet"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Sheet == "" || a.Name == "" {
		return nil, fmt.Errorf("sheets.rename requires a sheet id and a name")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return nil, api.RenameSheet(ctx, a.Sheet, a.Name)
}

func (h *Host) apiRemoveSheet(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		Sheet string `json:"sheet"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Sheet == "" {
		return nil, fmt.Errorf("sheets.remove requires a sheet id")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return nil, api.DeleteSheet(ctx, a.Sheet)
}

// --- workbook ---

func (h *Host) apiGetActiveWorkbook(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return api.ActiveWorkbook(ctx)
}

func (h *Host) apiOpenWorkbook(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Location == "" {
		return nil, fmt.Errorf("workbook.openWorkbook requires a location")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return api.OpenWorkbook(ctx, a.Location)
}

func (h *Host) apiCreateWorkbook(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return api.CreateWorkbook(ctx)
}

func (h *Host) apiSaveWorkbook(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	h.broadcastEvent(ctx, wireformat.EventBeforeSave, nil)
	return nil, api.SaveWorkbook(ctx)
}

func (h *Host) apiSaveWorkbookAs(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Location == "" {
		return nil, fmt.Errorf("workbook.saveAs requires a location")
	}
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	h.broadcastEvent(ctx, wireformat.EventBeforeSave, nil)
	return nil, api.SaveWorkbookAs(ctx, a.Location)
}

func (h *Host) apiCloseWorkbook(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	api, err := h.requireSpreadsheet()
	if err != nil {
		return nil, err
	}
	return nil, api.CloseWorkbook(ctx)
}

// --- commands ---

func (h *Host) apiRegisterCommand(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return nil, fmt.Errorf("commands.registerCommand requires an id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.reg.claim(kindCommand, a.ID, ext.id); err != nil {
		return nil, err
	}
	if !ext.manifest.ContributesCommand(a.ID) {
		ext.runtimeCommands[a.ID] = true
	}
	return nil, nil
}

func (h *Host) apiUnregisterCommand(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return nil, fmt.Errorf("commands.unregisterCommand requires an id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg.release(kindCommand, a.ID, ext.id)
	delete(ext.runtimeCommands, a.ID)
	return nil, nil
}

func (h *Host) apiExecuteCommand(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Command string            `json:"command"`
		Args    []json.RawMessage `json:"args,omitempty"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return nil, fmt.Errorf("commands.executeCommand requires a command id")
	}
	// An extension invoking its own command would send a nested request into
	// the execution unit that is blocked waiting for this call to return, and
	// the two would deadlock until the timeout tears the unit down.
	if owner, err := h.resolveInvocation(kindCommand, a.Command); err != nil {
		return nil, err
	} else if owner == ext {
		return nil, fmt.Errorf("command %q is owned by the calling extension and cannot be executed reentrantly", a.Command)
	}
	anyArgs := make([]any, len(a.Args))
	for i, raw := range a.Args {
		anyArgs[i] = raw
	}
	result, err := h.ExecuteCommand(ctx, a.Command, anyArgs...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- network ---

type fetchArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type fetchResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (h *Host) apiFetch(ctx context.Context, _ *extension, args json.RawMessage) (any, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil || a.URL == "" {
		return nil, fmt.Errorf("network.fetch requires a url")
	}
	method := a.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(a.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", a.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxFetchBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return fetchResult{Status: resp.StatusCode, Headers: headers, Body: string(data)}, nil
}

func (h *Host) apiOpenWebSocket(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.URL == "" {
		return nil, fmt.Errorf("network.openWebSocket requires a url")
	}
	conn, err := h.dialSocket(ctx, a.URL)
	if err != nil {
		return nil, fmt.Errorf("open websocket %s: %w", a.URL, err)
	}
	socketID := uuid.NewString()
	h.mu.Lock()
	ext.sockets[socketID] = conn
	h.mu.Unlock()
	return map[string]string{"socket": socketID}, nil
}

func (h *Host) apiSendWebSocket(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Socket  string `json:"socket"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Socket == "" {
		return nil, fmt.Errorf("network.sendWebSocket requires a socket id")
	}
	h.mu.Lock()
	conn, ok := ext.sockets[a.Socket]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown socket %q", a.Socket)
	}
	return nil, conn.Write(ctx, websocket.MessageText, []byte(a.Message))
}

func (h *Host) apiCloseWebSocket(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Socket string `json:"socket"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Socket == "" {
		return nil, fmt.Errorf("network.closeWebSocket requires a socket id")
	}
	h.mu.Lock()
	conn, ok := ext.sockets[a.Socket]
	delete(ext.sockets, a.Socket)
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown socket %q", a.Socket)
	}
	return nil, conn.Close(websocket.StatusNormalClosure, "closed by extension")
}

// --- clipboard ---

func (h *Host) apiClipboardRead(ctx context.Context, _ *extension, _ json.RawMessage) (any, error) {
	if h.clipboard == nil {
		return nil, fmt.Errorf("no clipboard backend configured")
	}
	return h.clipboard.ReadText(ctx)
}

// apiClipboardWrite runs the DLP guard against a snapshot of the extension's
// tainted ranges before touching the real clipboard.
func (h *Host) apiClipboardWrite(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("clipboard.writeText requires text")
	}
	if h.clipboard == nil {
		return nil, fmt.Errorf("no clipboard backend configured")
	}
	if h.guard != nil {
		h.mu.Lock()
		tainted := h.taint.Snapshot(ext.id)
		h.mu.Unlock()
		if err := h.guard(ctx, ext.id, tainted); err != nil {
			slog.Info("clipboard write blocked", "extension", ext.id, "tainted_ranges", len(tainted))
			return nil, err
		}
	}
	return nil, h.clipboard.WriteText(ctx, a.Text)
}

// --- storage & config ---

func (h *Host) apiStorageGet(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Key == "" {
		return nil, fmt.Errorf("storage.get requires a key")
	}
	store, err := h.extensionStore(ext)
	if err != nil {
		return nil, err
	}
	value, found, err := store.Get(ctx, a.Key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return value, nil
}

func (h *Host) apiStorageSet(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Key == "" {
		return nil, fmt.Errorf("storage.set requires a key")
	}
	store, err := h.extensionStore(ext)
	if err != nil {
		return nil, err
	}
	return nil, store.Set(ctx, a.Key, a.Value)
}

func (h *Host) apiStorageDelete(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Key == "" {
		return nil, fmt.Errorf("storage.delete requires a key")
	}
	store, err := h.extensionStore(ext)
	if err != nil {
		return nil, err
	}
	return nil, store.Delete(ctx, a.Key)
}

func (h *Host) apiConfigGet(ctx context.Context, ext *extension, _ json.RawMessage) (any, error) {
	store, err := h.extensionStore(ext)
	if err != nil {
		return nil, err
	}
	value, found, err := store.Get(ctx, configStorageKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]json.RawMessage{}, nil
	}
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(value, &cfg); err != nil {
		// Self-healing: a corrupt config record reads as empty.
		slog.Warn("discarding corrupt config record", "extension", ext.id, "error", err)
		return map[string]json.RawMessage{}, nil
	}
	return cfg, nil
}

func (h *Host) apiConfigUpdate(ctx context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Values map[string]json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Values == nil {
		return nil, fmt.Errorf("config.update requires values")
	}
	store, err := h.extensionStore(ext)
	if err != nil {
		return nil, err
	}
	current, _ := h.apiConfigGet(ctx, ext, nil)
	cfg, _ := current.(map[string]json.RawMessage)
	if cfg == nil {
		cfg = make(map[string]json.RawMessage)
	}
	for k, v := range a.Values {
		// An explicit JSON null arrives as the literal "null" bytes and
		// means "remove this key".
		if v == nil || string(v) == "null" {
			delete(cfg, k)
			continue
		}
		cfg[k] = v
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	if err := store.Set(ctx, configStorageKey, data); err != nil {
		return nil, err
	}
	h.notifyExtension(ctx, ext, wireformat.EventConfigChanged, data)
	return nil, nil
}

// --- functions & data connectors ---

func (h *Host) apiRegisterFunction(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Name == "" {
		return nil, fmt.Errorf("functions.register requires a name")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return nil, h.reg.claim(kindCustomFunction, a.Name, ext.id)
}

func (h *Host) apiUnregisterFunction(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.Name == "" {
		return nil, fmt.Errorf("functions.unregister requires a name")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg.release(kindCustomFunction, a.Name, ext.id)
	return nil, nil
}

func (h *Host) apiRegisterConnector(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return nil, fmt.Errorf("dataConnectors.register requires an id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return nil, h.reg.claim(kindDataConnector, a.ID, ext.id)
}

func (h *Host) apiUnregisterConnector(_ context.Context, ext *extension, args json.RawMessage) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return nil, fmt.Errorf("dataConnectors.unregister requires an id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg.release(kindDataConnector, a.ID, ext.id)
	return nil, nil
}

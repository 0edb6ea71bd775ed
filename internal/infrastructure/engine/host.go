package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/expr-lang/expr/vm"
	"github.com/gridlet-dev/gridlet/internal/application/apperrors"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/application/services"
	"github.com/gridlet-dev/gridlet/internal/domain/entities"
	"github.com/gridlet-dev/gridlet/internal/domain/taint"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/metrics"
	"github.com/gridlet-dev/gridlet/wireformat"
	"golang.org/x/sync/errgroup"
)

// extension is the host-owned record of one loaded extension. All fields are
// guarded by the host mutex except the bridge, whose own methods are safe to
// call without it.
type extension struct {
	id       values.ExtensionID
	manifest *entities.Manifest
	entry    string

	state          entities.ExtensionState
	activationGate chan struct{}
	bridge         *unitBridge

	// Runtime (non-manifest) registrations, released on termination.
	runtimeCommands map[string]bool
	panels          map[string]*panelInstance
	contextMenus    map[string]*contextMenuItem
	sockets         map[string]socketConn
}

// contextMenuItem is a runtime ui.registerContextMenu contribution. The
// optional when program controls visibility against a host-supplied
// environment.
type contextMenuItem struct {
	ID    string
	Label string
	When  string
	// program is nil when no when clause was given or it failed to compile;
	// a failed compile disables the item, never the extension.
	program *vm.Program
	owner   values.ExtensionID
}

// Host is the extension host orchestrator. It owns the extension registry,
// the contribution registries, and one execution-unit bridge per extension.
// Host state is guarded by a single mutex; the only suspension points are
// cross-boundary requests, which never hold it.
type Host struct {
	cfg     Config
	spawner ports.UnitSpawner
	perms   *services.PermissionManager
	taint   *taint.Tracker

	spreadsheet ports.SpreadsheetAPI
	clipboard   ports.ClipboardAPI
	storage     ports.StorageAPI
	ui          ports.UIAPI
	guard       ports.ClipboardWriteGuard
	metrics     *metrics.Metrics
	httpClient  *http.Client
	dialSocket  socketDialer

	mu         sync.Mutex
	extensions map[values.ExtensionID]*extension
	reg        *registries
	api        map[string]apiOperation
	disposed   bool
}

// Option configures a Host.
type Option func(*Host)

// WithSpreadsheet sets the spreadsheet backend delegate.
func WithSpreadsheet(api ports.SpreadsheetAPI) Option {
	return func(h *Host) { h.spreadsheet = api }
}

// WithClipboard sets the clipboard delegate.
func WithClipboard(api ports.ClipboardAPI) Option {
	return func(h *Host) { h.clipboard = api }
}

// WithStorage sets the extension storage delegate.
func WithStorage(api ports.StorageAPI) Option {
	return func(h *Host) { h.storage = api }
}

// WithUI sets the optional UI delegate.
func WithUI(api ports.UIAPI) Option {
	return func(h *Host) { h.ui = api }
}

// WithClipboardWriteGuard installs the DLP hook consulted before any
// clipboard write.
func WithClipboardWriteGuard(guard ports.ClipboardWriteGuard) Option {
	return func(h *Host) { h.guard = guard }
}

// WithMetrics enables metric counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithHTTPClient overrides the client used for network.fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Host) { h.httpClient = c }
}

// NewHost creates a Host. Registries are instance state, never process-wide,
// so multiple hosts do not interfere.
func NewHost(cfg Config, spawner ports.UnitSpawner, perms *services.PermissionManager, opts ...Option) *Host {
	cfg = cfg.withDefaults()
	h := &Host{
		cfg:        cfg,
		spawner:    spawner,
		perms:      perms,
		taint:      taint.NewTracker(cfg.MaxTaintedRanges),
		httpClient: http.DefaultClient,
		dialSocket: dialWebSocket,
		extensions: make(map[values.ExtensionID]*extension),
		reg:        newRegistries(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.api = h.buildAPITable()
	return h
}

// LoadExtension registers the manifest's contribution ids and stores the
// record, then spawns the execution unit in the background. Loading an
// already-loaded id is refused; a contribution id owned by another extension
// fails with DuplicateContribution and leaves no partial ownership.
func (h *Host) LoadExtension(ctx context.Context, manifest *entities.Manifest, entry string) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	id, err := manifest.ID()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return fmt.Errorf("host is disposed")
	}
	if _, ok := h.extensions[id]; ok {
		return fmt.Errorf("extension %s is already loaded", id)
	}

	if err := h.reg.claimSets([]claimSet{
		{kindCommand, commandIDs(manifest)},
		{kindPanel, panelIDs(manifest)},
		{kindCustomFunction, functionNames(manifest)},
		{kindDataConnector, connectorIDs(manifest)},
	}, id); err != nil {
		return err
	}

	ext := &extension{
		id:              id,
		manifest:        manifest,
		entry:           entry,
		state:           entities.StateInactive,
		runtimeCommands: make(map[string]bool),
		panels:          make(map[string]*panelInstance),
		contextMenus:    make(map[string]*contextMenuItem),
		sockets:         make(map[string]socketConn),
	}
	h.extensions[id] = ext

	// Spawn eagerly but off the caller's path; activation retries on demand
	// if this fails.
	go func() {
		if err := h.ensureUnit(context.WithoutCancel(ctx), ext); err != nil {
			slog.Warn("background spawn failed", "extension", id, "error", err)
		}
	}()

	slog.Debug("extension loaded", "extension", id, "version", manifest.Version)
	return nil
}

func commandIDs(m *entities.Manifest) []string {
	out := make([]string, 0, len(m.Contributes.Commands))
	for _, c := range m.Contributes.Commands {
		out = append(out, c.ID)
	}
	return out
}

func panelIDs(m *entities.Manifest) []string {
	out := make([]string, 0, len(m.Contributes.Panels))
	for _, p := range m.Contributes.Panels {
		out = append(out, p.ID)
	}
	return out
}

func functionNames(m *entities.Manifest) []string {
	out := make([]string, 0, len(m.Contributes.CustomFunctions))
	for _, f := range m.Contributes.CustomFunctions {
		out = append(out, f.Name)
	}
	return out
}

func connectorIDs(m *entities.Manifest) []string {
	out := make([]string, 0, len(m.Contributes.DataConnectors))
	for _, d := range m.Contributes.DataConnectors {
		out = append(out, d.ID)
	}
	return out
}

// ensureUnit spawns the execution unit and wires its bridge if none is live.
func (h *Host) ensureUnit(ctx context.Context, ext *extension) error {
	h.mu.Lock()
	if ext.bridge != nil {
		h.mu.Unlock()
		return nil
	}
	spec := ports.UnitSpec{
		ExtensionID: ext.id,
		DisplayName: ext.manifest.Display(),
		Entry:       ext.entry,
		Sandbox: wireformat.SandboxFlags{
			DisallowEval: true,
		},
	}
	h.mu.Unlock()

	// The handler binds the extension identity here so no unit can
	// impersonate another.
	handler := apiCallHandlerFunc(func(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail) {
		return h.handleAPICall(ctx, ext, call)
	})
	unit, err := h.spawner.Spawn(ctx, spec, handler)
	if err != nil {
		return fmt.Errorf("spawn unit for %s: %w", ext.id, err)
	}

	b := newUnitBridge(ext.id, unit,
		func(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail) {
			return h.handleAPICall(ctx, ext, call)
		},
		func(b *unitBridge, reason string) {
			h.handleUnitTermination(ext, b, reason)
		},
	)

	h.mu.Lock()
	if ext.bridge != nil {
		// Lost the race to another spawner; keep the existing bridge.
		h.mu.Unlock()
		b.terminate("duplicate spawn")
		return nil
	}
	ext.bridge = b
	h.mu.Unlock()

	if b.isTerminated() {
		// The unit died before the bridge was installed; release it so the
		// next activation respawns.
		h.handleUnitTermination(ext, b, "terminated during spawn")
		return apperrors.NewWorkerTerminatedError(ext.id.String(), "terminated during spawn")
	}

	init := wireformat.InitPayload{
		ExtensionID: ext.id.String(),
		DisplayName: spec.DisplayName,
		Entry:       spec.Entry,
		Sandbox:     spec.Sandbox,
	}
	if err := b.notify(ctx, wireformat.KindInit, init); err != nil {
		return fmt.Errorf("init unit for %s: %w", ext.id, err)
	}
	return nil
}

type apiCallHandlerFunc func(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail)

func (f apiCallHandlerFunc) HandleAPICall(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail) {
	return f(ctx, call)
}

// ensureActive activates the extension if a qualifying activation event
// authorizes it. Concurrent activations coalesce on a gate channel.
func (h *Host) ensureActive(ctx context.Context, ext *extension, trigger values.ActivationEvent) error {
	for {
		h.mu.Lock()
		switch ext.state {
		case entities.StateActive:
			h.mu.Unlock()
			return nil

		case entities.StateActivating:
			gate := ext.activationGate
			h.mu.Unlock()
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue

		case entities.StateInactive:
			if trigger != "" && !ext.manifest.HasActivationEvent(trigger) {
				h.mu.Unlock()
				return apperrors.NewNotActivatedError(ext.id.String(), trigger.String())
			}
			gate := make(chan struct{})
			ext.state = entities.StateActivating
			ext.activationGate = gate
			h.mu.Unlock()

			err := h.activate(ctx, ext, trigger)

			h.mu.Lock()
			close(gate)
			ext.activationGate = nil
			if ext.state == entities.StateActivating {
				if err != nil {
					ext.state = entities.StateInactive
				} else {
					ext.state = entities.StateActive
				}
			}
			h.mu.Unlock()
			return err
		}
	}
}

func (h *Host) activate(ctx context.Context, ext *extension, trigger values.ActivationEvent) error {
	if err := h.ensureUnit(ctx, ext); err != nil {
		return err
	}
	b := h.bridgeFor(ext)
	if b == nil {
		return apperrors.NewWorkerTerminatedError(ext.id.String(), "no execution unit")
	}
	_, err := b.request(ctx, wireformat.KindActivate,
		wireformat.ActivatePayload{Reason: trigger.String()}, h.cfg.ActivationTimeout)
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.Activations.WithLabelValues(ext.id.String()).Inc()
	}
	slog.Debug("extension activated", "extension", ext.id, "trigger", trigger)
	return nil
}

func (h *Host) bridgeFor(ext *extension) *unitBridge {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ext.bridge
}

// Startup activates every extension declaring onStartupFinished, then
// broadcasts workbookOpened to all active extensions. One extension failing
// to activate never blocks the others.
func (h *Host) Startup(ctx context.Context) error {
	h.mu.Lock()
	var targets []*extension
	for _, ext := range h.extensions {
		if ext.manifest.HasActivationEvent(values.OnStartupFinished) {
			targets = append(targets, ext)
		}
	}
	h.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ext := range targets {
		g.Go(func() error {
			if err := h.ensureActive(gctx, ext, values.OnStartupFinished); err != nil {
				slog.Warn("startup activation failed", "extension", ext.id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	h.broadcastEvent(ctx, wireformat.EventWorkbookOpened, nil)
	return nil
}

// resolveInvocation maps a contribution id to its owning extension.
func (h *Host) resolveInvocation(kind, id string) (*extension, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner, ok := h.reg.owner(kind, id)
	if !ok {
		return nil, fmt.Errorf("no extension contributes %s %q", kind, id)
	}
	ext, ok := h.extensions[owner]
	if !ok {
		return nil, fmt.Errorf("no extension contributes %s %q", kind, id)
	}
	return ext, nil
}

func marshalArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal argument: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// ExecuteCommand resolves the owning extension, activates it if its manifest
// declares onCommand:<id>, and forwards the call across the bridge.
func (h *Host) ExecuteCommand(ctx context.Context, commandID string, args ...any) (json.RawMessage, error) {
	ext, err := h.resolveInvocation(kindCommand, commandID)
	if err != nil {
		return nil, err
	}
	if err := h.ensureActive(ctx, ext, values.OnCommand(commandID)); err != nil {
		return nil, err
	}
	rawArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	b := h.bridgeFor(ext)
	if b == nil {
		return nil, apperrors.NewWorkerTerminatedError(ext.id.String(), "no execution unit")
	}
	return b.request(ctx, wireformat.KindExecuteCommand,
		wireformat.CommandPayload{Command: commandID, Args: rawArgs}, h.cfg.CommandTimeout)
}

// InvokeCustomFunction forwards a custom function invocation, activating via
// onCustomFunction:<name> if needed.
func (h *Host) InvokeCustomFunction(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	ext, err := h.resolveInvocation(kindCustomFunction, name)
	if err != nil {
		return nil, err
	}
	if err := h.ensureActive(ctx, ext, values.OnCustomFunction(name)); err != nil {
		return nil, err
	}
	rawArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	b := h.bridgeFor(ext)
	if b == nil {
		return nil, apperrors.NewWorkerTerminatedError(ext.id.String(), "no execution unit")
	}
	return b.request(ctx, wireformat.KindInvokeCustomFunction,
		wireformat.CustomFunctionPayload{Name: name, Args: rawArgs}, h.cfg.CommandTimeout)
}

// InvokeDataConnector forwards a connector method invocation, activating via
// onDataConnector:<id> if needed.
func (h *Host) InvokeDataConnector(ctx context.Context, connectorID, method string, args ...any) (json.RawMessage, error) {
	ext, err := h.resolveInvocation(kindDataConnector, connectorID)
	if err != nil {
		return nil, err
	}
	if err := h.ensureActive(ctx, ext, values.OnDataConnector(connectorID)); err != nil {
		return nil, err
	}
	rawArgs, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	b := h.bridgeFor(ext)
	if b == nil {
		return nil, apperrors.NewWorkerTerminatedError(ext.id.String(), "no execution unit")
	}
	return b.request(ctx, wireformat.KindInvokeDataConnector,
		wireformat.DataConnectorPayload{Connector: connectorID, Method: method, Args: rawArgs}, h.cfg.CommandTimeout)
}

// ActivateView notifies already-active extensions that the view became
// visible, and additionally activates extensions declaring onView:<id>.
// A failure activating one extension never prevents notifying others.
func (h *Host) ActivateView(ctx context.Context, viewID string) {
	trigger := values.OnView(viewID)

	h.mu.Lock()
	var toActivate []*extension
	for _, ext := range h.extensions {
		if ext.state != entities.StateActive && ext.manifest.HasActivationEvent(trigger) {
			toActivate = append(toActivate, ext)
		}
	}
	h.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ext := range toActivate {
		g.Go(func() error {
			if err := h.ensureActive(gctx, ext, trigger); err != nil {
				slog.Warn("view activation failed", "extension", ext.id, "view", viewID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	data, _ := json.Marshal(map[string]string{"viewId": viewID})
	h.broadcastEvent(ctx, wireformat.EventViewActivated, data)
}

// ReloadExtension terminates and clears the extension's execution unit.
// In-flight requests are rejected with WorkerTerminated; the taint record
// survives. The next qualifying invocation respawns and reactivates it.
func (h *Host) ReloadExtension(ctx context.Context, id values.ExtensionID) error {
	h.mu.Lock()
	ext, ok := h.extensions[id]
	var b *unitBridge
	if ok {
		b = ext.bridge
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("extension %s is not loaded", id)
	}
	if b != nil {
		b.terminate("reload")
	}
	return h.ensureUnit(ctx, ext)
}

// UnloadExtension terminates the unit and releases everything the extension
// owns: registry entries, panels, context menus, and its taint record.
func (h *Host) UnloadExtension(ctx context.Context, id values.ExtensionID) error {
	h.mu.Lock()
	ext, ok := h.extensions[id]
	var b *unitBridge
	if ok {
		b = ext.bridge
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("extension %s is not loaded", id)
	}
	if b != nil {
		b.terminate("unload")
	}

	h.mu.Lock()
	h.reg.releaseOwned(id)
	h.taint.Clear(id)
	delete(h.extensions, id)
	h.mu.Unlock()

	slog.Debug("extension unloaded", "extension", id)
	return nil
}

// TerminateExtension force-terminates the execution unit without unloading.
// Used by callers that revoke or reset permissions so a later activation
// re-requests consent.
func (h *Host) TerminateExtension(id values.ExtensionID, reason string) {
	h.mu.Lock()
	ext, ok := h.extensions[id]
	var b *unitBridge
	if ok {
		b = ext.bridge
	}
	h.mu.Unlock()
	if ok && b != nil {
		b.terminate(reason)
	}
}

// Dispose terminates every execution unit and clears all registries.
func (h *Host) Dispose() {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.disposed = true
	var bridges []*unitBridge
	for _, ext := range h.extensions {
		if ext.bridge != nil {
			bridges = append(bridges, ext.bridge)
		}
	}
	h.mu.Unlock()

	for _, b := range bridges {
		b.terminate("host disposed")
	}

	h.mu.Lock()
	h.extensions = make(map[values.ExtensionID]*extension)
	h.reg.clearAll()
	h.taint.ClearAll()
	h.mu.Unlock()
}

// handleUnitTermination releases per-run state after a unit dies: runtime
// commands, live panels, context menus and open sockets. The taint record is
// deliberately preserved so a crash cannot launder provenance. A bridge that
// is no longer the extension's current one (it lost a spawn race) releases
// nothing.
func (h *Host) handleUnitTermination(ext *extension, b *unitBridge, reason string) {
	h.mu.Lock()
	if ext.bridge != b {
		h.mu.Unlock()
		slog.Debug("ignoring termination of superseded unit", "extension", ext.id, "reason", reason)
		return
	}
	ext.bridge = nil
	ext.state = entities.StateInactive

	for id := range ext.runtimeCommands {
		h.reg.release(kindCommand, id, ext.id)
	}
	ext.runtimeCommands = make(map[string]bool)

	panels := ext.panels
	ext.panels = make(map[string]*panelInstance)
	for id := range panels {
		// Manifest-declared panel ids stay claimed; only the live
		// instances die with the unit.
		if !h.manifestDeclaresPanel(ext, id) {
			h.reg.release(kindPanel, id, ext.id)
		}
	}

	ext.contextMenus = make(map[string]*contextMenuItem)

	sockets := ext.sockets
	ext.sockets = make(map[string]socketConn)
	h.mu.Unlock()

	for id := range panels {
		if h.ui != nil {
			if err := h.ui.PanelClosed(context.Background(), id); err != nil {
				slog.Debug("panel close notification failed", "panel", id, "error", err)
			}
		}
	}
	for _, conn := range sockets {
		_ = conn.Close(websocket.StatusGoingAway, "execution unit terminated")
	}

	if h.metrics != nil {
		h.metrics.UnitTerminations.WithLabelValues(ext.id.String()).Inc()
	}
	slog.Info("execution unit terminated", "extension", ext.id, "reason", reason)
}

func (h *Host) manifestDeclaresPanel(ext *extension, panelID string) bool {
	for _, p := range ext.manifest.Contributes.Panels {
		if p.ID == panelID {
			return true
		}
	}
	return false
}

// ExtensionState reports the lifecycle state of a loaded extension.
func (h *Host) ExtensionState(id values.ExtensionID) (entities.ExtensionState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ext, ok := h.extensions[id]
	if !ok {
		return entities.StateInactive, false
	}
	return ext.state, true
}

// TaintedRanges returns a snapshot of the extension's tainted ranges.
func (h *Host) TaintedRanges(id values.ExtensionID) []taint.Range {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.taint.Snapshot(id)
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlet-dev/gridlet/internal/application/apperrors"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/application/services"
	"github.com/gridlet-dev/gridlet/internal/domain/entities"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/sheet"
	"github.com/gridlet-dev/gridlet/internal/domain/taint"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/persistence/memory"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/spreadsheet"
	"github.com/gridlet-dev/gridlet/wireformat"
)

// fakeUnit is a scriptable in-process execution unit.
type fakeUnit struct {
	mu      sync.Mutex
	inbound chan wireformat.Envelope
	done    chan struct{}
	closed  bool
	sent    []wireformat.Envelope
	handler ports.APICallHandler
	script  func(u *fakeUnit, env wireformat.Envelope)
}

func (u *fakeUnit) Send(_ context.Context, env wireformat.Envelope) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return errors.New("unit terminated")
	}
	u.sent = append(u.sent, env)
	script := u.script
	u.mu.Unlock()
	if script != nil {
		go script(u, env)
	}
	return nil
}

func (u *fakeUnit) Inbound() <-chan wireformat.Envelope { return u.inbound }
func (u *fakeUnit) Done() <-chan struct{}               { return u.done }

func (u *fakeUnit) Terminate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.closed = true
	close(u.done)
}

func (u *fakeUnit) isTerminated() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

func (u *fakeUnit) reply(kind, id string, payload any) {
	env, err := wireformat.NewEnvelope(kind, id, payload)
	if err != nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	select {
	case u.inbound <- env:
	default:
	}
}

// respondOK acknowledges every request with an empty result.
func respondOK(u *fakeUnit, env wireformat.Envelope) {
	if result, _, ok := wireformat.ResponseKinds(env.Kind); ok {
		u.reply(result, env.ID, nil)
	}
}

type fakeSpawner struct {
	mu       sync.Mutex
	script   func(u *fakeUnit, env wireformat.Envelope)
	spawnErr error
	units    []*fakeUnit
}

func (s *fakeSpawner) Spawn(_ context.Context, _ ports.UnitSpec, handler ports.APICallHandler) (ports.ExecutionUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	u := &fakeUnit{
		inbound: make(chan wireformat.Envelope, 16),
		done:    make(chan struct{}),
		handler: handler,
		script:  s.script,
	}
	if u.script == nil {
		u.script = respondOK
	}
	s.units = append(s.units, u)
	return u, nil
}

func (s *fakeSpawner) lastUnit() *fakeUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.units) == 0 {
		return nil
	}
	return s.units[len(s.units)-1]
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

type memPermStore struct {
	mu      sync.Mutex
	records map[values.ExtensionID]*permissions.Record
}

func (s *memPermStore) Load() (map[values.ExtensionID]*permissions.Record, error) {
	return nil, nil
}

func (s *memPermStore) Save(records map[values.ExtensionID]*permissions.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	return nil
}

type fakeClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *fakeClipboard) ReadText(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *fakeClipboard) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}

func (c *fakeClipboard) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

type hostFixture struct {
	host    *Host
	spawner *fakeSpawner
	grid    *spreadsheet.Grid
	clip    *fakeClipboard
	prompts *atomic.Int32

	guardMu     sync.Mutex
	guardSeen   [][]taint.Range
	guardBlocks bool
}

func newHostFixture(t *testing.T, cfg Config, script func(u *fakeUnit, env wireformat.Envelope)) *hostFixture {
	t.Helper()
	f := &hostFixture{
		spawner: &fakeSpawner{script: script},
		grid:    spreadsheet.NewGrid(),
		clip:    &fakeClipboard{},
		prompts: &atomic.Int32{},
	}

	prompter := ports.ConsentPrompterFunc(func(context.Context, ports.ConsentRequest) (bool, error) {
		f.prompts.Add(1)
		return true, nil
	})
	perms := services.NewPermissionManager(&memPermStore{}, prompter)

	guard := func(_ context.Context, _ values.ExtensionID, tainted []taint.Range) error {
		f.guardMu.Lock()
		defer f.guardMu.Unlock()
		f.guardSeen = append(f.guardSeen, tainted)
		if f.guardBlocks && len(tainted) > 0 {
			return fmt.Errorf("clipboard write blocked: content derives from spreadsheet data")
		}
		return nil
	}

	f.host = NewHost(cfg, f.spawner, perms,
		WithSpreadsheet(f.grid),
		WithClipboard(f.clip),
		WithStorage(memory.NewStore()),
		WithClipboardWriteGuard(guard),
	)
	t.Cleanup(f.host.Dispose)
	return f
}

func (f *hostFixture) loadManifest(t *testing.T, m *entities.Manifest) values.ExtensionID {
	t.Helper()
	require.NoError(t, f.host.LoadExtension(context.Background(), m, "/tmp/"+m.Name+".wasm"))
	id, err := m.ID()
	require.NoError(t, err)
	return id
}

// callAPI dispatches a capability call exactly as a unit would.
func (f *hostFixture) callAPI(t *testing.T, id values.ExtensionID, namespace, method, args string) (json.RawMessage, *wireformat.ErrorDetail) {
	t.Helper()
	f.host.mu.Lock()
	ext := f.host.extensions[id]
	f.host.mu.Unlock()
	require.NotNil(t, ext, "extension %s not loaded", id)
	return f.host.handleAPICall(context.Background(), ext, wireformat.APICallPayload{
		Namespace: namespace,
		Method:    method,
		Args:      json.RawMessage(args),
	})
}

func csvManifest() *entities.Manifest {
	return &entities.Manifest{
		Name:      "csv",
		Publisher: "acme",
		Version:   "1.0.0",
		Permissions: []string{
			permissions.CellsRead, permissions.CellsWrite, permissions.Clipboard,
			permissions.Storage, permissions.UICommands, permissions.UIMenus, permissions.UIPanels,
		},
		ActivationEvents: []values.ActivationEvent{values.OnCommand("acme.csv.run")},
		Contributes: entities.Contributions{
			Commands: []entities.CommandContribution{{ID: "acme.csv.run", Title: "Run"}},
		},
	}
}

func TestHost_LoadExtension_RefusesDuplicateLoad(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	f.loadManifest(t, csvManifest())

	err := f.host.LoadExtension(context.Background(), csvManifest(), "/tmp/csv.wasm")
	assert.ErrorContains(t, err, "already loaded")
}

func TestHost_LoadExtension_DuplicateContributionRollsBack(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	f.loadManifest(t, csvManifest())

	// Second extension reuses csv's command id; none of its own claims may
	// survive the failure.
	second := &entities.Manifest{
		Name: "rival", Publisher: "acme", Version: "1.0.0",
		Contributes: entities.Contributions{
			Panels:   []entities.PanelContribution{{ID: "acme.rival.panel"}},
			Commands: []entities.CommandContribution{{ID: "acme.csv.run"}},
		},
	}
	err := f.host.LoadExtension(context.Background(), second, "/tmp/rival.wasm")
	var dup *apperrors.DuplicateContributionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "acme.csv.run", dup.ID)

	// The rolled-back panel id is claimable by a third extension.
	third := &entities.Manifest{
		Name: "tenant", Publisher: "acme", Version: "1.0.0",
		Contributes: entities.Contributions{
			Panels: []entities.PanelContribution{{ID: "acme.rival.panel"}},
		},
	}
	assert.NoError(t, f.host.LoadExtension(context.Background(), third, "/tmp/tenant.wasm"))
}

func TestHost_ExecuteCommand_ActivatesOnDemand(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)

	state, ok := f.host.ExtensionState(id)
	require.True(t, ok)
	assert.Equal(t, entities.StateActive, state)

	// A second invocation reuses the active unit.
	after := f.spawner.spawnCount()
	_, err = f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)
	assert.Equal(t, after, f.spawner.spawnCount())
}

func TestHost_ExecuteCommand_SpawnFailure(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	f.spawner.mu.Lock()
	f.spawner.spawnErr = errors.New("runtime unavailable")
	f.spawner.mu.Unlock()
	// Drop any unit the background spawn won before the error was set.
	f.host.mu.Lock()
	ext := f.host.extensions[id]
	f.host.mu.Unlock()
	f.host.TerminateExtension(id, "test reset")
	require.Eventually(t, func() bool {
		return f.host.bridgeFor(ext) == nil
	}, time.Second, 5*time.Millisecond)

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	assert.ErrorContains(t, err, "runtime unavailable")
}

func TestHost_ExecuteCommand_UnknownCommand(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.nobody.run")
	assert.ErrorContains(t, err, "no extension contributes")
}

func TestHost_ExecuteCommand_NotActivated(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	m := csvManifest()
	// Contributes the command but declares no qualifying activation event.
	m.ActivationEvents = nil
	id := f.loadManifest(t, m)

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	var notActivated *apperrors.NotActivatedError
	require.ErrorAs(t, err, &notActivated)
	assert.Equal(t, "onCommand:acme.csv.run", notActivated.Trigger)

	state, _ := f.host.ExtensionState(id)
	assert.Equal(t, entities.StateInactive, state)
}

func TestHost_ExecuteCommand_ActivationFailureLeavesInactive(t *testing.T) {
	script := func(u *fakeUnit, env wireformat.Envelope) {
		if env.Kind == wireformat.KindActivate {
			u.reply(wireformat.KindActivateError, env.ID, wireformat.ErrorDetail{Message: "activation exploded"})
			return
		}
		respondOK(u, env)
	}
	f := newHostFixture(t, Config{}, script)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	assert.ErrorContains(t, err, "activation exploded")

	state, _ := f.host.ExtensionState(id)
	assert.Equal(t, entities.StateInactive, state)
}

func TestHost_ExecuteCommand_TimeoutTerminatesAndRespawns(t *testing.T) {
	var dropCommands atomic.Bool
	dropCommands.Store(true)
	script := func(u *fakeUnit, env wireformat.Envelope) {
		if env.Kind == wireformat.KindExecuteCommand && dropCommands.Load() {
			return // never answer; the host must not hang
		}
		respondOK(u, env)
	}
	f := newHostFixture(t, Config{CommandTimeout: 50 * time.Millisecond}, script)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	var timeout *apperrors.TimeoutError
	require.ErrorAs(t, err, &timeout)

	// Timeout terminates the unit and resets the lifecycle state.
	require.Eventually(t, func() bool {
		state, _ := f.host.ExtensionState(id)
		return state == entities.StateInactive
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.spawner.lastUnit().isTerminated())

	// The next invocation respawns a fresh unit and succeeds.
	dropCommands.Store(false)
	_, err = f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.spawner.spawnCount(), 2)
}

func TestHost_Startup_ActivatesDeclaringExtensions(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)

	eager := csvManifest()
	eager.ActivationEvents = append(eager.ActivationEvents, values.OnStartupFinished)
	eagerID := f.loadManifest(t, eager)

	lazy := &entities.Manifest{
		Name: "lazy", Publisher: "acme", Version: "1.0.0",
		ActivationEvents: []values.ActivationEvent{values.OnCommand("acme.lazy.run")},
		Contributes: entities.Contributions{
			Commands: []entities.CommandContribution{{ID: "acme.lazy.run"}},
		},
	}
	lazyID := f.loadManifest(t, lazy)

	require.NoError(t, f.host.Startup(context.Background()))

	state, _ := f.host.ExtensionState(eagerID)
	assert.Equal(t, entities.StateActive, state)
	state, _ = f.host.ExtensionState(lazyID)
	assert.Equal(t, entities.StateInactive, state)

	// The active extension received the workbookOpened event.
	require.Eventually(t, func() bool {
		f.spawner.mu.Lock()
		units := append([]*fakeUnit(nil), f.spawner.units...)
		f.spawner.mu.Unlock()
		for _, unit := range units {
			unit.mu.Lock()
			for _, env := range unit.sent {
				if env.Kind == wireformat.KindEvent {
					var p wireformat.EventPayload
					if json.Unmarshal(env.Payload, &p) == nil && p.Name == wireformat.EventWorkbookOpened {
						unit.mu.Unlock()
						return true
					}
				}
			}
			unit.mu.Unlock()
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestHost_UnloadExtension_ReleasesEverything(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)

	// Record taint, then unload.
	_, detail := f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:B2"}`)
	require.Nil(t, detail)
	require.NotEmpty(t, f.host.TaintedRanges(id))

	require.NoError(t, f.host.UnloadExtension(context.Background(), id))

	assert.Empty(t, f.host.TaintedRanges(id), "unload clears the taint record")
	_, err = f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	assert.Error(t, err, "unload releases the command contribution")
	assert.Error(t, f.host.UnloadExtension(context.Background(), id))
}

func TestHost_TerminateExtension_PreservesTaint(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)
	_, detail := f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:B2"}`)
	require.Nil(t, detail)

	f.host.TerminateExtension(id, "test crash")

	require.Eventually(t, func() bool {
		state, _ := f.host.ExtensionState(id)
		return state == entities.StateInactive
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, f.host.TaintedRanges(id),
		"a terminated unit must not launder data provenance")
}

func TestHost_ReloadExtension(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)
	before := f.spawner.spawnCount()

	require.NoError(t, f.host.ReloadExtension(context.Background(), id))
	assert.Greater(t, f.spawner.spawnCount(), before)

	state, _ := f.host.ExtensionState(id)
	assert.Equal(t, entities.StateInactive, state, "reload requires reactivation")

	_, err = f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	assert.NoError(t, err)
}

func TestHost_Dispose_RefusesFurtherLoads(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	f.loadManifest(t, csvManifest())

	f.host.Dispose()
	f.host.Dispose() // idempotent

	err := f.host.LoadExtension(context.Background(), &entities.Manifest{
		Name: "late", Publisher: "acme", Version: "1.0.0",
	}, "/tmp/late.wasm")
	assert.ErrorContains(t, err, "disposed")
}

func TestHost_EndToEnd_CommandReadsRangeAndWritesClipboard(t *testing.T) {
	// The scripted unit behaves like a real extension: on command it reads
	// A1:B2 through the capability API, copies it to the clipboard, and
	// returns the values.
	script := func(u *fakeUnit, env wireformat.Envelope) {
		switch env.Kind {
		case wireformat.KindExecuteCommand:
			ctx := context.Background()
			raw, detail := u.handler.HandleAPICall(ctx, wireformat.APICallPayload{
				Namespace: "cells", Method: "getRange", Args: json.RawMessage(`{"ref":"A1:B2"}`),
			})
			if detail == nil {
				args, _ := json.Marshal(map[string]string{"text": string(raw)})
				_, detail = u.handler.HandleAPICall(ctx, wireformat.APICallPayload{
					Namespace: "clipboard", Method: "writeText", Args: args,
				})
			}
			if detail != nil {
				u.reply(wireformat.KindCommandError, env.ID, detail)
				return
			}
			u.reply(wireformat.KindCommandResult, env.ID, wireformat.ResultPayload{Value: raw})
		default:
			respondOK(u, env)
		}
	}
	f := newHostFixture(t, Config{}, script)
	f.loadManifest(t, csvManifest())

	ctx := context.Background()
	active, err := f.grid.ActiveSheet(ctx)
	require.NoError(t, err)
	require.NoError(t, f.grid.SetCell(ctx, active.ID, 0, 0, "name"))
	require.NoError(t, f.grid.SetCell(ctx, active.ID, 0, 1, "qty"))
	require.NoError(t, f.grid.SetCell(ctx, active.ID, 1, 0, "bolts"))
	require.NoError(t, f.grid.SetCell(ctx, active.ID, 1, 1, 42.0))

	result, err := f.host.ExecuteCommand(ctx, "acme.csv.run")
	require.NoError(t, err)
	assert.JSONEq(t, `[["name","qty"],["bolts",42]]`, string(result))

	// cells.read and clipboard prompted once each.
	assert.Equal(t, int32(2), f.prompts.Load())

	// The guard saw the tainted A1:B2 rectangle before the write landed.
	f.guardMu.Lock()
	require.Len(t, f.guardSeen, 1)
	require.Len(t, f.guardSeen[0], 1)
	assert.Equal(t, taint.NewRange(active.ID, sheet.NewRect(0, 0, 1, 1)), f.guardSeen[0][0])
	f.guardMu.Unlock()
	assert.JSONEq(t, `[["name","qty"],["bolts",42]]`, f.clip.current())
}

func TestDispatch_UndeclaredPermission(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	m := csvManifest()
	m.Permissions = []string{permissions.CellsRead}
	id := f.loadManifest(t, m)

	_, detail := f.callAPI(t, id, "clipboard", "writeText", `{"text":"x"}`)
	require.NotNil(t, detail)
	assert.Equal(t, "undeclared_permission", detail.Code)
	assert.Equal(t, int32(0), f.prompts.Load(), "undeclared permissions never prompt")
}

func TestDispatch_PermissionDenied(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	// Replace the manager with a denying prompter.
	deny := ports.ConsentPrompterFunc(func(context.Context, ports.ConsentRequest) (bool, error) {
		return false, nil
	})
	f.host.perms = services.NewPermissionManager(&memPermStore{}, deny)

	_, detail := f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:B2"}`)
	require.NotNil(t, detail)
	assert.Equal(t, "permission_denied", detail.Code)
	assert.Empty(t, f.host.TaintedRanges(id), "a denied read taints nothing")
}

func TestDispatch_UnknownMethod(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "cells", "explode", `{}`)
	require.NotNil(t, detail)
	assert.Equal(t, "unknown_api_method", detail.Code)
}

func TestDispatch_RangeGuardrail(t *testing.T) {
	f := newHostFixture(t, Config{MaxRangeCells: 4}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:C3"}`)
	require.NotNil(t, detail)
	assert.Equal(t, "range_error", detail.Code)
	assert.Empty(t, f.host.TaintedRanges(id), "a rejected read taints nothing")

	value, detail := f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:B2"}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `[[null,null],[null,null]]`, string(value))
}

// A range whose row count sits near the int64 ceiling must be rejected
// outright rather than wrapping the cell count negative and sailing past
// the guardrail into a giant allocation.
func TestDispatch_RangeGuardrail_HugeRowRejected(t *testing.T) {
	f := newHostFixture(t, Config{MaxRangeCells: 4}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:B9223372036854775807"}`)
	require.NotNil(t, detail)
	assert.Empty(t, f.host.TaintedRanges(id))
}

func TestDispatch_MalformedRef(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "cells", "getCell", `{"ref":"banana"}`)
	assert.NotNil(t, detail)
}

func TestDispatch_SetRangeDimensionMismatch(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "cells", "setRange", `{"ref":"A1:B2","values":[["only"]]}`)
	require.NotNil(t, detail)
	assert.Equal(t, "range_error", detail.Code)
}

func TestDispatch_CellWriteAndReadBack(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "cells", "setCell", `{"ref":"B2","value":"hello"}`)
	require.Nil(t, detail)

	value, detail := f.callAPI(t, id, "cells", "getCell", `{"ref":"B2"}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `"hello"`, string(value))

	// Reads taint, writes do not: exactly one 1x1 range recorded.
	ranges := f.host.TaintedRanges(id)
	require.Len(t, ranges, 1)
	assert.Equal(t, 1, ranges[0].CellCount())
}

func TestDispatch_ClipboardGuardBlocksTaintedWrite(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	f.guardBlocks = true
	id := f.loadManifest(t, csvManifest())

	// Untainted write passes.
	_, detail := f.callAPI(t, id, "clipboard", "writeText", `{"text":"benign"}`)
	require.Nil(t, detail)
	assert.Equal(t, "benign", f.clip.current())

	// After a read, the same write is vetoed.
	_, detail = f.callAPI(t, id, "cells", "getRange", `{"ref":"A1:B2"}`)
	require.Nil(t, detail)
	_, detail = f.callAPI(t, id, "clipboard", "writeText", `{"text":"exfil"}`)
	require.NotNil(t, detail)
	assert.Contains(t, detail.Message, "blocked")
	assert.Equal(t, "benign", f.clip.current(), "a vetoed write never reaches the clipboard")
}

func TestDispatch_StorageRoundTrip(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	value, detail := f.callAPI(t, id, "storage", "get", `{"key":"missing"}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `null`, string(value))

	_, detail = f.callAPI(t, id, "storage", "set", `{"key":"prefs","value":{"sep":";"}}`)
	require.Nil(t, detail)

	value, detail = f.callAPI(t, id, "storage", "get", `{"key":"prefs"}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `{"sep":";"}`, string(value))

	_, detail = f.callAPI(t, id, "storage", "delete", `{"key":"prefs"}`)
	require.Nil(t, detail)
	value, detail = f.callAPI(t, id, "storage", "get", `{"key":"prefs"}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `null`, string(value))
}

func TestDispatch_ConfigUpdateMergesAndDeletes(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	value, detail := f.callAPI(t, id, "config", "get", `{}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `{}`, string(value))

	_, detail = f.callAPI(t, id, "config", "update", `{"values":{"sep":";","headers":true}}`)
	require.Nil(t, detail)
	_, detail = f.callAPI(t, id, "config", "update", `{"values":{"headers":null,"limit":10}}`)
	require.Nil(t, detail)

	value, detail = f.callAPI(t, id, "config", "get", `{}`)
	require.Nil(t, detail)
	assert.JSONEq(t, `{"sep":";","limit":10}`, string(value))
}

func TestDispatch_RuntimeCommandReleasedOnTermination(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)

	_, detail := f.callAPI(t, id, "commands", "registerCommand", `{"id":"acme.csv.extra"}`)
	require.Nil(t, detail)
	owner, ok := f.commandOwner("acme.csv.extra")
	require.True(t, ok)
	assert.True(t, owner.Equals(id))

	f.host.TerminateExtension(id, "test")
	require.Eventually(t, func() bool {
		_, ok := f.commandOwner("acme.csv.extra")
		return !ok
	}, time.Second, 5*time.Millisecond)

	// The manifest-declared command survives termination.
	_, ok = f.commandOwner("acme.csv.run")
	assert.True(t, ok)
}

func (f *hostFixture) commandOwner(id string) (values.ExtensionID, bool) {
	f.host.mu.Lock()
	defer f.host.mu.Unlock()
	return f.host.reg.owner(kindCommand, id)
}

// A guest invoking one of its own commands would nest a request into the
// unit that is already blocked on the outer call. The dispatcher must reject
// the call instead of deadlocking until the timeout kills the unit.
func TestDispatch_ExecuteCommand_RejectsSelfTarget(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	done := make(chan *wireformat.ErrorDetail, 1)
	go func() {
		_, detail := f.callAPI(t, id, "commands", "executeCommand", `{"command":"acme.csv.run"}`)
		done <- detail
	}()
	select {
	case detail := <-done:
		require.NotNil(t, detail)
		assert.Contains(t, detail.Message, "calling extension")
	case <-time.After(2 * time.Second):
		t.Fatal("self-targeted executeCommand did not return")
	}

	// The command stays owned and invocable from the outside.
	_, err := f.host.ExecuteCommand(context.Background(), "acme.csv.run")
	require.NoError(t, err)
}

func TestDispatch_ExecuteCommand_UnknownCommand(t *testing.T) {
	f := newHostFixture(t, Config{}, nil)
	id := f.loadManifest(t, csvManifest())

	_, detail := f.callAPI(t, id, "commands", "executeCommand", `{"command":"nobody.owns.this"}`)
	require.NotNil(t, detail)
	assert.Contains(t, detail.Message, "no extension contributes")
}

// Package wasmunit runs extension code inside wazero WASM sandboxes. Each
// extension gets its own runtime instance so host functions close over that
// unit's capability-call handler and no unit can reach another's state.
package wasmunit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/wireformat"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// hostModuleName is the import namespace extension binaries link against.
const hostModuleName = "gridlet_host"

const defaultMemoryLimitMB = 256

// globalCache speeds up compilation across units running the same binary.
var globalCache = wazero.NewCompilationCache()

// Spawner creates WASM execution units from on-disk binaries.
type Spawner struct{}

// NewSpawner creates a WASM unit spawner.
func NewSpawner() *Spawner {
	return &Spawner{}
}

// Spawn implements ports.UnitSpawner. Entry must be a path to a WASM binary
// exporting handle_message, allocate and deallocate.
func (s *Spawner) Spawn(ctx context.Context, spec ports.UnitSpec, handler ports.APICallHandler) (ports.ExecutionUnit, error) {
	wasmBytes, err := os.ReadFile(spec.Entry)
	if err != nil {
		return nil, fmt.Errorf("read extension binary %s: %w", spec.Entry, err)
	}

	memoryLimitMB := spec.Sandbox.MemoryLimitMB
	if memoryLimitMB <= 0 {
		memoryLimitMB = defaultMemoryLimitMB
	}
	// 1 MB = 16 pages of 64KB.
	pages := uint32(memoryLimitMB * 16)

	runtimeConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	unit := &Unit{
		extensionID: spec.ExtensionID.String(),
		runtime:     r,
		inbound:     make(chan wireformat.Envelope, inboundBuffer),
		done:        make(chan struct{}),
	}

	if err := registerHostModule(ctx, r, unit, handler); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("register host functions: %w", err)
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("compile extension %s: %w", spec.ExtensionID, err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(spec.ExtensionID.String()).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStdout(os.Stderr).
		WithStderr(os.Stderr)
	// No filesystem mounts and no host environment: extensions reach the
	// outside world only through capability calls.

	instance, err := r.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate extension %s: %w", spec.ExtensionID, err)
	}

	// Modules built with -buildmode=c-shared need _initialize before any
	// other export.
	if initFn := instance.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = r.Close(ctx)
			return nil, fmt.Errorf("initialize extension %s: %w", spec.ExtensionID, err)
		}
	}

	unit.instance = instance
	slog.Debug("execution unit spawned", "extension", spec.ExtensionID, "memory_limit_mb", memoryLimitMB)
	return unit, nil
}

// apiResponse is the synchronous answer to the api_call host function.
type apiResponse struct {
	Value json.RawMessage         `json:"value,omitempty"`
	Error *wireformat.ErrorDetail `json:"error,omitempty"`
}

// registerHostModule installs the unit's import namespace. api_call routes a
// capability call synchronously through the handler; emit_message delivers an
// envelope to the host's inbound channel; log_message forwards to slog.
func registerHostModule(ctx context.Context, r wazero.Runtime, unit *Unit, handler ports.APICallHandler) error {
	builder := r.NewHostModuleBuilder(hostModuleName)

	// api_call: packed ptr+len of APICallPayload JSON -> packed ptr+len of
	// apiResponse JSON.
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			data, ok := readPacked(mod, stack[0])
			if !ok {
				stack[0] = writePacked(ctx, mod, mustJSON(apiResponse{Error: &wireformat.ErrorDetail{Message: "unreadable api_call payload"}}))
				return
			}
			var call wireformat.APICallPayload
			if err := json.Unmarshal(data, &call); err != nil {
				stack[0] = writePacked(ctx, mod, mustJSON(apiResponse{Error: &wireformat.ErrorDetail{Message: "malformed api_call payload"}}))
				return
			}
			value, detail := handler.HandleAPICall(ctx, call)
			stack[0] = writePacked(ctx, mod, mustJSON(apiResponse{Value: value, Error: detail}))
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("api_call")

	// emit_message: packed ptr+len of an Envelope JSON, no return.
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			data, ok := readPacked(mod, stack[0])
			if !ok {
				return
			}
			var env wireformat.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				slog.Warn("dropping malformed envelope from unit", "extension", unit.extensionID, "error", err)
				return
			}
			unit.deliver(env)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("emit_message")

	// log_message: packed ptr+len of {level, message} JSON, no return.
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			data, ok := readPacked(mod, stack[0])
			if !ok {
				return
			}
			var msg struct {
				Level   string `json:"level"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				return
			}
			logger := slog.With("extension", unit.extensionID)
			switch msg.Level {
			case "debug":
				logger.Debug(msg.Message)
			case "warn":
				logger.Warn(msg.Message)
			case "error":
				logger.Error(msg.Message)
			default:
				logger.Info(msg.Message)
			}
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("log_message")

	_, err := builder.Instantiate(ctx)
	return err
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":{"message":"serialization failure"}}`)
	}
	return data
}

package wasmunit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gridlet-dev/gridlet/wireformat"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const inboundBuffer = 64

// Unit is one live WASM instance implementing ports.ExecutionUnit. Sends are
// serialized through a mutex; the guest processes one message at a time and
// may hand back response envelopes synchronously or emit them later through
// the emit_message host function.
type Unit struct {
	extensionID string
	runtime     wazero.Runtime
	instance    api.Module

	inbound chan wireformat.Envelope
	done    chan struct{}

	mu         sync.Mutex
	terminated bool
}

// Send delivers an envelope to the guest's handle_message export. Envelopes
// returned synchronously surface on Inbound in order.
func (u *Unit) Send(ctx context.Context, env wireformat.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.terminated {
		return fmt.Errorf("execution unit for %s is terminated", u.extensionID)
	}

	handleFn := u.instance.ExportedFunction("handle_message")
	if handleFn == nil {
		u.terminateLocked(ctx)
		return fmt.Errorf("extension %s does not export handle_message", u.extensionID)
	}

	ptr, err := writeToGuest(ctx, u.instance, data)
	if err != nil {
		u.terminateLocked(ctx)
		return fmt.Errorf("write envelope to guest memory: %w", err)
	}

	results, err := handleFn.Call(ctx, uint64(ptr), uint64(len(data)))
	deallocate(ctx, u.instance, ptr, uint32(len(data)))
	if err != nil {
		// A trapped guest is unrecoverable.
		u.terminateLocked(ctx)
		return fmt.Errorf("handle_message trapped: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return nil
	}

	respData, ok := readPacked(u.instance, results[0])
	if !ok {
		u.terminateLocked(ctx)
		return fmt.Errorf("extension %s returned an unreadable response block", u.extensionID)
	}
	var responses []wireformat.Envelope
	if err := json.Unmarshal(respData, &responses); err != nil {
		return fmt.Errorf("parse response envelopes: %w", err)
	}
	for _, resp := range responses {
		u.deliverLocked(resp)
	}
	return nil
}

// deliver queues an envelope for the host. Called from host functions while
// the guest is executing inside Send, so the unit mutex is already held by
// this goroutine and must not be taken again.
func (u *Unit) deliver(env wireformat.Envelope) {
	u.deliverLocked(env)
}

func (u *Unit) deliverLocked(env wireformat.Envelope) {
	if u.terminated {
		return
	}
	select {
	case u.inbound <- env:
	default:
		// A full inbound queue means the host stopped reading; dropping is
		// the only option that cannot deadlock the guest.
		slog.Warn("dropping envelope, inbound queue full", "extension", u.extensionID, "kind", env.Kind)
	}
}

// Inbound implements ports.ExecutionUnit.
func (u *Unit) Inbound() <-chan wireformat.Envelope {
	return u.inbound
}

// Terminate tears the unit down. Idempotent.
func (u *Unit) Terminate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.terminateLocked(context.Background())
}

func (u *Unit) terminateLocked(ctx context.Context) {
	if u.terminated {
		return
	}
	u.terminated = true
	if err := u.runtime.Close(ctx); err != nil {
		slog.Debug("runtime close failed", "extension", u.extensionID, "error", err)
	}
	close(u.done)
	close(u.inbound)
}

// Done implements ports.ExecutionUnit.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// writeToGuest allocates guest memory through the extension's allocate
// export and copies data into it.
func writeToGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	allocateFn := mod.ExportedFunction("allocate")
	if allocateFn == nil {
		return 0, fmt.Errorf("guest does not export allocate")
	}
	results, err := allocateFn.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("allocate guest memory: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, fmt.Errorf("allocate returned a null pointer")
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("write to guest memory at %d", ptr)
	}
	return ptr, nil
}

// readPacked reads a ptr+len packed into an i64 and frees the guest block.
func readPacked(mod api.Module, packed uint64) ([]byte, bool) {
	ptr := uint32(packed >> 32)
	size := uint32(packed & 0xFFFFFFFF)
	if ptr == 0 || size == 0 {
		return nil, false
	}
	defer deallocate(context.Background(), mod, ptr, size)

	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, data)
	return out, true
}

// writePacked copies data into guest memory and packs ptr+len into an i64.
// Returns 0 when the guest cannot receive it.
func writePacked(ctx context.Context, mod api.Module, data []byte) uint64 {
	ptr, err := writeToGuest(ctx, mod, data)
	if err != nil {
		return 0
	}
	return uint64(ptr)<<32 | uint64(uint32(len(data)))
}

// deallocate is best-effort: a guest without a deallocate export leaks its
// own memory, which dies with the instance anyway.
func deallocate(ctx context.Context, mod api.Module, ptr, size uint32) {
	deallocateFn := mod.ExportedFunction("deallocate")
	if deallocateFn == nil {
		return
	}
	_, _ = deallocateFn.Call(ctx, uint64(ptr), uint64(size))
}

package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gridlet-dev/gridlet/internal/application/apperrors"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
	"github.com/gridlet-dev/gridlet/wireformat"
)

// unitBridge wraps exactly one execution unit. It correlates host requests
// with unit responses by id, enforces per-call timeouts, and routes inbound
// capability calls into the host's dispatch table.
//
// A timeout is modeled as unilateral unit termination: the host does not
// attempt graceful cancellation of in-flight extension code. Termination
// rejects the timed-out request with Timeout and every other pending request
// with WorkerTerminated.
type unitBridge struct {
	extensionID values.ExtensionID
	unit        ports.ExecutionUnit

	// onAPICall services capability calls from the unit.
	onAPICall func(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail)
	// onTerminated runs once, after pending requests have been rejected,
	// so the host can release the extension's runtime contributions. It
	// receives the terminating bridge so the host can tell a stale bridge
	// from the extension's current one.
	onTerminated func(b *unitBridge, reason string)

	mu         sync.Mutex
	pending    map[string]*pendingRequest
	terminated bool
}

type requestOutcome struct {
	value json.RawMessage
	err   error
}

type pendingRequest struct {
	kind       string
	resultKind string
	errorKind  string
	outcome    chan requestOutcome
	timer      *time.Timer
}

func newUnitBridge(
	extensionID values.ExtensionID,
	unit ports.ExecutionUnit,
	onAPICall func(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail),
	onTerminated func(b *unitBridge, reason string),
) *unitBridge {
	b := &unitBridge{
		extensionID:  extensionID,
		unit:         unit,
		onAPICall:    onAPICall,
		onTerminated: onTerminated,
		pending:      make(map[string]*pendingRequest),
	}
	go b.readLoop()
	return b
}

// HandleAPICall implements ports.APICallHandler for units that deliver
// capability calls synchronously (the WASM transport).
func (b *unitBridge) HandleAPICall(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail) {
	return b.onAPICall(ctx, call)
}

// request sends a correlated request and suspends until the matching
// response arrives, the timeout fires, or the unit terminates.
func (b *unitBridge) request(ctx context.Context, kind string, payload any, timeout time.Duration) (json.RawMessage, error) {
	resultKind, errorKind, ok := wireformat.ResponseKinds(kind)
	if !ok {
		return nil, apperrors.NewWorkerTerminatedError(b.extensionID.String(), "unsupported request kind "+kind)
	}

	id := uuid.NewString()
	env, err := wireformat.NewEnvelope(kind, id, payload)
	if err != nil {
		return nil, err
	}

	p := &pendingRequest{
		kind:       kind,
		resultKind: resultKind,
		errorKind:  errorKind,
		outcome:    make(chan requestOutcome, 1),
	}

	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return nil, apperrors.NewWorkerTerminatedError(b.extensionID.String(), "unit already terminated")
	}
	b.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		b.fail(id, apperrors.NewTimeoutError(b.extensionID.String(), kind, timeout))
		b.terminate("timeout on " + kind)
	})
	b.mu.Unlock()

	if err := b.unit.Send(ctx, env); err != nil {
		b.fail(id, nil)
		return nil, apperrors.NewWorkerTerminatedError(b.extensionID.String(), "send failed: "+err.Error())
	}

	select {
	case out := <-p.outcome:
		return out.value, out.err
	case <-ctx.Done():
		b.fail(id, nil)
		return nil, ctx.Err()
	}
}

// notify sends a fire-and-forget message (events). Failures are the
// caller's to swallow.
func (b *unitBridge) notify(ctx context.Context, kind string, payload any) error {
	env, err := wireformat.NewEnvelope(kind, "", payload)
	if err != nil {
		return err
	}
	return b.unit.Send(ctx, env)
}

func (b *unitBridge) isTerminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}

// fail removes a pending request; if err is non-nil the waiter receives it.
func (b *unitBridge) fail(id string, err error) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
		p.timer.Stop()
	}
	b.mu.Unlock()
	if ok && err != nil {
		p.outcome <- requestOutcome{err: err}
	}
}

// terminate tears the unit down once. Every still-pending request is
// rejected with WorkerTerminated.
func (b *unitBridge) terminate(reason string) {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return
	}
	b.terminated = true
	orphaned := b.pending
	b.pending = make(map[string]*pendingRequest)
	b.mu.Unlock()

	for _, p := range orphaned {
		p.timer.Stop()
		p.outcome <- requestOutcome{err: apperrors.NewWorkerTerminatedError(b.extensionID.String(), reason)}
	}

	b.unit.Terminate()
	b.onTerminated(b, reason)
}

// readLoop drains the unit's inbound channel until termination.
func (b *unitBridge) readLoop() {
	for {
		select {
		case env, ok := <-b.unit.Inbound():
			if !ok {
				b.terminate("channel closed")
				return
			}
			b.handleInbound(env)
		case <-b.unit.Done():
			b.terminate("unit terminated")
			return
		}
	}
}

func (b *unitBridge) handleInbound(env wireformat.Envelope) {
	if env.Kind == wireformat.KindAPICall {
		// Capability call delivered over the channel (process-style
		// transports); answer it asynchronously so slow delegate calls
		// do not block response delivery.
		go b.answerAPICall(env)
		return
	}

	b.mu.Lock()
	p, ok := b.pending[env.ID]
	if ok && (env.Kind == p.resultKind || env.Kind == p.errorKind) {
		delete(b.pending, env.ID)
		p.timer.Stop()
	} else {
		ok = false
	}
	b.mu.Unlock()

	if !ok {
		slog.Debug("dropping unmatched message from unit",
			"extension", b.extensionID, "kind", env.Kind, "id", env.ID)
		return
	}

	if env.Kind == p.errorKind {
		detail := decodeErrorDetail(env.Payload)
		p.outcome <- requestOutcome{err: detail}
		return
	}
	var result wireformat.ResultPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			p.outcome <- requestOutcome{err: err}
			return
		}
	}
	p.outcome <- requestOutcome{value: result.Value}
}

func (b *unitBridge) answerAPICall(env wireformat.Envelope) {
	ctx := context.Background()
	var call wireformat.APICallPayload
	if err := json.Unmarshal(env.Payload, &call); err != nil {
		slog.Warn("malformed api_call from unit", "extension", b.extensionID, "error", err)
		return
	}
	value, detail := b.onAPICall(ctx, call)

	var reply wireformat.Envelope
	var err error
	if detail != nil {
		reply, err = wireformat.NewEnvelope(wireformat.KindAPIError, env.ID, detail)
	} else {
		reply, err = wireformat.NewEnvelope(wireformat.KindAPIResult, env.ID, wireformat.ResultPayload{Value: value})
	}
	if err == nil {
		err = b.unit.Send(ctx, reply)
	}
	if err != nil {
		slog.Debug("failed to answer api_call", "extension", b.extensionID, "error", err)
	}
}

// decodeErrorDetail parses an error payload, falling back to a generic
// detail so a malformed error still rejects the request.
func decodeErrorDetail(payload json.RawMessage) *wireformat.ErrorDetail {
	detail := &wireformat.ErrorDetail{Message: "extension reported an error"}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, detail); err != nil || detail.Message == "" {
			detail.Message = "extension reported an unreadable error"
		}
	}
	return detail
}

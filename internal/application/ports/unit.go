package ports

import (
	"context"
	"encoding/json"

	"github.com/gridlet-dev/gridlet/internal/domain/values"
	"github.com/gridlet-dev/gridlet/wireformat"
)

// UnitSpec describes the execution unit to spawn for one extension.
type UnitSpec struct {
	ExtensionID values.ExtensionID
	DisplayName string
	// Entry locates the extension's code, e.g. a path to a WASM binary.
	Entry   string
	Sandbox wireformat.SandboxFlags
}

// APICallHandler services capability calls issued by extension code. The
// returned ErrorDetail, if non-nil, is delivered to the unit as api_error.
type APICallHandler interface {
	HandleAPICall(ctx context.Context, call wireformat.APICallPayload) (json.RawMessage, *wireformat.ErrorDetail)
}

// ExecutionUnit is one isolated execution unit: an isolated address space
// plus an asynchronous bidirectional message channel. The concrete isolation
// mechanism (WASM sandbox, subprocess, test double) is an infrastructure
// detail behind this interface.
//
// Messages sent through Send are delivered to the unit in send order.
// Responses and unsolicited messages surface on Inbound. Done is closed
// exactly once when the unit terminates for any reason; after that, Send
// fails and Inbound is closed.
type ExecutionUnit interface {
	Send(ctx context.Context, env wireformat.Envelope) error
	Inbound() <-chan wireformat.Envelope
	Terminate()
	Done() <-chan struct{}
}

// UnitSpawner creates execution units. Capability calls made by the spawned
// unit are routed synchronously through the supplied handler.
type UnitSpawner interface {
	Spawn(ctx context.Context, spec UnitSpec, handler APICallHandler) (ExecutionUnit, error)
}

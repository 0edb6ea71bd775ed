// Package wireformat defines the JSON message vocabulary exchanged between
// the extension host and a sandboxed execution unit. These types must remain
// stable and backward compatible as they define the ABI contract between the
// host and extension code.
package wireformat

import (
	"encoding/json"
	"fmt"
)

// Message kinds sent host -> unit.
const (
	KindInit                 = "init"
	KindActivate             = "activate"
	KindExecuteCommand       = "execute_command"
	KindInvokeCustomFunction = "invoke_custom_function"
	KindInvokeDataConnector  = "invoke_data_connector"
	KindPanelMessage         = "panel_message"
	KindEvent                = "event"
)

// Message kinds sent unit -> host in response to a host request.
const (
	KindActivateResult       = "activate_result"
	KindActivateError        = "activate_error"
	KindCommandResult        = "command_result"
	KindCommandError         = "command_error"
	KindCustomFunctionResult = "custom_function_result"
	KindCustomFunctionError  = "custom_function_error"
	KindDataConnectorResult  = "data_connector_result"
	KindDataConnectorError   = "data_connector_error"
	KindPanelMessageResult   = "panel_message_result"
	KindPanelMessageError    = "panel_message_error"
)

// Message kinds for capability calls issued by the unit against the host.
const (
	KindAPICall   = "api_call"
	KindAPIResult = "api_result"
	KindAPIError  = "api_error"
)

// Event names carried by KindEvent envelopes.
const (
	EventWorkbookOpened   = "workbookOpened"
	EventSelectionChanged = "selectionChanged"
	EventCellChanged      = "cellChanged"
	EventSheetActivated   = "sheetActivated"
	EventViewActivated    = "viewActivated"
	EventBeforeSave       = "beforeSave"
	EventConfigChanged    = "configChanged"
)

// Envelope is the outer frame of every message. Request-shaped messages carry
// a unique correlation ID that the matching result or error echoes back.
type Envelope struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it in an Envelope.
func NewEnvelope(kind, id string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Kind: kind, ID: id}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, ID: id, Payload: data}, nil
}

// ResponseKinds returns the result and error kinds that resolve a request of
// the given kind. ok is false for kinds that never receive a response.
func ResponseKinds(requestKind string) (result, errKind string, ok bool) {
	switch requestKind {
	case KindActivate:
		return KindActivateResult, KindActivateError, true
	case KindExecuteCommand:
		return KindCommandResult, KindCommandError, true
	case KindInvokeCustomFunction:
		return KindCustomFunctionResult, KindCustomFunctionError, true
	case KindInvokeDataConnector:
		return KindDataConnectorResult, KindDataConnectorError, true
	case KindPanelMessage:
		return KindPanelMessageResult, KindPanelMessageError, true
	default:
		return "", "", false
	}
}

// IsErrorKind reports whether kind is one of the *_error response kinds.
func IsErrorKind(kind string) bool {
	switch kind {
	case KindActivateError, KindCommandError, KindCustomFunctionError,
		KindDataConnectorError, KindPanelMessageError, KindAPIError:
		return true
	}
	return false
}

// SandboxFlags configures hardening applied inside the execution unit.
type SandboxFlags struct {
	DisallowEval  bool `json:"disallow_eval"`
	MemoryLimitMB int  `json:"memory_limit_mb,omitempty"`
}

// InitPayload is the first message sent to a freshly spawned unit.
type InitPayload struct {
	ExtensionID string       `json:"extension_id"`
	DisplayName string       `json:"display_name,omitempty"`
	Entry       string       `json:"entry"`
	Sandbox     SandboxFlags `json:"sandbox"`
}

// ActivatePayload asks the unit to run the extension's activation hook.
// Reason carries the activation event that triggered it.
type ActivatePayload struct {
	Reason string `json:"reason,omitempty"`
}

// CommandPayload invokes a command registered by the extension.
type CommandPayload struct {
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

// CustomFunctionPayload invokes a spreadsheet custom function.
type CustomFunctionPayload struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// DataConnectorPayload invokes a method on a registered data connector.
type DataConnectorPayload struct {
	Connector string            `json:"connector"`
	Method    string            `json:"method"`
	Args      []json.RawMessage `json:"args,omitempty"`
}

// PanelMessagePayload delivers a message posted by a panel's UI surface to the
// owning extension.
type PanelMessagePayload struct {
	Panel   string          `json:"panel"`
	Message json.RawMessage `json:"message,omitempty"`
}

// EventPayload is a host -> unit notification. Events carry no correlation ID
// and are never acknowledged.
type EventPayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ResultPayload carries the value of a successful response.
type ResultPayload struct {
	Value json.RawMessage `json:"value,omitempty"`
}

// APICallPayload is a capability call from the unit against the host API.
type APICallPayload struct {
	Namespace string          `json:"namespace"`
	Method    string          `json:"method"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// ErrorDetail is the serialized form of any error crossing the boundary.
type ErrorDetail struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Name != "" {
		msg = e.Name + ": " + msg
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	return msg
}

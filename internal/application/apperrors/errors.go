// Package apperrors defines the application-level error taxonomy. Every
// error crossing the host boundary names enough context (permission, host,
// contribution id) for a user or extension developer to diagnose it without
// inspecting host internals.
package apperrors

import (
	"fmt"
	"strings"
	"time"
)

// UndeclaredPermissionError indicates a permission request for a permission
// absent from the extension's manifest. This is an install-time-class
// mismatch and is never satisfiable by consent.
type UndeclaredPermissionError struct {
	ExtensionID string
	Permission  string
}

func (e *UndeclaredPermissionError) Error() string {
	return fmt.Sprintf("extension %s requested permission %q not declared in its manifest", e.ExtensionID, e.Permission)
}

// NewUndeclaredPermissionError creates a new undeclared-permission error.
func NewUndeclaredPermissionError(extensionID, permission string) *UndeclaredPermissionError {
	return &UndeclaredPermissionError{ExtensionID: extensionID, Permission: permission}
}

// PermissionDeniedError indicates the user refused consent. Retryable only
// via a new user decision.
type PermissionDeniedError struct {
	ExtensionID string
	Permissions []string
	Host        string // specific host, for network denials
}

func (e *PermissionDeniedError) Error() string {
	msg := fmt.Sprintf("permission denied for extension %s: %s", e.ExtensionID, strings.Join(e.Permissions, ", "))
	if e.Host != "" {
		msg += fmt.Sprintf(" (host %s)", e.Host)
	}
	return msg
}

// NewPermissionDeniedError creates a new permission-denied error.
func NewPermissionDeniedError(extensionID string, permissions []string, host string) *PermissionDeniedError {
	return &PermissionDeniedError{ExtensionID: extensionID, Permissions: permissions, Host: host}
}

// TimeoutError indicates a cross-boundary request exceeded its deadline.
// The execution unit is terminated as a side effect: a hung extension is
// assumed compromised or deadlocked, not merely slow.
type TimeoutError struct {
	ExtensionID string
	Operation   string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extension %s did not answer %s within %s", e.ExtensionID, e.Operation, e.Timeout)
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(extensionID, operation string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{ExtensionID: extensionID, Operation: operation, Timeout: timeout}
}

// WorkerTerminatedError indicates a pending call was orphaned by the
// execution unit terminating (crash, timeout, reload, unload, permission
// reset).
type WorkerTerminatedError struct {
	ExtensionID string
	Reason      string
}

func (e *WorkerTerminatedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution unit for extension %s terminated (%s)", e.ExtensionID, e.Reason)
	}
	return fmt.Sprintf("execution unit for extension %s terminated", e.ExtensionID)
}

// NewWorkerTerminatedError creates a new worker-terminated error.
func NewWorkerTerminatedError(extensionID, reason string) *WorkerTerminatedError {
	return &WorkerTerminatedError{ExtensionID: extensionID, Reason: reason}
}

// DuplicateContributionError indicates a contribution id already owned by a
// different extension.
type DuplicateContributionError struct {
	Kind    string // command, panel, customFunction, dataConnector, contextMenu
	ID      string
	OwnerID string
}

func (e *DuplicateContributionError) Error() string {
	return fmt.Sprintf("%s %q is already contributed by extension %s", e.Kind, e.ID, e.OwnerID)
}

// NewDuplicateContributionError creates a new duplicate-contribution error.
func NewDuplicateContributionError(kind, id, ownerID string) *DuplicateContributionError {
	return &DuplicateContributionError{Kind: kind, ID: id, OwnerID: ownerID}
}

// NotActivatedError indicates an invocation against an inactive extension
// that declares no qualifying activation event.
type NotActivatedError struct {
	ExtensionID string
	Trigger     string // the activation event that would have authorized it
}

func (e *NotActivatedError) Error() string {
	return fmt.Sprintf("extension %s is not active and does not declare activation event %q", e.ExtensionID, e.Trigger)
}

// NewNotActivatedError creates a new not-activated error.
func NewNotActivatedError(extensionID, trigger string) *NotActivatedError {
	return &NotActivatedError{ExtensionID: extensionID, Trigger: trigger}
}

// UnknownAPIMethodError indicates a capability call to an unrecognized
// namespace or method.
type UnknownAPIMethodError struct {
	Namespace string
	Method    string
}

func (e *UnknownAPIMethodError) Error() string {
	return fmt.Sprintf("unknown api method %s.%s", e.Namespace, e.Method)
}

// NewUnknownAPIMethodError creates a new unknown-api-method error.
func NewUnknownAPIMethodError(namespace, method string) *UnknownAPIMethodError {
	return &UnknownAPIMethodError{Namespace: namespace, Method: method}
}

// RangeError indicates range or argument validation failed: an oversized
// rectangle, a malformed A1 reference, or non-integer coordinates.
type RangeError struct {
	Ref     string
	Message string
}

func (e *RangeError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("invalid range %q: %s", e.Ref, e.Message)
	}
	return fmt.Sprintf("invalid range: %s", e.Message)
}

// NewRangeError creates a new range-validation error.
func NewRangeError(ref, message string) *RangeError {
	return &RangeError{Ref: ref, Message: message}
}

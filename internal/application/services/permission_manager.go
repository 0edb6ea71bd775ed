// Package services contains application services coordinating domain state
// with external collaborators.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gridlet-dev/gridlet/internal/application/apperrors"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// PermissionRequest is the context of one EnsurePermissions call.
type PermissionRequest struct {
	// Permissions being requested; each must appear in Declared.
	Permissions []string
	// Declared is the extension's manifest-declared permission set at
	// request time.
	Declared []string
	// TargetURL is the network target, when the request covers the network
	// permission and the call knows its destination.
	TargetURL string
	// Reason optionally names the operation for the consent prompt.
	Reason string
}

// PermissionManager owns declared-vs-granted permission bookkeeping. It is
// pure state plus a consent callback and a persistence adapter; it knows
// nothing about extensions beyond their identity.
type PermissionManager struct {
	mu       sync.Mutex
	store    ports.PermissionStore
	prompter ports.ConsentPrompter
	records  map[values.ExtensionID]*permissions.Record
}

// NewPermissionManager loads persisted grants from the store. A corrupt
// store is self-healing: the invalid records are discarded and rewritten as
// empty rather than propagating a parse error.
func NewPermissionManager(store ports.PermissionStore, prompter ports.ConsentPrompter) *PermissionManager {
	records, err := store.Load()
	if err != nil {
		slog.Warn("discarding corrupt permission store", "error", err)
		records = nil
		if saveErr := store.Save(map[values.ExtensionID]*permissions.Record{}); saveErr != nil {
			slog.Warn("failed to rewrite permission store", "error", saveErr)
		}
	}
	if records == nil {
		records = make(map[values.ExtensionID]*permissions.Record)
	}
	return &PermissionManager{
		store:    store,
		prompter: prompter,
		records:  records,
	}
}

// Granted returns a deep copy of the extension's record, or nil.
func (m *PermissionManager) Granted(id values.ExtensionID) *permissions.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Clone()
}

// EnsurePermissions verifies, and if necessary interactively acquires, the
// requested permissions for the extension:
//
//  1. Every requested permission must be manifest-declared, else the call
//     fails with UndeclaredPermission without prompting.
//  2. Permissions already granted are filtered out. The network permission
//     is host-sensitive: full needs nothing, deny always needs (and cannot
//     be escalated by a prompt), allowlist needs only unknown hosts.
//  3. If anything is still needed, the consent prompt runs once for the
//     whole set; refusal or a prompt error fails with PermissionDenied.
//  4. Acceptance persists the grant.
func (m *PermissionManager) EnsurePermissions(ctx context.Context, id values.ExtensionID, displayName string, req PermissionRequest) error {
	declared := make(map[string]bool, len(req.Declared))
	for _, p := range req.Declared {
		declared[p] = true
	}
	for _, p := range req.Permissions {
		if !declared[p] {
			return apperrors.NewUndeclaredPermissionError(id.String(), p)
		}
	}

	m.mu.Lock()
	record := m.records[id]
	needed, deniedByPolicy := neededPermissions(record, req)
	m.mu.Unlock()

	if deniedByPolicy {
		return apperrors.NewPermissionDeniedError(id.String(), []string{permissions.Network}, requestedHost(req))
	}
	if len(needed) == 0 {
		return nil
	}

	granted, err := m.prompter.RequestConsent(ctx, ports.ConsentRequest{
		ExtensionID: id,
		DisplayName: displayName,
		Permissions: needed,
		NetworkHost: requestedHost(req),
		Reason:      req.Reason,
	})
	if err != nil || !granted {
		if err != nil {
			slog.Debug("consent prompt failed", "extension", id, "error", err)
		}
		return apperrors.NewPermissionDeniedError(id.String(), needed, requestedHost(req))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	record = m.records[id]
	if record == nil {
		record = permissions.NewRecord()
		m.records[id] = record
	}
	for _, p := range needed {
		if p == permissions.Network {
			m.applyNetworkGrant(record, req.TargetURL)
			continue
		}
		record.GrantSimple(p)
	}
	return m.persistLocked()
}

// neededPermissions computes the not-yet-granted subset. deniedByPolicy is
// true when the request includes network access and the extension's policy
// is an explicit deny, which EnsurePermissions never escalates past.
func neededPermissions(record *permissions.Record, req PermissionRequest) (needed []string, deniedByPolicy bool) {
	for _, p := range req.Permissions {
		if p != permissions.Network {
			if !record.HasSimple(p) {
				needed = append(needed, p)
			}
			continue
		}
		policy := networkPolicy(record)
		switch {
		case policy == nil:
			needed = append(needed, p)
		case policy.Mode == permissions.NetworkModeFull:
			// Nothing needed.
		case policy.Mode == permissions.NetworkModeDeny:
			return nil, true
		case req.TargetURL == "":
			// Allowlist but no known target: a prompt is required.
			needed = append(needed, p)
		case !permissions.IsURLAllowedByHosts(req.TargetURL, policy.Hosts):
			needed = append(needed, p)
		}
	}
	return needed, false
}

func networkPolicy(record *permissions.Record) *permissions.NetworkPolicy {
	if record == nil {
		return nil
	}
	return record.Network
}

// applyNetworkGrant records an accepted network consent: a known host is
// appended to the allowlist (creating it if absent); with no known host the
// grant is recorded as full access.
func (m *PermissionManager) applyNetworkGrant(record *permissions.Record, targetURL string) {
	host, ok := permissions.HostPatternForURL(targetURL)
	if !ok {
		record.Network = &permissions.NetworkPolicy{Mode: permissions.NetworkModeFull}
		return
	}
	if record.Network == nil || record.Network.Mode != permissions.NetworkModeAllowlist {
		record.Network = &permissions.NetworkPolicy{Mode: permissions.NetworkModeAllowlist}
	}
	record.Network.AddHost(host)
}

func requestedHost(req PermissionRequest) string {
	host, _ := permissions.HostPatternForURL(req.TargetURL)
	return host
}

// RevokePermissions removes specific grants. Passing the network permission
// drops the whole network policy. Callers revoking permissions for an
// active extension must terminate its execution unit so a later activation
// re-requests consent instead of relying on cached in-process grants.
func (m *PermissionManager) RevokePermissions(id values.ExtensionID, perms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := m.records[id]
	if record == nil {
		return nil
	}
	for _, p := range perms {
		if p == permissions.Network {
			record.Network = nil
			continue
		}
		record.RevokeSimple(p)
	}
	if record.IsEmpty() {
		delete(m.records, id)
	}
	return m.persistLocked()
}

// ResetPermissions removes the extension's record entirely.
func (m *PermissionManager) ResetPermissions(id values.ExtensionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return nil
	}
	delete(m.records, id)
	return m.persistLocked()
}

// ResetAllPermissions wipes every record.
func (m *PermissionManager) ResetAllPermissions() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[values.ExtensionID]*permissions.Record)
	return m.persistLocked()
}

// Records returns a deep copy of all grant records, for CLI listing.
func (m *PermissionManager) Records() map[values.ExtensionID]*permissions.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[values.ExtensionID]*permissions.Record, len(m.records))
	for id, r := range m.records {
		out[id] = r.Clone()
	}
	return out
}

func (m *PermissionManager) persistLocked() error {
	if err := m.store.Save(m.records); err != nil {
		return fmt.Errorf("persist permission grants: %w", err)
	}
	return nil
}

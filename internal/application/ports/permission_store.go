package ports

import (
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// PermissionStore persists granted-permission records across host restarts.
// Load returning an error is treated as a corrupt store: the caller discards
// it and rewrites empty state rather than propagating the parse failure.
type PermissionStore interface {
	Load() (map[values.ExtensionID]*permissions.Record, error)
	Save(records map[values.ExtensionID]*permissions.Record) error
}

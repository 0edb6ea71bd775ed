package entities

// ExtensionState is the lifecycle state of a loaded extension.
// Transitions: Inactive -> Activating -> Active. Any termination (crash,
// timeout, reload, unload, permission reset) returns the extension to
// Inactive.
type ExtensionState int

const (
	// StateInactive means loaded but with no live execution unit.
	StateInactive ExtensionState = iota
	// StateActivating means an activation request is in flight.
	StateActivating
	// StateActive means the execution unit answered its activate request.
	StateActive
)

// String returns a human-readable representation.
func (s ExtensionState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

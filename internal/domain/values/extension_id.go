package values

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches one dot-separated publisher.name pair, each segment
// lowercase alphanumeric with interior dashes.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.[a-z0-9][a-z0-9-]*$`)

// ExtensionID is the stable identity of an extension: "<publisher>.<name>".
type ExtensionID struct {
	value string
}

// NewExtensionID creates an ExtensionID with validation.
func NewExtensionID(id string) (ExtensionID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ExtensionID{}, fmt.Errorf("extension id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return ExtensionID{}, fmt.Errorf("invalid extension id %q: expected <publisher>.<name>", id)
	}
	return ExtensionID{value: id}, nil
}

// MustNewExtensionID creates an ExtensionID or panics.
func MustNewExtensionID(id string) ExtensionID {
	e, err := NewExtensionID(id)
	if err != nil {
		panic(err)
	}
	return e
}

// Publisher returns the publisher segment.
func (e ExtensionID) Publisher() string {
	i := strings.IndexByte(e.value, '.')
	if i < 0 {
		return ""
	}
	return e.value[:i]
}

// Name returns the name segment.
func (e ExtensionID) Name() string {
	i := strings.IndexByte(e.value, '.')
	if i < 0 {
		return e.value
	}
	return e.value[i+1:]
}

// String returns the string representation.
func (e ExtensionID) String() string {
	return e.value
}

// IsEmpty returns true if this is the zero value.
func (e ExtensionID) IsEmpty() bool {
	return e.value == ""
}

// Equals checks if two extension ids are equal.
func (e ExtensionID) Equals(other ExtensionID) bool {
	return e.value == other.value
}

// MarshalText implements encoding.TextMarshaler so ExtensionID can key JSON
// and YAML maps.
func (e ExtensionID) MarshalText() ([]byte, error) {
	return []byte(e.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *ExtensionID) UnmarshalText(data []byte) error {
	id, err := NewExtensionID(string(data))
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// Package entities defines the core domain entities of the extension host:
// manifests, contributions, and the per-extension lifecycle state.
package entities

import (
	"fmt"

	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// Manifest is the declarative description an extension ships with: its
// identity, the permissions it may ever be granted, the events that authorize
// its activation, and the contributions it owns.
type Manifest struct {
	Name        string `yaml:"name" json:"name"`
	Publisher   string `yaml:"publisher" json:"publisher"`
	Version     string `yaml:"version" json:"version"`
	DisplayName string `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Engine is a semver constraint on the host API version, e.g. ">=1.0.0".
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty"`

	Permissions      []string                 `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	ActivationEvents []values.ActivationEvent `yaml:"activationEvents,omitempty" json:"activationEvents,omitempty"`
	Contributes      Contributions            `yaml:"contributes,omitempty" json:"contributes,omitempty"`
}

// Contributions are the named resources a manifest declares ownership of.
type Contributions struct {
	Commands        []CommandContribution       `yaml:"commands,omitempty" json:"commands,omitempty"`
	Panels          []PanelContribution         `yaml:"panels,omitempty" json:"panels,omitempty"`
	CustomFunctions []CustomFunctionContrib     `yaml:"customFunctions,omitempty" json:"customFunctions,omitempty"`
	DataConnectors  []DataConnectorContribution `yaml:"dataConnectors,omitempty" json:"dataConnectors,omitempty"`
}

// CommandContribution declares a command id shown in the command surface.
// When is an optional expression controlling visibility.
type CommandContribution struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	When  string `yaml:"when,omitempty" json:"when,omitempty"`
}

// PanelContribution declares a panel surface id.
type PanelContribution struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

// CustomFunctionContrib declares a worksheet custom function.
type CustomFunctionContrib struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// DataConnectorContribution declares an external data connector id.
type DataConnectorContribution struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

// ID derives the stable extension identity from publisher and name.
func (m *Manifest) ID() (values.ExtensionID, error) {
	return values.NewExtensionID(m.Publisher + "." + m.Name)
}

// Display returns the user-facing name, falling back to the id.
func (m *Manifest) Display() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Publisher + "." + m.Name
}

// DeclaresPermission reports whether the manifest declares the permission.
func (m *Manifest) DeclaresPermission(name string) bool {
	for _, p := range m.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// ContributesCommand reports whether the manifest declares the command id.
func (m *Manifest) ContributesCommand(id string) bool {
	for _, c := range m.Contributes.Commands {
		if c.ID == id {
			return true
		}
	}
	return false
}

// HasActivationEvent reports whether the manifest declares the event.
func (m *Manifest) HasActivationEvent(ev values.ActivationEvent) bool {
	for _, e := range m.ActivationEvents {
		if e == ev {
			return true
		}
	}
	return false
}

// Validate performs structural validation beyond what schema validation
// covers: identity shape, known permissions, recognized activation events,
// and non-empty contribution ids.
func (m *Manifest) Validate() error {
	if _, err := m.ID(); err != nil {
		return err
	}
	for _, p := range m.Permissions {
		if !permissions.IsKnown(p) {
			return fmt.Errorf("manifest declares unknown permission %q", p)
		}
	}
	for _, ev := range m.ActivationEvents {
		if !ev.IsValid() {
			return fmt.Errorf("manifest declares unrecognized activation event %q", ev)
		}
	}
	for _, c := range m.Contributes.Commands {
		if c.ID == "" {
			return fmt.Errorf("command contribution with empty id")
		}
	}
	for _, p := range m.Contributes.Panels {
		if p.ID == "" {
			return fmt.Errorf("panel contribution with empty id")
		}
	}
	for _, f := range m.Contributes.CustomFunctions {
		if f.Name == "" {
			return fmt.Errorf("custom function contribution with empty name")
		}
	}
	for _, d := range m.Contributes.DataConnectors {
		if d.ID == "" {
			return fmt.Errorf("data connector contribution with empty id")
		}
	}
	return nil
}

// Package manifest loads and validates extension manifests from YAML files.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"
	"github.com/gridlet-dev/gridlet/internal/domain/entities"
	"github.com/gridlet-dev/gridlet/internal/version"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("manifest.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("manifest.schema.json")
	})
	return schema, schemaErr
}

// Load reads, schema-validates, and structurally validates a manifest file.
func Load(path string) (*entities.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse validates manifest bytes against the schema, decodes them, and
// checks the engine constraint against the host API version.
func Parse(data []byte) (*entities.Manifest, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest YAML: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest document: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return nil, formatValidationError(validationErr)
		}
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var m entities.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := CheckEngine(m.Engine); err != nil {
		return nil, err
	}
	return &m, nil
}

// CheckEngine verifies a semver engine constraint against the host API
// version. An empty constraint accepts any host.
func CheckEngine(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid engine constraint %q: %w", constraint, err)
	}
	hostVersion := semver.MustParse(version.HostAPIVersion)
	if !c.Check(hostVersion) {
		return fmt.Errorf("extension requires engine %q, host API version is %s", constraint, version.HostAPIVersion)
	}
	return nil
}

// formatValidationError flattens nested schema violations into one readable
// message.
func formatValidationError(err *jsonschema.ValidationError) error {
	var messages []string
	var collect func(*jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if e.Message != "" && len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "(root)"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", location, e.Message))
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(err)
	if len(messages) == 0 {
		return fmt.Errorf("manifest schema validation failed")
	}
	return fmt.Errorf("manifest schema validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

const validManifestYAML = `
name: csv-import
publisher: acme
version: 1.2.0
displayName: CSV Import
description: Import CSV files into the active sheet
engine: ">=1.0.0"
permissions:
  - cells.read
  - cells.write
activationEvents:
  - onCommand:acme.csv-import.run
contributes:
  commands:
    - id: acme.csv-import.run
      title: Run CSV Import
`

func TestParse_ValidManifest(t *testing.T) {
	m, err := Parse([]byte(validManifestYAML))
	require.NoError(t, err)

	id, err := m.ID()
	require.NoError(t, err)
	assert.Equal(t, "acme.csv-import", id.String())
	assert.Equal(t, "CSV Import", m.DisplayName)
	assert.True(t, m.DeclaresPermission(permissions.CellsRead))
	assert.True(t, m.HasActivationEvent(values.OnCommand("acme.csv-import.run")))
	require.Len(t, m.Contributes.Commands, 1)
	assert.Equal(t, "acme.csv-import.run", m.Contributes.Commands[0].ID)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "publisher: acme\nversion: 1.0.0\n"},
		{"missing publisher", "name: tool\nversion: 1.0.0\n"},
		{"missing version", "name: tool\npublisher: acme\n"},
		{"uppercase name", "name: Tool\npublisher: acme\nversion: 1.0.0\n"},
		{"unknown top-level key", "name: tool\npublisher: acme\nversion: 1.0.0\nextra: true\n"},
		{"command without id", "name: tool\npublisher: acme\nversion: 1.0.0\ncontributes:\n  commands:\n    - title: No ID\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
		})
	}
}

func TestParse_UnknownPermission(t *testing.T) {
	doc := "name: tool\npublisher: acme\nversion: 1.0.0\npermissions:\n  - cells.execute\n"
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown permission")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestCheckEngine(t *testing.T) {
	assert.NoError(t, CheckEngine(""))
	assert.NoError(t, CheckEngine(">=1.0.0"))
	assert.NoError(t, CheckEngine("^1.0"))
	assert.Error(t, CheckEngine(">=2.0.0"))
	assert.Error(t, CheckEngine("not a constraint"))
}

func TestParse_EngineConstraintRejected(t *testing.T) {
	doc := "name: tool\npublisher: acme\nversion: 1.0.0\nengine: \">=9.0.0\"\n"
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validManifestYAML), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "csv-import", m.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// Package permstore persists permission grants as a YAML document on disk.
package permstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// document is the on-disk shape. Extension ids key their granted records.
type document struct {
	Extensions map[string]*permissions.Record `yaml:"extensions"`
}

// FileStore reads and writes the grants file. Writes go through a temp file
// and rename so a crash mid-save never leaves a half-written document.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path. The file need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads all persisted records. A missing file is an empty store; a
// malformed file or invalid extension id is a load error the caller heals.
func (s *FileStore) Load() (map[values.ExtensionID]*permissions.Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[values.ExtensionID]*permissions.Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permission store %s: %w", s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse permission store %s: %w", s.path, err)
	}

	records := make(map[values.ExtensionID]*permissions.Record, len(doc.Extensions))
	for rawID, record := range doc.Extensions {
		id, err := values.NewExtensionID(rawID)
		if err != nil {
			return nil, fmt.Errorf("permission store %s: %w", s.path, err)
		}
		if record == nil {
			record = permissions.NewRecord()
		}
		records[id] = record
	}
	return records, nil
}

// Save writes all records, replacing the previous document.
func (s *FileStore) Save(records map[values.ExtensionID]*permissions.Record) error {
	doc := document{Extensions: make(map[string]*permissions.Record, len(records))}
	for id, record := range records {
		if record.IsEmpty() {
			continue
		}
		doc.Extensions[id.String()] = record
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize permission store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create permission store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".permissions-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp permission store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write permission store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close permission store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace permission store: %w", err)
	}
	return nil
}

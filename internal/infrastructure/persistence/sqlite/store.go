// Package sqlite persists extension storage in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gridlet-dev/gridlet/internal/application/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS extension_storage (
	extension_id TEXT NOT NULL,
	key          TEXT NOT NULL,
	value        BLOB NOT NULL,
	PRIMARY KEY (extension_id, key)
);
`

// Store implements ports.StorageAPI on a SQLite file.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open storage database %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent extensions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize storage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ExtensionStore implements ports.StorageAPI.
func (s *Store) ExtensionStore(extensionID string) (ports.KeyValueStore, error) {
	return &extensionStore{db: s.db, extensionID: extensionID}, nil
}

// ClearExtensionStore implements ports.StorageAPI.
func (s *Store) ClearExtensionStore(extensionID string) error {
	_, err := s.db.Exec(`DELETE FROM extension_storage WHERE extension_id = ?`, extensionID)
	if err != nil {
		return fmt.Errorf("clear storage for %s: %w", extensionID, err)
	}
	return nil
}

type extensionStore struct {
	db          *sql.DB
	extensionID string
}

func (e *extensionStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := e.db.QueryRowContext(ctx,
		`SELECT value FROM extension_storage WHERE extension_id = ? AND key = ?`,
		e.extensionID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read storage key %q: %w", key, err)
	}
	return value, true, nil
}

func (e *extensionStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO extension_storage (extension_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (extension_id, key) DO UPDATE SET value = excluded.value`,
		e.extensionID, key, []byte(value))
	if err != nil {
		return fmt.Errorf("write storage key %q: %w", key, err)
	}
	return nil
}

func (e *extensionStore) Delete(ctx context.Context, key string) error {
	_, err := e.db.ExecContext(ctx,
		`DELETE FROM extension_storage WHERE extension_id = ? AND key = ?`,
		e.extensionID, key)
	if err != nil {
		return fmt.Errorf("delete storage key %q: %w", key, err)
	}
	return nil
}

// Package memory provides an in-process extension storage backend, used in
// tests and by embedders that do not need persistence across restarts.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gridlet-dev/gridlet/internal/application/ports"
)

// Store implements ports.StorageAPI with per-extension maps.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: make(map[string]map[string]json.RawMessage)}
}

// ExtensionStore implements ports.StorageAPI.
func (s *Store) ExtensionStore(extensionID string) (ports.KeyValueStore, error) {
	return &extensionStore{parent: s, extensionID: extensionID}, nil
}

// ClearExtensionStore implements ports.StorageAPI.
func (s *Store) ClearExtensionStore(extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, extensionID)
	return nil
}

// extensionStore is one extension's view. It holds only its own bucket, so
// no extension can see another's keys.
type extensionStore struct {
	parent      *Store
	extensionID string
}

func (e *extensionStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	e.parent.mu.RLock()
	defer e.parent.mu.RUnlock()
	bucket, ok := e.parent.data[e.extensionID]
	if !ok {
		return nil, false, nil
	}
	value, ok := bucket[key]
	if !ok {
		return nil, false, nil
	}
	out := make(json.RawMessage, len(value))
	copy(out, value)
	return out, true, nil
}

func (e *extensionStore) Set(_ context.Context, key string, value json.RawMessage) error {
	stored := make(json.RawMessage, len(value))
	copy(stored, value)

	e.parent.mu.Lock()
	defer e.parent.mu.Unlock()
	bucket, ok := e.parent.data[e.extensionID]
	if !ok {
		bucket = make(map[string]json.RawMessage)
		e.parent.data[e.extensionID] = bucket
	}
	bucket[key] = stored
	return nil
}

func (e *extensionStore) Delete(_ context.Context, key string) error {
	e.parent.mu.Lock()
	defer e.parent.mu.Unlock()
	if bucket, ok := e.parent.data[e.extensionID]; ok {
		delete(bucket, key)
	}
	return nil
}

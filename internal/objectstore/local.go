// Package objectstore persists raw uploaded files as opaque bytes. The
// pipeline only needs put and get; swapping in a bucket-backed store is a
// matter of implementing the same interface.
package objectstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the object storage collaborator consumed by the pipeline.
type Store interface {
	// Put writes the bytes under a key and returns the storage location.
	Put(key string, data []byte) (string, error)
	// Get reads the bytes back from a location returned by Put.
	Get(location string) ([]byte, error)
}

// LocalStore keeps objects as files under a base directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes data under the sanitized key.
func (s *LocalStore) Put(key string, data []byte) (string, error) {
	location := filepath.Join(s.dir, sanitize(key))
	if err := os.WriteFile(location, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return location, nil
}

// Get reads the object back.
func (s *LocalStore) Get(location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// sanitize keeps keys to a single path element.
func sanitize(key string) string {
	key = strings.ReplaceAll(key, string(os.PathSeparator), "_")
	return strings.ReplaceAll(key, "..", "_")
}

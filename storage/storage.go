// Package storage provides the blob cache backing the pipeline's cache
// gate: an opaque get/put-by-key store with optional expiry, backed by
// the local filesystem or S3-compatible object storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired
var ErrNotFound = errors.New("storage: key not found")

// Store is an opaque blob store with optional per-entry expiry
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Config contains filesystem storage configuration
type Config struct {
	BasePath string // Base directory for all stored entries
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./cache",
	}
}

// FileStore stores entries as files under a base directory, with a
// JSON sidecar carrying the expiry timestamp.
type FileStore struct {
	config Config
}

type entryMeta struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates a new FileStore instance
func New(config Config) (*FileStore, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}
	return &FileStore{config: config}, nil
}

// Get reads an entry by key. Expired entries are removed and reported
// as not found.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	dataPath := filepath.Join(s.config.BasePath, filepath.FromSlash(key))
	metaPath := dataPath + ".meta"

	if metaData, err := os.ReadFile(metaPath); err == nil {
		var meta entryMeta
		if err := json.Unmarshal(metaData, &meta); err == nil && !meta.ExpiresAt.IsZero() {
			if time.Now().After(meta.ExpiresAt) {
				os.Remove(dataPath)
				os.Remove(metaPath)
				return nil, ErrNotFound
			}
		}
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return data, nil
}

// Put writes an entry under key. A non-zero ttl records an expiry in a
// sidecar file.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	dataPath := filepath.Join(s.config.BasePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := os.WriteFile(dataPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if ttl > 0 {
		meta := entryMeta{ExpiresAt: time.Now().Add(ttl)}
		metaData, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal cache metadata: %w", err)
		}
		if err := os.WriteFile(dataPath+".meta", metaData, 0644); err != nil {
			return fmt.Errorf("failed to write cache metadata: %w", err)
		}
	}

	return nil
}

// Package storage keeps model artifact blobs, on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ignite/habit-coach/internal/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("artifact blob not found")

// Store reads and writes opaque blobs by key. Keys are slash-separated
// relative paths such as "habit_formation/v3.json".
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New creates the store selected by cfg.Type ("local" or "s3").
func New(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.LocalPath)
	}
	return nil, fmt.Errorf("unknown artifact store type %q", cfg.Type)
}

// LocalStore keeps blobs under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Put writes data atomically via a temp file and rename.
func (s *LocalStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", key, err)
	}
	return nil
}

// Get reads one blob.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// path rejects keys that would escape the root.
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

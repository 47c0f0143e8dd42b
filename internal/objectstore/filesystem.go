package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Filesystem stores objects under a local directory that is served at
// PublicBaseURL. Thread-safe for concurrent operations.
type Filesystem struct {
	basePath      string
	publicBaseURL string
	mu            sync.RWMutex
}

// NewFilesystem creates the base directory if needed.
func NewFilesystem(basePath, publicBaseURL string) (*Filesystem, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Filesystem{basePath: basePath, publicBaseURL: publicBaseURL}, nil
}

// Put implements Store.
func (s *Filesystem) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("object data cannot be empty")
	}

	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}

	full := s.Path(cleaned)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	return joinURL(s.publicBaseURL, cleaned), nil
}

// Get reads an object back.
func (s *Filesystem) Get(objectPath string) ([]byte, error) {
	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(cleaned))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found %s: %w", cleaned, err)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Path returns the filesystem location of an already-cleaned object path.
func (s *Filesystem) Path(objectPath string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(objectPath))
}

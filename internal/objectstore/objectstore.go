// Package objectstore persists resolved media and returns the public URL it
// is served from.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPath is returned for empty, absolute or escaping object paths.
var ErrInvalidPath = errors.New("invalid object path")

// Store is the object storage consumed by the media pipeline.
type Store interface {
	// Put stores data at path and returns its public URL.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// cleanPath normalises an object path and rejects anything that would leave
// the store's root.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q escapes the store root", ErrInvalidPath, p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// joinURL joins a public base URL and an object path.
func joinURL(base, p string) string {
	if base == "" {
		return "/" + p
	}
	return strings.TrimRight(base, "/") + "/" + p
}

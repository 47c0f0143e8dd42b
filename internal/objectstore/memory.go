package objectstore

import (
	"context"
	"sort"
	"sync"
)

// Object is a stored blob held by Memory.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory keeps objects in process. FailPut, when set, is returned from Put
// instead of storing the object.
type Memory struct {
	BaseURL string
	FailPut error

	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemory creates an empty store whose URLs start with baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objects: make(map[string]Object)}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.FailPut != nil {
		return "", m.FailPut
	}

	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[cleaned] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return joinURL(m.BaseURL, cleaned), nil
}

// Get returns the object stored at path.
func (m *Memory) Get(objectPath string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[objectPath]
	return o, ok
}

// Paths returns every stored path in sorted order.
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

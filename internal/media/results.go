package media

import (
	"maps"
	"sync"
)

// Results maps record ids to stored image URLs. The first URL recorded for a
// record wins. Safe for concurrent use.
type Results struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewResults creates an empty result set.
func NewResults() *Results {
	return &Results{urls: make(map[string]string)}
}

// Set records url for recordID unless one is already recorded.
// Reports whether url was stored.
func (r *Results) Set(recordID, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.urls[recordID]; ok {
		return false
	}
	r.urls[recordID] = url
	return true
}

// StoredURL returns the stored URL for recordID.
func (r *Results) StoredURL(recordID string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.urls[recordID]
	return u, ok
}

// Len returns the number of records with a stored image.
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.urls)
}

// Snapshot returns a copy of the mapping.
func (r *Results) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.urls)
}

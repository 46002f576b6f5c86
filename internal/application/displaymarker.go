package application

import (
	"sync"

	"github.com/google/uuid"
)

// LivePrefix is shown in front of the display name of a live identity.
const LivePrefix = "[LIVE] "

// DisplayMarker tracks the display prefix per identity. Writes happen on the
// primary loop; reads may come from anywhere.
type DisplayMarker struct {
	mu       sync.RWMutex
	prefixes map[uuid.UUID]string
}

// NewDisplayMarker creates an empty DisplayMarker.
func NewDisplayMarker() *DisplayMarker {
	return &DisplayMarker{prefixes: make(map[uuid.UUID]string)}
}

// SetLive marks localID as live.
func (m *DisplayMarker) SetLive(localID uuid.UUID) {
	m.mu.Lock()
	m.prefixes[localID] = LivePrefix
	m.mu.Unlock()
}

// Clear removes any marker for localID.
func (m *DisplayMarker) Clear(localID uuid.UUID) {
	m.mu.Lock()
	delete(m.prefixes, localID)
	m.mu.Unlock()
}

// Prefix returns the current prefix for localID, or "".
func (m *DisplayMarker) Prefix(localID uuid.UUID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefixes[localID]
}

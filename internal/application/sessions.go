package application

import (
	"sync"

	"github.com/google/uuid"
)

// SessionRegistry maps each local identity to its active DeviceAuthFlow.
// There is at most one flow per identity.
type SessionRegistry struct {
	mu    sync.Mutex
	flows map[uuid.UUID]*DeviceAuthFlow
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{flows: make(map[uuid.UUID]*DeviceAuthFlow)}
}

// Register installs flow for its identity, cancelling any flow it replaces.
func (r *SessionRegistry) Register(flow *DeviceAuthFlow) {
	r.mu.Lock()
	prev := r.flows[flow.LocalID()]
	r.flows[flow.LocalID()] = flow
	r.mu.Unlock()

	if prev != nil && prev != flow {
		prev.Cancel()
	}
}

// Deregister removes flow if it is still the registered one for its identity.
func (r *SessionRegistry) Deregister(flow *DeviceAuthFlow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flows[flow.LocalID()] == flow {
		delete(r.flows, flow.LocalID())
	}
}

// Cancel cancels and removes the flow for localID. It reports whether one existed.
func (r *SessionRegistry) Cancel(localID uuid.UUID) bool {
	r.mu.Lock()
	flow, ok := r.flows[localID]
	delete(r.flows, localID)
	r.mu.Unlock()

	if ok {
		flow.Cancel()
	}
	return ok
}

// CancelAll cancels and removes every registered flow.
func (r *SessionRegistry) CancelAll() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[uuid.UUID]*DeviceAuthFlow)
	r.mu.Unlock()

	for _, flow := range flows {
		flow.Cancel()
	}
}

// Get returns the active flow for localID.
func (r *SessionRegistry) Get(localID uuid.UUID) (*DeviceAuthFlow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flow, ok := r.flows[localID]
	return flow, ok
}

// Len returns the number of active flows.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

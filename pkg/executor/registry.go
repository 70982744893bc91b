package executor

import "sync"

// Registry tracks in-flight runs so that cancel and status requests can reach
// them. It is process-scoped state with an explicit lifecycle: entries are
// added when a run is scheduled and removed once a terminal event is emitted.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Executor
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*Executor),
	}
}

// Register adds a run under its execution id.
func (r *Registry) Register(e *Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[e.ExecutionID()] = e
}

// Deregister removes a run. Safe to call for unknown ids.
func (r *Registry) Deregister(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, executionID)
}

// Get returns the in-flight run for executionID, if any.
func (r *Registry) Get(executionID string) (*Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.active[executionID]

	return e, ok
}

// IsActive reports whether the run is still in flight.
func (r *Registry) IsActive(executionID string) bool {
	_, ok := r.Get(executionID)

	return ok
}

// Cancel cancels the run and removes it. Returns false when the run is not
// in flight (unknown or already terminal).
func (r *Registry) Cancel(executionID string) bool {
	e, ok := r.Get(executionID)
	if !ok {
		return false
	}

	e.Cancel()
	r.Deregister(executionID)

	return true
}

// Count returns the number of in-flight runs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.active)
}

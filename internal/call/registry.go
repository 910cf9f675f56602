package call

import "sync"

// Key identifies a manager: one per participant per session.
type Key struct {
	Participant string
	Session     string
}

// Builder creates the manager for key.
type Builder func(key Key) (*Manager, error)

// Registry caches managers by key. A manager removes itself when its call
// is left, so the next Get builds a fresh one.
type Registry struct {
	build Builder

	mu       sync.Mutex
	managers map[Key]*Manager
}

// NewRegistry creates a registry that builds missing managers with build.
func NewRegistry(build Builder) *Registry {
	return &Registry{build: build, managers: make(map[Key]*Manager)}
}

// Get returns the cached manager for key, building it on first use.
func (r *Registry) Get(key Key) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[key]; ok {
		return m, nil
	}
	m, err := r.build(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.onLeave = func() { r.Evict(key, m) }
	m.mu.Unlock()

	r.managers[key] = m
	return m, nil
}

// Evict forgets key if it still maps to m.
func (r *Registry) Evict(key Key, m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.managers[key] == m {
		delete(r.managers, key)
	}
}

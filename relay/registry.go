package relay

import "sync"

// Registry maps a channel key to the session currently serving it.
// Entries are back-references for cleanup only; sessions poll on their own.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register stores s under key and returns the session it replaced, if any.
// The replaced session is left running.
func (r *Registry) Register(key string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[key]
	r.sessions[key] = s
	return prev
}

// Deregister removes key only if it still maps to s. It reports whether an
// entry was removed, so a stale session cannot drop a newer one.
func (r *Registry) Deregister(key string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[key]; !ok || cur != s {
		return false
	}
	delete(r.sessions, key)
	return true
}

// Lookup returns the session registered under key, or nil.
func (r *Registry) Lookup(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

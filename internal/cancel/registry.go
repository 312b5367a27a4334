// Package cancel implements per-session cooperative cancellation flags.
package cancel

import "sync"

// Registry is a process-wide set of cancellation flags keyed by session
// id. All reads and writes go through one mutex so the setter (an API
// request) and the readers (worker goroutines) never race. Entries are
// removed once a session reaches a terminal state.
type Registry struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]bool)}
}

// Register creates the flag for a session (default false) and returns a
// token bound to it. Registering an already-known session returns a
// token for the existing flag.
func (r *Registry) Register(sessionID string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flags[sessionID]; !ok {
		r.flags[sessionID] = false
	}
	return &Token{registry: r, sessionID: sessionID}
}

// Cancel sets the flag for a session. Unknown ids are ignored: a
// restarted process cannot cancel jobs it does not own.
func (r *Registry) Cancel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flags[sessionID]; ok {
		r.flags[sessionID] = true
	}
}

// Canceled reports the flag for a session. Unknown ids read as false.
func (r *Registry) Canceled(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags[sessionID]
}

// Remove drops a session's flag so the map does not grow without bound.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, sessionID)
}

// Len returns the number of registered flags.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flags)
}

// Token is a handle on one session's cancellation flag.
type Token struct {
	registry  *Registry
	sessionID string
}

// Canceled reports whether the session has been asked to stop.
func (t *Token) Canceled() bool {
	if t == nil {
		return false
	}
	return t.registry.Canceled(t.sessionID)
}

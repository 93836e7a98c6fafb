package presence

import (
	"sort"
	"sync"
)

// Registry maps users to their live connection ids. A user is online iff the set is non-empty.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]map[string]struct{})}
}

// Attach adds a connection for userID and reports whether the user just came online.
func (r *Registry) Attach(userID int, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	if _, dup := set[connID]; dup {
		return false
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Detach removes a connection and reports whether the user just went offline.
func (r *Registry) Detach(userID int, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, present := set[connID]; !present {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether userID has at least one connection.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Connections returns the connection ids for userID.
func (r *Registry) Connections(userID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns[userID]))
	for id := range r.conns[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUsers returns the ids of all online users, ascending.
func (r *Registry) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clear drops every entry; called at shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[int]map[string]struct{})
}

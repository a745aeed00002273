// Package registry owns the set of live workspaces and the deferred
// teardown of empty ones.
package registry

import (
	"sync"
	"time"

	"github.com/codefionn/colabd/internal/logger"
	"github.com/codefionn/colabd/internal/session"
)

// Registry creates, looks up and garbage-collects workspaces.
//
// A workspace stays in the registry while it has members or while its
// empty-retention timer is armed; once the timer fires on a still-empty
// workspace, all of its state is destroyed.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]*session.Workspace
	cleanups   map[string]*time.Timer
	retention  time.Duration
}

// New creates a registry with the given empty-workspace retention.
func New(retention time.Duration) *Registry {
	return &Registry{
		workspaces: make(map[string]*session.Workspace),
		cleanups:   make(map[string]*time.Timer),
		retention:  retention,
	}
}

// GetOrCreate returns the workspace with the given id, creating it on
// first use. A pending cleanup timer for the workspace is cancelled.
func (r *Registry) GetOrCreate(id string) *session.Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.cleanups[id]; ok {
		timer.Stop()
		delete(r.cleanups, id)
		logger.Debug("Cancelled cleanup timer for workspace %s", id)
	}

	w, ok := r.workspaces[id]
	if !ok {
		w = session.NewWorkspace(id)
		r.workspaces[id] = w
		logger.Info("Created workspace %s", id)
	}
	return w
}

// Get returns the workspace with the given id.
func (r *Registry) Get(id string) (*session.Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workspaces[id]
	return w, ok
}

// RemoveIfEmpty arms the single-shot cleanup timer for a workspace whose
// member map is empty. An already-armed timer is replaced, so at most one
// timer exists per workspace.
func (r *Registry) RemoveIfEmpty(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workspaces[id]
	if !ok {
		return
	}

	w.Lock()
	empty := w.Empty()
	w.Unlock()
	if !empty {
		return
	}

	if timer, ok := r.cleanups[id]; ok {
		timer.Stop()
	}
	r.cleanups[id] = time.AfterFunc(r.retention, func() {
		r.destroyIfEmpty(id)
	})
	logger.Debug("Armed cleanup timer for workspace %s (%s)", id, r.retention)
}

// destroyIfEmpty tears the workspace down if it is still empty when the
// retention timer fires.
func (r *Registry) destroyIfEmpty(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cleanups, id)

	w, ok := r.workspaces[id]
	if !ok {
		return
	}
	w.Lock()
	empty := w.Empty()
	w.Unlock()
	if !empty {
		return
	}

	delete(r.workspaces, id)
	logger.Info("Destroyed empty workspace %s", id)
}

// WorkspaceCount returns the number of live workspaces.
func (r *Registry) WorkspaceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces)
}

// MemberCount returns the number of members across all workspaces.
func (r *Registry) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, w := range r.workspaces {
		w.Lock()
		total += len(w.Members)
		w.Unlock()
	}
	return total
}

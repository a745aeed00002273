// Package session holds the in-memory state of one collaboration
// workspace: its members, element locks and versioned shared entities.
//
// A Workspace is single-writer: every mutation and every read that must
// be consistent with a mutation runs while holding the embedded mutex.
// The dispatcher acquires it once per inbound frame.
package session

import (
	"sync"

	"github.com/codefionn/colabd/internal/permission"
)

// Coords is a cursor position inside the editor canvas.
type Coords struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Outbound delivers encoded frames to one member's socket. Enqueue must
// never block; it reports whether the frame was accepted.
type Outbound interface {
	Enqueue(data []byte) bool
	CloseWithCode(code int, reason string)
}

// Member is one authenticated connection in a workspace.
type Member struct {
	UserID   string
	Username string
	Role     permission.Role
	Perms    permission.Set
	IsOwner  bool
	Coords   Coords
	Conn     Outbound
}

// Lock is an exclusive advisory edit reservation on an element id.
type Lock struct {
	ElementID   string
	ElementType string
	Holder      string
	Version     int64
}

// Workspace is the state of one collaboration room. The embedded mutex
// serializes all access; callers of every method below must hold it.
type Workspace struct {
	sync.Mutex

	ID      string
	OwnerID string

	Members     map[string]*Member
	Locks       map[string]*Lock
	Permissions *permission.State

	entities map[EntityKey]*Entity

	// Lock versions survive release so a later grant on the same element
	// never reuses a version number.
	lockVersions map[string]int64
}

// NewWorkspace creates an empty workspace with STUDENT global permissions.
func NewWorkspace(id string) *Workspace {
	return &Workspace{
		ID:           id,
		Members:      make(map[string]*Member),
		Locks:        make(map[string]*Lock),
		Permissions:  permission.NewState(),
		entities:     make(map[EntityKey]*Entity),
		lockVersions: make(map[string]int64),
	}
}

// AddMember inserts or replaces the member slot for m.UserID and returns
// the previous member, if any.
func (w *Workspace) AddMember(m *Member) *Member {
	prev := w.Members[m.UserID]
	w.Members[m.UserID] = m
	return prev
}

// RemoveMember deletes the member slot for userID.
func (w *Workspace) RemoveMember(userID string) {
	delete(w.Members, userID)
}

// Member returns the member slot for userID.
func (w *Workspace) Member(userID string) (*Member, bool) {
	m, ok := w.Members[userID]
	return m, ok
}

// Empty reports whether the workspace has no members.
func (w *Workspace) Empty() bool {
	return len(w.Members) == 0
}

// GrantLock applies the lock arbitration rule for elementID:
// a free element is granted to the requester, a re-request by the current
// holder is re-granted with an incremented version, anything else is
// denied. The returned holder is the current holder on denial.
func (w *Workspace) GrantLock(userID, elementID, elementType string) (lock *Lock, granted bool, holder string) {
	if existing, ok := w.Locks[elementID]; ok && existing.Holder != userID {
		return nil, false, existing.Holder
	}
	version := w.lockVersions[elementID] + 1
	w.lockVersions[elementID] = version
	lock = &Lock{
		ElementID:   elementID,
		ElementType: elementType,
		Holder:      userID,
		Version:     version,
	}
	w.Locks[elementID] = lock
	return lock, true, userID
}

// ReleaseLock removes the lock on elementID if userID holds it.
func (w *Workspace) ReleaseLock(userID, elementID string) bool {
	lock, ok := w.Locks[elementID]
	if !ok || lock.Holder != userID {
		return false
	}
	delete(w.Locks, elementID)
	return true
}

// ReleaseAllLocks removes every lock held by userID and returns the
// released element ids.
func (w *Workspace) ReleaseAllLocks(userID string) []string {
	var released []string
	for id, lock := range w.Locks {
		if lock.Holder == userID {
			delete(w.Locks, id)
			released = append(released, id)
		}
	}
	return released
}

// LockedBy returns the holder of the lock on elementID, or "" when the
// element is unlocked.
func (w *Workspace) LockedBy(elementID string) string {
	if lock, ok := w.Locks[elementID]; ok {
		return lock.Holder
	}
	return ""
}

// EffectivePerms derives the permission set a member currently has.
// Workspace owners keep the full template regardless of permission state.
func (w *Workspace) EffectivePerms(m *Member) permission.Set {
	if m.IsOwner {
		return permission.OwnerTemplate()
	}
	return w.Permissions.Resolve(m.Role, m.UserID)
}

// RefreshAllPerms recomputes the effective permission set of every member.
func (w *Workspace) RefreshAllPerms() {
	for _, m := range w.Members {
		m.Perms = w.EffectivePerms(m)
	}
}

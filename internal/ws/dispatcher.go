package ws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/codefionn/colabd/internal/logger"
	"github.com/codefionn/colabd/internal/permission"
	"github.com/codefionn/colabd/internal/registry"
	"github.com/codefionn/colabd/internal/session"
	"github.com/codefionn/colabd/internal/ticket"
)

const maxUsernameLength = 64

// Dispatcher parses inbound frames, authorizes them and mutates
// workspace state under the per-workspace writer lock.
type Dispatcher struct {
	registry *registry.Registry
	verifier *ticket.Verifier

	// now is swappable for tests.
	now func() time.Time
}

// NewDispatcher creates a dispatcher over the given registry and
// verifier.
func NewDispatcher(reg *registry.Registry, verifier *ticket.Verifier) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		verifier: verifier,
		now:      time.Now,
	}
}

// Handle processes one inbound frame. Handler failures never terminate
// the connection or the workspace: they are answered with an error frame
// and the frame is dropped.
func (d *Dispatcher) Handle(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panic on client %s: %v", c.id, r)
			c.sendError("Invalid message format")
		}
	}()

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		c.sendError("Invalid message format")
		return
	}

	if frame.Type == TypeAuth {
		d.handleAuth(c, &frame)
		return
	}

	if !c.authenticated.Load() {
		c.sendError("Not authenticated")
		return
	}

	w, ok := d.registry.Get(c.workspaceID)
	if !ok {
		c.sendError("Workspace not found")
		return
	}

	w.Lock()
	defer w.Unlock()

	m, ok := w.Member(c.userID)
	if !ok || m.Conn != c {
		// Superseded by a reconnect; late frames from the old socket are
		// dropped.
		return
	}

	switch frame.Type {
	case TypePing:
		c.sendJSON(map[string]any{"type": "pong"})
	case TypeRequestSharedState:
		d.handleRequestSharedState(c, w)
	case TypeRequestTeacherRole:
		d.handleRequestTeacherRole(c, w, m)
	case TypeUpdateUsername:
		d.handleUpdateUsername(w, m, &frame)
	case TypeUpdateGlobalPermission:
		d.handleUpdateGlobalPermission(c, w, m, &frame)
	case TypeUpdateUserPermission:
		d.handleUpdateUserPermission(c, w, m, &frame)
	case TypeApplyPresetMode:
		d.handleApplyPresetMode(c, w, m, &frame)
	case TypeRequestLock:
		d.handleRequestLock(c, w, m, &frame)
	case TypeReleaseLock:
		d.handleReleaseLock(w, m, &frame)
	case TypeUpdateCoords:
		d.handleUpdateCoords(w, m, &frame)
	case TypeElementDrag, TypeBlockFocus, TypeStackMove, TypeAction:
		// Transient pass-through: no state write, forwarded unchanged.
		broadcastRaw(w, m.UserID, raw)
	case TypeBlockMove:
		d.handleBlockMove(c, w, m, &frame)
	case TypeSpriteUpdate:
		d.handleSpriteUpdate(c, w, m, &frame)
	case TypeCreateElement:
		d.handleCreateElement(c, w, m, &frame, raw)
	case TypeDeleteElement:
		d.handleDeleteElement(c, w, m, &frame, raw)
	case TypeWorkspaceSnapshot:
		d.handleWorkspaceSnapshot(c, w, m, &frame)
	default:
		c.sendError("Unknown message type: " + frame.Type)
	}
}

// handleAuth verifies the join ticket and attaches the connection as a
// workspace member, replacing a prior connection with the same user id.
func (d *Dispatcher) handleAuth(c *Client, frame *Frame) {
	if c.authenticated.Load() {
		c.sendError("Already authenticated")
		return
	}

	claims, err := d.verifier.Verify(frame.Token, frame.Workspace, frame.UserID)
	if err != nil {
		logger.Warn("Admission rejected for client %s: %v", c.id, err)
		c.sendError(err.Error())
		c.CloseWithCode(CloseAdmissionRejected, err.Error())
		return
	}

	userID := claims.Subject
	workspaceID := claims.WorkspaceID
	username := cleanUsername(frame.Username)
	if username == "" {
		username = cleanUsername(claims.Username)
	}
	if username == "" {
		username = userID
	}
	role := permission.ParseRole(claims.Role)

	w := d.registry.GetOrCreate(workspaceID)
	w.Lock()
	defer w.Unlock()

	prev, replacing := w.Member(userID)
	if !replacing && w.Empty() && w.OwnerID == "" {
		// First member of a fresh workspace becomes the owner.
		w.OwnerID = userID
	}

	member := &session.Member{
		UserID:   userID,
		Username: username,
		Role:     role,
		IsOwner:  w.OwnerID == userID,
		Conn:     c,
	}
	member.Perms = w.EffectivePerms(member)

	if replacing {
		// Reconnect take-over: the prior socket must not release locks
		// or remove the member slot when it closes.
		if old, ok := prev.Conn.(*Client); ok {
			old.skipCleanup.Store(true)
			old.CloseWithCode(CloseReplaced, "Reconnected with same userId")
		}
		member.Coords = prev.Coords
	}
	w.AddMember(member)

	c.userID = userID
	c.workspaceID = workspaceID
	c.authenticated.Store(true)

	users := make([]MemberView, 0, len(w.Members))
	for _, m := range w.Members {
		users = append(users, memberView(m))
	}

	c.sendJSON(map[string]any{
		"type":        "auth_success",
		"userId":      userID,
		"workspaceId": workspaceID,
		"username":    username,
		"role":        string(role),
		"isOwner":     member.IsOwner,
		"permissions": member.Perms,
		"sharedState": w.SharedStateSnapshot(),
		"users":       users,
	})

	view := memberView(member)
	if replacing {
		logger.Info("User %s reconnected to workspace %s", userID, workspaceID)
		broadcast(w, userID, map[string]any{
			"type":     "user_updated",
			"userId":   userID,
			"username": username,
			"user":     view,
		})
	} else {
		logger.Info("User %s joined workspace %s (%d members)", userID, workspaceID, len(w.Members))
		broadcast(w, userID, map[string]any{
			"type":      "user_joined",
			"userId":    userID,
			"username":  username,
			"user":      view,
			"userCount": len(w.Members),
		})
	}
}

// Disconnect runs the close handler for a connection. Sockets superseded
// by a reconnect skip cleanup entirely: the new connection inherited the
// member slot and its locks.
func (d *Dispatcher) Disconnect(c *Client) {
	c.CloseWithCode(0, "")

	if !c.authenticated.Load() {
		return
	}
	if c.skipCleanup.Load() {
		logger.Debug("Client %s replaced, skipping cleanup", c.id)
		return
	}

	w, ok := d.registry.Get(c.workspaceID)
	if !ok {
		return
	}

	w.Lock()
	m, ok := w.Member(c.userID)
	if !ok || m.Conn != c {
		w.Unlock()
		return
	}

	for _, elementID := range w.ReleaseAllLocks(c.userID) {
		broadcast(w, "", map[string]any{
			"type":      "element_unlocked",
			"elementId": elementID,
			"userId":    c.userID,
		})
	}
	w.RemoveMember(c.userID)
	broadcast(w, "", map[string]any{
		"type":      "user_left",
		"userId":    c.userID,
		"userCount": len(w.Members),
	})
	empty := w.Empty()
	w.Unlock()

	logger.Info("User %s left workspace %s", c.userID, c.workspaceID)
	if empty {
		d.registry.RemoveIfEmpty(c.workspaceID)
	}
}

// broadcast encodes a frame once and queues it on every member whose
// user id differs from senderID; an empty senderID reaches everyone.
// Callers hold the workspace lock. A failed enqueue is logged by the
// member's outbound and never aborts the iteration.
func broadcast(w *session.Workspace, senderID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal broadcast frame: %v", err)
		return
	}
	broadcastRaw(w, senderID, data)
}

// broadcastRaw fans out an already-encoded frame.
func broadcastRaw(w *session.Workspace, senderID string, data []byte) {
	for userID, m := range w.Members {
		if senderID != "" && userID == senderID {
			continue
		}
		if m.Conn != nil {
			m.Conn.Enqueue(data)
		}
	}
}

// cleanUsername trims and clamps a display name.
func cleanUsername(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > maxUsernameLength {
		name = name[:maxUsernameLength]
	}
	return name
}

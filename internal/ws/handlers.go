package ws

import (
	"encoding/json"

	"github.com/codefionn/colabd/internal/logger"
	"github.com/codefionn/colabd/internal/permission"
	"github.com/codefionn/colabd/internal/session"
)

// All handlers run with the workspace lock held and the sender resolved
// to a live member.

func (d *Dispatcher) handleRequestSharedState(c *Client, w *session.Workspace) {
	c.sendJSON(map[string]any{
		"type":        "shared_state",
		"sharedState": w.SharedStateSnapshot(),
	})
}

func (d *Dispatcher) handleRequestTeacherRole(c *Client, w *session.Workspace, m *session.Member) {
	// Self-escalation is only honored for platform-asserted staff roles.
	if m.Role != permission.RoleAdmin && m.Role != permission.RoleTeacher {
		c.sendError("Role upgrade not permitted")
		return
	}
	if m.Role == permission.RoleAdmin {
		w.Permissions.SetUserAsAdmin(m.UserID)
	} else {
		w.Permissions.SetUserAsTeacher(m.UserID)
	}
	m.Perms = w.EffectivePerms(m)

	c.sendJSON(map[string]any{
		"type":        "permissions_updated",
		"permissions": m.Perms,
	})
	broadcast(w, m.UserID, map[string]any{
		"type":   "user_updated",
		"userId": m.UserID,
		"user":   memberView(m),
	})
}

func (d *Dispatcher) handleUpdateUsername(w *session.Workspace, m *session.Member, frame *Frame) {
	if name := cleanUsername(frame.Username); name != "" {
		m.Username = name
	}
	broadcast(w, "", map[string]any{
		"type":     "user_updated",
		"userId":   m.UserID,
		"username": m.Username,
		"user":     memberView(m),
	})
}

func (d *Dispatcher) handleUpdateGlobalPermission(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	if !m.Perms.CanChangePermissions {
		logger.Debug("User %s may not change permissions in %s", m.UserID, w.ID)
		return
	}
	if frame.Key == "" || frame.Value == nil {
		c.sendError("Invalid permission update")
		return
	}
	if !w.Permissions.UpdateGlobal(frame.Key, *frame.Value) {
		c.sendError("Unknown permission key: " + frame.Key)
		return
	}
	w.RefreshAllPerms()

	for _, member := range w.Members {
		sendTo(member, map[string]any{
			"type":        "permissions_updated",
			"source":      "global_update",
			"permissions": member.Perms,
		})
		broadcast(w, "", map[string]any{
			"type":   "user_updated",
			"userId": member.UserID,
			"user":   memberView(member),
		})
	}
}

func (d *Dispatcher) handleUpdateUserPermission(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	if !m.Perms.CanChangePermissions {
		logger.Debug("User %s may not change permissions in %s", m.UserID, w.ID)
		return
	}
	target := frame.TargetUserID
	if target == "" {
		target = frame.UserID
	}
	if target == "" || frame.Key == "" || frame.Value == nil {
		c.sendError("Invalid permission update")
		return
	}
	if !w.Permissions.UpdateUser(target, frame.Key, *frame.Value) {
		c.sendError("Unknown permission key: " + frame.Key)
		return
	}

	if member, ok := w.Member(target); ok {
		member.Perms = w.EffectivePerms(member)
		sendTo(member, map[string]any{
			"type":        "permissions_updated",
			"source":      "user_update",
			"permissions": member.Perms,
		})
		broadcast(w, "", map[string]any{
			"type":   "user_updated",
			"userId": member.UserID,
			"user":   memberView(member),
		})
	}
}

func (d *Dispatcher) handleApplyPresetMode(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	if !m.Perms.CanChangePermissions {
		logger.Debug("User %s may not change permissions in %s", m.UserID, w.ID)
		return
	}
	if !permission.ValidMode(frame.Mode) {
		c.sendError("Unknown preset mode: " + frame.Mode)
		return
	}
	global := w.Permissions.ApplyPreset(permission.Mode(frame.Mode))
	w.RefreshAllPerms()

	// Every member receives the preset set itself; enforcement still
	// derives effective permissions, so admins and owners keep theirs.
	for _, member := range w.Members {
		sendTo(member, map[string]any{
			"type":        "permissions_updated",
			"source":      "preset_update",
			"mode":        frame.Mode,
			"permissions": global,
		})
	}
	logger.Info("Preset mode %q applied to workspace %s by %s", frame.Mode, w.ID, m.UserID)
}

func (d *Dispatcher) handleRequestLock(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	elementID := frame.resolveElementID()
	if elementID == "" {
		c.sendError("Missing elementId")
		return
	}
	elementType := frame.elementKind()

	// A lock held by someone else is reported as busy regardless of the
	// requester's permissions; only a grantable request is gated on them.
	if holder := w.LockedBy(elementID); holder != "" && holder != m.UserID {
		c.sendJSON(map[string]any{
			"type":      "lock_denied",
			"elementId": elementID,
			"lockedBy":  holder,
		})
		return
	}

	if !canEditElement(m.Perms, elementType) {
		c.sendJSON(map[string]any{
			"type":      "lock_denied",
			"elementId": elementID,
			"reason":    "forbidden",
			"lockedBy":  nil,
		})
		return
	}

	lock, _, _ := w.GrantLock(m.UserID, elementID, elementType)

	c.sendJSON(map[string]any{
		"type":      "lock_granted",
		"elementId": elementID,
		"version":   lock.Version,
	})
	broadcast(w, m.UserID, map[string]any{
		"type":        "element_locked",
		"elementId":   elementID,
		"elementType": elementType,
		"lockedBy":    m.UserID,
		"version":     lock.Version,
	})
}

func (d *Dispatcher) handleReleaseLock(w *session.Workspace, m *session.Member, frame *Frame) {
	elementID := frame.resolveElementID()
	if elementID == "" || !w.ReleaseLock(m.UserID, elementID) {
		// Not the holder (or no such lock): routine contention, drop.
		return
	}
	out := map[string]any{
		"type":      "element_unlocked",
		"elementId": elementID,
		"userId":    m.UserID,
	}
	if frame.FinalPosition != nil {
		out["finalPosition"] = frame.FinalPosition
	}
	broadcast(w, m.UserID, out)
}

func (d *Dispatcher) handleUpdateCoords(w *session.Workspace, m *session.Member, frame *Frame) {
	coords, ok := frame.coordsValue()
	if !ok {
		return
	}
	m.Coords = coords
	broadcast(w, m.UserID, map[string]any{
		"type":   "coords_update",
		"userId": m.UserID,
		"coords": coords,
	})
}

func (d *Dispatcher) handleBlockMove(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	blockID := frame.resolveElementID()
	if blockID == "" {
		return
	}
	// Lock-check first. Contention from a non-holder is routine during
	// drags and dropped without a reply.
	if holder := w.LockedBy(blockID); holder != "" && holder != m.UserID {
		return
	}

	// Version check before the permission gate: a stale client learns
	// about the conflict even when its edit rights were revoked.
	ifMatch := frame.ifMatchValue()
	ok, currentEtag, entity := w.MatchesETag(session.KindBlock, blockID, ifMatch)
	if !ok {
		sendConflict(c, session.KindBlock, blockID, ifMatch, currentEtag, entity)
		return
	}

	if !m.Perms.CanEditBlocks {
		return
	}

	data := map[string]any{}
	if frame.Position != nil {
		data["position"] = rawAny(frame.Position)
	}
	e := w.UpsertEntity(session.KindBlock, blockID, data, m.UserID, d.now())

	out := map[string]any{
		"type":          "block_move",
		"blockId":       blockID,
		"userId":        m.UserID,
		"etag":          e.ETag(),
		"version":       e.Version,
		"firstEditedBy": e.FirstEditedBy,
		"firstEditedAt": e.FirstEditedAt,
	}
	if frame.Position != nil {
		out["position"] = frame.Position
	}
	broadcast(w, "", out)
}

func (d *Dispatcher) handleSpriteUpdate(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	spriteID := frame.SpriteID
	if spriteID == "" {
		spriteID = frame.resolveElementID()
	}
	if spriteID == "" {
		return
	}
	// Same ordering as block_move: lock-check, then version, then the
	// permission gate.
	if holder := w.LockedBy(spriteID); holder != "" && holder != m.UserID {
		return
	}

	ifMatch := frame.ifMatchValue()
	metrics, hasMetrics := w.Entity(session.KindSpriteMetrics, spriteID)
	sprite, hasSprite := w.Entity(session.KindSprite, spriteID)
	if ifMatch != "" && ifMatch != "*" && (hasMetrics || hasSprite) {
		matched := (hasMetrics && metrics.ETag() == ifMatch) ||
			(hasSprite && sprite.ETag() == ifMatch)
		if !matched {
			if hasMetrics {
				sendConflict(c, session.KindSpriteMetrics, spriteID, ifMatch, metrics.ETag(), metrics)
			} else {
				sendConflict(c, session.KindSprite, spriteID, ifMatch, sprite.ETag(), sprite)
			}
			return
		}
	}

	if !m.Perms.CanEditSprites {
		return
	}

	now := d.now()
	updatedMetrics := w.UpsertEntity(session.KindSpriteMetrics, spriteID, frame.Metrics, m.UserID, now)
	w.UpsertEntity(session.KindSprite, spriteID, frame.ElementData, m.UserID, now)

	out := map[string]any{
		"type":          "sprite_update",
		"spriteId":      spriteID,
		"userId":        m.UserID,
		"etag":          updatedMetrics.ETag(),
		"version":       updatedMetrics.Version,
		"firstEditedBy": updatedMetrics.FirstEditedBy,
		"firstEditedAt": updatedMetrics.FirstEditedAt,
	}
	if frame.Metrics != nil {
		out["metrics"] = frame.Metrics
	}
	if frame.ElementData != nil {
		out["elementData"] = frame.ElementData
	}
	broadcast(w, "", out)
}

func (d *Dispatcher) handleCreateElement(c *Client, w *session.Workspace, m *session.Member, frame *Frame, raw []byte) {
	kind := frame.elementKind()
	elementID := frame.resolveElementID()
	if elementID == "" {
		// Legacy clients create elements without ids; skip the shared
		// state write but still forward the payload.
		broadcastRaw(w, "", raw)
		return
	}

	ifMatch := frame.ifMatchValue()
	ok, currentEtag, entity := w.MatchesETag(kind, elementID, ifMatch)
	if !ok {
		sendConflict(c, kind, elementID, ifMatch, currentEtag, entity)
		return
	}

	e := w.ReplaceEntity(kind, elementID, frame.ElementData, m.UserID, d.now())
	broadcast(w, "", map[string]any{
		"type":          "element_created",
		"elementType":   kind,
		"elementId":     elementID,
		"elementData":   e.Data,
		"userId":        m.UserID,
		"etag":          e.ETag(),
		"version":       e.Version,
		"firstEditedBy": e.FirstEditedBy,
		"firstEditedAt": e.FirstEditedAt,
	})
}

func (d *Dispatcher) handleDeleteElement(c *Client, w *session.Workspace, m *session.Member, frame *Frame, raw []byte) {
	kind := frame.elementKind()
	elementID := frame.resolveElementID()
	if elementID == "" {
		broadcastRaw(w, "", raw)
		return
	}

	ifMatch := frame.ifMatchValue()
	ok, currentEtag, entity := w.MatchesETag(kind, elementID, ifMatch)
	if !ok {
		sendConflict(c, kind, elementID, ifMatch, currentEtag, entity)
		return
	}

	w.DeleteEntity(kind, elementID)
	broadcast(w, "", map[string]any{
		"type":        "element_deleted",
		"elementType": kind,
		"elementId":   elementID,
		"userId":      m.UserID,
	})
}

func (d *Dispatcher) handleWorkspaceSnapshot(c *Client, w *session.Workspace, m *session.Member, frame *Frame) {
	if !m.Perms.CanEditBlocks {
		return
	}
	if len(frame.Snapshot) > MaxSnapshotChars {
		c.sendError("Workspace snapshot too large")
		return
	}

	spriteID := frame.SpriteID
	if spriteID == "" {
		spriteID = frame.resolveElementID()
	}
	if spriteID == "" {
		spriteID = "default"
	}

	ifMatch := frame.ifMatchValue()
	ok, currentEtag, entity := w.MatchesETag(session.KindSnapshot, spriteID, ifMatch)
	if !ok {
		sendConflict(c, session.KindSnapshot, spriteID, ifMatch, currentEtag, entity)
		return
	}

	snapshot := json.RawMessage(append([]byte(nil), frame.Snapshot...))
	e := w.ReplaceEntity(session.KindSnapshot, spriteID, map[string]any{"snapshot": snapshot}, m.UserID, d.now())

	broadcast(w, "", map[string]any{
		"type":     "workspace_snapshot",
		"spriteId": spriteID,
		"snapshot": snapshot,
		"userId":   m.UserID,
		"etag":     e.ETag(),
		"version":  e.Version,
	})
}

// sendTo queues a frame on a single member.
func sendTo(m *session.Member, v any) {
	if m.Conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal frame: %v", err)
		return
	}
	m.Conn.Enqueue(data)
}

// sendConflict reports an If-Match failure. The mutation is aborted and
// nothing is broadcast.
func sendConflict(c *Client, entityType, entityID, ifMatch, currentEtag string, e *session.Entity) {
	frame := map[string]any{
		"type":        "conflict",
		"reason":      "etag_mismatch",
		"entityType":  entityType,
		"entityId":    entityID,
		"ifMatch":     ifMatch,
		"currentEtag": currentEtag,
	}
	if e != nil {
		frame["firstEditedBy"] = e.FirstEditedBy
		frame["firstEditedAt"] = e.FirstEditedAt
	}
	c.sendJSON(frame)
}

// canEditElement maps an element type to the edit permission that
// guards it.
func canEditElement(perms permission.Set, elementType string) bool {
	switch elementType {
	case session.KindSprite:
		return perms.CanEditSprites
	case "variable":
		return perms.CanEditVariables
	default:
		return perms.CanEditBlocks
	}
}

// rawAny decodes a raw JSON fragment into a generic value.
func rawAny(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

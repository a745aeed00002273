package ws

import (
	"encoding/json"
	"strings"

	"github.com/codefionn/colabd/internal/session"
)

// Application close codes.
const (
	// CloseReplaced is sent to a socket superseded by a reconnect of the
	// same user id.
	CloseReplaced = 4001
	// CloseAdmissionRejected is sent when the auth frame's join ticket is
	// rejected.
	CloseAdmissionRejected = 4003
)

// MaxSnapshotChars bounds the serialized workspace_snapshot payload.
const MaxSnapshotChars = 2_000_000

// Inbound message types.
const (
	TypeAuth                   = "auth"
	TypePing                   = "ping"
	TypeRequestSharedState     = "request_shared_state"
	TypeRequestTeacherRole     = "request_teacher_role"
	TypeUpdateUsername         = "update_username"
	TypeUpdateGlobalPermission = "update_global_permission"
	TypeUpdateUserPermission   = "update_user_permission"
	TypeApplyPresetMode        = "apply_preset_mode"
	TypeRequestLock            = "request_lock"
	TypeReleaseLock            = "release_lock"
	TypeUpdateCoords           = "update_coords"
	TypeElementDrag            = "element_drag"
	TypeBlockMove              = "block_move"
	TypeBlockFocus             = "block_focus"
	TypeSpriteUpdate           = "sprite_update"
	TypeStackMove              = "stack_move"
	TypeAction                 = "action"
	TypeCreateElement          = "create_element"
	TypeDeleteElement          = "delete_element"
	TypeWorkspaceSnapshot      = "workspace_snapshot"
)

// Frame is the envelope for every inbound message. Clients send partial
// shapes; every field beyond Type is optional and only read by the
// handlers that care about it.
type Frame struct {
	Type string `json:"type"`

	// auth
	Token     string `json:"token,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`

	// permission mutations
	Key          string `json:"key,omitempty"`
	Value        *bool  `json:"value,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
	Mode         string `json:"mode,omitempty"`

	// locks and elements
	ElementID   string `json:"elementId,omitempty"`
	ElementType string `json:"elementType,omitempty"`
	BlockID     string `json:"blockId,omitempty"`
	SpriteID    string `json:"spriteId,omitempty"`
	VariableID  string `json:"variableId,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`

	// optimistic concurrency; Etag is a legacy alias for IfMatch
	IfMatch string `json:"ifMatch,omitempty"`
	Etag    string `json:"etag,omitempty"`

	// payloads
	ElementData   map[string]any  `json:"elementData,omitempty"`
	Position      json.RawMessage `json:"position,omitempty"`
	FinalPosition json.RawMessage `json:"finalPosition,omitempty"`
	Metrics       map[string]any  `json:"metrics,omitempty"`
	Snapshot      json.RawMessage `json:"snapshot,omitempty"`
	Coords        *session.Coords `json:"coords,omitempty"`
	X             *float64        `json:"x,omitempty"`
	Y             *float64        `json:"y,omitempty"`
}

// ifMatchValue returns the If-Match value of the frame, honoring the
// legacy etag alias.
func (f *Frame) ifMatchValue() string {
	if f.IfMatch != "" {
		return f.IfMatch
	}
	return f.Etag
}

// resolveElementID probes the payload for an element id. Explicit
// elementId wins; otherwise the legacy key aliases are tried in order,
// first at the top level and then inside elementData, with the sprite
// name as a last resort for sprites.
func (f *Frame) resolveElementID() string {
	for _, id := range []string{f.ElementID, f.ID, f.SpriteID, f.BlockID, f.VariableID} {
		if id != "" {
			return id
		}
	}
	for _, key := range []string{"id", "elementId", "spriteId", "blockId", "variableId"} {
		if id, ok := f.ElementData[key].(string); ok && id != "" {
			return id
		}
	}
	if f.ElementType == session.KindSprite {
		if f.Name != "" {
			return f.Name
		}
		if name, ok := f.ElementData["name"].(string); ok && name != "" {
			return name
		}
	}
	return ""
}

// elementKind returns the entity kind targeted by a create/delete frame.
func (f *Frame) elementKind() string {
	if t := strings.TrimSpace(f.ElementType); t != "" {
		return t
	}
	return session.KindBlock
}

// coordsValue assembles a cursor position from either the coords object
// or top-level x/y fields.
func (f *Frame) coordsValue() (session.Coords, bool) {
	if f.Coords != nil {
		return *f.Coords, true
	}
	if f.X != nil || f.Y != nil {
		var c session.Coords
		if f.X != nil {
			c.X = *f.X
		}
		if f.Y != nil {
			c.Y = *f.Y
		}
		return c, true
	}
	return session.Coords{}, false
}

// MemberView is the wire representation of a member in auth_success and
// presence frames.
type MemberView struct {
	UserID      string         `json:"userId"`
	Username    string         `json:"username"`
	Role        string         `json:"role"`
	Permissions any            `json:"permissions"`
	IsOwner     bool           `json:"isOwner"`
	Coords      session.Coords `json:"coords"`
}

// memberView builds the wire representation of a member.
func memberView(m *session.Member) MemberView {
	return MemberView{
		UserID:      m.UserID,
		Username:    m.Username,
		Role:        string(m.Role),
		Permissions: m.Perms,
		IsOwner:     m.IsOwner,
		Coords:      m.Coords,
	}
}

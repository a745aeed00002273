package ws

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeleteElement(t *testing.T) {
	ts, reg := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")

	sendFrame(t, connA, map[string]any{
		"type":        "create_element",
		"elementType": "block",
		"elementId":   "b1",
	})
	readType(t, connA, "element_created")

	// Stale If-Match is refused without touching the entity.
	sendFrame(t, connA, map[string]any{
		"type":        "delete_element",
		"elementType": "block",
		"elementId":   "b1",
		"ifMatch":     `W/"block:b1:7"`,
	})
	conflict := readType(t, connA, "conflict")
	assert.Equal(t, `W/"block:b1:1"`, conflict["currentEtag"])

	sendFrame(t, connA, map[string]any{
		"type":        "delete_element",
		"elementType": "block",
		"elementId":   "b1",
		"ifMatch":     `W/"block:b1:1"`,
	})
	deleted := readType(t, connA, "element_deleted")
	assert.Equal(t, "b1", deleted["elementId"])

	w, ok := reg.Get("w")
	assert.True(t, ok)
	w.Lock()
	count := w.EntityCount()
	w.Unlock()
	assert.Equal(t, 0, count)
}

// TestBlockMoveLockHolderDiscipline verifies a non-holder's move is
// silently dropped: no broadcast, no error, no version change.
func TestBlockMoveLockHolderDiscipline(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")
	connB, _ := join(t, ts, "u2", "w", "TEACHER")
	readType(t, connA, "user_joined")

	sendFrame(t, connA, map[string]any{"type": "request_lock", "elementId": "b1", "elementType": "block"})
	readType(t, connA, "lock_granted")
	readType(t, connB, "element_locked")

	// B has edit rights but not the lock.
	sendFrame(t, connB, map[string]any{
		"type":     "block_move",
		"blockId":  "b1",
		"position": map[string]any{"x": 9, "y": 9},
	})
	sendFrame(t, connB, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readFrame(t, connB)["type"])

	// The holder still moves at version 1.
	sendFrame(t, connA, map[string]any{
		"type":     "block_move",
		"blockId":  "b1",
		"position": map[string]any{"x": 1, "y": 1},
	})
	moved := readType(t, connA, "block_move")
	assert.Equal(t, float64(1), moved["version"])
	assert.Equal(t, `W/"block:b1:1"`, moved["etag"])
}

func TestSpriteUpdateBumpsBothVersions(t *testing.T) {
	ts, reg := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")

	sendFrame(t, connA, map[string]any{
		"type":     "sprite_update",
		"spriteId": "s1",
		"metrics":  map[string]any{"x": 10, "y": 20},
	})
	updated := readType(t, connA, "sprite_update")
	assert.Equal(t, `W/"sprite-metrics:s1:1"`, updated["etag"])

	w, _ := reg.Get("w")
	w.Lock()
	_, hasSprite := w.Entity("sprite", "s1")
	_, hasMetrics := w.Entity("sprite-metrics", "s1")
	w.Unlock()
	assert.True(t, hasSprite, "sprite entity not created")
	assert.True(t, hasMetrics, "sprite-metrics entity not created")

	// A stale If-Match against the metrics etag conflicts.
	sendFrame(t, connA, map[string]any{
		"type":     "sprite_update",
		"spriteId": "s1",
		"ifMatch":  `W/"sprite-metrics:s1:9"`,
	})
	conflict := readType(t, connA, "conflict")
	assert.Equal(t, "sprite-metrics", conflict["entityType"])
}

func TestWorkspaceSnapshotOverLimit(t *testing.T) {
	ts, reg := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")

	huge := `"` + strings.Repeat("x", MaxSnapshotChars+1) + `"`
	sendFrame(t, connA, map[string]any{
		"type":     "workspace_snapshot",
		"spriteId": "s1",
		"snapshot": huge,
	})
	reply := readType(t, connA, "error")
	assert.Contains(t, reply["message"], "too large")

	w, _ := reg.Get("w")
	w.Lock()
	count := w.EntityCount()
	w.Unlock()
	assert.Equal(t, 0, count)
}

func TestWorkspaceSnapshotStored(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")

	sendFrame(t, connA, map[string]any{
		"type":     "workspace_snapshot",
		"spriteId": "s1",
		"snapshot": map[string]any{"blocks": []any{}},
	})
	stored := readType(t, connA, "workspace_snapshot")
	assert.Equal(t, "s1", stored["spriteId"])
	assert.Equal(t, `W/"workspace-snapshot:s1:1"`, stored["etag"])

	// request_shared_state returns it in the snapshot bucket.
	sendFrame(t, connA, map[string]any{"type": "request_shared_state"})
	state := readType(t, connA, "shared_state")
	shared, ok := state["sharedState"].(map[string]any)
	assert.True(t, ok)
	assert.Len(t, shared["workspaceSnapshots"], 1)
}

func TestUpdateCoordsBroadcast(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")
	connB, _ := join(t, ts, "u2", "w", "STUDENT")
	readType(t, connA, "user_joined")

	sendFrame(t, connB, map[string]any{"type": "update_coords", "coords": map[string]any{"x": 4, "y": 8}})
	update := readType(t, connA, "coords_update")
	assert.Equal(t, "u2", update["userId"])
	coords, ok := update["coords"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, float64(4), coords["x"])
}

func TestUpdateUsername(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")
	connB, _ := join(t, ts, "u2", "w", "STUDENT")
	readType(t, connA, "user_joined")

	sendFrame(t, connB, map[string]any{"type": "update_username", "username": "  Bob  "})
	updated := readType(t, connA, "user_updated")
	assert.Equal(t, "u2", updated["userId"])
	assert.Equal(t, "Bob", updated["username"])
}

func TestRequestTeacherRoleDeniedForStudents(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	connB, _ := join(t, ts, "u2", "w", "STUDENT")

	sendFrame(t, connB, map[string]any{"type": "request_teacher_role"})
	reply := readType(t, connB, "error")
	assert.Contains(t, reply["message"], "not permitted")
}

func TestRequestTeacherRoleForTeacher(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	// The owner slot goes to the admin; the teacher joins second so the
	// role template applies unmodified.
	connA, _ := join(t, ts, "u0", "w", "ADMIN")
	conn, _ := join(t, ts, "u1", "w", "TEACHER")
	readType(t, connA, "user_joined")

	sendFrame(t, conn, map[string]any{"type": "request_teacher_role"})
	reply := readType(t, conn, "permissions_updated")
	p := perms(t, reply)
	assert.Equal(t, true, p["canEditBlocks"])
	assert.Equal(t, false, p["canLockWorkspace"])
}

func TestPassThroughBroadcast(t *testing.T) {
	ts, _ := newTestServer(t, time.Minute)
	connA, _ := join(t, ts, "u1", "w", "ADMIN")
	connB, _ := join(t, ts, "u2", "w", "STUDENT")
	readType(t, connA, "user_joined")

	sendFrame(t, connA, map[string]any{"type": "stack_move", "stackId": "st1", "delta": map[string]any{"x": 1}})
	frame := readType(t, connB, "stack_move")
	// Forwarded unchanged, including fields the engine does not model.
	assert.Equal(t, "st1", frame["stackId"])
}

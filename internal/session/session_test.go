package session

import (
	"testing"
	"time"

	"github.com/codefionn/colabd/internal/permission"
)

func TestGrantLockArbitration(t *testing.T) {
	w := NewWorkspace("w1")

	lock, granted, holder := w.GrantLock("u1", "b1", "block")
	if !granted || holder != "u1" {
		t.Fatalf("first grant failed: granted=%v holder=%s", granted, holder)
	}
	if lock.Version != 1 {
		t.Errorf("first grant version = %d, want 1", lock.Version)
	}

	// A different user is denied and told who holds the lock.
	_, granted, holder = w.GrantLock("u2", "b1", "block")
	if granted {
		t.Error("contended grant succeeded")
	}
	if holder != "u1" {
		t.Errorf("denial holder = %s, want u1", holder)
	}

	// Re-grant by the holder succeeds and bumps the version.
	lock, granted, _ = w.GrantLock("u1", "b1", "block")
	if !granted {
		t.Fatal("re-grant by holder failed")
	}
	if lock.Version != 2 {
		t.Errorf("re-grant version = %d, want 2", lock.Version)
	}
}

// TestLockVersionSurvivesRelease verifies versions never restart after release
func TestLockVersionSurvivesRelease(t *testing.T) {
	w := NewWorkspace("w1")

	w.GrantLock("u1", "b1", "block")
	if !w.ReleaseLock("u1", "b1") {
		t.Fatal("holder could not release")
	}
	lock, granted, _ := w.GrantLock("u2", "b1", "block")
	if !granted {
		t.Fatal("grant after release failed")
	}
	if lock.Version != 2 {
		t.Errorf("version after release = %d, want 2", lock.Version)
	}
}

func TestReleaseLockNonHolder(t *testing.T) {
	w := NewWorkspace("w1")
	w.GrantLock("u1", "b1", "block")
	if w.ReleaseLock("u2", "b1") {
		t.Error("non-holder released the lock")
	}
	if w.LockedBy("b1") != "u1" {
		t.Error("lock vanished after rejected release")
	}
}

func TestReleaseAllLocks(t *testing.T) {
	w := NewWorkspace("w1")
	w.GrantLock("u1", "b1", "block")
	w.GrantLock("u1", "s1", "sprite")
	w.GrantLock("u2", "b2", "block")

	released := w.ReleaseAllLocks("u1")
	if len(released) != 2 {
		t.Fatalf("released %d locks, want 2", len(released))
	}
	if w.LockedBy("b2") != "u2" {
		t.Error("another user's lock was released")
	}
	if w.LockedBy("b1") != "" || w.LockedBy("s1") != "" {
		t.Error("holder's locks survived ReleaseAllLocks")
	}
}

func TestEntityVersioning(t *testing.T) {
	w := NewWorkspace("w1")
	t0 := time.UnixMilli(1_000)
	t1 := time.UnixMilli(2_000)

	e := w.UpsertEntity(KindBlock, "b1", map[string]any{"x": 1}, "u1", t0)
	if e.Version != 1 {
		t.Fatalf("fresh entity version = %d, want 1", e.Version)
	}
	if e.ETag() != `W/"block:b1:1"` {
		t.Errorf("etag = %s", e.ETag())
	}
	if e.FirstEditedBy != "u1" || e.FirstEditedAt != 1_000 {
		t.Error("first-edited metadata not stamped")
	}

	e = w.UpsertEntity(KindBlock, "b1", map[string]any{"x": 2}, "u2", t1)
	if e.Version != 2 {
		t.Errorf("version after update = %d, want 2", e.Version)
	}
	if e.FirstEditedBy != "u1" || e.FirstEditedAt != 1_000 {
		t.Error("first-edited metadata changed on update")
	}
	if e.UpdatedBy != "u2" || e.UpdatedAt != 2_000 {
		t.Error("updated metadata not stamped")
	}
	if e.UpdatedAt < e.FirstEditedAt {
		t.Error("updatedAt precedes firstEditedAt")
	}
}

// TestEntityRecreation verifies deletion resets version and metadata
func TestEntityRecreation(t *testing.T) {
	w := NewWorkspace("w1")
	now := time.UnixMilli(5_000)

	w.UpsertEntity(KindBlock, "b1", nil, "u1", now)
	w.UpsertEntity(KindBlock, "b1", nil, "u1", now)
	w.DeleteEntity(KindBlock, "b1")
	if _, ok := w.Entity(KindBlock, "b1"); ok {
		t.Fatal("entity survived deletion")
	}

	e := w.UpsertEntity(KindBlock, "b1", nil, "u2", now)
	if e.Version != 1 {
		t.Errorf("recreated entity version = %d, want 1", e.Version)
	}
	if e.FirstEditedBy != "u2" {
		t.Errorf("recreated entity firstEditedBy = %s, want u2", e.FirstEditedBy)
	}
}

func TestDeleteSpriteCascades(t *testing.T) {
	w := NewWorkspace("w1")
	now := time.Now()
	w.UpsertEntity(KindSprite, "s1", nil, "u1", now)
	w.UpsertEntity(KindSpriteMetrics, "s1", nil, "u1", now)
	w.UpsertEntity(KindSnapshot, "s1", nil, "u1", now)

	w.DeleteEntity(KindSprite, "s1")
	if w.EntityCount() != 0 {
		t.Errorf("derived entities survived sprite deletion: %d left", w.EntityCount())
	}
}

func TestMatchesETag(t *testing.T) {
	w := NewWorkspace("w1")
	w.UpsertEntity(KindBlock, "b1", nil, "u1", time.Now())

	cases := []struct {
		ifMatch string
		want    bool
	}{
		{"", true},
		{"*", true},
		{`W/"block:b1:1"`, true},
		{`W/"block:b1:999"`, false},
		{`garbage`, false},
	}
	for _, tc := range cases {
		ok, current, _ := w.MatchesETag(KindBlock, "b1", tc.ifMatch)
		if ok != tc.want {
			t.Errorf("MatchesETag(%q) = %v, want %v (current %s)", tc.ifMatch, ok, tc.want, current)
		}
	}

	// A missing entity matches any If-Match value.
	if ok, _, _ := w.MatchesETag(KindBlock, "nope", `W/"block:nope:3"`); !ok {
		t.Error("missing entity did not match")
	}
}

func TestEffectivePermsOwner(t *testing.T) {
	w := NewWorkspace("w1")
	w.OwnerID = "u1"
	m := &Member{UserID: "u1", Role: permission.RoleStudent, IsOwner: true}
	if got := w.EffectivePerms(m); !got.CanChangePermissions {
		t.Error("owner did not get the full template")
	}
}

func TestSharedStateBuckets(t *testing.T) {
	w := NewWorkspace("w1")
	now := time.Now()
	w.UpsertEntity(KindBlock, "b1", nil, "u1", now)
	w.UpsertEntity(KindSprite, "s1", nil, "u1", now)
	w.UpsertEntity(KindSpriteMetrics, "s1", nil, "u1", now)
	w.UpsertEntity(KindSnapshot, "s1", nil, "u1", now)

	state := w.SharedStateSnapshot()
	if len(state.Elements) != 2 {
		t.Errorf("elements bucket has %d entries, want 2", len(state.Elements))
	}
	if len(state.SpriteMetrics) != 1 || len(state.WorkspaceSnapshots) != 1 {
		t.Error("derived buckets not populated")
	}
}

package session

import (
	"fmt"
	"time"
)

// Entity kinds tracked by the engine. create_element may introduce
// additional kinds (e.g. "variable"); the four below carry dedicated
// semantics.
const (
	KindBlock         = "block"
	KindSprite        = "sprite"
	KindSpriteMetrics = "sprite-metrics"
	KindSnapshot      = "workspace-snapshot"
)

// EntityKey identifies one shared entity.
type EntityKey struct {
	Kind string
	ID   string
}

// Entity is a versioned piece of shared state. Versions only ever grow;
// deleting the entity and recreating it restarts at version 1 with fresh
// first-edited metadata.
type Entity struct {
	Kind    string
	ID      string
	Version int64
	Data    map[string]any

	FirstEditedBy string
	FirstEditedAt int64 // Unix milliseconds
	UpdatedBy     string
	UpdatedAt     int64 // Unix milliseconds
}

// ETag returns the weak entity tag for the current version.
func (e *Entity) ETag() string {
	return fmt.Sprintf("W/%q", fmt.Sprintf("%s:%s:%d", e.Kind, e.ID, e.Version))
}

// touch stamps mutation metadata.
func (e *Entity) touch(actor string, now time.Time) {
	ms := now.UnixMilli()
	if e.FirstEditedBy == "" {
		e.FirstEditedBy = actor
		e.FirstEditedAt = ms
	}
	e.UpdatedBy = actor
	e.UpdatedAt = ms
}

// Entity returns the shared entity for (kind, id).
func (w *Workspace) Entity(kind, id string) (*Entity, bool) {
	e, ok := w.entities[EntityKey{Kind: kind, ID: id}]
	return e, ok
}

// MatchesETag applies If-Match semantics for (kind, id): a missing value
// or "*" always matches, a missing entity matches any value, otherwise
// the current ETag must equal ifMatch exactly.
func (w *Workspace) MatchesETag(kind, id, ifMatch string) (ok bool, currentEtag string, entity *Entity) {
	e, exists := w.entities[EntityKey{Kind: kind, ID: id}]
	if exists {
		currentEtag = e.ETag()
		entity = e
	}
	if ifMatch == "" || ifMatch == "*" || !exists {
		return true, currentEtag, entity
	}
	return ifMatch == currentEtag, currentEtag, entity
}

// UpsertEntity bumps the version of (kind, id), merging data into the
// stored payload, and returns the entity. A fresh entity starts at
// version 1.
func (w *Workspace) UpsertEntity(kind, id string, data map[string]any, actor string, now time.Time) *Entity {
	key := EntityKey{Kind: kind, ID: id}
	e, ok := w.entities[key]
	if !ok {
		e = &Entity{Kind: kind, ID: id, Data: make(map[string]any)}
		w.entities[key] = e
	}
	for k, v := range data {
		e.Data[k] = v
	}
	e.Version++
	e.touch(actor, now)
	return e
}

// ReplaceEntity bumps the version of (kind, id) and replaces the stored
// payload wholesale.
func (w *Workspace) ReplaceEntity(kind, id string, data map[string]any, actor string, now time.Time) *Entity {
	key := EntityKey{Kind: kind, ID: id}
	e, ok := w.entities[key]
	if !ok {
		e = &Entity{Kind: kind, ID: id}
		w.entities[key] = e
	}
	if data == nil {
		data = make(map[string]any)
	}
	e.Data = data
	e.Version++
	e.touch(actor, now)
	return e
}

// DeleteEntity removes (kind, id). Sprites also shed their derived
// sprite-metrics and workspace-snapshot entries.
func (w *Workspace) DeleteEntity(kind, id string) {
	delete(w.entities, EntityKey{Kind: kind, ID: id})
	if kind == KindSprite {
		delete(w.entities, EntityKey{Kind: KindSpriteMetrics, ID: id})
		delete(w.entities, EntityKey{Kind: KindSnapshot, ID: id})
	}
}

// EntityCount returns the number of shared entities.
func (w *Workspace) EntityCount() int {
	return len(w.entities)
}

// EntityView is the wire representation of one shared entity.
type EntityView struct {
	ElementType   string         `json:"elementType"`
	ElementID     string         `json:"elementId"`
	Data          map[string]any `json:"data"`
	Version       int64          `json:"version"`
	ETag          string         `json:"etag"`
	FirstEditedBy string         `json:"firstEditedBy,omitempty"`
	FirstEditedAt int64          `json:"firstEditedAt,omitempty"`
	UpdatedBy     string         `json:"updatedBy,omitempty"`
	UpdatedAt     int64          `json:"updatedAt,omitempty"`
}

// View builds the wire representation of an entity.
func (e *Entity) View() EntityView {
	return EntityView{
		ElementType:   e.Kind,
		ElementID:     e.ID,
		Data:          e.Data,
		Version:       e.Version,
		ETag:          e.ETag(),
		FirstEditedBy: e.FirstEditedBy,
		FirstEditedAt: e.FirstEditedAt,
		UpdatedBy:     e.UpdatedBy,
		UpdatedAt:     e.UpdatedAt,
	}
}

// SharedState is the snapshot returned by request_shared_state and
// embedded in auth_success.
type SharedState struct {
	Elements           []EntityView `json:"elements"`
	SpriteMetrics      []EntityView `json:"spriteMetrics"`
	WorkspaceSnapshots []EntityView `json:"workspaceSnapshots"`
}

// SharedStateSnapshot collects every entity into the three wire buckets.
func (w *Workspace) SharedStateSnapshot() SharedState {
	state := SharedState{
		Elements:           []EntityView{},
		SpriteMetrics:      []EntityView{},
		WorkspaceSnapshots: []EntityView{},
	}
	for _, e := range w.entities {
		switch e.Kind {
		case KindSpriteMetrics:
			state.SpriteMetrics = append(state.SpriteMetrics, e.View())
		case KindSnapshot:
			state.WorkspaceSnapshots = append(state.WorkspaceSnapshots, e.View())
		default:
			state.Elements = append(state.Elements, e.View())
		}
	}
	return state
}

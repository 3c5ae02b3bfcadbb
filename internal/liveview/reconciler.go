// Package liveview maintains one viewer's consistent "who is around" view
// from two asynchronous sources: a point-in-time nearby snapshot and a
// row-level change stream, plus the viewer's own broadcast state. It owns
// no persisted state; the projection is rebuildable from the next snapshot.
package liveview

import (
	"context"
	"sort"
	"sync"
	"time"

	"sidequest-backend/internal/geo"
	"sidequest-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// Snapshot fetches the authoritative visible set for the viewer.
type Snapshot func(ctx context.Context) ([]*models.Presence, error)

// Validate confirms that a friends-only push-delivered row is actually
// visible to the viewer. The stream alone cannot prove social graph
// membership, so admission waits on this check; an error means not admitted.
type Validate func(ctx context.Context, p *models.Presence) (bool, error)

// Reconciler merges snapshot results and change notifications into one
// de-duplicated view keyed by presence id. All mutations are idempotent:
// applying the same notification twice leaves the view unchanged. Rows
// older than already-applied state (by last_seen) are silently discarded.
type Reconciler struct {
	mu       sync.Mutex
	viewerID string
	validate Validate

	viewerLat float64
	viewerLng float64
	radius    float64

	visible map[string]*models.Presence
	// removed holds, per id, the last_seen of the row that removed it.
	// A restart reuses the row id with a newer last_seen, so strictly
	// newer rows may re-enter; stale replays may not.
	removed map[string]time.Time

	mine    *models.Presence
	sharing bool
}

// NewReconciler creates a reconciler for one viewer at one viewpoint.
// validate may be nil, in which case friends-only rows are never admitted
// from the stream and appear only via snapshots.
func NewReconciler(viewerID string, lat, lng, radius float64, validate Validate) *Reconciler {
	return &Reconciler{
		viewerID:  viewerID,
		validate:  validate,
		viewerLat: lat,
		viewerLng: lng,
		radius:    radius,
		visible:   make(map[string]*models.Presence),
		removed:   make(map[string]time.Time),
	}
}

// SetViewpoint moves the viewer. The new position applies to subsequent
// admissions; existing rows are re-checked on the next snapshot.
func (r *Reconciler) SetViewpoint(lat, lng, radius float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewerLat, r.viewerLng, r.radius = lat, lng, radius
}

// ApplySnapshot merges an authoritative nearby result taken at the given
// time. Rows absent from the snapshot are dropped unless local state for
// them postdates the snapshot; rows removed after the snapshot was taken
// stay removed.
func (r *Reconciler) ApplySnapshot(taken time.Time, rows []*models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*models.Presence, len(rows))
	for _, p := range rows {
		if p == nil || !p.IsActive || p.UserID == r.viewerID {
			continue
		}
		if ts, ok := r.removed[p.ID]; ok && !p.LastSeen.After(ts) {
			continue
		}
		if existing, ok := r.visible[p.ID]; ok && existing.LastSeen.After(p.LastSeen) {
			next[p.ID] = existing
			continue
		}
		next[p.ID] = p
	}

	// Keep locally-admitted rows the snapshot predates. Anything at or
	// before taken was already visible to the snapshot query, so its
	// absence there is authoritative.
	for id, existing := range r.visible {
		if _, ok := next[id]; ok {
			continue
		}
		if existing.LastSeen.After(taken) {
			next[id] = existing
		}
	}

	r.visible = next
}

// Apply folds one change notification into the view. Changes about the
// viewer route to the own-presence slot and never touch the nearby list.
func (r *Reconciler) Apply(ctx context.Context, c models.ChangeNotification) {
	row := c.Row()
	if row == nil {
		return
	}

	if row.UserID == r.viewerID {
		r.applySelf(c, row)
		return
	}

	if c.Kind == models.ChangeDelete || !row.IsActive {
		r.remove(row)
		return
	}

	r.admit(ctx, row)
}

func (r *Reconciler) applySelf(c models.ChangeNotification, row *models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Kind == models.ChangeDelete || !row.IsActive {
		r.mine = nil
		r.sharing = false
		return
	}
	if r.mine != nil && r.mine.LastSeen.After(row.LastSeen) {
		return
	}
	r.mine = row
	r.sharing = true
}

func (r *Reconciler) remove(row *models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.visible, row.ID)
	if ts, ok := r.removed[row.ID]; !ok || row.LastSeen.After(ts) {
		r.removed[row.ID] = row.LastSeen
	}
}

func (r *Reconciler) admit(ctx context.Context, row *models.Presence) {
	r.mu.Lock()

	if ts, ok := r.removed[row.ID]; ok && !row.LastSeen.After(ts) {
		r.mu.Unlock()
		return
	}
	if existing, ok := r.visible[row.ID]; ok && existing.LastSeen.After(row.LastSeen) {
		r.mu.Unlock()
		return
	}

	if geo.Distance(r.viewerLat, r.viewerLng, row.Latitude, row.Longitude) > r.radius {
		// Moved out of range: the update doubles as a removal.
		delete(r.visible, row.ID)
		r.mu.Unlock()
		return
	}

	_, known := r.visible[row.ID]
	r.mu.Unlock()

	// Public rows are cheap to trust. Friends-only rows from the stream
	// need a membership check before first admission; a row already in the
	// view proved membership when it was admitted, so its updates apply
	// directly. On check failure the row is skipped and the next snapshot
	// readmits it if still valid (fail closed).
	switch row.Visibility {
	case models.VisibilityPublic:
	case models.VisibilityFriends:
		if !known {
			if r.validate == nil {
				return
			}
			ok, err := r.validate(ctx, row)
			if err != nil {
				log.Debug().
					Err(err).
					Str("presence_id", row.ID).
					Msg("Could not validate friends-only row, dropping")
				return
			}
			if !ok {
				return
			}
		}
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check after the validation suspension point: a removal or a newer
	// row may have landed meanwhile and must not be overwritten.
	if ts, ok := r.removed[row.ID]; ok && !row.LastSeen.After(ts) {
		return
	}
	if existing, ok := r.visible[row.ID]; ok && existing.LastSeen.After(row.LastSeen) {
		return
	}
	r.visible[row.ID] = row
}

// Visible returns the nearby rows, most recently seen first.
func (r *Reconciler) Visible() []*models.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]*models.Presence, 0, len(r.visible))
	for _, p := range r.visible {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LastSeen.Equal(rows[j].LastSeen) {
			return rows[i].LastSeen.After(rows[j].LastSeen)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// Mine returns the viewer's own broadcast slot, nil when not broadcasting.
func (r *Reconciler) Mine() *models.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mine
}

// IsSharing reports whether the viewer is currently broadcasting. This flag
// drives location refresh scheduling.
func (r *Reconciler) IsSharing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sharing
}

// SetMine seeds the own-presence slot, e.g. from a direct fetch at startup.
func (r *Reconciler) SetMine(p *models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil || !p.IsActive {
		r.mine = nil
		r.sharing = false
		return
	}
	if r.mine != nil && r.mine.LastSeen.After(p.LastSeen) {
		return
	}
	r.mine = p
	r.sharing = true
}

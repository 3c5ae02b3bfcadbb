package liveview

import (
	"context"
	"testing"
	"time"

	"sidequest-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	viewerLat = 37.7749
	viewerLng = -122.4194
)

func row(id, userID string, visibility models.Visibility, seen time.Time) *models.Presence {
	return &models.Presence{
		ID:         id,
		UserID:     userID,
		Visibility: visibility,
		IsActive:   true,
		Latitude:   viewerLat + 0.01,
		Longitude:  viewerLng,
		LastSeen:   seen,
		ExpiresAt:  seen.Add(10 * time.Minute),
	}
}

func allowAll(_ context.Context, _ *models.Presence) (bool, error) { return true, nil }

func newTestReconciler(validate Validate) *Reconciler {
	return NewReconciler("viewer", viewerLat, viewerLng, 5, validate)
}

func visibleIDs(r *Reconciler) []string {
	rows := r.Visible()
	ids := make([]string, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestAdmitPublicRow(t *testing.T) {
	r := newTestReconciler(nil)
	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, time.Now()),
	})
	assert.Equal(t, []string{"p1"}, visibleIDs(r))
}

func TestApplyIsIdempotent(t *testing.T) {
	r := newTestReconciler(nil)
	c := models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, time.Now()),
	}
	r.Apply(context.Background(), c)
	r.Apply(context.Background(), c)
	assert.Equal(t, []string{"p1"}, visibleIDs(r))
}

func TestStaleUpdateDiscarded(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	fresh := row("p1", "alice", models.VisibilityPublic, now)
	fresh.StatusText = "fresh"
	stale := row("p1", "alice", models.VisibilityPublic, now.Add(-time.Minute))
	stale.StatusText = "stale"

	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: fresh})
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: stale})

	rows := r.Visible()
	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].StatusText)
}

func TestDeleteRemovesRow(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, now),
	})
	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeDelete,
		Old:  row("p1", "alice", models.VisibilityPublic, now),
	})
	assert.Empty(t, r.Visible())
}

func TestInactiveUpdateRemovesRow(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, now),
	})

	stopped := row("p1", "alice", models.VisibilityPublic, now.Add(time.Second))
	stopped.IsActive = false
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: stopped})

	assert.Empty(t, r.Visible())
}

func TestRemovedRowDoesNotResurrectFromReplay(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()
	original := row("p1", "alice", models.VisibilityPublic, now)

	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: original})

	stopped := row("p1", "alice", models.VisibilityPublic, now.Add(time.Second))
	stopped.IsActive = false
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: stopped})

	// A replayed insert carrying the pre-stop state must stay out.
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: original})
	assert.Empty(t, r.Visible())
}

func TestNewerRowReentersAfterRemoval(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, now),
	})
	stopped := row("p1", "alice", models.VisibilityPublic, now.Add(time.Second))
	stopped.IsActive = false
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: stopped})

	restarted := row("p1", "alice", models.VisibilityPublic, now.Add(2*time.Second))
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: restarted})
	assert.Equal(t, []string{"p1"}, visibleIDs(r))
}

func TestSnapshotDoesNotResurrectRemovedRow(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()
	original := row("p1", "alice", models.VisibilityPublic, now)

	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: original})

	stopped := row("p1", "alice", models.VisibilityPublic, now.Add(time.Second))
	stopped.IsActive = false
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: stopped})

	// Snapshot taken before the stop still carries the row.
	r.ApplySnapshot(now, []*models.Presence{original})
	assert.Empty(t, r.Visible())
}

func TestSnapshotDropsAbsentRows(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, now.Add(-time.Minute)),
	})
	r.ApplySnapshot(now, []*models.Presence{row("p2", "carol", models.VisibilityPublic, now)})

	assert.Equal(t, []string{"p2"}, visibleIDs(r))
}

func TestEmptySnapshotClearsPredatedRows(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, now.Add(-time.Minute)),
	})
	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p2", "carol", models.VisibilityPublic, now.Add(time.Second)),
	})

	// Everything the empty snapshot should have seen goes; the row that
	// landed after it was taken survives until the next refresh.
	r.ApplySnapshot(now, nil)
	assert.Equal(t, []string{"p2"}, visibleIDs(r))

	r.ApplySnapshot(now.Add(2*time.Second), nil)
	assert.Empty(t, r.Visible())
}

func TestSnapshotKeepsStrictlyNewerLocalRows(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	// Admitted from the stream after the snapshot was taken.
	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityPublic, now),
	})
	r.ApplySnapshot(now.Add(-30*time.Second), []*models.Presence{row("p2", "carol", models.VisibilityPublic, now.Add(-time.Minute))})

	assert.ElementsMatch(t, []string{"p1", "p2"}, visibleIDs(r))
}

func TestSnapshotDoesNotOverwriteNewerLocalState(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	fresh := row("p1", "alice", models.VisibilityPublic, now)
	fresh.StatusText = "fresh"
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: fresh})

	stale := row("p1", "alice", models.VisibilityPublic, now.Add(-time.Minute))
	stale.StatusText = "stale"
	r.ApplySnapshot(now.Add(-time.Minute), []*models.Presence{stale})

	rows := r.Visible()
	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].StatusText)
}

func TestSnapshotSkipsSelfAndInactive(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	inactive := row("p2", "carol", models.VisibilityPublic, now)
	inactive.IsActive = false

	r.ApplySnapshot(now, []*models.Presence{
		row("p1", "viewer", models.VisibilityPublic, now),
		inactive,
		row("p3", "alice", models.VisibilityPublic, now),
	})
	assert.Equal(t, []string{"p3"}, visibleIDs(r))
}

func TestFriendsOnlyRequiresValidation(t *testing.T) {
	called := 0
	validate := func(_ context.Context, p *models.Presence) (bool, error) {
		called++
		return p.UserID == "alice", nil
	}
	r := newTestReconciler(validate)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityFriends, now),
	})
	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p2", "mallory", models.VisibilityFriends, now),
	})

	assert.Equal(t, []string{"p1"}, visibleIDs(r))
	assert.Equal(t, 2, called)
}

func TestFriendsOnlyValidationErrorFailsClosed(t *testing.T) {
	validate := func(_ context.Context, _ *models.Presence) (bool, error) {
		return false, assert.AnError
	}
	r := newTestReconciler(validate)

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityFriends, time.Now()),
	})
	assert.Empty(t, r.Visible())
}

func TestFriendsOnlyNilValidateDrops(t *testing.T) {
	r := newTestReconciler(nil)

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityFriends, time.Now()),
	})
	assert.Empty(t, r.Visible())
}

func TestKnownFriendsOnlyRowSkipsRevalidation(t *testing.T) {
	called := 0
	validate := func(_ context.Context, _ *models.Presence) (bool, error) {
		called++
		return true, nil
	}
	r := newTestReconciler(validate)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityFriends, now),
	})
	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeUpdate,
		New:  row("p1", "alice", models.VisibilityFriends, now.Add(time.Second)),
	})

	assert.Equal(t, []string{"p1"}, visibleIDs(r))
	assert.Equal(t, 1, called, "membership proven at admission, updates apply directly")
}

func TestMoveOutOfRadiusRemoves(t *testing.T) {
	r := newTestReconciler(allowAll)
	now := time.Now()

	r.Apply(context.Background(), models.ChangeNotification{
		Kind: models.ChangeInsert,
		New:  row("p1", "alice", models.VisibilityFriends, now),
	})
	require.Equal(t, []string{"p1"}, visibleIDs(r))

	far := row("p1", "alice", models.VisibilityFriends, now.Add(time.Second))
	far.Latitude = viewerLat + 0.1 // roughly seven miles north
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: far})

	assert.Empty(t, r.Visible())
}

func TestSelfChangesRouteToOwnSlot(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	mine := row("p1", "viewer", models.VisibilityFriends, now)
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: mine})

	assert.Empty(t, r.Visible(), "own broadcast never appears in the nearby list")
	require.NotNil(t, r.Mine())
	assert.Equal(t, "p1", r.Mine().ID)
	assert.True(t, r.IsSharing())

	stopped := row("p1", "viewer", models.VisibilityFriends, now.Add(time.Second))
	stopped.IsActive = false
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: stopped})

	assert.Nil(t, r.Mine())
	assert.False(t, r.IsSharing())
}

func TestSetMineIgnoresStaleFetch(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.SetMine(row("p1", "viewer", models.VisibilityFriends, now))
	r.SetMine(row("p1", "viewer", models.VisibilityFriends, now.Add(-time.Minute)))

	require.NotNil(t, r.Mine())
	assert.True(t, r.Mine().LastSeen.Equal(now))
}

func TestVisibleSortedByLastSeenDesc(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	r.ApplySnapshot(now, []*models.Presence{
		row("p1", "alice", models.VisibilityPublic, now.Add(-2*time.Minute)),
		row("p2", "carol", models.VisibilityPublic, now),
		row("p3", "dave", models.VisibilityPublic, now.Add(-time.Minute)),
	})
	assert.Equal(t, []string{"p2", "p3", "p1"}, visibleIDs(r))
}

func TestSetViewpointAffectsSubsequentAdmissions(t *testing.T) {
	r := newTestReconciler(nil)
	now := time.Now()

	p := row("p1", "alice", models.VisibilityPublic, now)
	p.Latitude = viewerLat + 0.1

	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeInsert, New: p})
	assert.Empty(t, r.Visible())

	r.SetViewpoint(viewerLat+0.1, viewerLng, 5)
	newer := *p
	newer.LastSeen = now.Add(time.Second)
	r.Apply(context.Background(), models.ChangeNotification{Kind: models.ChangeUpdate, New: &newer})
	assert.Equal(t, []string{"p1"}, visibleIDs(r))
}

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"sidequest-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenceStore struct {
	mu   sync.Mutex
	rows []*models.Presence
}

func (s *fakePresenceStore) Create(_ context.Context, p *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == p.UserID && r.IsActive {
			return models.ErrDuplicateActive
		}
	}
	cp := *p
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *fakePresenceStore) GetActiveByUserID(_ context.Context, userID string) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == userID && r.IsActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakePresenceStore) Update(_ context.Context, p *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.ID == p.ID && r.IsActive {
			cp := *p
			s.rows[i] = &cp
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *fakePresenceStore) Deactivate(_ context.Context, userID string) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == userID && r.IsActive {
			r.IsActive = false
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *fakePresenceStore) ListActiveByUserIDs(_ context.Context, userIDs []string) ([]*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := set(userIDs...)
	var out []*models.Presence
	for _, r := range s.rows {
		if _, ok := ids[r.UserID]; ok && r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakePresenceStore) ListActiveByVisibility(_ context.Context, v models.Visibility) ([]*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Presence
	for _, r := range s.rows {
		if r.Visibility == v && r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakePresenceStore) ExpireOverdue(_ context.Context) ([]*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []*models.Presence
	for _, r := range s.rows {
		if r.IsActive && !r.ExpiresAt.After(now) {
			r.IsActive = false
			expired = append(expired, r)
		}
	}
	return expired, nil
}

func (s *fakePresenceStore) activeCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.UserID == userID && r.IsActive {
			n++
		}
	}
	return n
}

type fakeParticipantStore struct {
	rows map[string]*models.Participant // key presenceID|userID
}

func newFakeParticipantStore() *fakeParticipantStore {
	return &fakeParticipantStore{rows: make(map[string]*models.Participant)}
}

func (s *fakeParticipantStore) key(presenceID, userID string) string {
	return presenceID + "|" + userID
}

func (s *fakeParticipantStore) Get(_ context.Context, presenceID, userID string) (*models.Participant, error) {
	p, ok := s.rows[s.key(presenceID, userID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func (s *fakeParticipantStore) Upsert(_ context.Context, p *models.Participant) error {
	s.rows[s.key(p.PresenceID, p.UserID)] = p
	return nil
}

func (s *fakeParticipantStore) Delete(_ context.Context, presenceID, userID string) error {
	delete(s.rows, s.key(presenceID, userID))
	return nil
}

func (s *fakeParticipantStore) ListByPresence(_ context.Context, presenceID string) ([]*models.Participant, error) {
	var out []*models.Participant
	for _, p := range s.rows {
		if p.PresenceID == presenceID {
			out = append(out, p)
		}
	}
	return out, nil
}

type capturePublisher struct {
	changes []models.ChangeNotification
}

func (c *capturePublisher) Publish(change models.ChangeNotification) {
	c.changes = append(c.changes, change)
}

func newTestPresenceService(store *fakePresenceStore, graph *fakeGraph) (*PresenceService, *capturePublisher) {
	if graph == nil {
		graph = &fakeGraph{}
	}
	pub := &capturePublisher{}
	svc := NewPresenceService(
		store,
		newFakeParticipantStore(),
		graph,
		NewVisibilityResolver(graph),
		pub,
		nil,
		10*time.Minute,
	)
	return svc, pub
}

func TestStartCreatesSingleActiveRow(t *testing.T) {
	store := &fakePresenceStore{}
	svc, pub := newTestPresenceService(store, nil)
	ctx := context.Background()

	p, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 37.77, Longitude: -122.42})
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, models.DefaultStatusText, p.StatusText)
	assert.Equal(t, models.VisibilityFriends, p.Visibility)
	assert.Equal(t, 1, store.activeCount("alice"))

	require.Len(t, pub.changes, 1)
	assert.Equal(t, models.ChangeInsert, pub.changes[0].Kind)
}

func TestRepeatedStartKeepsOneActiveRow(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	first, err := svc.Start(ctx, StartRequest{UserID: "alice", StatusText: "coffee?", Latitude: 37.77, Longitude: -122.42})
	require.NoError(t, err)

	second, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 37.78, Longitude: -122.41})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "restart updates in place, same row id")
	assert.Equal(t, "coffee?", second.StatusText, "empty override keeps existing status")
	assert.Equal(t, 37.78, second.Latitude)
	assert.Equal(t, 1, store.activeCount("alice"))
}

// racingPresenceStore misses the active row on the first lookup, the way a
// concurrent start that commits between the check and the insert would.
type racingPresenceStore struct {
	*fakePresenceStore
	misses int
}

func (s *racingPresenceStore) GetActiveByUserID(ctx context.Context, userID string) (*models.Presence, error) {
	if s.misses > 0 {
		s.misses--
		return nil, models.ErrNotFound
	}
	return s.fakePresenceStore.GetActiveByUserID(ctx, userID)
}

func TestStartLosingInsertRaceFallsBackToUpdate(t *testing.T) {
	inner := &fakePresenceStore{}
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, inner.Create(ctx, &models.Presence{
		ID:         "p-winner",
		UserID:     "alice",
		StatusText: "coffee?",
		Visibility: models.VisibilityFriends,
		IsActive:   true,
		LastSeen:   now,
		ExpiresAt:  now.Add(10 * time.Minute),
		CreatedAt:  now,
	}))

	store := &racingPresenceStore{fakePresenceStore: inner, misses: 1}
	pub := &capturePublisher{}
	graph := &fakeGraph{}
	svc := NewPresenceService(store, newFakeParticipantStore(), graph, NewVisibilityResolver(graph), pub, nil, 10*time.Minute)

	p, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 37.78, Longitude: -122.41})
	require.NoError(t, err)
	assert.Equal(t, "p-winner", p.ID, "loser converges onto the winner's row")
	assert.Equal(t, 1, inner.activeCount("alice"))

	require.Len(t, pub.changes, 1)
	assert.Equal(t, models.ChangeUpdate, pub.changes[0].Kind)
}

func TestStartOverridesStatusAndVisibility(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	p, err := svc.Start(ctx, StartRequest{
		UserID:     "alice",
		StatusText: "at the park",
		Visibility: models.VisibilityPublic,
		Latitude:   1,
		Longitude:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "at the park", p.StatusText)
	assert.Equal(t, models.VisibilityPublic, p.Visibility)
}

func TestStartResetsExpiry(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	before := time.Now()
	p, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(10*time.Minute), p.ExpiresAt, 2*time.Second)
}

func TestStartRejectsInvalidVisibility(t *testing.T) {
	store := &fakePresenceStore{}
	svc, pub := newTestPresenceService(store, nil)

	_, err := svc.Start(context.Background(), StartRequest{
		UserID:     "alice",
		Visibility: "everyone",
		Latitude:   1,
		Longitude:  1,
	})
	assert.ErrorIs(t, err, models.ErrInvalidVisibility)
	assert.Empty(t, store.rows, "rejected before any write")
	assert.Empty(t, pub.changes)
}

func TestUpdateLocationDoesNotExtendExpiry(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	p, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	expiry := p.ExpiresAt

	updated, err := svc.UpdateLocation(ctx, "alice", 2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, updated.Latitude)
	assert.True(t, updated.LastSeen.After(p.LastSeen) || updated.LastSeen.Equal(p.LastSeen))
	assert.True(t, updated.ExpiresAt.Equal(expiry), "movement alone never extends a broadcast")
}

func TestUpdateLocationWithoutActivePresence(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)

	_, err := svc.UpdateLocation(context.Background(), "alice", 1, 1, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStopIsIdempotent(t *testing.T) {
	store := &fakePresenceStore{}
	svc, pub := newTestPresenceService(store, nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 1, Longitude: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Stop(ctx, "alice"))
	assert.Equal(t, 0, store.activeCount("alice"))

	// Second stop with nothing active is a no-op success.
	require.NoError(t, svc.Stop(ctx, "alice"))

	// One insert, one deactivation update; the no-op publishes nothing.
	require.Len(t, pub.changes, 2)
	assert.Equal(t, models.ChangeUpdate, pub.changes[1].Kind)
	assert.False(t, pub.changes[1].New.IsActive)
}

func TestStartAfterStopCreatesFreshBroadcast(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	first, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Stop(ctx, "alice"))

	second, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "a stopped broadcast is never resurrected")
	assert.Equal(t, 1, store.activeCount("alice"))
}

func TestNearbyCombinesFriendsAndPublic(t *testing.T) {
	store := &fakePresenceStore{}
	graph := &fakeGraph{connections: map[string]map[string]struct{}{
		"bob": set("alice"),
	}}
	svc, _ := newTestPresenceService(store, graph)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 37.78, Longitude: -122.41})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartRequest{UserID: "carol", Visibility: models.VisibilityPublic, Latitude: 37.78, Longitude: -122.41})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartRequest{UserID: "mallory", Latitude: 37.78, Longitude: -122.41}) // friends-only stranger
	require.NoError(t, err)

	got, err := svc.Nearby(ctx, "bob", 37.77, -122.42, 5)
	require.NoError(t, err)

	users := make([]string, 0, len(got))
	for _, p := range got {
		users = append(users, p.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "carol"}, users)
}

func TestNearbyGraphFailureDegradesToPublic(t *testing.T) {
	store := &fakePresenceStore{}
	graph := &fakeGraph{}
	svc, _ := newTestPresenceService(store, graph)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{UserID: "alice", Latitude: 37.78, Longitude: -122.41})
	require.NoError(t, err)
	_, err = svc.Start(ctx, StartRequest{UserID: "carol", Visibility: models.VisibilityPublic, Latitude: 37.78, Longitude: -122.41})
	require.NoError(t, err)

	graph.err = assert.AnError
	got, err := svc.Nearby(ctx, "bob", 37.77, -122.42, 5)
	require.NoError(t, err, "graph failure is not a nearby failure")

	require.Len(t, got, 1)
	assert.Equal(t, "carol", got[0].UserID)
}

func TestParticipateToggle(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	status, err := svc.Participate(ctx, "p1", "bob", models.ParticipantComing)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantComing, status)

	// Different status replaces.
	status, err = svc.Participate(ctx, "p1", "bob", models.ParticipantThere)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantThere, status)

	rows, err := svc.Participants(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ParticipantThere, rows[0].Status)

	// Same status again toggles off.
	status, err = svc.Participate(ctx, "p1", "bob", models.ParticipantThere)
	require.NoError(t, err)
	assert.Empty(t, status)

	rows, err = svc.Participants(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParticipateExplicitClear(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)
	ctx := context.Background()

	_, err := svc.Participate(ctx, "p1", "bob", models.ParticipantComing)
	require.NoError(t, err)

	status, err := svc.Participate(ctx, "p1", "bob", "")
	require.NoError(t, err)
	assert.Empty(t, status)

	rows, err := svc.Participants(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParticipateRejectsUnknownStatus(t *testing.T) {
	store := &fakePresenceStore{}
	svc, _ := newTestPresenceService(store, nil)

	_, err := svc.Participate(context.Background(), "p1", "bob", "maybe")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestSweeperExpiresOverdue(t *testing.T) {
	store := &fakePresenceStore{}
	pub := &capturePublisher{}
	store.rows = append(store.rows, &models.Presence{
		ID:        "p1",
		UserID:    "alice",
		IsActive:  true,
		LastSeen:  time.Now().Add(-20 * time.Minute),
		ExpiresAt: time.Now().Add(-10 * time.Minute),
	}, &models.Presence{
		ID:        "p2",
		UserID:    "bob",
		IsActive:  true,
		LastSeen:  time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	})

	s := NewSweeper(store, pub, "@every 1m")
	s.sweep()

	assert.Equal(t, 0, store.activeCount("alice"))
	assert.Equal(t, 1, store.activeCount("bob"))

	require.Len(t, pub.changes, 1)
	assert.Equal(t, models.ChangeUpdate, pub.changes[0].Kind)
	assert.Equal(t, "p1", pub.changes[0].New.ID)
	assert.False(t, pub.changes[0].New.IsActive)
}

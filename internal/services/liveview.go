package services

import (
	"context"
	"time"

	"sidequest-backend/internal/liveview"
	"sidequest-backend/internal/models"
)

// LiveViewFactory opens server-side live view sessions: one reconciler per
// viewer, fed by both visibility classes of the change stream and refreshed
// from the nearby query. The stream endpoint runs these on behalf of clients
// that want a reconciled view pushed to them instead of raw changes.
type LiveViewFactory struct {
	hub      *PresenceHub
	presence *PresenceService
	resolver *VisibilityResolver

	snapshotInterval time.Duration
}

// NewLiveViewFactory creates a new live view factory
func NewLiveViewFactory(hub *PresenceHub, presence *PresenceService, resolver *VisibilityResolver, snapshotInterval time.Duration) *LiveViewFactory {
	return &LiveViewFactory{
		hub:              hub,
		presence:         presence,
		resolver:         resolver,
		snapshotInterval: snapshotInterval,
	}
}

// Open creates a session for one viewer at one viewpoint. Moving the
// viewpoint means opening a new session; Run must be called for the view to
// update and stopping the session releases its stream subscriptions.
// Location refreshes stay client-driven, the session only consumes.
func (f *LiveViewFactory) Open(viewerID string, lat, lng, radius float64) *liveview.Session {
	friends := f.hub.Subscribe(models.VisibilityFriends)
	public := f.hub.Subscribe(models.VisibilityPublic)

	return liveview.NewSession(liveview.SessionConfig{
		ViewerID:    viewerID,
		Latitude:    lat,
		Longitude:   lng,
		RadiusMiles: radius,
		Snapshot: func(ctx context.Context) ([]*models.Presence, error) {
			return f.presence.Nearby(ctx, viewerID, lat, lng, radius)
		},
		Validate: func(ctx context.Context, p *models.Presence) (bool, error) {
			return f.resolver.PresenceVisibleTo(ctx, viewerID, p)
		},
		Streams: []<-chan models.ChangeNotification{
			friends.Changes(),
			public.Changes(),
		},
		Unsubscribe: func() {
			friends.Close()
			public.Close()
		},
		SnapshotInterval: f.snapshotInterval,
	})
}

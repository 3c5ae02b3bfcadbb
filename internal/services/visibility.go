package services

import (
	"context"
	"time"

	"sidequest-backend/internal/geo"
	"sidequest-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// SocialGraph answers connection queries. Implementations may be slow or
// failing; callers must not assume freshness beyond a single call.
type SocialGraph interface {
	Connections(ctx context.Context, userID string) (map[string]struct{}, error)
}

// VisibilityResolver decides which presences and events a viewer may see.
// On social graph failure it defaults to deny: the connection set is treated
// as empty so a transient backend error can never leak friends-only content.
type VisibilityResolver struct {
	graph SocialGraph
}

// NewVisibilityResolver creates a new visibility resolver
func NewVisibilityResolver(graph SocialGraph) *VisibilityResolver {
	return &VisibilityResolver{graph: graph}
}

// ResolvePresences filters candidates down to what the viewer may see:
// friends-visible broadcasts from the viewer's connections, plus public
// broadcasts excluding the viewer's own, de-duplicated by id, proximity
// filtered. Candidates with is_active false are never visible.
func ResolvePresences(
	viewerID string,
	viewerLat, viewerLng, radius float64,
	candidates []*models.Presence,
	connections map[string]struct{},
) []*models.Presence {
	seen := make(map[string]struct{}, len(candidates))
	allowed := make([]*models.Presence, 0, len(candidates))
	for _, p := range candidates {
		if !p.IsActive {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		switch p.Visibility {
		case models.VisibilityFriends:
			if _, ok := connections[p.UserID]; !ok {
				continue
			}
		case models.VisibilityPublic:
			// A viewer's own broadcast is surfaced through the direct
			// channel, not the nearby one.
			if p.UserID == viewerID {
				continue
			}
		default:
			continue
		}
		seen[p.ID] = struct{}{}
		allowed = append(allowed, p)
	}
	return geo.WithinRadius(viewerLat, viewerLng, radius, allowed)
}

// EventVisibleTo reports whether one event is visible to the viewer. The
// host always sees their own event. A non-empty invitee list is the sole
// gate when present; otherwise any connection of the host may see it.
// Past-dated events are never visible, regardless of what the caller
// pre-filtered.
func EventVisibleTo(
	e *models.Event,
	viewerID string,
	invitees []string,
	connections map[string]struct{},
	now time.Time,
) bool {
	if e.Date != nil && e.Date.Before(now) {
		return false
	}
	if e.HostUserID == viewerID {
		return true
	}
	if len(invitees) > 0 {
		for _, id := range invitees {
			if id == viewerID {
				return true
			}
		}
		return false
	}
	_, connected := connections[e.HostUserID]
	return connected
}

// ConnectionsOrEmpty fetches the viewer's connection set, degrading to an
// empty set on failure (default-deny).
func (r *VisibilityResolver) ConnectionsOrEmpty(ctx context.Context, viewerID string) map[string]struct{} {
	connections, err := r.graph.Connections(ctx, viewerID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("viewer_id", viewerID).
			Msg("Social graph unavailable, denying friends-only visibility")
		return map[string]struct{}{}
	}
	return connections
}

// VisiblePresences resolves the candidate set for a viewer, fetching the
// connection set itself.
func (r *VisibilityResolver) VisiblePresences(
	ctx context.Context,
	viewerID string,
	viewerLat, viewerLng, radius float64,
	candidates []*models.Presence,
) []*models.Presence {
	connections := r.ConnectionsOrEmpty(ctx, viewerID)
	return ResolvePresences(viewerID, viewerLat, viewerLng, radius, candidates, connections)
}

// PresenceVisibleTo re-validates a single candidate for a viewer, ignoring
// proximity. Used for push-delivered rows whose friendship membership the
// stream alone cannot prove.
func (r *VisibilityResolver) PresenceVisibleTo(ctx context.Context, viewerID string, p *models.Presence) (bool, error) {
	if !p.IsActive || p.UserID == viewerID {
		return false, nil
	}
	if p.Visibility == models.VisibilityPublic {
		return true, nil
	}
	if p.Visibility != models.VisibilityFriends {
		return false, nil
	}
	connections, err := r.graph.Connections(ctx, viewerID)
	if err != nil {
		return false, err
	}
	_, ok := connections[p.UserID]
	return ok, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sidequest-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PresenceStore is the persistence contract for presence broadcasts.
type PresenceStore interface {
	Create(ctx context.Context, p *models.Presence) error
	GetActiveByUserID(ctx context.Context, userID string) (*models.Presence, error)
	Update(ctx context.Context, p *models.Presence) error
	Deactivate(ctx context.Context, userID string) (*models.Presence, error)
	ListActiveByUserIDs(ctx context.Context, userIDs []string) ([]*models.Presence, error)
	ListActiveByVisibility(ctx context.Context, visibility models.Visibility) ([]*models.Presence, error)
	ExpireOverdue(ctx context.Context) ([]*models.Presence, error)
}

// ParticipantStore is the persistence contract for participant intent rows.
type ParticipantStore interface {
	Get(ctx context.Context, presenceID, userID string) (*models.Participant, error)
	Upsert(ctx context.Context, p *models.Participant) error
	Delete(ctx context.Context, presenceID, userID string) error
	ListByPresence(ctx context.Context, presenceID string) ([]*models.Participant, error)
}

// ChangePublisher receives a notification after every committed presence
// mutation.
type ChangePublisher interface {
	Publish(change models.ChangeNotification)
}

// PushSender delivers out-of-band notification of a new broadcast to the
// broadcaster's connections. Delivery failures are logged, never surfaced.
type PushSender interface {
	BroadcastStarted(ctx context.Context, p *models.Presence, connectionIDs []string)
}

// upstream tags an unexpected collaborator failure so handlers can map it
// to a retryable status.
func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(models.ErrUpstreamUnavailable, err))
}

// StartRequest carries the parameters of a start call. StatusText and
// Visibility are overrides: empty values leave an existing broadcast's
// fields untouched.
type StartRequest struct {
	UserID     string            `json:"user_id"`
	StatusText string            `json:"status_text"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Accuracy   *float64          `json:"accuracy,omitempty"`
	Visibility models.Visibility `json:"visibility"`
}

// PresenceService owns the broadcast lifecycle: start, location refresh,
// stop and the nearby query. It enforces the one-active-broadcast-per-user
// invariant by treating start as create-or-update keyed by user id, never a
// blind insert.
type PresenceService struct {
	store        PresenceStore
	participants ParticipantStore
	graph        SocialGraph
	resolver     *VisibilityResolver
	publisher    ChangePublisher
	push         PushSender
	ttl          time.Duration
}

// NewPresenceService creates a new presence service. push may be nil.
func NewPresenceService(
	store PresenceStore,
	participants ParticipantStore,
	graph SocialGraph,
	resolver *VisibilityResolver,
	publisher ChangePublisher,
	push PushSender,
	ttl time.Duration,
) *PresenceService {
	return &PresenceService{
		store:        store,
		participants: participants,
		graph:        graph,
		resolver:     resolver,
		publisher:    publisher,
		push:         push,
		ttl:          ttl,
	}
}

// Start begins a broadcast, or refreshes the existing active one in place.
// Postcondition: exactly one active presence exists for the user. Either
// path resets the expiry window to now + TTL.
func (s *PresenceService) Start(ctx context.Context, req StartRequest) (*models.Presence, error) {
	if req.Visibility != "" && !req.Visibility.Valid() {
		return nil, fmt.Errorf("visibility %q: %w", req.Visibility, models.ErrInvalidVisibility)
	}

	now := time.Now()

	existing, err := s.store.GetActiveByUserID(ctx, req.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, upstream("failed to check active presence", err)
	}

	if existing != nil {
		return s.refresh(ctx, existing, req, now)
	}

	p := &models.Presence{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		StatusText: req.StatusText,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Accuracy:   req.Accuracy,
		Visibility: req.Visibility,
		IsActive:   true,
		LastSeen:   now,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
	}
	if p.StatusText == "" {
		p.StatusText = models.DefaultStatusText
	}
	if p.Visibility == "" {
		p.Visibility = models.VisibilityFriends
	}

	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, models.ErrDuplicateActive) {
			// Lost the insert race to a concurrent start; the winner's row
			// is the active one, refresh it instead.
			existing, err := s.store.GetActiveByUserID(ctx, req.UserID)
			if err != nil {
				return nil, upstream("failed to get active presence", err)
			}
			return s.refresh(ctx, existing, req, now)
		}
		return nil, upstream("failed to create presence", err)
	}
	s.publish(models.ChangeNotification{Kind: models.ChangeInsert, New: p})
	s.notifyConnections(p)

	log.Info().
		Str("user_id", req.UserID).
		Str("presence_id", p.ID).
		Str("visibility", string(p.Visibility)).
		Msg("Presence started")
	return p, nil
}

// refresh applies a start request onto the existing active row in place,
// keeping its id, and resets the expiry window.
func (s *PresenceService) refresh(ctx context.Context, existing *models.Presence, req StartRequest, now time.Time) (*models.Presence, error) {
	existing.Latitude = req.Latitude
	existing.Longitude = req.Longitude
	existing.Accuracy = req.Accuracy
	existing.LastSeen = now
	existing.ExpiresAt = now.Add(s.ttl)
	if req.StatusText != "" {
		existing.StatusText = req.StatusText
	}
	if req.Visibility != "" {
		existing.Visibility = req.Visibility
	}
	if err := s.store.Update(ctx, existing); err != nil {
		return nil, upstream("failed to refresh presence", err)
	}
	s.publish(models.ChangeNotification{Kind: models.ChangeUpdate, New: existing})

	log.Info().
		Str("user_id", existing.UserID).
		Str("presence_id", existing.ID).
		Msg("Presence refreshed")
	return existing, nil
}

// UpdateLocation refreshes the location, accuracy and last_seen of the
// user's active broadcast. The expiry window is left untouched: movement
// alone never extends a broadcast, only start does.
func (s *PresenceService) UpdateLocation(ctx context.Context, userID string, lat, lng float64, accuracy *float64) (*models.Presence, error) {
	p, err := s.store.GetActiveByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, upstream("failed to get active presence", err)
	}

	p.Latitude = lat
	p.Longitude = lng
	p.Accuracy = accuracy
	p.LastSeen = time.Now()

	if err := s.store.Update(ctx, p); err != nil {
		return nil, upstream("failed to update location", err)
	}
	s.publish(models.ChangeNotification{Kind: models.ChangeUpdate, New: p})
	return p, nil
}

// Stop ends the user's active broadcast. Stopping with nothing active is a
// no-op success.
func (s *PresenceService) Stop(ctx context.Context, userID string) error {
	p, err := s.store.Deactivate(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Debug().Str("user_id", userID).Msg("Stop with no active presence")
			return nil
		}
		return upstream("failed to stop presence", err)
	}
	s.publish(models.ChangeNotification{Kind: models.ChangeUpdate, New: p})

	log.Info().
		Str("user_id", userID).
		Str("presence_id", p.ID).
		Msg("Presence stopped")
	return nil
}

// GetMine returns the user's active broadcast, or ErrNotFound.
func (s *PresenceService) GetMine(ctx context.Context, userID string) (*models.Presence, error) {
	return s.store.GetActiveByUserID(ctx, userID)
}

// Nearby returns the broadcasts the viewer may see within radius miles of
// the given point: friends-visible broadcasts from connections plus public
// broadcasts. Social graph failure degrades to the public set only.
func (s *PresenceService) Nearby(ctx context.Context, viewerID string, lat, lng, radius float64) ([]*models.Presence, error) {
	connections := s.resolver.ConnectionsOrEmpty(ctx, viewerID)

	connectionIDs := make([]string, 0, len(connections))
	for id := range connections {
		connectionIDs = append(connectionIDs, id)
	}

	fromFriends, err := s.store.ListActiveByUserIDs(ctx, connectionIDs)
	if err != nil {
		return nil, upstream("failed to list friend presences", err)
	}
	public, err := s.store.ListActiveByVisibility(ctx, models.VisibilityPublic)
	if err != nil {
		return nil, upstream("failed to list public presences", err)
	}

	// Two fetches merged, so the resolver de-duplicates by id.
	candidates := make([]*models.Presence, 0, len(fromFriends)+len(public))
	candidates = append(candidates, fromFriends...)
	candidates = append(candidates, public...)

	return ResolvePresences(viewerID, lat, lng, radius, candidates, connections), nil
}

// Participate records the viewer's intent toward a presence. Submitting the
// current status again clears it (toggle), as does an empty status. Returns
// the effective status, empty when cleared.
func (s *PresenceService) Participate(ctx context.Context, presenceID, userID string, status models.ParticipantStatus) (models.ParticipantStatus, error) {
	if status != "" && !status.Valid() {
		return "", fmt.Errorf("participant status %q: %w", status, models.ErrInvalidStatus)
	}

	existing, err := s.participants.Get(ctx, presenceID, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return "", upstream("failed to get participant", err)
	}

	if status == "" || (existing != nil && existing.Status == status) {
		if err := s.participants.Delete(ctx, presenceID, userID); err != nil {
			return "", upstream("failed to clear participant", err)
		}
		return "", nil
	}

	p := &models.Participant{
		PresenceID: presenceID,
		UserID:     userID,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	if err := s.participants.Upsert(ctx, p); err != nil {
		return "", upstream("failed to set participant status", err)
	}
	return status, nil
}

// Participants lists the participant rows of one presence.
func (s *PresenceService) Participants(ctx context.Context, presenceID string) ([]*models.Participant, error) {
	return s.participants.ListByPresence(ctx, presenceID)
}

func (s *PresenceService) publish(change models.ChangeNotification) {
	if s.publisher != nil {
		s.publisher.Publish(change)
	}
}

// notifyConnections pushes "friend is around" to the broadcaster's
// connections for new friends-visible broadcasts. Runs off the request
// path; failures only log.
func (s *PresenceService) notifyConnections(p *models.Presence) {
	if s.push == nil || p.Visibility != models.VisibilityFriends {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		connections, err := s.graph.Connections(ctx, p.UserID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", p.UserID).Msg("Skipping broadcast push, social graph unavailable")
			return
		}
		ids := make([]string, 0, len(connections))
		for id := range connections {
			ids = append(ids, id)
		}
		s.push.BroadcastStarted(ctx, p, ids)
	}()
}

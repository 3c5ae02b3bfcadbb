package services

import (
	"context"
	"fmt"
	"time"

	"sidequest-backend/internal/models"

	"github.com/google/uuid"
)

// EventStore is the persistence contract for scheduled events.
type EventStore interface {
	Create(ctx context.Context, e *models.Event, inviteeIDs []string) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	ListUpcoming(ctx context.Context) ([]*models.Event, error)
	ListInvitees(ctx context.Context, eventID string) ([]string, error)
}

// RSVPStore is the persistence contract for event RSVP rows.
type RSVPStore interface {
	Create(ctx context.Context, rsvp *models.EventRSVP) error
	Delete(ctx context.Context, eventID, userID string) error
	ListByEvent(ctx context.Context, eventID string) ([]*models.EventRSVP, error)
}

// EventService handles scheduled gatherings, their invitation-based
// visibility and attendance commitments.
type EventService struct {
	store    EventStore
	rsvps    RSVPStore
	resolver *VisibilityResolver
}

// NewEventService creates a new event service
func NewEventService(store EventStore, rsvps RSVPStore, resolver *VisibilityResolver) *EventService {
	return &EventService{store: store, rsvps: rsvps, resolver: resolver}
}

// CreateEventRequest carries the parameters of an event creation.
type CreateEventRequest struct {
	Title      string     `json:"title"`
	Date       *time.Time `json:"date,omitempty"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	InviteeIDs []string   `json:"invitee_ids,omitempty"`
}

// Create creates an event hosted by hostUserID. An empty invitee list means
// any connection of the host may see it.
func (s *EventService) Create(ctx context.Context, hostUserID string, req CreateEventRequest) (*models.Event, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	e := &models.Event{
		ID:         uuid.New().String(),
		HostUserID: hostUserID,
		Title:      req.Title,
		Date:       req.Date,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		CreatedAt:  time.Now(),
	}

	if err := s.store.Create(ctx, e, req.InviteeIDs); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return e, nil
}

// VisibleTo returns the upcoming events the viewer may see. Social graph
// failure degrades to hosted-or-invited events only.
func (s *EventService) VisibleTo(ctx context.Context, viewerID string) ([]*models.Event, error) {
	events, err := s.store.ListUpcoming(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	connections := s.resolver.ConnectionsOrEmpty(ctx, viewerID)
	now := time.Now()

	visible := make([]*models.Event, 0, len(events))
	for _, e := range events {
		invitees, err := s.store.ListInvitees(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list invitees: %w", err)
		}
		if EventVisibleTo(e, viewerID, invitees, connections, now) {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

// Get returns one event if the viewer may see it, ErrNotFound otherwise.
// Invisible and missing events are indistinguishable to the caller.
func (s *EventService) Get(ctx context.Context, eventID, viewerID string) (*models.Event, error) {
	e, err := s.store.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	invitees, err := s.store.ListInvitees(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitees: %w", err)
	}
	connections := s.resolver.ConnectionsOrEmpty(ctx, viewerID)
	if !EventVisibleTo(e, viewerID, invitees, connections, time.Now()) {
		return nil, models.ErrNotFound
	}
	return e, nil
}

// Invitees lists the invitee user ids of an event the viewer may see.
func (s *EventService) Invitees(ctx context.Context, eventID, viewerID string) ([]string, error) {
	if _, err := s.Get(ctx, eventID, viewerID); err != nil {
		return nil, err
	}
	return s.store.ListInvitees(ctx, eventID)
}

// RSVP commits the user to attend an event they may see. Repeating an RSVP
// is a no-op success.
func (s *EventService) RSVP(ctx context.Context, eventID, userID string) error {
	if _, err := s.Get(ctx, eventID, userID); err != nil {
		return err
	}
	rsvp := &models.EventRSVP{
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.rsvps.Create(ctx, rsvp); err != nil {
		return fmt.Errorf("failed to rsvp: %w", err)
	}
	return nil
}

// CancelRSVP withdraws the user's RSVP. Cancelling with no RSVP on record
// is a no-op success.
func (s *EventService) CancelRSVP(ctx context.Context, eventID, userID string) error {
	if err := s.rsvps.Delete(ctx, eventID, userID); err != nil {
		return fmt.Errorf("failed to cancel rsvp: %w", err)
	}
	return nil
}

// RSVPs lists the RSVP rows of an event the viewer may see.
func (s *EventService) RSVPs(ctx context.Context, eventID, viewerID string) ([]*models.EventRSVP, error) {
	if _, err := s.Get(ctx, eventID, viewerID); err != nil {
		return nil, err
	}
	return s.rsvps.ListByEvent(ctx, eventID)
}

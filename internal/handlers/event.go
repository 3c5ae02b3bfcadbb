package handlers

import (
	"encoding/json"
	"net/http"

	"sidequest-backend/internal/middleware"
	"sidequest-backend/internal/models"
	"sidequest-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// EventHandler handles scheduled event HTTP requests
type EventHandler struct {
	eventService *services.EventService
}

// NewEventHandler creates a new event handler
func NewEventHandler(eventService *services.EventService) *EventHandler {
	return &EventHandler{eventService: eventService}
}

// Create handles POST /api/v1/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	event, err := h.eventService.Create(ctx, userID, req)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to create event")
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("event_id", event.ID).
		Msg("Event created")
	respondJSON(w, http.StatusCreated, event)
}

// List handles GET /api/v1/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	events, err := h.eventService.VisibleTo(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list events")
		respondError(w, "Failed to list events", statusFromError(err))
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// Get handles GET /api/v1/events/{event_id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	event, err := h.eventService.Get(ctx, eventID, userID)
	if err != nil {
		respondError(w, "Event not found", statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, event)
}

// Invitees handles GET /api/v1/events/{event_id}/invitees
func (h *EventHandler) Invitees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	invitees, err := h.eventService.Invitees(ctx, eventID, userID)
	if err != nil {
		respondError(w, "Event not found", statusFromError(err))
		return
	}
	if invitees == nil {
		invitees = []string{}
	}
	respondJSON(w, http.StatusOK, invitees)
}

// RSVP handles POST /api/v1/events/{event_id}/rsvp
func (h *EventHandler) RSVP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	if err := h.eventService.RSVP(ctx, eventID, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("event_id", eventID).Msg("Failed to rsvp")
		respondError(w, "Event not found", statusFromError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelRSVP handles DELETE /api/v1/events/{event_id}/rsvp
func (h *EventHandler) CancelRSVP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	if err := h.eventService.CancelRSVP(ctx, eventID, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("event_id", eventID).Msg("Failed to cancel rsvp")
		respondError(w, "Failed to cancel rsvp", statusFromError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RSVPs handles GET /api/v1/events/{event_id}/rsvps
func (h *EventHandler) RSVPs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	rsvps, err := h.eventService.RSVPs(ctx, eventID, userID)
	if err != nil {
		respondError(w, "Event not found", statusFromError(err))
		return
	}
	if rsvps == nil {
		rsvps = []*models.EventRSVP{}
	}
	respondJSON(w, http.StatusOK, rsvps)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"sidequest-backend/internal/middleware"
	"sidequest-backend/internal/models"
	"sidequest-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	minRadiusMiles = 1.0
	maxRadiusMiles = 50.0
)

// clampRadius applies the shared radius rules for nearby queries and live
// views: zero means the configured default, anything else clamps to
// [minRadiusMiles, maxRadiusMiles].
func clampRadius(radius, def float64) float64 {
	if radius == 0 {
		radius = def
	}
	if radius < minRadiusMiles {
		radius = minRadiusMiles
	}
	if radius > maxRadiusMiles {
		radius = maxRadiusMiles
	}
	return radius
}

// PresenceHandler handles broadcast lifecycle HTTP requests
type PresenceHandler struct {
	presenceService *services.PresenceService
	defaultRadius   float64
}

// NewPresenceHandler creates a new presence handler. defaultRadius applies
// when a nearby query omits radius_miles.
func NewPresenceHandler(presenceService *services.PresenceService, defaultRadius float64) *PresenceHandler {
	return &PresenceHandler{
		presenceService: presenceService,
		defaultRadius:   defaultRadius,
	}
}

// StartRequestBody represents the request body for starting a broadcast
type StartRequestBody struct {
	StatusText string            `json:"status_text"`
	Latitude   *float64          `json:"latitude"`
	Longitude  *float64          `json:"longitude"`
	Accuracy   *float64          `json:"accuracy,omitempty"`
	Visibility models.Visibility `json:"visibility,omitempty"`
}

// Start handles POST /api/v1/presence/start
func (h *PresenceHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req StartRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondError(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}

	presence, err := h.presenceService.Start(ctx, services.StartRequest{
		UserID:     userID,
		StatusText: req.StatusText,
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		Accuracy:   req.Accuracy,
		Visibility: req.Visibility,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to start presence")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, presence)
}

// LocationRequestBody represents the request body for a location refresh
type LocationRequestBody struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// UpdateLocation handles POST /api/v1/presence/location
func (h *PresenceHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req LocationRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondError(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}

	presence, err := h.presenceService.UpdateLocation(ctx, userID, *req.Latitude, *req.Longitude, req.Accuracy)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update location")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, presence)
}

// Stop handles POST /api/v1/presence/stop
func (h *PresenceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.presenceService.Stop(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to stop presence")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMine handles GET /api/v1/presence/me
func (h *PresenceHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	presence, err := h.presenceService.GetMine(ctx, userID)
	if err != nil {
		respondError(w, "No active presence", statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, presence)
}

// Nearby handles GET /api/v1/presence/nearby
func (h *PresenceHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	lat, err := strconv.ParseFloat(r.URL.Query().Get("latitude"), 64)
	if err != nil {
		respondError(w, "latitude is required", http.StatusBadRequest)
		return
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("longitude"), 64)
	if err != nil {
		respondError(w, "longitude is required", http.StatusBadRequest)
		return
	}

	var radius float64
	if raw := r.URL.Query().Get("radius_miles"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, "invalid radius_miles", http.StatusBadRequest)
			return
		}
	}
	// Clamping happens here, at the edge; the filter itself takes the
	// radius as given.
	radius = clampRadius(radius, h.defaultRadius)

	presences, err := h.presenceService.Nearby(ctx, userID, lat, lng, radius)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch nearby presences")
		respondError(w, "Failed to fetch nearby presences", statusFromError(err))
		return
	}
	if presences == nil {
		presences = []*models.Presence{}
	}
	respondJSON(w, http.StatusOK, presences)
}

// ParticipateRequestBody represents the request body for a participation toggle
type ParticipateRequestBody struct {
	PresenceID string                   `json:"presence_id"`
	Status     models.ParticipantStatus `json:"status"`
}

// Participate handles POST /api/v1/presence/participate
func (h *PresenceHandler) Participate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req ParticipateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PresenceID == "" {
		respondError(w, "presence_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.presenceService.Participate(ctx, req.PresenceID, userID, req.Status)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("presence_id", req.PresenceID).
			Msg("Failed to update participation")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// Participants handles GET /api/v1/presence/{presence_id}/participants
func (h *PresenceHandler) Participants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	presenceID := chi.URLParam(r, "presence_id")

	participants, err := h.presenceService.Participants(ctx, presenceID)
	if err != nil {
		log.Error().Err(err).Str("presence_id", presenceID).Msg("Failed to list participants")
		respondError(w, "Failed to list participants", statusFromError(err))
		return
	}
	if participants == nil {
		participants = []*models.Participant{}
	}
	respondJSON(w, http.StatusOK, participants)
}

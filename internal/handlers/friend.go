package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"sidequest-backend/internal/middleware"
	"sidequest-backend/internal/models"
	"sidequest-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// FriendHandler handles friendship-related HTTP requests
type FriendHandler struct {
	friendshipService *services.FriendshipService
}

// NewFriendHandler creates a new friend handler
func NewFriendHandler(friendshipService *services.FriendshipService) *FriendHandler {
	return &FriendHandler{friendshipService: friendshipService}
}

// RequestFriendRequest represents the request body for sending a friend request
type RequestFriendRequest struct {
	FriendCode string `json:"friend_code"`
}

// Request handles POST /api/v1/friends/request
func (h *FriendHandler) Request(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req RequestFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FriendCode == "" {
		respondError(w, "friend_code is required", http.StatusBadRequest)
		return
	}

	friendship, err := h.friendshipService.Request(ctx, userID, req.FriendCode)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("friend_code", req.FriendCode).
			Msg("Failed to send friend request")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("friendship_id", friendship.ID).
		Msg("Friend request sent")
	respondJSON(w, http.StatusCreated, friendship)
}

// DecideFriendRequest represents the request body for accepting or rejecting
type DecideFriendRequest struct {
	FriendshipID string `json:"friendship_id"`
}

// Accept handles POST /api/v1/friends/accept
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.friendshipService.Accept, "accepted")
}

// Reject handles POST /api/v1/friends/reject
func (h *FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.friendshipService.Reject, "rejected")
}

func (h *FriendHandler) decide(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, friendshipID, userID string) error,
	action string,
) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req DecideFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FriendshipID == "" {
		respondError(w, "friendship_id is required", http.StatusBadRequest)
		return
	}

	if err := op(ctx, req.FriendshipID, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("friendship_id", req.FriendshipID).
			Msg("Failed to decide friend request")
		respondError(w, err.Error(), statusFromError(err))
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("friendship_id", req.FriendshipID).
		Str("action", action).
		Msg("Friend request decided")
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/friends
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	friends, err := h.friendshipService.Friends(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list friends")
		respondError(w, "Failed to list friends", statusFromError(err))
		return
	}
	if friends == nil {
		friends = []string{}
	}
	respondJSON(w, http.StatusOK, friends)
}

// PendingRequests handles GET /api/v1/friends/requests
func (h *FriendHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	requests, err := h.friendshipService.PendingFor(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list pending requests")
		respondError(w, "Failed to list pending requests", statusFromError(err))
		return
	}
	if requests == nil {
		requests = []*models.Friendship{}
	}
	respondJSON(w, http.StatusOK, requests)
}

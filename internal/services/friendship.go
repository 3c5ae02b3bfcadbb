package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sidequest-backend/internal/models"
	"sidequest-backend/internal/repository"

	"github.com/google/uuid"
)

// FriendshipService handles the social graph: friend requests and the
// connection queries the visibility layer depends on.
type FriendshipService struct {
	friendshipRepo *repository.FriendshipRepository
	userRepo       *repository.UserRepository
}

// NewFriendshipService creates a new friendship service
func NewFriendshipService(friendshipRepo *repository.FriendshipRepository, userRepo *repository.UserRepository) *FriendshipService {
	return &FriendshipService{
		friendshipRepo: friendshipRepo,
		userRepo:       userRepo,
	}
}

// Connections returns the ids of every user connected to userID by an
// accepted edge. Implements SocialGraph.
func (s *FriendshipService) Connections(ctx context.Context, userID string) (map[string]struct{}, error) {
	ids, err := s.friendshipRepo.ListAcceptedUserIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	connections := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		connections[id] = struct{}{}
	}
	return connections, nil
}

// Request sends a friend request to the user owning the given friend code.
func (s *FriendshipService) Request(ctx context.Context, senderID, friendCode string) (*models.Friendship, error) {
	receiver, err := s.userRepo.GetByCode(ctx, friendCode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("receiver not found: %w", err)
		}
		return nil, fmt.Errorf("failed to look up receiver: %w", err)
	}

	if receiver.ID == senderID {
		return nil, fmt.Errorf("cannot send a friend request to yourself")
	}

	if _, err := s.friendshipRepo.GetBetween(ctx, senderID, receiver.ID, models.FriendshipAccepted); err == nil {
		return nil, fmt.Errorf("already friends with this user")
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing friendship: %w", err)
	}

	if _, err := s.friendshipRepo.GetBetween(ctx, senderID, receiver.ID, models.FriendshipPending); err == nil {
		return nil, fmt.Errorf("friend request already pending")
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check pending request: %w", err)
	}

	now := time.Now()
	friendship := &models.Friendship{
		ID:        uuid.New().String(),
		UserID1:   senderID,
		UserID2:   receiver.ID,
		Status:    models.FriendshipPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.friendshipRepo.Create(ctx, friendship); err != nil {
		return nil, fmt.Errorf("failed to create friend request: %w", err)
	}

	return friendship, nil
}

// Accept transitions a pending request addressed to userID to accepted.
func (s *FriendshipService) Accept(ctx context.Context, friendshipID, userID string) error {
	if err := s.friendshipRepo.UpdateStatus(ctx, friendshipID, userID, models.FriendshipAccepted); err != nil {
		return fmt.Errorf("failed to accept friend request: %w", err)
	}
	return nil
}

// Reject transitions a pending request addressed to userID to rejected.
func (s *FriendshipService) Reject(ctx context.Context, friendshipID, userID string) error {
	if err := s.friendshipRepo.UpdateStatus(ctx, friendshipID, userID, models.FriendshipRejected); err != nil {
		return fmt.Errorf("failed to reject friend request: %w", err)
	}
	return nil
}

// PendingFor returns the pending requests addressed to userID.
func (s *FriendshipService) PendingFor(ctx context.Context, userID string) ([]*models.Friendship, error) {
	requests, err := s.friendshipRepo.ListPendingFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	return requests, nil
}

// Friends returns the ids of userID's accepted connections as a list.
func (s *FriendshipService) Friends(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.friendshipRepo.ListAcceptedUserIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	return ids, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"sidequest-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FriendshipRepository handles database operations for friendship edges
type FriendshipRepository struct {
	db *pgxpool.Pool
}

// NewFriendshipRepository creates a new friendship repository
func NewFriendshipRepository(db *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{db: db}
}

// Create inserts a new friendship edge
func (r *FriendshipRepository) Create(ctx context.Context, f *models.Friendship) error {
	query := `
		INSERT INTO friendships (id, user_id_1, user_id_2, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, f.ID, f.UserID1, f.UserID2, f.Status, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create friendship: %w", err)
	}
	return nil
}

// GetBetween retrieves the edge between two users in either direction and
// with the given status
func (r *FriendshipRepository) GetBetween(ctx context.Context, userID1, userID2 string, status models.FriendshipStatus) (*models.Friendship, error) {
	query := `
		SELECT id, user_id_1, user_id_2, status, created_at, updated_at
		FROM friendships
		WHERE ((user_id_1 = $1 AND user_id_2 = $2) OR (user_id_1 = $2 AND user_id_2 = $1))
			AND status = $3
		LIMIT 1
	`
	var f models.Friendship
	err := r.db.QueryRow(ctx, query, userID1, userID2, status).Scan(
		&f.ID, &f.UserID1, &f.UserID2, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get friendship: %w", err)
	}
	return &f, nil
}

// ListAcceptedUserIDs returns the ids of every user connected to userID by
// an accepted edge
func (r *FriendshipRepository) ListAcceptedUserIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT CASE WHEN user_id_1 = $1 THEN user_id_2 ELSE user_id_1 END
		FROM friendships
		WHERE (user_id_1 = $1 OR user_id_2 = $1) AND status = 'accepted'
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read connections: %w", err)
	}
	return ids, nil
}

// ListPendingFor returns pending requests addressed to userID
func (r *FriendshipRepository) ListPendingFor(ctx context.Context, userID string) ([]*models.Friendship, error) {
	query := `
		SELECT id, user_id_1, user_id_2, status, created_at, updated_at
		FROM friendships
		WHERE user_id_2 = $1 AND status = 'pending'
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.Friendship
	for rows.Next() {
		var f models.Friendship
		if err := rows.Scan(&f.ID, &f.UserID1, &f.UserID2, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending request: %w", err)
		}
		requests = append(requests, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending requests: %w", err)
	}
	return requests, nil
}

// UpdateStatus transitions a pending request addressed to userID. Returns
// ErrNotFound when no such pending request exists.
func (r *FriendshipRepository) UpdateStatus(ctx context.Context, friendshipID, userID string, status models.FriendshipStatus) error {
	query := `
		UPDATE friendships
		SET status = $3, updated_at = now()
		WHERE id = $1 AND user_id_2 = $2 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, friendshipID, userID, status)
	if err != nil {
		return fmt.Errorf("failed to update friendship status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

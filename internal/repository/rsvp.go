package repository

import (
	"context"
	"fmt"

	"sidequest-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RSVPRepository handles database operations for event RSVPs
type RSVPRepository struct {
	db *pgxpool.Pool
}

// NewRSVPRepository creates a new RSVP repository
func NewRSVPRepository(db *pgxpool.Pool) *RSVPRepository {
	return &RSVPRepository{db: db}
}

// Create inserts an RSVP row. Repeating an RSVP is a no-op.
func (r *RSVPRepository) Create(ctx context.Context, rsvp *models.EventRSVP) error {
	query := `
		INSERT INTO event_rsvps (event_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, rsvp.EventID, rsvp.UserID, rsvp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rsvp: %w", err)
	}
	return nil
}

// Delete removes a user's RSVP. Deleting a missing row is a no-op.
func (r *RSVPRepository) Delete(ctx context.Context, eventID, userID string) error {
	query := `DELETE FROM event_rsvps WHERE event_id = $1 AND user_id = $2`
	if _, err := r.db.Exec(ctx, query, eventID, userID); err != nil {
		return fmt.Errorf("failed to delete rsvp: %w", err)
	}
	return nil
}

// ListByEvent retrieves the RSVP rows of an event
func (r *RSVPRepository) ListByEvent(ctx context.Context, eventID string) ([]*models.EventRSVP, error) {
	query := `
		SELECT event_id, user_id, created_at
		FROM event_rsvps
		WHERE event_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rsvps: %w", err)
	}
	defer rows.Close()

	var rsvps []*models.EventRSVP
	for rows.Next() {
		var rsvp models.EventRSVP
		if err := rows.Scan(&rsvp.EventID, &rsvp.UserID, &rsvp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rsvp: %w", err)
		}
		rsvps = append(rsvps, &rsvp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rsvps: %w", err)
	}
	return rsvps, nil
}

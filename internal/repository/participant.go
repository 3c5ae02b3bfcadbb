package repository

import (
	"context"
	"errors"
	"fmt"

	"sidequest-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ParticipantRepository handles database operations for presence participants
type ParticipantRepository struct {
	db *pgxpool.Pool
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Get retrieves the participant row for one (presence, user) pair
func (r *ParticipantRepository) Get(ctx context.Context, presenceID, userID string) (*models.Participant, error) {
	query := `
		SELECT presence_id, user_id, status, created_at
		FROM participants
		WHERE presence_id = $1 AND user_id = $2
	`
	var p models.Participant
	err := r.db.QueryRow(ctx, query, presenceID, userID).Scan(
		&p.PresenceID, &p.UserID, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

// Upsert writes the participant row, replacing any prior status
func (r *ParticipantRepository) Upsert(ctx context.Context, p *models.Participant) error {
	query := `
		INSERT INTO participants (presence_id, user_id, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (presence_id, user_id) DO UPDATE SET status = EXCLUDED.status
	`
	_, err := r.db.Exec(ctx, query, p.PresenceID, p.UserID, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// Delete removes the participant row for one (presence, user) pair. Deleting
// a missing row is not an error.
func (r *ParticipantRepository) Delete(ctx context.Context, presenceID, userID string) error {
	query := `DELETE FROM participants WHERE presence_id = $1 AND user_id = $2`
	_, err := r.db.Exec(ctx, query, presenceID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return nil
}

// ListByPresence retrieves all participants of one presence
func (r *ParticipantRepository) ListByPresence(ctx context.Context, presenceID string) ([]*models.Participant, error) {
	query := `
		SELECT presence_id, user_id, status, created_at
		FROM participants
		WHERE presence_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, presenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.PresenceID, &p.UserID, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	return participants, nil
}

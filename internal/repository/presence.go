package repository

import (
	"context"
	"errors"
	"fmt"

	"sidequest-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PresenceRepository handles database operations for presence broadcasts
type PresenceRepository struct {
	db *pgxpool.Pool
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(db *pgxpool.Pool) *PresenceRepository {
	return &PresenceRepository{db: db}
}

const presenceColumns = `id, user_id, status_text, latitude, longitude, accuracy,
	visibility, is_active, last_seen, expires_at, created_at`

func scanPresence(row pgx.Row) (*models.Presence, error) {
	var p models.Presence
	err := row.Scan(
		&p.ID, &p.UserID, &p.StatusText, &p.Latitude, &p.Longitude, &p.Accuracy,
		&p.Visibility, &p.IsActive, &p.LastSeen, &p.ExpiresAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new presence row. The partial unique index on
// presences (user_id) WHERE is_active turns a concurrent double-start into
// a clean conflict; the losing insert reports ErrDuplicateActive.
func (r *PresenceRepository) Create(ctx context.Context, p *models.Presence) error {
	query := `
		INSERT INTO presences (id, user_id, status_text, latitude, longitude, accuracy,
			visibility, is_active, last_seen, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) WHERE is_active DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		p.ID, p.UserID, p.StatusText, p.Latitude, p.Longitude, p.Accuracy,
		p.Visibility, p.IsActive, p.LastSeen, p.ExpiresAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create presence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrDuplicateActive
	}
	return nil
}

// GetActiveByUserID retrieves the single active presence for a user
func (r *PresenceRepository) GetActiveByUserID(ctx context.Context, userID string) (*models.Presence, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM presences
		WHERE user_id = $1 AND is_active = true
		ORDER BY last_seen DESC
		LIMIT 1
	`
	p, err := scanPresence(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active presence: %w", err)
	}
	return p, nil
}

// Update overwrites the mutable fields of an active presence, keyed by the
// row id. The write never touches inactive rows.
func (r *PresenceRepository) Update(ctx context.Context, p *models.Presence) error {
	query := `
		UPDATE presences
		SET status_text = $2, latitude = $3, longitude = $4, accuracy = $5,
			visibility = $6, last_seen = $7, expires_at = $8
		WHERE id = $1 AND is_active = true
	`
	result, err := r.db.Exec(ctx, query,
		p.ID, p.StatusText, p.Latitude, p.Longitude, p.Accuracy,
		p.Visibility, p.LastSeen, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Deactivate flips is_active for the user's active presence and returns the
// affected row. Returns ErrNotFound when nothing was active.
func (r *PresenceRepository) Deactivate(ctx context.Context, userID string) (*models.Presence, error) {
	query := `
		UPDATE presences
		SET is_active = false
		WHERE user_id = $1 AND is_active = true
		RETURNING ` + presenceColumns + `
	`
	p, err := scanPresence(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to deactivate presence: %w", err)
	}
	return p, nil
}

// ListActiveByUserIDs retrieves active presences belonging to any of the
// given users
func (r *PresenceRepository) ListActiveByUserIDs(ctx context.Context, userIDs []string) ([]*models.Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + presenceColumns + `
		FROM presences
		WHERE user_id = ANY($1) AND is_active = true
	`
	return r.listPresences(ctx, query, userIDs)
}

// ListActiveByVisibility retrieves all active presences of one visibility
// class
func (r *PresenceRepository) ListActiveByVisibility(ctx context.Context, visibility models.Visibility) ([]*models.Presence, error) {
	query := `
		SELECT ` + presenceColumns + `
		FROM presences
		WHERE visibility = $1 AND is_active = true
	`
	return r.listPresences(ctx, query, visibility)
}

// ExpireOverdue flips is_active for every presence whose expires_at has
// passed and returns the affected rows
func (r *PresenceRepository) ExpireOverdue(ctx context.Context) ([]*models.Presence, error) {
	query := `
		UPDATE presences
		SET is_active = false
		WHERE is_active = true AND expires_at <= now()
		RETURNING ` + presenceColumns + `
	`
	return r.listPresences(ctx, query)
}

func (r *PresenceRepository) listPresences(ctx context.Context, query string, args ...any) ([]*models.Presence, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query presences: %w", err)
	}
	defer rows.Close()

	var presences []*models.Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		presences = append(presences, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read presences: %w", err)
	}
	return presences, nil
}

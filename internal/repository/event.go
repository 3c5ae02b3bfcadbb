package repository

import (
	"context"
	"errors"
	"fmt"

	"sidequest-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository handles database operations for scheduled events
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event and its invitee rows
func (r *EventRepository) Create(ctx context.Context, e *models.Event, inviteeIDs []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO events (id, host_user_id, title, date, latitude, longitude, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, query, e.ID, e.HostUserID, e.Title, e.Date, e.Latitude, e.Longitude, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	for _, inviteeID := range inviteeIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO event_invitees (event_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			e.ID, inviteeID,
		)
		if err != nil {
			return fmt.Errorf("failed to create event invitee: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	query := `
		SELECT id, host_user_id, title, date, latitude, longitude, created_at
		FROM events
		WHERE id = $1
	`
	var e models.Event
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.HostUserID, &e.Title, &e.Date, &e.Latitude, &e.Longitude, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

// ListUpcoming retrieves every event with a future or absent date
func (r *EventRepository) ListUpcoming(ctx context.Context) ([]*models.Event, error) {
	query := `
		SELECT id, host_user_id, title, date, latitude, longitude, created_at
		FROM events
		WHERE date IS NULL OR date >= now()
		ORDER BY date NULLS LAST
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.HostUserID, &e.Title, &e.Date, &e.Latitude, &e.Longitude, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// ListInvitees retrieves the invitee user ids of an event
func (r *EventRepository) ListInvitees(ctx context.Context, eventID string) ([]string, error) {
	query := `SELECT user_id FROM event_invitees WHERE event_id = $1`
	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitees: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan invitee: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invitees: %w", err)
	}
	return ids, nil
}

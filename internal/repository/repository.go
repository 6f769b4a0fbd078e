// Package repository implements all database access for the lunch signup
// system. It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wwt/lunch-signups/internal/model"
)

// ErrEventNotFound is returned when the event id does not resolve.
var ErrEventNotFound = errors.New("event not found")

// ErrSignupNotFound is returned when no active signup exists for the email.
var ErrSignupNotFound = errors.New("no active signup for this email")

// ErrDuplicateSignup is returned when the email already holds an active
// signup for the event.
var ErrDuplicateSignup = errors.New("email already has an active signup for this event")

const eventColumns = `id, title, starts_at, location, address, deleted_at, created_at`

// EventRepository handles persistence for events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event, assigning a generated UUID.
func (r *EventRepository) Create(ctx context.Context, ev *model.Event) error {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, title, starts_at, location, address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Title, ev.StartsAt, ev.Location, ev.Address, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Upsert inserts an event with a caller-chosen id, or refreshes its
// editable fields if it already exists. Used for startup seeding.
func (r *EventRepository) Upsert(ctx context.Context, ev *model.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, title, starts_at, location, address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   starts_at = excluded.starts_at,
		   location = excluded.location,
		   address = excluded.address`,
		ev.ID, ev.Title, ev.StartsAt, ev.Location, ev.Address, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// Update rewrites the editable fields of an event.
func (r *EventRepository) Update(ctx context.Context, ev *model.Event) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET title = $2, starts_at = $3, location = $4, address = $5
		 WHERE id = $1`,
		ev.ID, ev.Title, ev.StartsAt, ev.Location, ev.Address,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// GetByID returns a single event, soft-deleted or not, or ErrEventNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var ev model.Event
	err := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	).Scan(&ev.ID, &ev.Title, &ev.StartsAt, &ev.Location, &ev.Address, &ev.DeletedAt, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

// List returns events ordered by start time ascending, each with occupancy
// counts derived from the ledger. Soft-deleted events are excluded unless
// includeRemoved is set.
func (r *EventRepository) List(ctx context.Context, includeRemoved bool) ([]model.EventCounts, error) {
	rows, err := r.db.Query(ctx,
		`SELECT e.id, e.title, e.starts_at, e.location, e.address, e.deleted_at, e.created_at,
		        COUNT(s.id) FILTER (WHERE s.status = 'confirmed'),
		        COUNT(s.id) FILTER (WHERE s.status = 'waitlist')
		 FROM events e
		 LEFT JOIN signups s ON s.event_id = e.id
		 WHERE $1 OR e.deleted_at IS NULL
		 GROUP BY e.id
		 ORDER BY e.starts_at ASC`,
		includeRemoved,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.EventCounts
	for rows.Next() {
		var ec model.EventCounts
		if err := rows.Scan(
			&ec.ID, &ec.Title, &ec.StartsAt, &ec.Location, &ec.Address, &ec.DeletedAt, &ec.CreatedAt,
			&ec.ConfirmedCount, &ec.WaitlistCount,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ec)
	}
	return events, rows.Err()
}

// SoftDelete sets the soft-delete marker. Deleting an already-deleted event
// succeeds without modifying the original marker.
func (r *EventRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET deleted_at = COALESCE(deleted_at, $2) WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("soft-delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Restore clears the soft-delete marker. Restoring an event that was never
// deleted succeeds as a no-op.
func (r *EventRepository) Restore(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET deleted_at = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("restore event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Package service implements the admission, cancellation, and event
// lifecycle business logic, orchestrating between HTTP handlers and the
// storage layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wwt/lunch-signups/internal/config"
	"github.com/wwt/lunch-signups/internal/model"
	"github.com/wwt/lunch-signups/internal/repository"
)

// ErrInvalidInput is returned for missing or malformed request fields.
var ErrInvalidInput = errors.New("invalid input")

// ErrForbiddenDomain is returned for emails outside the allowed domain.
var ErrForbiddenDomain = errors.New("email domain is not allowed")

// ErrEventRemoved is returned when an operation targets a soft-deleted event.
var ErrEventRemoved = errors.New("event has been removed")

// ErrEventClosed is returned when an operation targets a started event.
var ErrEventClosed = errors.New("event has already started")

// EventStore is the durable record of events. The service is its only
// caller; the guard checks only ever read it.
type EventStore interface {
	Create(ctx context.Context, ev *model.Event) error
	Upsert(ctx context.Context, ev *model.Event) error
	Update(ctx context.Context, ev *model.Event) error
	GetByID(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context, includeRemoved bool) ([]model.EventCounts, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	Restore(ctx context.Context, id string) error
}

// Ledger is the durable record of signups. InEventTx runs its callback as
// one atomic unit of work serialised per event; see repository.LedgerTx.
type Ledger interface {
	InEventTx(ctx context.Context, eventID string, fn func(tx repository.LedgerTx, ev *model.Event) error) error
	ListByEvent(ctx context.Context, eventID string) ([]model.Signup, error)
}

// EventService orchestrates all event and signup operations.
type EventService struct {
	events      EventStore
	ledger      Ledger
	capacity    int
	emailDomain string
	validate    *validator.Validate
	now         func() time.Time
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(events EventStore, ledger Ledger, cfg config.Config) *EventService {
	return &EventService{
		events:      events,
		ledger:      ledger,
		capacity:    cfg.Capacity,
		emailDomain: strings.ToLower(cfg.EmailDomain),
		validate:    validator.New(),
		now:         time.Now,
	}
}

// WithClock overrides the wall-clock source. Tests use it to pin time.
func (s *EventService) WithClock(now func() time.Time) *EventService {
	s.now = now
	return s
}

// CreateEvent validates the request and stores a new event.
func (s *EventService) CreateEvent(ctx context.Context, req model.EventRequest) (*model.Event, error) {
	ev, err := s.parseEventRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

// UpdateEvent rewrites an event's editable fields. Soft-deleted events must
// be restored before they can be edited. Past events remain editable so
// organizers can manage history.
func (s *EventService) UpdateEvent(ctx context.Context, id string, req model.EventRequest) (*model.Event, error) {
	cur, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Removed() {
		return nil, ErrEventRemoved
	}
	ev, err := s.parseEventRequest(req)
	if err != nil {
		return nil, err
	}
	ev.ID = cur.ID
	ev.CreatedAt = cur.CreatedAt
	if err := s.events.Update(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEvents returns event summaries with occupancy fields computed from
// ledger aggregates.
func (s *EventService) ListEvents(ctx context.Context, includeRemoved bool) ([]model.EventSummary, error) {
	counts, err := s.events.List(ctx, includeRemoved)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	summaries := make([]model.EventSummary, 0, len(counts))
	for _, ec := range counts {
		remaining := s.capacity - ec.ConfirmedCount
		if remaining < 0 {
			remaining = 0
		}
		summaries = append(summaries, model.EventSummary{
			Event:          ec.Event,
			Capacity:       s.capacity,
			ConfirmedCount: ec.ConfirmedCount,
			Remaining:      remaining,
			WaitlistCount:  ec.WaitlistCount,
			IsPast:         ec.Started(now),
		})
	}
	return summaries, nil
}

// DeleteEvent sets the soft-delete marker. Idempotent: deleting an
// already-deleted event succeeds.
func (s *EventService) DeleteEvent(ctx context.Context, id string) error {
	return s.events.SoftDelete(ctx, id, s.now().UTC())
}

// RestoreEvent clears the soft-delete marker. Succeeds even if the event
// was not deleted; fails only if it never existed.
func (s *EventService) RestoreEvent(ctx context.Context, id string) error {
	return s.events.Restore(ctx, id)
}

// ListSignups returns an event's full signup history. Soft-deleted events
// are treated as absent here; restore first to see their history.
func (s *EventService) ListSignups(ctx context.Context, id string) (*model.EventSignups, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Removed() {
		return nil, repository.ErrEventNotFound
	}
	signups, err := s.ledger.ListByEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if signups == nil {
		signups = []model.Signup{}
	}
	return &model.EventSignups{Event: *ev, Signups: signups, Capacity: s.capacity}, nil
}

func (s *EventService) parseEventRequest(req model.EventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Location = strings.TrimSpace(req.Location)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: title, startsAt, and location are required", ErrInvalidInput)
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("%w: startsAt must be an RFC 3339 timestamp", ErrInvalidInput)
	}
	return &model.Event{
		Title:    req.Title,
		StartsAt: startsAt,
		Location: req.Location,
		Address:  req.Address,
	}, nil
}

// guardOpen enforces the lifecycle preconditions for signup mutations:
// the event must not be soft-deleted and must not have started. The
// started check uses wall-clock time at the moment of the request.
func guardOpen(ev *model.Event, now time.Time) error {
	if ev.Removed() {
		return ErrEventRemoved
	}
	if ev.Started(now) {
		return ErrEventClosed
	}
	return nil
}

// Package memory provides an in-memory event store and signup ledger with
// the same semantics as the PostgreSQL implementation. It backs local
// development without a database and the service-level tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wwt/lunch-signups/internal/model"
	"github.com/wwt/lunch-signups/internal/repository"
	"github.com/wwt/lunch-signups/internal/service"
)

// Store keeps events and signups in maps guarded by one mutex. Every unit
// of work holds the lock end to end, which is at least as strict as the
// per-event row lock the PostgreSQL ledger takes.
type Store struct {
	mu      sync.Mutex
	events  map[string]model.Event
	signups map[string][]model.Signup
	nextID  int64
}

var (
	_ service.EventStore = (*Store)(nil)
	_ service.Ledger     = (*Store)(nil)
)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		events:  make(map[string]model.Event),
		signups: make(map[string][]model.Signup),
	}
}

// Create stores a new event under a generated UUID.
func (s *Store) Create(ctx context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()
	s.events[ev.ID] = *ev
	return nil
}

// Upsert inserts an event with a caller-chosen id or refreshes its
// editable fields, preserving any soft-delete marker.
func (s *Store) Upsert(ctx context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.events[ev.ID]; ok {
		cur.Title = ev.Title
		cur.StartsAt = ev.StartsAt
		cur.Location = ev.Location
		cur.Address = ev.Address
		s.events[ev.ID] = cur
		return nil
	}
	ev.CreatedAt = time.Now().UTC()
	s.events[ev.ID] = *ev
	return nil
}

// Update rewrites an event's editable fields.
func (s *Store) Update(ctx context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[ev.ID]
	if !ok {
		return repository.ErrEventNotFound
	}
	cur.Title = ev.Title
	cur.StartsAt = ev.StartsAt
	cur.Location = ev.Location
	cur.Address = ev.Address
	s.events[ev.ID] = cur
	return nil
}

// GetByID returns a single event, soft-deleted or not.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	return &ev, nil
}

// List returns events ordered by start time ascending with occupancy
// counts derived from the signup rows.
func (s *Store) List(ctx context.Context, includeRemoved bool) ([]model.EventCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.EventCounts
	for id, ev := range s.events {
		if ev.Removed() && !includeRemoved {
			continue
		}
		ec := model.EventCounts{Event: ev}
		for _, row := range s.signups[id] {
			switch row.Status {
			case model.StatusConfirmed:
				ec.ConfirmedCount++
			case model.StatusWaitlist:
				ec.WaitlistCount++
			}
		}
		out = append(out, ec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SoftDelete sets the soft-delete marker, keeping the original marker on
// repeat deletes.
func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return repository.ErrEventNotFound
	}
	if ev.DeletedAt == nil {
		ev.DeletedAt = &at
		s.events[id] = ev
	}
	return nil
}

// Restore clears the soft-delete marker.
func (s *Store) Restore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return repository.ErrEventNotFound
	}
	ev.DeletedAt = nil
	s.events[id] = ev
	return nil
}

// InEventTx runs fn as one atomic unit against a scratch copy of the
// event's signup rows. The copy is written back only when fn succeeds, so
// an aborted unit leaves no partial writes, matching the transactional
// ledger.
func (s *Store) InEventTx(ctx context.Context, eventID string, fn func(tx repository.LedgerTx, ev *model.Event) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return repository.ErrEventNotFound
	}

	scratch := make([]model.Signup, len(s.signups[eventID]))
	copy(scratch, s.signups[eventID])

	tx := &ledgerTx{store: s, rows: scratch}
	if err := fn(tx, &ev); err != nil {
		return err
	}
	s.signups[eventID] = tx.rows
	return nil
}

// ListByEvent returns every signup row for an event: confirmed first, then
// waitlist in FIFO order, then cancelled.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]model.Signup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Signup, len(s.signups[eventID]))
	copy(out, s.signups[eventID])
	sort.Slice(out, func(i, j int) bool {
		if oi, oj := statusOrder(out[i].Status), statusOrder(out[j].Status); oi != oj {
			return oi < oj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func statusOrder(st model.SignupStatus) int {
	switch st {
	case model.StatusConfirmed:
		return 0
	case model.StatusWaitlist:
		return 1
	default:
		return 2
	}
}

// ledgerTx operates on the scratch rows of one open unit of work.
type ledgerTx struct {
	store *Store
	rows  []model.Signup
}

var _ repository.LedgerTx = (*ledgerTx)(nil)

func (l *ledgerTx) Find(ctx context.Context, eventID, email string) (*model.Signup, error) {
	var found *model.Signup
	for i := range l.rows {
		if l.rows[i].Email != email {
			continue
		}
		if found == nil || l.rows[i].ID > found.ID {
			row := l.rows[i]
			found = &row
		}
	}
	return found, nil
}

func (l *ledgerTx) ConfirmedCount(ctx context.Context, eventID string) (int, error) {
	count := 0
	for i := range l.rows {
		if l.rows[i].Status == model.StatusConfirmed {
			count++
		}
	}
	return count, nil
}

func (l *ledgerTx) Insert(ctx context.Context, s *model.Signup) error {
	if l.activeExists(s.Email, 0) {
		return repository.ErrDuplicateSignup
	}
	l.store.nextID++
	s.ID = l.store.nextID
	l.rows = append(l.rows, *s)
	return nil
}

func (l *ledgerTx) Update(ctx context.Context, s *model.Signup) error {
	for i := range l.rows {
		if l.rows[i].ID != s.ID {
			continue
		}
		if s.Status.Active() && l.activeExists(s.Email, s.ID) {
			return repository.ErrDuplicateSignup
		}
		l.rows[i] = *s
		return nil
	}
	return repository.ErrSignupNotFound
}

func (l *ledgerTx) WaitlistRank(ctx context.Context, s *model.Signup) (int, error) {
	rank := 0
	for i := range l.rows {
		row := &l.rows[i]
		if row.Status != model.StatusWaitlist {
			continue
		}
		if row.CreatedAt.Before(s.CreatedAt) ||
			(row.CreatedAt.Equal(s.CreatedAt) && row.ID <= s.ID) {
			rank++
		}
	}
	return rank, nil
}

func (l *ledgerTx) EarliestWaitlisted(ctx context.Context, eventID string) (*model.Signup, error) {
	var next *model.Signup
	for i := range l.rows {
		row := l.rows[i]
		if row.Status != model.StatusWaitlist {
			continue
		}
		if next == nil ||
			row.CreatedAt.Before(next.CreatedAt) ||
			(row.CreatedAt.Equal(next.CreatedAt) && row.ID < next.ID) {
			next = &row
		}
	}
	return next, nil
}

// activeExists mirrors the partial unique index on active statuses.
func (l *ledgerTx) activeExists(email string, excludeID int64) bool {
	for i := range l.rows {
		row := &l.rows[i]
		if row.ID != excludeID && row.Email == email && row.Status.Active() {
			return true
		}
	}
	return false
}

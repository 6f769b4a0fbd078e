// Package model defines the core domain types for the lunch signup system.
package model

import "time"

// SignupStatus is the lifecycle state of a signup row.
type SignupStatus string

const (
	// StatusConfirmed holds one of the event's limited seats.
	StatusConfirmed SignupStatus = "confirmed"
	// StatusWaitlist is queued in FIFO order behind a full event.
	StatusWaitlist SignupStatus = "waitlist"
	// StatusCancelled is terminal until the participant signs up again.
	StatusCancelled SignupStatus = "cancelled"
)

// Active reports whether the signup occupies a seat or a waitlist slot.
func (s SignupStatus) Active() bool {
	return s == StatusConfirmed || s == StatusWaitlist
}

// Event represents a capacity-limited lunch participants sign up for.
type Event struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	StartsAt  time.Time  `json:"startsAt"`
	Location  string     `json:"location"`
	Address   string     `json:"address,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Removed reports whether the event is soft-deleted.
func (e *Event) Removed() bool {
	return e.DeletedAt != nil
}

// Started reports whether the event's start instant is at or before now.
func (e *Event) Started(now time.Time) bool {
	return !e.StartsAt.After(now)
}

// EventCounts pairs an event with occupancy aggregates derived from the
// ledger. Counts are always computed from signup rows, never cached.
type EventCounts struct {
	Event
	ConfirmedCount int
	WaitlistCount  int
}

// EventSummary is the listing shape with computed occupancy fields.
type EventSummary struct {
	Event
	Capacity       int  `json:"capacity"`
	ConfirmedCount int  `json:"confirmedCount"`
	Remaining      int  `json:"remaining"`
	WaitlistCount  int  `json:"waitlistCount"`
	IsPast         bool `json:"isPast"`
}

// Signup represents a participant's registration record against one event.
// A (event, normalized email) pair keeps a single row for its lifetime;
// signing up again after a cancellation reactivates the row in place.
type Signup struct {
	ID          int64        `json:"-"`
	EventID     string       `json:"-"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Team        string       `json:"team"`
	Status      SignupStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	CancelledAt *time.Time   `json:"-"`
}

// EventRequest is the payload for creating or updating an event.
// StartsAt must be an RFC 3339 instant.
type EventRequest struct {
	Title    string `json:"title" validate:"required"`
	StartsAt string `json:"startsAt" validate:"required"`
	Location string `json:"location" validate:"required"`
	Address  string `json:"address"`
}

// SignupRequest is the payload for signing up for an event.
type SignupRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Team  string `json:"team" validate:"required"`
}

// CancelRequest is the payload for cancelling a signup.
type CancelRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SignupResult summarises the outcome of an admission attempt.
type SignupResult struct {
	Status           SignupStatus `json:"status"`
	WaitlistPosition int          `json:"waitlistPosition,omitempty"`
}

// Promoted identifies the participant moved from waitlist to confirmed.
type Promoted struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Team  string `json:"team"`
}

// CancelResult reports who, if anyone, was promoted by a cancellation.
type CancelResult struct {
	Promoted *Promoted `json:"promoted,omitempty"`
}

// EventSignups is the detail payload for one event's signup list.
type EventSignups struct {
	Event    Event    `json:"event"`
	Signups  []Signup `json:"signups"`
	Capacity int      `json:"capacity"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wwt/lunch-signups/internal/config"
	"github.com/wwt/lunch-signups/internal/memory"
	"github.com/wwt/lunch-signups/internal/model"
	"github.com/wwt/lunch-signups/internal/repository"
	"github.com/wwt/lunch-signups/internal/service"
)

const (
	futureStart = "2030-03-20T11:30:00-06:00"
	pastStart   = "2020-03-20T11:30:00-06:00"
)

// testClock hands out strictly increasing instants so signup order is
// reflected in created timestamps.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestService(capacity int) (*service.EventService, *memory.Store) {
	store := memory.NewStore()
	clk := &testClock{t: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)}
	cfg := config.Config{Port: "0", Capacity: capacity, EmailDomain: "wwt.com"}
	svc := service.NewEventService(store, store, cfg).WithClock(clk.Now)
	return svc, store
}

func createEvent(t *testing.T, svc *service.EventService, startsAt string) *model.Event {
	t.Helper()
	ev, err := svc.CreateEvent(context.Background(), model.EventRequest{
		Title:    "Team Lunch",
		StartsAt: startsAt,
		Location: "Tucanos",
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func signupReq(i int) model.SignupRequest {
	return model.SignupRequest{
		Name:  fmt.Sprintf("Person %d", i),
		Email: fmt.Sprintf("person%d@wwt.com", i),
		Team:  "Platform",
	}
}

func TestSignupConfirmsUntilCapacityThenWaitlists(t *testing.T) {
	svc, _ := newTestService(2)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res, err := svc.Signup(ctx, ev.ID, signupReq(i))
		if err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
		if res.Status != model.StatusConfirmed {
			t.Fatalf("signup %d: status = %q, want confirmed", i, res.Status)
		}
		if res.WaitlistPosition != 0 {
			t.Fatalf("signup %d: waitlist position = %d, want 0", i, res.WaitlistPosition)
		}
	}

	for i := 3; i <= 4; i++ {
		res, err := svc.Signup(ctx, ev.ID, signupReq(i))
		if err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
		if res.Status != model.StatusWaitlist {
			t.Fatalf("signup %d: status = %q, want waitlist", i, res.Status)
		}
		if want := i - 2; res.WaitlistPosition != want {
			t.Fatalf("signup %d: waitlist position = %d, want %d", i, res.WaitlistPosition, want)
		}
	}
}

func TestSignupRejectsDuplicateActive(t *testing.T) {
	svc, _ := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, ev.ID, model.SignupRequest{
		Name: "Sam", Email: "sam@wwt.com", Team: "Infra",
	}); err != nil {
		t.Fatalf("first signup: %v", err)
	}

	// Same participant, different casing and whitespace.
	_, err := svc.Signup(ctx, ev.ID, model.SignupRequest{
		Name: "Sam", Email: "  Sam@WWT.com ", Team: "Infra",
	})
	if !errors.Is(err, repository.ErrDuplicateSignup) {
		t.Fatalf("duplicate signup: err = %v, want ErrDuplicateSignup", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     model.SignupRequest
		wantErr error
	}{
		{
			name:    "missing name",
			req:     model.SignupRequest{Email: "a@wwt.com", Team: "Infra"},
			wantErr: service.ErrInvalidInput,
		},
		{
			name:    "missing team",
			req:     model.SignupRequest{Name: "A", Email: "a@wwt.com"},
			wantErr: service.ErrInvalidInput,
		},
		{
			name:    "malformed email",
			req:     model.SignupRequest{Name: "A", Email: "not-an-email", Team: "Infra"},
			wantErr: service.ErrInvalidInput,
		},
		{
			name:    "outside domain",
			req:     model.SignupRequest{Name: "A", Email: "user@other.com", Team: "Infra"},
			wantErr: service.ErrForbiddenDomain,
		},
		{
			name: "subdomain allowed",
			req:  model.SignupRequest{Name: "A", Email: "user@corp.wwt.com", Team: "Infra"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Signup(ctx, ev.ID, tc.req)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSignupLifecycleGuard(t *testing.T) {
	svc, _ := newTestService(6)
	ctx := context.Background()

	t.Run("unknown event", func(t *testing.T) {
		_, err := svc.Signup(ctx, "no-such-event", signupReq(1))
		if !errors.Is(err, repository.ErrEventNotFound) {
			t.Fatalf("err = %v, want ErrEventNotFound", err)
		}
	})

	t.Run("removed event", func(t *testing.T) {
		ev := createEvent(t, svc, futureStart)
		if err := svc.DeleteEvent(ctx, ev.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		_, err := svc.Signup(ctx, ev.ID, signupReq(1))
		if !errors.Is(err, service.ErrEventRemoved) {
			t.Fatalf("err = %v, want ErrEventRemoved", err)
		}
	})

	t.Run("started event", func(t *testing.T) {
		ev := createEvent(t, svc, pastStart)
		_, err := svc.Signup(ctx, ev.ID, signupReq(1))
		if !errors.Is(err, service.ErrEventClosed) {
			t.Fatalf("err = %v, want ErrEventClosed", err)
		}
	})

	t.Run("restore re-enables signup", func(t *testing.T) {
		ev := createEvent(t, svc, futureStart)
		if err := svc.DeleteEvent(ctx, ev.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := svc.RestoreEvent(ctx, ev.ID); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if _, err := svc.Signup(ctx, ev.ID, signupReq(1)); err != nil {
			t.Fatalf("signup after restore: %v", err)
		}
	})
}

func TestCancelPromotesEarliestWaitlisted(t *testing.T) {
	svc, _ := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		if _, err := svc.Signup(ctx, ev.ID, signupReq(i)); err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
	}
	res, err := svc.Signup(ctx, ev.ID, signupReq(7))
	if err != nil {
		t.Fatalf("signup 7: %v", err)
	}
	if res.Status != model.StatusWaitlist || res.WaitlistPosition != 1 {
		t.Fatalf("signup 7: got %+v, want waitlist position 1", res)
	}

	cancelRes, err := svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "person3@wwt.com"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelRes.Promoted == nil {
		t.Fatal("cancel: no one promoted")
	}
	if cancelRes.Promoted.Email != "person7@wwt.com" {
		t.Fatalf("promoted %q, want person7@wwt.com", cancelRes.Promoted.Email)
	}

	detail, err := svc.ListSignups(ctx, ev.ID)
	if err != nil {
		t.Fatalf("list signups: %v", err)
	}
	confirmed := 0
	for _, s := range detail.Signups {
		if s.Status == model.StatusConfirmed {
			confirmed++
		}
		if s.Email == "person7@wwt.com" && s.Status != model.StatusConfirmed {
			t.Fatalf("person7 status = %q, want confirmed", s.Status)
		}
	}
	if confirmed != 6 {
		t.Fatalf("confirmed count = %d, want 6", confirmed)
	}
}

func TestCancelWaitlistedPromotesNoOne(t *testing.T) {
	svc, _ := newTestService(1)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := svc.Signup(ctx, ev.ID, signupReq(i)); err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
	}

	// Person 2 heads the waitlist; cancelling them must not touch person 3.
	res, err := svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "person2@wwt.com"})
	if err != nil {
		t.Fatalf("cancel waitlisted: %v", err)
	}
	if res.Promoted != nil {
		t.Fatalf("cancel waitlisted promoted %+v, want no one", res.Promoted)
	}

	// The queue merely shortened: freeing the seat now promotes person 3.
	res, err = svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "person1@wwt.com"})
	if err != nil {
		t.Fatalf("cancel confirmed: %v", err)
	}
	if res.Promoted == nil || res.Promoted.Email != "person3@wwt.com" {
		t.Fatalf("promoted = %+v, want person3@wwt.com", res.Promoted)
	}
}

func TestCancelWithoutActiveSignup(t *testing.T) {
	svc, _ := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	_, err := svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "ghost@wwt.com"})
	if !errors.Is(err, repository.ErrSignupNotFound) {
		t.Fatalf("cancel unknown: err = %v, want ErrSignupNotFound", err)
	}

	if _, err := svc.Signup(ctx, ev.ID, signupReq(1)); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "person1@wwt.com"}); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	_, err = svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "person1@wwt.com"})
	if !errors.Is(err, repository.ErrSignupNotFound) {
		t.Fatalf("second cancel: err = %v, want ErrSignupNotFound", err)
	}
}

func TestResignupReusesLedgerIdentity(t *testing.T) {
	svc, store := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, ev.ID, signupReq(1)); err != nil {
		t.Fatalf("signup: %v", err)
	}
	rows, err := store.ListByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	firstID := rows[0].ID

	if _, err := svc.Cancel(ctx, ev.ID, model.CancelRequest{Email: "person1@wwt.com"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res, err := svc.Signup(ctx, ev.ID, model.SignupRequest{
		Name: "Person One Renamed", Email: "person1@wwt.com", Team: "Security",
	})
	if err != nil {
		t.Fatalf("re-signup: %v", err)
	}
	if res.Status != model.StatusConfirmed {
		t.Fatalf("re-signup status = %q, want confirmed", res.Status)
	}

	rows, err = store.ListByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("row count = %d, want 1 (reactivated in place)", len(rows))
	}
	row := rows[0]
	if row.ID != firstID {
		t.Fatalf("ledger id = %d, want %d (identity reused)", row.ID, firstID)
	}
	if row.Name != "Person One Renamed" || row.Team != "Security" {
		t.Fatalf("row not refreshed with latest submission: %+v", row)
	}
	if row.CancelledAt != nil {
		t.Fatalf("cancelled timestamp not cleared: %v", row.CancelledAt)
	}
}

func TestWaitlistRankBreaksTimestampTiesByIdentity(t *testing.T) {
	svc, _ := newTestService(1)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	// Pin the clock so every waitlisted row shares one created timestamp.
	fixed := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	if _, err := svc.Signup(ctx, ev.ID, signupReq(1)); err != nil {
		t.Fatalf("signup 1: %v", err)
	}
	for i := 2; i <= 4; i++ {
		res, err := svc.Signup(ctx, ev.ID, signupReq(i))
		if err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
		if want := i - 1; res.WaitlistPosition != want {
			t.Fatalf("signup %d: waitlist position = %d, want %d", i, res.WaitlistPosition, want)
		}
	}
}

func TestConcurrentSignupsNeverExceedCapacity(t *testing.T) {
	const capacity, attempts = 3, 20

	svc, _ := newTestService(capacity)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*model.SignupResult, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Signup(ctx, ev.ID, signupReq(i+1))
		}(i)
	}
	wg.Wait()

	confirmed, waitlisted := 0, 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("signup %d: %v", i+1, errs[i])
		}
		switch results[i].Status {
		case model.StatusConfirmed:
			confirmed++
		case model.StatusWaitlist:
			waitlisted++
		}
	}
	if confirmed != capacity {
		t.Fatalf("confirmed = %d, want exactly %d", confirmed, capacity)
	}
	if waitlisted != attempts-capacity {
		t.Fatalf("waitlisted = %d, want %d", waitlisted, attempts-capacity)
	}
}

func TestConcurrentDuplicateSignupsAdmitExactlyOne(t *testing.T) {
	const attempts = 8

	svc, _ := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Signup(ctx, ev.ID, model.SignupRequest{
				Name: "Sam", Email: "sam@wwt.com", Team: "Infra",
			})
		}(i)
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrDuplicateSignup):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicts != attempts-1 {
		t.Fatalf("succeeded = %d, conflicts = %d, want 1 and %d", succeeded, conflicts, attempts-1)
	}
}

func TestDeleteAndRestoreKeepHistory(t *testing.T) {
	svc, _ := newTestService(6)
	ev := createEvent(t, svc, futureStart)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := svc.Signup(ctx, ev.ID, signupReq(i)); err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
	}

	if err := svc.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Idempotent.
	if err := svc.DeleteEvent(ctx, ev.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	// Soft-deleted events hide their signup listing.
	if _, err := svc.ListSignups(ctx, ev.ID); !errors.Is(err, repository.ErrEventNotFound) {
		t.Fatalf("list signups of removed event: err = %v, want ErrEventNotFound", err)
	}

	if err := svc.RestoreEvent(ctx, ev.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	detail, err := svc.ListSignups(ctx, ev.ID)
	if err != nil {
		t.Fatalf("list signups after restore: %v", err)
	}
	if len(detail.Signups) != 3 {
		t.Fatalf("history length = %d, want 3", len(detail.Signups))
	}

	if err := svc.DeleteEvent(ctx, "no-such-event"); !errors.Is(err, repository.ErrEventNotFound) {
		t.Fatalf("delete unknown: err = %v, want ErrEventNotFound", err)
	}
	if err := svc.RestoreEvent(ctx, "no-such-event"); !errors.Is(err, repository.ErrEventNotFound) {
		t.Fatalf("restore unknown: err = %v, want ErrEventNotFound", err)
	}
	// Restoring a live event is a no-op, not an error.
	if err := svc.RestoreEvent(ctx, ev.ID); err != nil {
		t.Fatalf("restore live event: %v", err)
	}
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/wwt/lunch-signups/internal/model"
	"github.com/wwt/lunch-signups/internal/repository"
)

// Signup admits a participant to an event: confirmed while seats remain,
// waitlisted once the event is full. A participant whose earlier signup was
// cancelled is reactivated under the same ledger identity. The capacity
// check and the write it guards run in one per-event atomic unit, so two
// concurrent signups can never both take the last seat.
func (s *EventService) Signup(ctx context.Context, eventID string, req model.SignupRequest) (*model.SignupResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Team = strings.TrimSpace(req.Team)
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: name, team, and a well-formed email are required", ErrInvalidInput)
	}
	if !s.domainAllowed(req.Email) {
		return nil, ErrForbiddenDomain
	}

	now := s.now().UTC()
	var res model.SignupResult
	err := s.ledger.InEventTx(ctx, eventID, func(tx repository.LedgerTx, ev *model.Event) error {
		if err := guardOpen(ev, now); err != nil {
			return err
		}

		existing, err := tx.Find(ctx, eventID, req.Email)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.Active() {
			return repository.ErrDuplicateSignup
		}

		confirmed, err := tx.ConfirmedCount(ctx, eventID)
		if err != nil {
			return err
		}
		status := model.StatusConfirmed
		if confirmed >= s.capacity {
			status = model.StatusWaitlist
		}

		row := existing
		if row != nil {
			// Reactivate the cancelled row in place: same ledger identity,
			// fresh created timestamp, latest name and team.
			row.Name = req.Name
			row.Team = req.Team
			row.Status = status
			row.CreatedAt = now
			row.CancelledAt = nil
			if err := tx.Update(ctx, row); err != nil {
				return err
			}
		} else {
			row = &model.Signup{
				EventID:   eventID,
				Name:      req.Name,
				Email:     req.Email,
				Team:      req.Team,
				Status:    status,
				CreatedAt: now,
			}
			if err := tx.Insert(ctx, row); err != nil {
				return err
			}
		}

		res.Status = status
		if status == model.StatusWaitlist {
			rank, err := tx.WaitlistRank(ctx, row)
			if err != nil {
				return err
			}
			res.WaitlistPosition = rank
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel retires the participant's active signup. If the cancellation freed
// a confirmed seat, the earliest waitlisted signup is promoted in the same
// atomic unit and returned. Cancelling a waitlist slot promotes no one; it
// merely shortens the queue, and ranks are recomputed from timestamps,
// never stored.
func (s *EventService) Cancel(ctx context.Context, eventID string, req model.CancelRequest) (*model.CancelResult, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: a well-formed email is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	var res model.CancelResult
	err := s.ledger.InEventTx(ctx, eventID, func(tx repository.LedgerTx, ev *model.Event) error {
		if err := guardOpen(ev, now); err != nil {
			return err
		}

		row, err := tx.Find(ctx, eventID, req.Email)
		if err != nil {
			return err
		}
		if row == nil || !row.Status.Active() {
			return repository.ErrSignupNotFound
		}

		freedSeat := row.Status == model.StatusConfirmed
		row.Status = model.StatusCancelled
		row.CancelledAt = &now
		if err := tx.Update(ctx, row); err != nil {
			return err
		}
		if !freedSeat {
			return nil
		}

		next, err := tx.EarliestWaitlisted(ctx, eventID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		next.Status = model.StatusConfirmed
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		res.Promoted = &model.Promoted{Name: next.Name, Email: next.Email, Team: next.Team}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// domainAllowed accepts the configured domain and its subdomains.
func (s *EventService) domainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	return domain == s.emailDomain || strings.HasSuffix(domain, "."+s.emailDomain)
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wwt/lunch-signups/internal/model"
)

const signupColumns = `id, event_id, name, email, team, status, created_at, cancelled_at`

// LedgerTx exposes signup ledger operations inside one per-event atomic
// unit of work. Implementations run every method against the same
// transaction, so a capacity check and the write it guards cannot be
// interleaved with another request for the same event.
type LedgerTx interface {
	// Find returns the row for (event, normalized email) regardless of
	// status, or nil if the pair has never signed up.
	Find(ctx context.Context, eventID, email string) (*model.Signup, error)
	// ConfirmedCount counts rows holding a seat.
	ConfirmedCount(ctx context.Context, eventID string) (int, error)
	// Insert stores a new row and assigns its ledger identity.
	Insert(ctx context.Context, s *model.Signup) error
	// Update rewrites the mutable fields of an existing row.
	Update(ctx context.Context, s *model.Signup) error
	// WaitlistRank computes the 1-based FIFO position of a waitlisted row:
	// rows created earlier rank ahead, ties break by lower ledger identity.
	WaitlistRank(ctx context.Context, s *model.Signup) (int, error)
	// EarliestWaitlisted returns the next row in line for promotion, or
	// nil if the waitlist is empty.
	EarliestWaitlisted(ctx context.Context, eventID string) (*model.Signup, error)
}

// SignupRepository is the sole writer of signup rows.
type SignupRepository struct {
	db *pgxpool.Pool
}

// NewSignupRepository constructs a SignupRepository.
func NewSignupRepository(db *pgxpool.Pool) *SignupRepository {
	return &SignupRepository{db: db}
}

// InEventTx runs fn inside a transaction holding an exclusive row-level
// lock on the event.
//
// Two concurrent signups must not both observe a free seat and both become
// confirmed when only one seat remains, and a cancellation's promotion
// lookup must not race a new admission. SELECT ... FOR UPDATE on the event
// row serialises every mutating unit of work for one event while leaving
// other events fully parallel. fn receives the locked event so lifecycle
// checks see the same snapshot the writes do.
//
// Returning an error from fn rolls the transaction back; no partial writes
// survive.
func (r *SignupRepository) InEventTx(ctx context.Context, eventID string, fn func(tx LedgerTx, ev *model.Event) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var ev model.Event
	err = tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&ev.ID, &ev.Title, &ev.StartsAt, &ev.Location, &ev.Address, &ev.DeletedAt, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrEventNotFound
		} else {
			err = fmt.Errorf("lock event row: %w", err)
		}
		return err
	}

	if err = fn(&ledgerTx{tx: tx}, &ev); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListByEvent returns every signup row for an event: confirmed first, then
// waitlist in FIFO order, then cancelled.
func (r *SignupRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Signup, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = $1
		 ORDER BY CASE status WHEN 'confirmed' THEN 0 WHEN 'waitlist' THEN 1 ELSE 2 END,
		          created_at ASC, id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	defer rows.Close()

	var signups []model.Signup
	for rows.Next() {
		var s model.Signup
		if err := scanSignup(rows, &s); err != nil {
			return nil, err
		}
		signups = append(signups, s)
	}
	return signups, rows.Err()
}

// ledgerTx implements LedgerTx against an open pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (l *ledgerTx) Find(ctx context.Context, eventID, email string) (*model.Signup, error) {
	var s model.Signup
	err := l.tx.QueryRow(ctx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = $1 AND email = $2
		 ORDER BY id DESC
		 LIMIT 1`,
		eventID, email,
	).Scan(&s.ID, &s.EventID, &s.Name, &s.Email, &s.Team, &s.Status, &s.CreatedAt, &s.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find signup: %w", err)
	}
	return &s, nil
}

func (l *ledgerTx) ConfirmedCount(ctx context.Context, eventID string) (int, error) {
	var count int
	err := l.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM signups WHERE event_id = $1 AND status = 'confirmed'`,
		eventID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count confirmed: %w", err)
	}
	return count, nil
}

func (l *ledgerTx) Insert(ctx context.Context, s *model.Signup) error {
	err := l.tx.QueryRow(ctx,
		`INSERT INTO signups (event_id, name, email, team, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		s.EventID, s.Name, s.Email, s.Team, s.Status, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert signup: %w", asConstraintErr(err))
	}
	return nil
}

func (l *ledgerTx) Update(ctx context.Context, s *model.Signup) error {
	tag, err := l.tx.Exec(ctx,
		`UPDATE signups
		 SET name = $2, team = $3, status = $4, created_at = $5, cancelled_at = $6
		 WHERE id = $1`,
		s.ID, s.Name, s.Team, s.Status, s.CreatedAt, s.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("update signup: %w", asConstraintErr(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrSignupNotFound
	}
	return nil
}

func (l *ledgerTx) WaitlistRank(ctx context.Context, s *model.Signup) (int, error) {
	var rank int
	err := l.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM signups
		 WHERE event_id = $1 AND status = 'waitlist'
		   AND (created_at < $2 OR (created_at = $2 AND id <= $3))`,
		s.EventID, s.CreatedAt, s.ID,
	).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("compute waitlist rank: %w", err)
	}
	return rank, nil
}

func (l *ledgerTx) EarliestWaitlisted(ctx context.Context, eventID string) (*model.Signup, error) {
	var s model.Signup
	err := l.tx.QueryRow(ctx,
		`SELECT `+signupColumns+`
		 FROM signups
		 WHERE event_id = $1 AND status = 'waitlist'
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		eventID,
	).Scan(&s.ID, &s.EventID, &s.Name, &s.Email, &s.Team, &s.Status, &s.CreatedAt, &s.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find earliest waitlisted: %w", err)
	}
	return &s, nil
}

// asConstraintErr translates a unique-constraint violation on the active
// participant index into ErrDuplicateSignup. The event row lock already
// serialises writers per event, so this is a defence-in-depth backstop: a
// duplicate that somehow slips past the explicit pre-check surfaces as the
// same conflict instead of corrupting the ledger.
func asConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSignup
	}
	return err
}

func scanSignup(rows pgx.Rows, s *model.Signup) error {
	if err := rows.Scan(&s.ID, &s.EventID, &s.Name, &s.Email, &s.Team, &s.Status, &s.CreatedAt, &s.CancelledAt); err != nil {
		return fmt.Errorf("scan signup: %w", err)
	}
	return nil
}

package discipline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const actionColumns = `
	id::text, driver_id::text, action_type::text, dispute_count, suspension_days,
	period_start, period_end, scheduled_start, scheduled_end, actual_start, actual_end,
	is_paused, pause_reason, blocking_booking_id::text, created_at, updated_at`

// PGStore implements Store and SweepStore against PostgreSQL.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

const driverQuery = `
	SELECT d.id::text, d.user_id::text, d.is_verified, d.last_warning_at,
	       d.current_suspension_id::text, d.period_start, d.period_end, u.status::text
	FROM drivers d
	JOIN users u ON u.id = d.user_id
	WHERE d.id = $1`

// LockDriver loads the driver with its account and holds both rows until the
// transaction ends.
func (s *PGStore) LockDriver(ctx context.Context, tx pgx.Tx, driverID string) (Driver, error) {
	return scanDriver(tx.QueryRow(ctx, driverQuery+` FOR UPDATE OF d, u`, driverID), "lock driver")
}

// GetDriver is the non-locking read used by the admin surfaces.
func (s *PGStore) GetDriver(ctx context.Context, tx pgx.Tx, driverID string) (Driver, error) {
	return scanDriver(tx.QueryRow(ctx, driverQuery, driverID), "get driver")
}

func scanDriver(row pgx.Row, step string) (Driver, error) {
	var d Driver
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.IsVerified,
		&d.LastWarningAt,
		&d.CurrentSuspensionID,
		&d.PeriodStart,
		&d.PeriodEnd,
		&d.AccountStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Driver{}, ErrNotFound
		}
		return Driver{}, fmt.Errorf("discipline: %s: %w", step, err)
	}
	return d, nil
}

func (s *PGStore) LatestAction(ctx context.Context, tx pgx.Tx, driverID string) (Action, bool, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE driver_id = $1
		ORDER BY period_start DESC, created_at DESC
		LIMIT 1`
	return scanOptional(tx.QueryRow(ctx, query, driverID), "latest action")
}

func (s *PGStore) SavePeriod(ctx context.Context, tx pgx.Tx, driverID string, period Period) error {
	_, err := tx.Exec(ctx, `
		UPDATE drivers
		SET period_start = $2, period_end = $3, updated_at = now()
		WHERE id = $1`, driverID, period.Start, period.End)
	if err != nil {
		return fmt.Errorf("discipline: save period: %w", err)
	}
	return nil
}

func (s *PGStore) ClearLastWarning(ctx context.Context, tx pgx.Tx, driverID string) error {
	if _, err := tx.Exec(ctx, `UPDATE drivers SET last_warning_at = NULL, updated_at = now() WHERE id = $1`, driverID); err != nil {
		return fmt.Errorf("discipline: clear last warning: %w", err)
	}
	return nil
}

func (s *PGStore) SetLastWarning(ctx context.Context, tx pgx.Tx, driverID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE drivers SET last_warning_at = $2, updated_at = now() WHERE id = $1`, driverID, at); err != nil {
		return fmt.Errorf("discipline: set last warning: %w", err)
	}
	return nil
}

// CountDisputes counts every dispute raised against the driver's car bookings
// since the period start, whatever its status.
func (s *PGStore) CountDisputes(ctx context.Context, tx pgx.Tx, driverID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM disputes d
		JOIN car_bookings b ON b.id = d.car_booking_id
		JOIN cars c ON c.id = b.car_id
		WHERE c.driver_id = $1
		  AND d.created_at >= $2
	`
	var n int
	if err := tx.QueryRow(ctx, query, driverID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("discipline: count disputes: %w", err)
	}
	return n, nil
}

func (s *PGStore) CountDisputesBetween(ctx context.Context, tx pgx.Tx, driverID string, from, to time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM disputes d
		JOIN car_bookings b ON b.id = d.car_booking_id
		JOIN cars c ON c.id = b.car_id
		WHERE c.driver_id = $1
		  AND d.created_at >= $2
		  AND d.created_at < $3
	`
	var n int
	if err := tx.QueryRow(ctx, query, driverID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("discipline: count disputes in window: %w", err)
	}
	return n, nil
}

func (s *PGStore) ActiveRide(ctx context.Context, tx pgx.Tx, driverID string) (string, bool, error) {
	const query = `
		SELECT b.id::text
		FROM car_bookings b
		JOIN cars c ON c.id = b.car_id
		WHERE c.driver_id = $1 AND b.status = $2
		ORDER BY b.updated_at ASC
		LIMIT 1
	`
	var bookingID string
	err := tx.QueryRow(ctx, query, driverID, BookingInProgress).Scan(&bookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("discipline: active ride: %w", err)
	}
	return bookingID, true, nil
}

func (s *PGStore) BookingInProgress(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM car_bookings WHERE id = $1`, bookingID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("discipline: booking status: %w", err)
	}
	return status == BookingInProgress, nil
}

func (s *PGStore) InFlightAction(ctx context.Context, tx pgx.Tx, driverID string, periodStart time.Time) (Action, bool, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE driver_id = $1
		  AND period_start = $2
		  AND action_type IN ('suspension', 'ban')
		  AND actual_end IS NULL
		ORDER BY created_at DESC
		LIMIT 1`
	return scanOptional(tx.QueryRow(ctx, query, driverID, periodStart), "in-flight action")
}

func (s *PGStore) IssuedSteps(ctx context.Context, tx pgx.Tx, driverID string, periodStart time.Time) ([]Step, error) {
	const query = `
		SELECT DISTINCT action_type::text, COALESCE(suspension_days, 0)
		FROM disciplinary_actions
		WHERE driver_id = $1
		  AND period_start = $2
		  AND action_type IN ('suspension', 'ban')
	`
	rows, err := tx.Query(ctx, query, driverID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("discipline: issued steps: %w", err)
	}
	defer rows.Close()

	steps := make([]Step, 0, 3)
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.Type, &st.Days); err != nil {
			return nil, fmt.Errorf("discipline: scan step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discipline: iterate steps: %w", err)
	}
	return steps, nil
}

func (s *PGStore) InsertAction(ctx context.Context, tx pgx.Tx, a Action) (Action, error) {
	query := `
		INSERT INTO disciplinary_actions (
			id, driver_id, action_type, dispute_count, suspension_days,
			period_start, period_end, scheduled_start, scheduled_end,
			is_paused, pause_reason, blocking_booking_id
		)
		VALUES (
			COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3::disciplinary_action_type, $4, $5,
			$6, $7, $8, $9, $10, $11, $12::uuid
		)
		RETURNING ` + actionColumns
	row := tx.QueryRow(ctx, query,
		a.ID,
		a.DriverID,
		a.Type,
		a.DisputeCount,
		a.SuspensionDays,
		a.PeriodStart,
		a.PeriodEnd,
		a.ScheduledStart,
		a.ScheduledEnd,
		a.IsPaused,
		a.PauseReason,
		a.BlockingBookingID,
	)
	created, err := scanAction(row)
	if err != nil {
		return Action{}, fmt.Errorf("discipline: insert action: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetActionForUpdate(ctx context.Context, tx pgx.Tx, actionID string) (Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE id = $1
		FOR UPDATE`
	a, err := scanAction(tx.QueryRow(ctx, query, actionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Action{}, ErrNotFound
		}
		return Action{}, fmt.Errorf("discipline: get action: %w", err)
	}
	return a, nil
}

func (s *PGStore) PendingUnapplied(ctx context.Context, tx pgx.Tx, driverID string) (Action, bool, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE driver_id = $1
		  AND action_type IN ('suspension', 'ban')
		  AND actual_start IS NULL
		  AND actual_end IS NULL
		  AND NOT is_paused
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE`
	return scanOptional(tx.QueryRow(ctx, query, driverID), "pending action")
}

func (s *PGStore) PausedForBooking(ctx context.Context, tx pgx.Tx, driverID, bookingID string) ([]Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE driver_id = $1
		  AND blocking_booking_id = $2
		  AND is_paused
		  AND actual_end IS NULL
		ORDER BY created_at ASC
		FOR UPDATE`
	return collectActions(ctx, tx, query, "paused actions", driverID, bookingID)
}

func (s *PGStore) ListActions(ctx context.Context, tx pgx.Tx, driverID string) ([]Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE driver_id = $1
		ORDER BY created_at DESC`
	return collectActions(ctx, tx, query, "list actions", driverID)
}

// ListPending returns every scheduled-but-unapplied or paused action system-wide.
func (s *PGStore) ListPending(ctx context.Context, tx pgx.Tx) ([]Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE action_type IN ('suspension', 'ban')
		  AND actual_start IS NULL
		  AND actual_end IS NULL
		ORDER BY created_at ASC`
	return collectActions(ctx, tx, query, "list pending")
}

// ListExpiredApplied returns applied suspensions whose scheduled window is over.
func (s *PGStore) ListExpiredApplied(ctx context.Context, tx pgx.Tx, now time.Time) ([]Action, error) {
	query := `SELECT ` + actionColumns + `
		FROM disciplinary_actions
		WHERE action_type = 'suspension'
		  AND actual_start IS NOT NULL
		  AND actual_end IS NULL
		  AND scheduled_end <= $1
		ORDER BY scheduled_end ASC`
	return collectActions(ctx, tx, query, "list expired", now)
}

func (s *PGStore) MarkApplied(ctx context.Context, tx pgx.Tx, actionID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disciplinary_actions
		SET actual_start = $2, updated_at = now()
		WHERE id = $1 AND actual_start IS NULL AND actual_end IS NULL`, actionID, at)
	if err != nil {
		return fmt.Errorf("discipline: mark applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkEnded stamps actual_end exactly once and clears any pause.
func (s *PGStore) MarkEnded(ctx context.Context, tx pgx.Tx, actionID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disciplinary_actions
		SET actual_end = $2, is_paused = false, updated_at = now()
		WHERE id = $1 AND actual_end IS NULL`, actionID, at)
	if err != nil {
		return fmt.Errorf("discipline: mark ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *PGStore) Pause(ctx context.Context, tx pgx.Tx, actionID, bookingID, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE disciplinary_actions
		SET is_paused = true, pause_reason = $3, blocking_booking_id = $2::uuid, updated_at = now()
		WHERE id = $1 AND actual_start IS NULL AND actual_end IS NULL`, actionID, bookingID, reason)
	if err != nil {
		return fmt.Errorf("discipline: pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Unpause keeps pause_reason and blocking_booking_id as history.
func (s *PGStore) Unpause(ctx context.Context, tx pgx.Tx, actionID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE disciplinary_actions
		SET is_paused = false, updated_at = now()
		WHERE id = $1`, actionID); err != nil {
		return fmt.Errorf("discipline: unpause: %w", err)
	}
	return nil
}

func (s *PGStore) SetCurrentSuspension(ctx context.Context, tx pgx.Tx, driverID string, actionID *string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE drivers
		SET current_suspension_id = $2::uuid, updated_at = now()
		WHERE id = $1`, driverID, actionID); err != nil {
		return fmt.Errorf("discipline: set current suspension: %w", err)
	}
	return nil
}

func (s *PGStore) SetAccountStatus(ctx context.Context, tx pgx.Tx, userID string, status AccountStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET status = $2::user_status, updated_at = now()
		WHERE id = $1`, userID, status)
	if err != nil {
		return fmt.Errorf("discipline: set account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeactivateCars(ctx context.Context, tx pgx.Tx, driverID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE cars
		SET is_active = false, updated_at = now()
		WHERE driver_id = $1 AND is_active`, driverID)
	if err != nil {
		return 0, fmt.Errorf("discipline: deactivate cars: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOptional(row pgx.Row, step string) (Action, bool, error) {
	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Action{}, false, nil
		}
		return Action{}, false, fmt.Errorf("discipline: %s: %w", step, err)
	}
	return a, true, nil
}

func collectActions(ctx context.Context, tx pgx.Tx, query, step string, args ...any) ([]Action, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("discipline: %s: %w", step, err)
	}
	defer rows.Close()

	out := make([]Action, 0, 4)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("discipline: %s scan: %w", step, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discipline: %s iterate: %w", step, err)
	}
	return out, nil
}

func scanAction(row pgx.Row) (Action, error) {
	var a Action
	err := row.Scan(
		&a.ID,
		&a.DriverID,
		&a.Type,
		&a.DisputeCount,
		&a.SuspensionDays,
		&a.PeriodStart,
		&a.PeriodEnd,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.ActualStart,
		&a.ActualEnd,
		&a.IsPaused,
		&a.PauseReason,
		&a.BlockingBookingID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

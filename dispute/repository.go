package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound     = errors.New("dispute: not found")
	ErrInvalidState = errors.New("dispute: invalid status transition")
	ErrValidation   = errors.New("dispute: exactly one of hotel or car booking is required")
	// ErrEscalation accompanies a dispute that was stored but whose driver
	// evaluation failed.
	ErrEscalation = errors.New("dispute: escalation failed")
)

// selectRecord projects a disputes row, aliased d, with the driver that owns
// the disputed car.
const selectRecord = `
	SELECT d.id::text, d.hotel_booking_id::text, d.car_booking_id::text, c.driver_id::text,
	       d.raised_by::text, d.reason, d.status::text, d.created_at, d.updated_at, d.resolved_at
`

const joinDriver = `
	LEFT JOIN car_bookings b ON b.id = d.car_booking_id
	LEFT JOIN cars c ON c.id = b.car_id
`

// Filter narrows List. Empty fields are ignored.
type Filter struct {
	DriverID string
	RaisedBy string
	Status   Status
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	query := selectRecord + `FROM disputes d` + joinDriver + `WHERE true`
	args := make([]any, 0, 3)
	if f.DriverID != "" {
		args = append(args, f.DriverID)
		query += fmt.Sprintf(" AND c.driver_id = $%d", len(args))
	}
	if f.RaisedBy != "" {
		args = append(args, f.RaisedBy)
		query += fmt.Sprintf(" AND d.raised_by = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND d.status = $%d::dispute_status", len(args))
	}
	query += " ORDER BY d.created_at DESC"

	out := make([]Record, 0, 8)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		if isMalformedID(err) {
			return out, nil
		}
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		if isMalformedID(err) {
			return out, nil
		}
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (Record, error) {
	query := `
		WITH d AS (
			INSERT INTO disputes (hotel_booking_id, car_booking_id, raised_by, reason)
			VALUES (NULLIF($1, '')::uuid, NULLIF($2, '')::uuid, $3, $4)
			RETURNING *
		)` + selectRecord + `FROM d` + joinDriver

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, p.HotelBookingID, p.CarBookingID, p.RaisedBy, p.Reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503", "22P02":
				return Record{}, ErrNotFound
			case "23514":
				return Record{}, ErrValidation
			}
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

// Transition moves a pending dispute to resolved or rejected.
func (r *Repository) Transition(ctx context.Context, disputeID string, to Status) (Record, error) {
	query := `
		WITH d AS (
			UPDATE disputes
			SET status = $2::dispute_status, resolved_at = now(), updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		)` + selectRecord + `FROM d` + joinDriver

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, disputeID, string(to)))
	if err == nil {
		return rec, nil
	}
	if isMalformedID(err) {
		return Record{}, ErrNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: transition: %w", err)
	}

	var status Status
	if err := r.pool.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1`, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: transition fetch: %w", err)
	}
	return Record{}, fmt.Errorf("dispute %s is %s: %w", disputeID, status, ErrInvalidState)
}

// isMalformedID reports a uuid parameter postgres could not parse.
func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.HotelBookingID,
		&rec.CarBookingID,
		&rec.DriverID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	)
	return rec, err
}

package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookinghub/discipline"
	"bookinghub/test/infra"
)

// Engine is the slice of the discipline engine the actors drive.
type Engine interface {
	Evaluate(ctx context.Context, driverID string) (discipline.Outcome, error)
	PauseIfActiveRide(ctx context.Context, driverID string) (bool, error)
	ResumeAfterRide(ctx context.Context, driverID, bookingID string) (discipline.ResumeResult, error)
	Lift(ctx context.Context, driverID, actionID string) (discipline.Action, error)
}

// expected reports errors that are legitimate under contention or chaos.
func expected(err error) bool {
	if err == nil {
		return true
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, discipline.ErrTransient),
		errors.Is(err, discipline.ErrInvalidState),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.SafeToRetry(err):
		return true
	case errors.As(err, &pgErr):
		return pgErr.Code == "57P01" // admin_shutdown from pg_terminate_backend
	}
	return false
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// Disputer books a finished ride on a random car, disputes it and runs the
// escalation evaluation, the way the dispute endpoint does.
func Disputer(ctx context.Context, pool *pgxpool.Pool, eng Engine, f infra.Fleet, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		car := f.CarIDs[rand.Intn(len(f.CarIDs))]
		var bookingID string
		err := pool.QueryRow(ctx,
			`INSERT INTO car_bookings (car_id, customer_id, status) VALUES ($1, $2, 'COMPLETED') RETURNING id::text`,
			car, f.CustomerID).Scan(&bookingID)
		if err != nil {
			pause(20, 30)
			continue
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO disputes (car_booking_id, raised_by, reason) VALUES ($1, $2, 'stress')`,
			bookingID, f.CustomerID); err != nil {
			pause(20, 30)
			continue
		}
		if _, err := eng.Evaluate(ctx, f.DriverID); !expected(err) {
			return fmt.Errorf("disputer evaluate: %w", err)
		}
		pause(30, 70)
	}
	return nil
}

// Rider starts a ride, holds it for a moment and completes it, firing the
// pause and resume triggers around it.
func Rider(ctx context.Context, pool *pgxpool.Pool, eng Engine, f infra.Fleet, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		car := f.CarIDs[rand.Intn(len(f.CarIDs))]
		var bookingID string
		err := pool.QueryRow(ctx,
			`INSERT INTO car_bookings (car_id, customer_id, status) VALUES ($1, $2, 'IN_PROGRESS') RETURNING id::text`,
			car, f.CustomerID).Scan(&bookingID)
		if err != nil {
			pause(20, 30)
			continue
		}
		if _, err := eng.PauseIfActiveRide(ctx, f.DriverID); !expected(err) {
			return fmt.Errorf("rider pause: %w", err)
		}

		pause(40, 120)

		// Retry the completion until it lands so no ride is left dangling.
		for !stopped(ctx, stop) {
			if _, err := pool.Exec(ctx, `UPDATE car_bookings SET status = 'COMPLETED', updated_at = now() WHERE id = $1`, bookingID); err == nil {
				break
			}
			pause(10, 20)
		}
		if _, err := eng.ResumeAfterRide(ctx, f.DriverID, bookingID); !expected(err) {
			return fmt.Errorf("rider resume %s: %w", bookingID, err)
		}
		pause(20, 60)
	}
	return nil
}

// Lifter ends applied suspensions early, racing the resume and sweep paths.
func Lifter(ctx context.Context, pool *pgxpool.Pool, eng Engine, f infra.Fleet, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		pause(300, 400)
		rows, err := pool.Query(ctx, `
			SELECT id::text FROM disciplinary_actions
			WHERE driver_id = $1 AND action_type = 'suspension'
			  AND actual_start IS NOT NULL AND actual_end IS NULL`, f.DriverID)
		if err != nil {
			continue
		}
		var ids []string
		for rows.Next() {
			var id string
			if rows.Scan(&id) == nil {
				ids = append(ids, id)
			}
		}
		rows.Close()

		for _, id := range ids {
			if _, err := eng.Lift(ctx, f.DriverID, id); !expected(err) {
				return fmt.Errorf("lifter %s: %w", id, err)
			}
		}
	}
	return nil
}

// Sweeper runs the reconciler the way the cron schedule would, only faster.
func Sweeper(ctx context.Context, r *discipline.Reconciler, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		pause(500, 500)
		if _, err := r.RunOnce(ctx); !expected(err) {
			return fmt.Errorf("sweeper: %w", err)
		}
	}
	return nil
}

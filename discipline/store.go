package discipline

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the data access the engine needs. Every method runs inside the
// caller's transaction; LockDriver must be the first call so the rest of the
// read-then-write sequence is serialized per driver.
type Store interface {
	LockDriver(ctx context.Context, tx pgx.Tx, driverID string) (Driver, error)
	GetDriver(ctx context.Context, tx pgx.Tx, driverID string) (Driver, error)
	LatestAction(ctx context.Context, tx pgx.Tx, driverID string) (Action, bool, error)
	SavePeriod(ctx context.Context, tx pgx.Tx, driverID string, period Period) error
	ClearLastWarning(ctx context.Context, tx pgx.Tx, driverID string) error
	SetLastWarning(ctx context.Context, tx pgx.Tx, driverID string, at time.Time) error

	CountDisputes(ctx context.Context, tx pgx.Tx, driverID string, since time.Time) (int, error)
	CountDisputesBetween(ctx context.Context, tx pgx.Tx, driverID string, from, to time.Time) (int, error)
	ActiveRide(ctx context.Context, tx pgx.Tx, driverID string) (string, bool, error)
	BookingInProgress(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error)

	InFlightAction(ctx context.Context, tx pgx.Tx, driverID string, periodStart time.Time) (Action, bool, error)
	IssuedSteps(ctx context.Context, tx pgx.Tx, driverID string, periodStart time.Time) ([]Step, error)
	InsertAction(ctx context.Context, tx pgx.Tx, action Action) (Action, error)
	GetActionForUpdate(ctx context.Context, tx pgx.Tx, actionID string) (Action, error)
	PendingUnapplied(ctx context.Context, tx pgx.Tx, driverID string) (Action, bool, error)
	PausedForBooking(ctx context.Context, tx pgx.Tx, driverID, bookingID string) ([]Action, error)
	ListActions(ctx context.Context, tx pgx.Tx, driverID string) ([]Action, error)

	MarkApplied(ctx context.Context, tx pgx.Tx, actionID string, at time.Time) error
	MarkEnded(ctx context.Context, tx pgx.Tx, actionID string, at time.Time) error
	Pause(ctx context.Context, tx pgx.Tx, actionID, bookingID, reason string) error
	Unpause(ctx context.Context, tx pgx.Tx, actionID string) error

	SetCurrentSuspension(ctx context.Context, tx pgx.Tx, driverID string, actionID *string) error
	SetAccountStatus(ctx context.Context, tx pgx.Tx, userID string, status AccountStatus) error
	DeactivateCars(ctx context.Context, tx pgx.Tx, driverID string) (int64, error)
}

// SweepStore backs the reconciler's system-wide scans.
type SweepStore interface {
	ListPending(ctx context.Context, tx pgx.Tx) ([]Action, error)
	ListExpiredApplied(ctx context.Context, tx pgx.Tx, now time.Time) ([]Action, error)
}

package discipline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the driver or action does not exist.
	ErrNotFound = errors.New("discipline: not found")
	// ErrInvalidState rejects a transition the current state does not allow.
	ErrInvalidState = errors.New("discipline: invalid state")
	// ErrTransient marks store failures after which the whole call may be retried.
	ErrTransient = errors.New("discipline: transient store failure")
)

// classify wraps pgx failures so callers can tell retryable store errors apart.
func classify(step string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("discipline: %s: %w", step, ErrNotFound)
	}
	if isMalformedID(err) {
		return fmt.Errorf("discipline: %s: %w: %w", step, ErrNotFound, err)
	}
	if isTransient(err) {
		return fmt.Errorf("discipline: %s: %w: %w", step, ErrTransient, err)
	}
	return err
}

// isMalformedID reports a uuid parameter postgres could not parse. No row can
// match such an id.
func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03":
			return true
		}
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

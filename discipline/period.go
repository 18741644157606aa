package discipline

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultPeriodMonths is the length of a driver's evaluation window.
const DefaultPeriodMonths = 3

// PeriodTracker resolves the rolling evaluation window of a driver.
type PeriodTracker struct {
	store  Store
	months int
	now    func() time.Time
}

func NewPeriodTracker(store Store, months int, now func() time.Time) *PeriodTracker {
	if months <= 0 {
		months = DefaultPeriodMonths
	}
	if now == nil {
		now = time.Now
	}
	return &PeriodTracker{store: store, months: months, now: now}
}

// Current returns the live window for the driver. fresh is true when no live
// window exists and a new one starting today at midnight UTC was computed.
func (t *PeriodTracker) Current(ctx context.Context, tx pgx.Tx, d Driver) (p Period, fresh bool, err error) {
	now := t.now().UTC()

	if d.PeriodStart != nil && d.PeriodEnd != nil {
		if p := (Period{Start: d.PeriodStart.UTC(), End: d.PeriodEnd.UTC()}); p.Contains(now) {
			return p, false, nil
		}
	}

	latest, ok, err := t.store.LatestAction(ctx, tx, d.ID)
	if err != nil {
		return Period{}, false, err
	}
	if ok {
		if p := (Period{Start: latest.PeriodStart.UTC(), End: latest.PeriodEnd.UTC()}); p.Contains(now) {
			return p, false, nil
		}
	}

	return t.startingAt(now), true, nil
}

// ResetIfExpired resolves the window and, when a new one starts, persists it
// and clears last_warning_at so the warning re-arms for the new period.
func (t *PeriodTracker) ResetIfExpired(ctx context.Context, tx pgx.Tx, d *Driver) (Period, bool, error) {
	p, fresh, err := t.Current(ctx, tx, *d)
	if err != nil {
		return Period{}, false, err
	}
	if !fresh {
		return p, false, nil
	}

	if err := t.store.SavePeriod(ctx, tx, d.ID, p); err != nil {
		return Period{}, false, err
	}
	if err := t.store.ClearLastWarning(ctx, tx, d.ID); err != nil {
		return Period{}, false, err
	}
	d.PeriodStart, d.PeriodEnd = &p.Start, &p.End
	d.LastWarningAt = nil
	return p, true, nil
}

func (t *PeriodTracker) startingAt(now time.Time) Period {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, t.months, 0)}
}

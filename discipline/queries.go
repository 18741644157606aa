package discipline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CurrentPeriod returns the driver's live evaluation window without persisting
// a new one.
func (e *Engine) CurrentPeriod(ctx context.Context, driverID string) (Period, error) {
	var p Period
	err := e.read(ctx, "current period", func(tx pgx.Tx) error {
		d, err := e.store.GetDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		p, _, err = e.periods.Current(ctx, tx, d)
		return err
	})
	return p, err
}

// Status reports the driver's account, live window and any suspension or ban
// that has not ended.
func (e *Engine) Status(ctx context.Context, driverID string) (Status, error) {
	var st Status
	err := e.read(ctx, "status", func(tx pgx.Tx) error {
		d, err := e.store.GetDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		period, _, err := e.periods.Current(ctx, tx, d)
		if err != nil {
			return err
		}
		count, err := e.store.CountDisputes(ctx, tx, d.ID, period.Start)
		if err != nil {
			return err
		}
		actions, err := e.store.ListActions(ctx, tx, d.ID)
		if err != nil {
			return err
		}

		st = Status{
			DriverID:         d.ID,
			AccountStatus:    d.AccountStatus,
			Period:           period,
			DisputesInPeriod: count,
			LastWarningAt:    d.LastWarningAt,
		}
		for i := range actions {
			a := actions[i]
			switch {
			case d.CurrentSuspensionID != nil && a.ID == *d.CurrentSuspensionID && !a.Ended():
				st.CurrentSuspension = &a
			case a.Type == ActionBan && !a.Ended() && st.ActiveBan == nil:
				st.ActiveBan = &a
			}
		}
		return nil
	})
	return st, err
}

// History lists every action of the driver, newest first, with the dispute
// count recomputed over each action's own window.
func (e *Engine) History(ctx context.Context, driverID string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := e.read(ctx, "history", func(tx pgx.Tx) error {
		d, err := e.store.GetDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		actions, err := e.store.ListActions(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		out = make([]HistoryEntry, 0, len(actions))
		for _, a := range actions {
			n, err := e.store.CountDisputesBetween(ctx, tx, d.ID, a.PeriodStart, a.PeriodEnd)
			if err != nil {
				return err
			}
			out = append(out, HistoryEntry{Action: a, DisputesInWindow: n})
		}
		return nil
	})
	return out, err
}

// Pending lists every scheduled-but-unapplied and paused action system-wide.
func (e *Engine) Pending(ctx context.Context) ([]Action, error) {
	if e.sweep == nil {
		return nil, fmt.Errorf("discipline: pending: store does not support system-wide scans")
	}
	var out []Action
	err := e.read(ctx, "pending", func(tx pgx.Tx) error {
		var err error
		out, err = e.sweep.ListPending(ctx, tx)
		return err
	})
	return out, err
}

func (e *Engine) read(ctx context.Context, step string, fn func(tx pgx.Tx) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return classify(step, fmt.Errorf("discipline: %s: begin tx: %w", step, err))
	}
	defer tx.Rollback(ctx)

	return classify(step, fn(tx))
}

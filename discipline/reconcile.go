package discipline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
)

// ReconcileReport counts what a sweep changed.
type ReconcileReport struct {
	Resumed int
	Lifted  int
	Failed  int
}

// Reconciler catches up on events the engine never saw: rides that finished
// without a completion event, and applied suspensions whose window has passed.
type Reconciler struct {
	engine *Engine
	cron   *cron.Cron
	logger *slog.Logger
}

func NewReconciler(engine *Engine) *Reconciler {
	return &Reconciler{engine: engine, logger: engine.logger}
}

type stalePause struct {
	driverID  string
	bookingID string
}

// RunOnce performs a single sweep. Per-driver failures are logged and counted;
// only a failure to scan aborts the sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	e := r.engine
	if e.sweep == nil {
		return report, fmt.Errorf("discipline: reconcile: store does not support system-wide scans")
	}

	var stale []stalePause
	var expired []Action
	err := e.read(ctx, "reconcile scan", func(tx pgx.Tx) error {
		pending, err := e.sweep.ListPending(ctx, tx)
		if err != nil {
			return err
		}
		seen := make(map[stalePause]bool)
		for _, a := range pending {
			if !a.IsPaused || a.BlockingBookingID == nil {
				continue
			}
			key := stalePause{driverID: a.DriverID, bookingID: *a.BlockingBookingID}
			if seen[key] {
				continue
			}
			seen[key] = true
			busy, err := e.store.BookingInProgress(ctx, tx, key.bookingID)
			if err != nil {
				return err
			}
			if !busy {
				stale = append(stale, key)
			}
		}
		expired, err = e.sweep.ListExpiredApplied(ctx, tx, e.now().UTC())
		return err
	})
	if err != nil {
		e.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return report, err
	}

	for _, p := range stale {
		res, err := e.ResumeAfterRide(ctx, p.driverID, p.bookingID)
		if err != nil {
			report.Failed++
			r.logger.ErrorContext(ctx, "reconcile resume failed",
				"driver_id", p.driverID,
				"booking_id", p.bookingID,
				"error", err,
			)
			continue
		}
		report.Resumed += len(res.Applied) + len(res.Expired)
	}

	for _, a := range expired {
		if _, err := e.Lift(ctx, a.DriverID, a.ID); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			report.Failed++
			r.logger.ErrorContext(ctx, "reconcile lift failed",
				"driver_id", a.DriverID,
				"action_id", a.ID,
				"error", err,
			)
			continue
		}
		report.Lifted++
	}

	result := "ok"
	if report.Failed > 0 {
		result = "partial"
	}
	e.metrics.ReconcileRuns.WithLabelValues(result).Inc()
	r.logger.InfoContext(ctx, "reconcile sweep finished",
		"resumed", report.Resumed,
		"lifted", report.Lifted,
		"failed", report.Failed,
	)
	return report, nil
}

// Start schedules RunOnce on a cron expression. Each run gets its own timeout.
func (r *Reconciler) Start(schedule string, timeout time.Duration) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("reconcile sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("discipline: reconcile schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reconciler started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

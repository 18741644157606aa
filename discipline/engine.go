package discipline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bookinghub/metrics"
	"bookinghub/notification"
)

// DefaultWarningThreshold is the period dispute count that triggers the warning.
const DefaultWarningThreshold = 3

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks Notifier

// Notifier delivers user-facing notices. Delivery is best effort: the engine
// logs failures and never rolls a committed transition back because of them.
type Notifier interface {
	Send(ctx context.Context, userID string, typ notification.Type, title, body string) error
}

// Engine runs the escalation policy and the pause/resume state machine. Every
// public operation is one transaction that starts by locking the driver row.
type Engine struct {
	pool             TxBeginner
	store            Store
	sweep            SweepStore
	notifier         Notifier
	ladder           Ladder
	periods          *PeriodTracker
	periodMonths     int
	warningThreshold int
	now              func() time.Time
	newID            func() string
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

type Option func(e *Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLadder(l Ladder) Option {
	return func(e *Engine) { e.ladder = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithWarningThreshold(n int) Option {
	return func(e *Engine) { e.warningThreshold = n }
}

func WithPeriodMonths(months int) Option {
	return func(e *Engine) { e.periodMonths = months }
}

// NewEngine wires an Engine. store defaults to the PostgreSQL implementation.
func NewEngine(pool TxBeginner, store Store, opts ...Option) *Engine {
	if store == nil {
		store = NewPGStore()
	}
	e := &Engine{
		pool:             pool,
		store:            store,
		ladder:           DefaultLadder(),
		periodMonths:     DefaultPeriodMonths,
		warningThreshold: DefaultWarningThreshold,
		now:              time.Now,
		newID:            uuid.NewString,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewNop()
	}
	if sweep, ok := store.(SweepStore); ok {
		e.sweep = sweep
	}
	e.periods = NewPeriodTracker(store, e.periodMonths, e.now)
	return e
}

// Evaluate re-runs the escalation ladder for the driver after a new dispute.
// Calling it again without new disputes changes nothing.
func (e *Engine) Evaluate(ctx context.Context, driverID string) (Outcome, error) {
	var out Outcome
	err := e.inTx(ctx, "evaluate", func(tx pgx.Tx, fx *effects) error {
		d, err := e.store.LockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		out.DriverID = d.ID
		if d.AccountStatus != AccountActive {
			out.Skipped = true
			return nil
		}

		period, reset, err := e.periods.ResetIfExpired(ctx, tx, &d)
		if err != nil {
			return err
		}
		out.Period, out.PeriodReset = period, reset

		count, err := e.store.CountDisputes(ctx, tx, d.ID, period.Start)
		if err != nil {
			return err
		}
		out.DisputeCount = count

		_, inFlight, err := e.store.InFlightAction(ctx, tx, d.ID, period.Start)
		if err != nil {
			return err
		}

		if count >= e.warningThreshold && d.LastWarningAt == nil {
			w, err := e.warn(ctx, tx, fx, &d, period, count)
			if err != nil {
				return err
			}
			out.Warning = &w
		}

		issued, err := e.store.IssuedSteps(ctx, tx, d.ID, period.Start)
		if err != nil {
			return err
		}
		rule, ok := e.ladder.Decide(count, issued, inFlight)
		if !ok {
			return nil
		}

		e.logger.InfoContext(ctx, "escalation rule matched",
			"driver_id", d.ID,
			"rule", rule.Name,
			"dispute_count", count,
		)
		a, err := e.schedule(ctx, tx, fx, &d, rule.Issues, count, period)
		if err != nil {
			return err
		}
		out.Scheduled = &a
		return nil
	})
	if err != nil {
		e.metrics.Evaluations.WithLabelValues("error").Inc()
		return Outcome{}, err
	}
	e.metrics.Evaluations.WithLabelValues(out.result()).Inc()
	return out, nil
}

func (o Outcome) result() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Scheduled != nil:
		return "scheduled"
	case o.Warning != nil:
		return "warned"
	default:
		return "noop"
	}
}

// Apply puts a scheduled, unpaused action into effect.
func (e *Engine) Apply(ctx context.Context, driverID, actionID string) (Action, error) {
	var applied Action
	err := e.inTx(ctx, "apply", func(tx pgx.Tx, fx *effects) error {
		d, err := e.store.LockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		a, err := e.ownedAction(ctx, tx, d, actionID)
		if err != nil {
			return err
		}
		if a.Type == ActionWarning || a.IsPaused {
			return fmt.Errorf("discipline: apply %s action (paused=%t): %w", a.Type, a.IsPaused, ErrInvalidState)
		}
		applied, err = e.apply(ctx, tx, fx, &d, a)
		return err
	})
	return applied, err
}

// PauseIfActiveRide defers a scheduled, unapplied action while the driver is
// mid-trip. It reports whether an action was paused.
func (e *Engine) PauseIfActiveRide(ctx context.Context, driverID string) (bool, error) {
	var paused bool
	err := e.inTx(ctx, "pause", func(tx pgx.Tx, fx *effects) error {
		d, err := e.store.LockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		bookingID, busy, err := e.store.ActiveRide(ctx, tx, d.ID)
		if err != nil || !busy {
			return err
		}
		a, ok, err := e.store.PendingUnapplied(ctx, tx, d.ID)
		if err != nil || !ok {
			return err
		}
		if err := e.store.Pause(ctx, tx, a.ID, bookingID, PauseReasonActiveRide); err != nil {
			return err
		}
		paused = true

		e.logger.InfoContext(ctx, "disciplinary action paused for active ride",
			"driver_id", d.ID,
			"action_id", a.ID,
			"booking_id", bookingID,
		)
		fx.notify(d.UserID, notification.TypeSuspensionPaused, pausedMessage(a))
		fx.after(func() { e.metrics.ActionsPaused.Inc() })
		return nil
	})
	return paused, err
}

// ResumeAfterRide handles every action paused on bookingID once that ride has
// ended. An action whose scheduled window already elapsed is closed as served;
// any other is applied now.
func (e *Engine) ResumeAfterRide(ctx context.Context, driverID, bookingID string) (ResumeResult, error) {
	var res ResumeResult
	err := e.inTx(ctx, "resume", func(tx pgx.Tx, fx *effects) error {
		d, err := e.store.LockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		paused, err := e.store.PausedForBooking(ctx, tx, d.ID, bookingID)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		for _, a := range paused {
			if a.ScheduledEnd != nil && !a.ScheduledEnd.After(now) {
				ended, err := e.expire(ctx, tx, &d, a, now)
				if err != nil {
					return err
				}
				res.Expired = append(res.Expired, ended)
				fx.after(func() { e.metrics.ActionsResumed.WithLabelValues("expired").Inc() })
				continue
			}

			applied, err := e.apply(ctx, tx, fx, &d, a)
			if err != nil {
				return err
			}
			if err := e.store.Unpause(ctx, tx, a.ID); err != nil {
				return err
			}
			applied.IsPaused = false
			res.Applied = append(res.Applied, applied)
			fx.notify(d.UserID, notification.TypeSuspensionResumed, resumedMessage(applied, now))
			fx.after(func() { e.metrics.ActionsResumed.WithLabelValues("applied").Inc() })
		}

		if len(paused) > 0 {
			e.logger.InfoContext(ctx, "paused actions handled after ride",
				"driver_id", d.ID,
				"booking_id", bookingID,
				"applied", len(res.Applied),
				"expired", len(res.Expired),
			)
		}
		return nil
	})
	if err != nil {
		return ResumeResult{}, err
	}
	return res, nil
}

// Lift ends an applied suspension and restores the account.
func (e *Engine) Lift(ctx context.Context, driverID, actionID string) (Action, error) {
	var lifted Action
	err := e.inTx(ctx, "lift", func(tx pgx.Tx, fx *effects) error {
		d, err := e.store.LockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}
		a, err := e.ownedAction(ctx, tx, d, actionID)
		if err != nil {
			return err
		}
		if a.Type != ActionSuspension || !a.Applied() || a.Ended() {
			return fmt.Errorf("discipline: lift %s action: %w", a.Type, ErrInvalidState)
		}
		lifted, err = e.expire(ctx, tx, &d, a, e.now().UTC())
		if err != nil {
			return err
		}
		fx.notify(d.UserID, notification.TypeSuspensionLifted, liftedMessage(lifted))
		return nil
	})
	return lifted, err
}

func (e *Engine) warn(ctx context.Context, tx pgx.Tx, fx *effects, d *Driver, period Period, count int) (Action, error) {
	now := e.now().UTC()
	if err := e.store.SetLastWarning(ctx, tx, d.ID, now); err != nil {
		return Action{}, err
	}
	d.LastWarningAt = &now

	w, err := e.store.InsertAction(ctx, tx, Action{
		ID:           e.newID(),
		DriverID:     d.ID,
		Type:         ActionWarning,
		DisputeCount: count,
		PeriodStart:  period.Start,
		PeriodEnd:    period.End,
	})
	if err != nil {
		return Action{}, err
	}
	fx.notify(d.UserID, notification.TypeDisputeWarning, warningMessage(count))
	fx.after(func() { e.metrics.ActionsCreated.WithLabelValues(string(ActionWarning), "false").Inc() })
	return w, nil
}

// schedule records a suspension or ban. It is created paused when the driver
// has a ride in progress and applied straight away otherwise.
func (e *Engine) schedule(ctx context.Context, tx pgx.Tx, fx *effects, d *Driver, step Step, count int, period Period) (Action, error) {
	now := e.now().UTC()
	a := Action{
		ID:             e.newID(),
		DriverID:       d.ID,
		Type:           step.Type,
		DisputeCount:   count,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		ScheduledStart: &now,
	}
	if step.Days > 0 {
		days := step.Days
		end := now.AddDate(0, 0, days)
		a.SuspensionDays = &days
		a.ScheduledEnd = &end
	}

	bookingID, busy, err := e.store.ActiveRide(ctx, tx, d.ID)
	if err != nil {
		return Action{}, err
	}
	if busy {
		reason := PauseReasonActiveRide
		a.IsPaused = true
		a.PauseReason = &reason
		a.BlockingBookingID = &bookingID
	}

	created, err := e.store.InsertAction(ctx, tx, a)
	if err != nil {
		return Action{}, err
	}
	if created.Type == ActionSuspension {
		if err := e.store.SetCurrentSuspension(ctx, tx, d.ID, &created.ID); err != nil {
			return Action{}, err
		}
		d.CurrentSuspensionID = &created.ID
	}
	fx.after(func() {
		e.metrics.ActionsCreated.WithLabelValues(string(created.Type), strconv.FormatBool(created.IsPaused)).Inc()
	})

	if !busy {
		return e.apply(ctx, tx, fx, d, created)
	}

	typ := notification.TypeSuspensionScheduled
	if created.Type == ActionBan {
		typ = notification.TypeBanScheduled
	}
	fx.notify(d.UserID, typ, scheduledMessage(created))
	e.logger.InfoContext(ctx, "disciplinary action scheduled paused",
		"driver_id", d.ID,
		"action_id", created.ID,
		"type", created.Type,
		"booking_id", bookingID,
	)
	return created, nil
}

// apply flips the account, takes the driver's cars off the market and stamps
// actual_start, all inside the caller's transaction.
func (e *Engine) apply(ctx context.Context, tx pgx.Tx, fx *effects, d *Driver, a Action) (Action, error) {
	if a.Applied() || a.Ended() {
		return Action{}, fmt.Errorf("discipline: action %s already applied or ended: %w", a.ID, ErrInvalidState)
	}
	if d.AccountStatus == AccountBanned {
		return Action{}, fmt.Errorf("discipline: driver %s is banned: %w", d.ID, ErrInvalidState)
	}

	status := AccountInactive
	if a.Type == ActionBan {
		status = AccountBanned
	}
	if err := e.store.SetAccountStatus(ctx, tx, d.UserID, status); err != nil {
		return Action{}, err
	}
	cars, err := e.store.DeactivateCars(ctx, tx, d.ID)
	if err != nil {
		return Action{}, err
	}
	now := e.now().UTC()
	if err := e.store.MarkApplied(ctx, tx, a.ID, now); err != nil {
		return Action{}, err
	}
	a.ActualStart = &now
	d.AccountStatus = status

	typ := notification.TypeSuspensionStarted
	if a.Type == ActionBan {
		typ = notification.TypeBanApplied
	}
	fx.notify(d.UserID, typ, appliedMessage(a, now))
	fx.after(func() { e.metrics.ActionsApplied.WithLabelValues(string(a.Type)).Inc() })

	e.logger.InfoContext(ctx, "disciplinary action applied",
		"driver_id", d.ID,
		"action_id", a.ID,
		"type", a.Type,
		"cars_deactivated", cars,
	)
	return a, nil
}

// expire closes an action for good. Suspensions give the account back and
// release the driver's current-suspension pointer.
func (e *Engine) expire(ctx context.Context, tx pgx.Tx, d *Driver, a Action, now time.Time) (Action, error) {
	if err := e.store.MarkEnded(ctx, tx, a.ID, now); err != nil {
		return Action{}, err
	}
	a.ActualEnd = &now
	a.IsPaused = false

	if a.Type != ActionSuspension {
		return a, nil
	}
	if d.AccountStatus != AccountBanned {
		if err := e.store.SetAccountStatus(ctx, tx, d.UserID, AccountActive); err != nil {
			return Action{}, err
		}
		d.AccountStatus = AccountActive
	}
	if d.CurrentSuspensionID != nil && *d.CurrentSuspensionID == a.ID {
		if err := e.store.SetCurrentSuspension(ctx, tx, d.ID, nil); err != nil {
			return Action{}, err
		}
		d.CurrentSuspensionID = nil
	}
	return a, nil
}

func (e *Engine) ownedAction(ctx context.Context, tx pgx.Tx, d Driver, actionID string) (Action, error) {
	a, err := e.store.GetActionForUpdate(ctx, tx, actionID)
	if err != nil {
		return Action{}, err
	}
	if a.DriverID != d.ID {
		return Action{}, fmt.Errorf("discipline: action %s for driver %s: %w", actionID, d.ID, ErrNotFound)
	}
	return a, nil
}

type notice struct {
	userID string
	typ    notification.Type
	msg    message
}

// effects collects what must only happen once the transaction has committed.
type effects struct {
	notices []notice
	hooks   []func()
}

func (fx *effects) notify(userID string, typ notification.Type, msg message) {
	fx.notices = append(fx.notices, notice{userID: userID, typ: typ, msg: msg})
}

func (fx *effects) after(f func()) {
	fx.hooks = append(fx.hooks, f)
}

func (e *Engine) inTx(ctx context.Context, step string, fn func(tx pgx.Tx, fx *effects) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return classify(step, fmt.Errorf("discipline: %s: begin tx: %w", step, err))
	}
	defer tx.Rollback(ctx)

	fx := &effects{}
	if err := fn(tx, fx); err != nil {
		return classify(step, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(step, fmt.Errorf("discipline: %s: commit: %w", step, err))
	}

	for _, hook := range fx.hooks {
		hook()
	}
	e.dispatch(ctx, fx.notices)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, notices []notice) {
	if e.notifier == nil {
		return
	}
	for _, n := range notices {
		if err := e.notifier.Send(ctx, n.userID, n.typ, n.msg.title, n.msg.body); err != nil {
			e.metrics.NotificationFailures.WithLabelValues(string(n.typ)).Inc()
			e.logger.WarnContext(ctx, "notification delivery failed",
				"user_id", n.userID,
				"type", n.typ,
				"error", err,
			)
		}
	}
}

package discipline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memStore is an in-memory Store whose state is restored when a transaction
// rolls back, so tests observe the same all-or-nothing behaviour as Postgres.
type memStore struct {
	drivers  map[string]Driver
	actions  []Action
	disputes []memDispute
	bookings map[string]memBooking
	cars     map[string]int

	// failOn makes the named method return failErr.
	failOn  string
	failErr error
	seq     int
}

type memDispute struct {
	driverID  string
	createdAt time.Time
}

type memBooking struct {
	driverID string
	status   string
}

type memState struct {
	drivers  map[string]Driver
	actions  []Action
	disputes []memDispute
	bookings map[string]memBooking
	cars     map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		drivers:  map[string]Driver{},
		bookings: map[string]memBooking{},
		cars:     map[string]int{},
	}
}

func (m *memStore) addDriver(id string, cars int) {
	m.drivers[id] = Driver{ID: id, UserID: "user-" + id, IsVerified: true, AccountStatus: AccountActive}
	m.cars[id] = cars
}

func (m *memStore) addDisputes(driverID string, n int, at time.Time) {
	for i := 0; i < n; i++ {
		m.disputes = append(m.disputes, memDispute{driverID: driverID, createdAt: at})
	}
}

func (m *memStore) startRide(driverID, bookingID string) {
	m.bookings[bookingID] = memBooking{driverID: driverID, status: BookingInProgress}
}

func (m *memStore) finishRide(bookingID string) {
	b := m.bookings[bookingID]
	b.status = "COMPLETED"
	m.bookings[bookingID] = b
}

func (m *memStore) driver(id string) Driver {
	return m.drivers[id]
}

func (m *memStore) actionsOf(driverID string, typ ActionType) []Action {
	var out []Action
	for _, a := range m.actions {
		if a.DriverID == driverID && (typ == "" || a.Type == typ) {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) snapshot() memState {
	st := memState{
		drivers:  make(map[string]Driver, len(m.drivers)),
		actions:  append([]Action(nil), m.actions...),
		disputes: append([]memDispute(nil), m.disputes...),
		bookings: make(map[string]memBooking, len(m.bookings)),
		cars:     make(map[string]int, len(m.cars)),
	}
	for k, v := range m.drivers {
		st.drivers[k] = v
	}
	for k, v := range m.bookings {
		st.bookings[k] = v
	}
	for k, v := range m.cars {
		st.cars[k] = v
	}
	return st
}

func (m *memStore) restore(st memState) {
	m.drivers = st.drivers
	m.actions = st.actions
	m.disputes = st.disputes
	m.bookings = st.bookings
	m.cars = st.cars
}

func (m *memStore) fail(method string) error {
	if m.failOn == method {
		return m.failErr
	}
	return nil
}

func (m *memStore) index(actionID string) int {
	for i := range m.actions {
		if m.actions[i].ID == actionID {
			return i
		}
	}
	return -1
}

func (m *memStore) driverByUser(userID string) (string, bool) {
	for id, d := range m.drivers {
		if d.UserID == userID {
			return id, true
		}
	}
	return "", false
}

func (m *memStore) LockDriver(ctx context.Context, tx pgx.Tx, driverID string) (Driver, error) {
	if err := m.fail("LockDriver"); err != nil {
		return Driver{}, err
	}
	return m.GetDriver(ctx, tx, driverID)
}

func (m *memStore) GetDriver(ctx context.Context, tx pgx.Tx, driverID string) (Driver, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *memStore) LatestAction(ctx context.Context, tx pgx.Tx, driverID string) (Action, bool, error) {
	var latest Action
	found := false
	for _, a := range m.actions {
		if a.DriverID != driverID {
			continue
		}
		if !found || !a.PeriodStart.Before(latest.PeriodStart) {
			latest, found = a, true
		}
	}
	return latest, found, nil
}

func (m *memStore) SavePeriod(ctx context.Context, tx pgx.Tx, driverID string, p Period) error {
	if err := m.fail("SavePeriod"); err != nil {
		return err
	}
	d := m.drivers[driverID]
	start, end := p.Start, p.End
	d.PeriodStart, d.PeriodEnd = &start, &end
	m.drivers[driverID] = d
	return nil
}

func (m *memStore) ClearLastWarning(ctx context.Context, tx pgx.Tx, driverID string) error {
	d := m.drivers[driverID]
	d.LastWarningAt = nil
	m.drivers[driverID] = d
	return nil
}

func (m *memStore) SetLastWarning(ctx context.Context, tx pgx.Tx, driverID string, at time.Time) error {
	d := m.drivers[driverID]
	d.LastWarningAt = &at
	m.drivers[driverID] = d
	return nil
}

func (m *memStore) CountDisputes(ctx context.Context, tx pgx.Tx, driverID string, since time.Time) (int, error) {
	if err := m.fail("CountDisputes"); err != nil {
		return 0, err
	}
	n := 0
	for _, d := range m.disputes {
		if d.driverID == driverID && !d.createdAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountDisputesBetween(ctx context.Context, tx pgx.Tx, driverID string, from, to time.Time) (int, error) {
	n := 0
	for _, d := range m.disputes {
		if d.driverID == driverID && !d.createdAt.Before(from) && d.createdAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ActiveRide(ctx context.Context, tx pgx.Tx, driverID string) (string, bool, error) {
	ids := make([]string, 0, len(m.bookings))
	for id := range m.bookings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := m.bookings[id]
		if b.driverID == driverID && b.status == BookingInProgress {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) BookingInProgress(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error) {
	return m.bookings[bookingID].status == BookingInProgress, nil
}

func (m *memStore) InFlightAction(ctx context.Context, tx pgx.Tx, driverID string, periodStart time.Time) (Action, bool, error) {
	for i := len(m.actions) - 1; i >= 0; i-- {
		a := m.actions[i]
		if a.DriverID == driverID && a.PeriodStart.Equal(periodStart) && a.Type != ActionWarning && !a.Ended() {
			return a, true, nil
		}
	}
	return Action{}, false, nil
}

func (m *memStore) IssuedSteps(ctx context.Context, tx pgx.Tx, driverID string, periodStart time.Time) ([]Step, error) {
	var steps []Step
	for _, a := range m.actions {
		if a.DriverID == driverID && a.PeriodStart.Equal(periodStart) && a.Type != ActionWarning {
			st := Step{Type: a.Type, Days: a.Days()}
			if !containsStep(steps, st) {
				steps = append(steps, st)
			}
		}
	}
	return steps, nil
}

func (m *memStore) InsertAction(ctx context.Context, tx pgx.Tx, a Action) (Action, error) {
	if err := m.fail("InsertAction"); err != nil {
		return Action{}, err
	}
	m.seq++
	a.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	a.UpdatedAt = a.CreatedAt
	m.actions = append(m.actions, a)
	return a, nil
}

func (m *memStore) GetActionForUpdate(ctx context.Context, tx pgx.Tx, actionID string) (Action, error) {
	i := m.index(actionID)
	if i < 0 {
		return Action{}, ErrNotFound
	}
	return m.actions[i], nil
}

func (m *memStore) PendingUnapplied(ctx context.Context, tx pgx.Tx, driverID string) (Action, bool, error) {
	for _, a := range m.actions {
		if a.DriverID == driverID && a.Type != ActionWarning && !a.Applied() && !a.Ended() && !a.IsPaused {
			return a, true, nil
		}
	}
	return Action{}, false, nil
}

func (m *memStore) PausedForBooking(ctx context.Context, tx pgx.Tx, driverID, bookingID string) ([]Action, error) {
	var out []Action
	for _, a := range m.actions {
		if a.DriverID == driverID && a.IsPaused && !a.Ended() &&
			a.BlockingBookingID != nil && *a.BlockingBookingID == bookingID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListActions(ctx context.Context, tx pgx.Tx, driverID string) ([]Action, error) {
	var out []Action
	for i := len(m.actions) - 1; i >= 0; i-- {
		if m.actions[i].DriverID == driverID {
			out = append(out, m.actions[i])
		}
	}
	return out, nil
}

func (m *memStore) ListPending(ctx context.Context, tx pgx.Tx) ([]Action, error) {
	var out []Action
	for _, a := range m.actions {
		if a.Type != ActionWarning && !a.Applied() && !a.Ended() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListExpiredApplied(ctx context.Context, tx pgx.Tx, now time.Time) ([]Action, error) {
	var out []Action
	for _, a := range m.actions {
		if a.Type == ActionSuspension && a.Applied() && !a.Ended() &&
			a.ScheduledEnd != nil && !a.ScheduledEnd.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) MarkApplied(ctx context.Context, tx pgx.Tx, actionID string, at time.Time) error {
	if err := m.fail("MarkApplied"); err != nil {
		return err
	}
	i := m.index(actionID)
	if i < 0 || m.actions[i].Applied() || m.actions[i].Ended() {
		return ErrInvalidState
	}
	m.actions[i].ActualStart = &at
	return nil
}

func (m *memStore) MarkEnded(ctx context.Context, tx pgx.Tx, actionID string, at time.Time) error {
	i := m.index(actionID)
	if i < 0 || m.actions[i].Ended() {
		return ErrInvalidState
	}
	m.actions[i].ActualEnd = &at
	m.actions[i].IsPaused = false
	return nil
}

func (m *memStore) Pause(ctx context.Context, tx pgx.Tx, actionID, bookingID, reason string) error {
	i := m.index(actionID)
	if i < 0 || m.actions[i].Applied() || m.actions[i].Ended() {
		return ErrInvalidState
	}
	m.actions[i].IsPaused = true
	m.actions[i].PauseReason = &reason
	m.actions[i].BlockingBookingID = &bookingID
	return nil
}

func (m *memStore) Unpause(ctx context.Context, tx pgx.Tx, actionID string) error {
	if i := m.index(actionID); i >= 0 {
		m.actions[i].IsPaused = false
	}
	return nil
}

func (m *memStore) SetCurrentSuspension(ctx context.Context, tx pgx.Tx, driverID string, actionID *string) error {
	d := m.drivers[driverID]
	d.CurrentSuspensionID = actionID
	m.drivers[driverID] = d
	return nil
}

func (m *memStore) SetAccountStatus(ctx context.Context, tx pgx.Tx, userID string, status AccountStatus) error {
	id, ok := m.driverByUser(userID)
	if !ok {
		return ErrNotFound
	}
	d := m.drivers[id]
	d.AccountStatus = status
	m.drivers[id] = d
	return nil
}

func (m *memStore) DeactivateCars(ctx context.Context, tx pgx.Tx, driverID string) (int64, error) {
	if err := m.fail("DeactivateCars"); err != nil {
		return 0, err
	}
	n := m.cars[driverID]
	m.cars[driverID] = 0
	return int64(n), nil
}

type fakePool struct {
	store     *memStore
	beginErr  error
	commitErr error
	begun     int
	committed int
	rolled    int
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun++
	return &fakeTx{pool: f, saved: f.store.snapshot()}, nil
}

type fakeTx struct {
	pool  *fakePool
	saved memState
	done  bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	if f.done {
		return pgx.ErrTxClosed
	}
	if f.pool.commitErr != nil {
		return f.pool.commitErr
	}
	f.done = true
	f.pool.committed++
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.done {
		return pgx.ErrTxClosed
	}
	f.done = true
	f.pool.rolled++
	f.pool.store.restore(f.saved)
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

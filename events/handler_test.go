package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"bookinghub/discipline"
	"bookinghub/metrics"
)

type call struct {
	op        string
	driverID  string
	bookingID string
}

type fakeTriggers struct {
	calls []call
	err   error
}

func (f *fakeTriggers) Evaluate(ctx context.Context, driverID string) (discipline.Outcome, error) {
	f.calls = append(f.calls, call{op: "evaluate", driverID: driverID})
	return discipline.Outcome{DriverID: driverID}, f.err
}

func (f *fakeTriggers) PauseIfActiveRide(ctx context.Context, driverID string) (bool, error) {
	f.calls = append(f.calls, call{op: "pause", driverID: driverID})
	return false, f.err
}

func (f *fakeTriggers) ResumeAfterRide(ctx context.Context, driverID, bookingID string) (discipline.ResumeResult, error) {
	f.calls = append(f.calls, call{op: "resume", driverID: driverID, bookingID: bookingID})
	return discipline.ResumeResult{}, f.err
}

type memDeduper struct {
	claimed  map[string]bool
	released []string
	err      error
}

func newMemDeduper() *memDeduper {
	return &memDeduper{claimed: map[string]bool{}}
}

func (m *memDeduper) Claim(ctx context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.claimed[id] {
		return false, nil
	}
	m.claimed[id] = true
	return true, nil
}

func (m *memDeduper) Release(ctx context.Context, id string) error {
	delete(m.claimed, id)
	m.released = append(m.released, id)
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payload(t *testing.T, env Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestHandlerRoutesEventTypes(t *testing.T) {
	triggers := &fakeTriggers{}
	h := NewHandler(triggers, newMemDeduper(), quiet(), metrics.NewNop())
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, h.Handle(ctx, payload(t, Envelope{EventID: "e1", Type: TypeDisputeCreated, DriverID: "d1", DisputeID: "x", OccurredAt: at})))
	require.NoError(t, h.Handle(ctx, payload(t, Envelope{EventID: "e2", Type: TypeRideStarted, DriverID: "d1", BookingID: "b1", OccurredAt: at})))
	require.NoError(t, h.Handle(ctx, payload(t, Envelope{EventID: "e3", Type: TypeRideCompleted, DriverID: "d1", BookingID: "b1", OccurredAt: at})))

	assert.Equal(t, []call{
		{op: "evaluate", driverID: "d1"},
		{op: "pause", driverID: "d1"},
		{op: "resume", driverID: "d1", bookingID: "b1"},
	}, triggers.calls)
}

func TestHandlerSkipsDuplicates(t *testing.T) {
	triggers := &fakeTriggers{}
	m := metrics.NewNop()
	h := NewHandler(triggers, newMemDeduper(), quiet(), m)
	body := payload(t, Envelope{EventID: "e1", Type: TypeDisputeCreated, DriverID: "d1"})

	require.NoError(t, h.Handle(context.Background(), body))
	require.NoError(t, h.Handle(context.Background(), body))

	assert.Len(t, triggers.calls, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsConsumed.WithLabelValues(TypeDisputeCreated, "duplicate")))
}

func TestHandlerDropsMalformed(t *testing.T) {
	triggers := &fakeTriggers{}
	m := metrics.NewNop()
	h := NewHandler(triggers, newMemDeduper(), quiet(), m)
	ctx := context.Background()

	assert.NoError(t, h.Handle(ctx, []byte("{not json")))
	assert.NoError(t, h.Handle(ctx, payload(t, Envelope{EventID: "e1", Type: "ride.teleported", DriverID: "d1"})))
	assert.NoError(t, h.Handle(ctx, payload(t, Envelope{EventID: "e2", Type: TypeRideCompleted, DriverID: "d1"})))
	assert.NoError(t, h.Handle(ctx, payload(t, Envelope{Type: TypeDisputeCreated, DriverID: "d1"})))

	assert.Empty(t, triggers.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsConsumed.WithLabelValues("unknown", "malformed")))
}

func TestHandlerRejectedTransitionIsNotRetried(t *testing.T) {
	triggers := &fakeTriggers{err: fmt.Errorf("lookup: %w", discipline.ErrNotFound)}
	dedupe := newMemDeduper()
	h := NewHandler(triggers, dedupe, quiet(), metrics.NewNop())

	err := h.Handle(context.Background(), payload(t, Envelope{EventID: "e1", Type: TypeDisputeCreated, DriverID: "gone"}))
	assert.NoError(t, err)
	assert.True(t, dedupe.claimed["e1"])
	assert.Empty(t, dedupe.released)
}

func TestHandlerMalformedDriverIDIsNotRetried(t *testing.T) {
	cause := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`}
	triggers := &fakeTriggers{err: fmt.Errorf("discipline: evaluate: %w: %w", discipline.ErrNotFound, cause)}
	dedupe := newMemDeduper()
	m := metrics.NewNop()
	h := NewHandler(triggers, dedupe, quiet(), m)

	err := h.Handle(context.Background(), payload(t, Envelope{EventID: "e1", Type: TypeDisputeCreated, DriverID: "not-a-uuid"}))
	require.NoError(t, err)
	assert.True(t, dedupe.claimed["e1"])
	assert.Empty(t, dedupe.released)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsConsumed.WithLabelValues(TypeDisputeCreated, "rejected")))
}

func TestHandlerTransientFailureReleasesClaim(t *testing.T) {
	triggers := &fakeTriggers{err: fmt.Errorf("evaluate: %w", discipline.ErrTransient)}
	dedupe := newMemDeduper()
	h := NewHandler(triggers, dedupe, quiet(), metrics.NewNop())

	err := h.Handle(context.Background(), payload(t, Envelope{EventID: "e1", Type: TypeDisputeCreated, DriverID: "d1"}))
	assert.ErrorIs(t, err, discipline.ErrTransient)
	assert.Equal(t, []string{"e1"}, dedupe.released)
	assert.False(t, dedupe.claimed["e1"])
}

func TestHandlerDedupeOutage(t *testing.T) {
	dedupe := newMemDeduper()
	dedupe.err = errors.New("redis: connection refused")
	triggers := &fakeTriggers{}
	h := NewHandler(triggers, dedupe, quiet(), metrics.NewNop())

	err := h.Handle(context.Background(), payload(t, Envelope{EventID: "e1", Type: TypeRideStarted, DriverID: "d1"}))
	assert.Error(t, err)
	assert.Empty(t, triggers.calls)
}

type fakeFetcher struct {
	batches   []kgo.Fetches
	committed []*kgo.Record
	cancel    context.CancelFunc
}

func (f *fakeFetcher) PollFetches(ctx context.Context) kgo.Fetches {
	if len(f.batches) == 0 {
		f.cancel()
		return nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next
}

func (f *fakeFetcher) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	f.committed = append(f.committed, rs...)
	return nil
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := []*kgo.Record{
		{Topic: "rides", Offset: 1, Value: payload(t, Envelope{EventID: "e1", Type: TypeRideStarted, DriverID: "d1"})},
		{Topic: "rides", Offset: 2, Value: payload(t, Envelope{EventID: "e2", Type: TypeRideCompleted, DriverID: "d1", BookingID: "b1"})},
	}
	fetcher := &fakeFetcher{
		cancel: cancel,
		batches: []kgo.Fetches{{{Topics: []kgo.FetchTopic{{
			Topic:      "rides",
			Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
		}}}}},
	}
	triggers := &fakeTriggers{}
	c := NewConsumer(fetcher, NewHandler(triggers, newMemDeduper(), quiet(), metrics.NewNop()), quiet())

	require.NoError(t, c.Run(ctx))
	assert.Len(t, triggers.calls, 2)
	assert.Equal(t, records, fetcher.committed)
}

func TestConsumerGivesUpAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	record := &kgo.Record{Topic: "disputes", Value: payload(t, Envelope{EventID: "e1", Type: TypeDisputeCreated, DriverID: "d1"})}
	fetcher := &fakeFetcher{
		cancel: cancel,
		batches: []kgo.Fetches{{{Topics: []kgo.FetchTopic{{
			Topic:      "disputes",
			Partitions: []kgo.FetchPartition{{Records: []*kgo.Record{record}}},
		}}}}},
	}
	triggers := &fakeTriggers{err: discipline.ErrTransient}
	c := NewConsumer(fetcher, NewHandler(triggers, newMemDeduper(), quiet(), metrics.NewNop()), quiet())
	c.backoff = time.Millisecond

	require.NoError(t, c.Run(ctx))
	assert.Len(t, triggers.calls, c.maxRetries+1)
	assert.Len(t, fetcher.committed, 1)
}

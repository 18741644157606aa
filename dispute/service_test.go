package dispute

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookinghub/discipline"
)

type fakeStore struct {
	created []CreateParams
	record  Record
	err     error
	moved   map[string]Status
}

func (f *fakeStore) List(context.Context, Filter) ([]Record, error) {
	return []Record{f.record}, f.err
}

func (f *fakeStore) Create(_ context.Context, p CreateParams) (Record, error) {
	f.created = append(f.created, p)
	return f.record, f.err
}

func (f *fakeStore) Transition(_ context.Context, id string, to Status) (Record, error) {
	if f.err != nil {
		return Record{}, f.err
	}
	if f.moved == nil {
		f.moved = map[string]Status{}
	}
	f.moved[id] = to
	rec := f.record
	rec.Status = to
	return rec, nil
}

type fakeEscalator struct {
	calls []string
	err   error
}

func (f *fakeEscalator) Evaluate(_ context.Context, driverID string) (discipline.Outcome, error) {
	f.calls = append(f.calls, driverID)
	if f.err != nil {
		return discipline.Outcome{}, f.err
	}
	return discipline.Outcome{DriverID: driverID, DisputeCount: 5}, nil
}

func ptr(s string) *string { return &s }

func TestCreateCarDisputeEscalates(t *testing.T) {
	store := &fakeStore{record: Record{ID: "dsp-1", CarBookingID: ptr("cb-1"), DriverID: ptr("drv-1")}}
	esc := &fakeEscalator{}
	svc := NewService(store, esc, nil)

	rec, outcome, err := svc.Create(context.Background(), CreateParams{RaisedBy: "u1", CarBookingID: " cb-1 "})
	require.NoError(t, err)
	assert.Equal(t, "dsp-1", rec.ID)
	assert.Equal(t, []string{"drv-1"}, esc.calls)
	assert.Equal(t, 5, outcome.DisputeCount)
	assert.Equal(t, "cb-1", store.created[0].CarBookingID)
}

func TestCreateHotelDisputeSkipsEscalation(t *testing.T) {
	store := &fakeStore{record: Record{ID: "dsp-2", HotelBookingID: ptr("hb-1")}}
	esc := &fakeEscalator{}
	svc := NewService(store, esc, nil)

	_, outcome, err := svc.Create(context.Background(), CreateParams{RaisedBy: "u1", HotelBookingID: "hb-1"})
	require.NoError(t, err)
	assert.Empty(t, esc.calls)
	assert.Empty(t, outcome.DriverID)
}

func TestCreateRequiresExactlyOneBooking(t *testing.T) {
	svc := NewService(&fakeStore{}, nil, nil)

	_, _, err := svc.Create(context.Background(), CreateParams{RaisedBy: "u1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Create(context.Background(), CreateParams{RaisedBy: "u1", HotelBookingID: "h", CarBookingID: "c"})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Create(context.Background(), CreateParams{CarBookingID: "c"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateKeepsDisputeWhenEscalationFails(t *testing.T) {
	store := &fakeStore{record: Record{ID: "dsp-3", CarBookingID: ptr("cb-1"), DriverID: ptr("drv-1")}}
	svc := NewService(store, &fakeEscalator{err: discipline.ErrTransient}, nil)

	rec, _, err := svc.Create(context.Background(), CreateParams{RaisedBy: "u1", CarBookingID: "cb-1"})
	assert.ErrorIs(t, err, ErrEscalation)
	assert.ErrorIs(t, err, discipline.ErrTransient)
	assert.Equal(t, "dsp-3", rec.ID)
}

func TestResolveAndReject(t *testing.T) {
	store := &fakeStore{record: Record{ID: "dsp-4"}}
	svc := NewService(store, nil, nil)

	rec, err := svc.Resolve(context.Background(), "dsp-4")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, rec.Status)

	_, err = svc.Reject(context.Background(), "dsp-5")
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"dsp-4": StatusResolved, "dsp-5": StatusRejected}, store.moved)

	store.err = ErrInvalidState
	_, err = svc.Reject(context.Background(), "dsp-4")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bookinghub/discipline"
)

// Store is the persistence surface the service needs; *Repository satisfies it.
type Store interface {
	List(ctx context.Context, f Filter) ([]Record, error)
	Create(ctx context.Context, p CreateParams) (Record, error)
	Transition(ctx context.Context, disputeID string, to Status) (Record, error)
}

// Escalator re-evaluates a driver after a car dispute lands.
type Escalator interface {
	Evaluate(ctx context.Context, driverID string) (discipline.Outcome, error)
}

type Service struct {
	store     Store
	escalator Escalator
	logger    *slog.Logger
}

// NewService wires the dispute store to the escalation engine. escalator may
// be nil when disputes arrive through the event stream instead.
func NewService(store Store, escalator Escalator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, escalator: escalator, logger: logger}
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	return s.store.List(ctx, f)
}

// Create records the dispute and, for car bookings, runs the escalation
// evaluation for the owning driver. An evaluation failure does not undo the
// dispute: the committed record is returned alongside an error wrapping
// ErrEscalation.
func (s *Service) Create(ctx context.Context, p CreateParams) (Record, discipline.Outcome, error) {
	p.HotelBookingID = strings.TrimSpace(p.HotelBookingID)
	p.CarBookingID = strings.TrimSpace(p.CarBookingID)
	if (p.HotelBookingID == "") == (p.CarBookingID == "") {
		return Record{}, discipline.Outcome{}, ErrValidation
	}
	if p.RaisedBy == "" {
		return Record{}, discipline.Outcome{}, fmt.Errorf("dispute: raised_by is required: %w", ErrValidation)
	}

	rec, err := s.store.Create(ctx, p)
	if err != nil {
		return Record{}, discipline.Outcome{}, err
	}
	if rec.DriverID == nil || s.escalator == nil {
		return rec, discipline.Outcome{}, nil
	}

	outcome, err := s.escalator.Evaluate(ctx, *rec.DriverID)
	if err != nil {
		s.logger.ErrorContext(ctx, "dispute escalation failed",
			"dispute_id", rec.ID, "driver_id", *rec.DriverID, "err", err)
		return rec, discipline.Outcome{}, fmt.Errorf("%w: %w", ErrEscalation, err)
	}
	return rec, outcome, nil
}

func (s *Service) Resolve(ctx context.Context, disputeID string) (Record, error) {
	return s.store.Transition(ctx, disputeID, StatusResolved)
}

func (s *Service) Reject(ctx context.Context, disputeID string) (Record, error) {
	return s.store.Transition(ctx, disputeID, StatusRejected)
}

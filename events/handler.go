package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookinghub/discipline"
	"bookinghub/metrics"
)

// Event types carried in the envelope's type field.
const (
	TypeRideStarted    = "ride.started"
	TypeRideCompleted  = "ride.completed"
	TypeDisputeCreated = "dispute.created"
)

// ErrMalformed marks a payload that can never be processed.
var ErrMalformed = errors.New("events: malformed event")

// Envelope is the JSON body of every inbound event.
type Envelope struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	DriverID   string    `json:"driver_id"`
	BookingID  string    `json:"booking_id,omitempty"`
	DisputeID  string    `json:"dispute_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e Envelope) validate() error {
	if e.EventID == "" || e.DriverID == "" {
		return fmt.Errorf("%w: event_id and driver_id are required", ErrMalformed)
	}
	switch e.Type {
	case TypeRideStarted, TypeDisputeCreated:
	case TypeRideCompleted:
		if e.BookingID == "" {
			return fmt.Errorf("%w: %s without booking_id", ErrMalformed, e.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
	return nil
}

// Triggers are the engine entry points driven by events.
type Triggers interface {
	Evaluate(ctx context.Context, driverID string) (discipline.Outcome, error)
	PauseIfActiveRide(ctx context.Context, driverID string) (bool, error)
	ResumeAfterRide(ctx context.Context, driverID, bookingID string) (discipline.ResumeResult, error)
}

// Deduper remembers processed event ids. Claim reports false when the id was
// already claimed; Release gives a claim back after a failed attempt.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Handler decodes an event and runs the matching trigger at most once.
type Handler struct {
	triggers Triggers
	dedupe   Deduper
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewHandler(triggers Triggers, dedupe Deduper, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Handler{triggers: triggers, dedupe: dedupe, logger: logger, metrics: m}
}

// Handle returns an error only when a retry could succeed. Malformed events and
// rejected transitions are logged and dropped.
func (h *Handler) Handle(ctx context.Context, value []byte) error {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		h.drop(ctx, "unknown", fmt.Errorf("%w: %v", ErrMalformed, err))
		return nil
	}
	if err := env.validate(); err != nil {
		h.drop(ctx, env.Type, err)
		return nil
	}

	if h.dedupe != nil {
		fresh, err := h.dedupe.Claim(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("events: claim %s: %w", env.EventID, err)
		}
		if !fresh {
			h.metrics.EventsConsumed.WithLabelValues(env.Type, "duplicate").Inc()
			h.logger.DebugContext(ctx, "duplicate event skipped", "event_id", env.EventID, "type", env.Type)
			return nil
		}
	}

	err := h.dispatch(ctx, env)
	if err == nil {
		h.metrics.EventsConsumed.WithLabelValues(env.Type, "ok").Inc()
		return nil
	}

	if errors.Is(err, discipline.ErrNotFound) || errors.Is(err, discipline.ErrInvalidState) {
		h.metrics.EventsConsumed.WithLabelValues(env.Type, "rejected").Inc()
		h.logger.WarnContext(ctx, "event rejected",
			"event_id", env.EventID,
			"type", env.Type,
			"driver_id", env.DriverID,
			"error", err,
		)
		return nil
	}

	h.metrics.EventsConsumed.WithLabelValues(env.Type, "error").Inc()
	if h.dedupe != nil {
		if rerr := h.dedupe.Release(ctx, env.EventID); rerr != nil {
			h.logger.WarnContext(ctx, "release event claim failed", "event_id", env.EventID, "error", rerr)
		}
	}
	return fmt.Errorf("events: %s %s: %w", env.Type, env.EventID, err)
}

func (h *Handler) dispatch(ctx context.Context, env Envelope) error {
	switch env.Type {
	case TypeDisputeCreated:
		out, err := h.triggers.Evaluate(ctx, env.DriverID)
		if err == nil && out.Scheduled != nil {
			h.logger.InfoContext(ctx, "dispute escalated",
				"driver_id", env.DriverID,
				"dispute_id", env.DisputeID,
				"action_id", out.Scheduled.ID,
			)
		}
		return err
	case TypeRideStarted:
		_, err := h.triggers.PauseIfActiveRide(ctx, env.DriverID)
		return err
	case TypeRideCompleted:
		_, err := h.triggers.ResumeAfterRide(ctx, env.DriverID, env.BookingID)
		return err
	}
	return nil
}

func (h *Handler) drop(ctx context.Context, typ string, err error) {
	h.metrics.EventsConsumed.WithLabelValues(typ, "malformed").Inc()
	h.logger.WarnContext(ctx, "malformed event dropped", "error", err)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookinghub/auth"
	"bookinghub/discipline"
	"bookinghub/dispute"
	"bookinghub/driver"
	"bookinghub/notification"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

type disciplineService interface {
	Evaluate(ctx context.Context, driverID string) (discipline.Outcome, error)
	Apply(ctx context.Context, driverID, actionID string) (discipline.Action, error)
	Lift(ctx context.Context, driverID, actionID string) (discipline.Action, error)
	PauseIfActiveRide(ctx context.Context, driverID string) (bool, error)
	ResumeAfterRide(ctx context.Context, driverID, bookingID string) (discipline.ResumeResult, error)
	Status(ctx context.Context, driverID string) (discipline.Status, error)
	History(ctx context.Context, driverID string) ([]discipline.HistoryEntry, error)
	Pending(ctx context.Context) ([]discipline.Action, error)
}

type disputeService interface {
	List(ctx context.Context, f dispute.Filter) ([]dispute.Record, error)
	Create(ctx context.Context, p dispute.CreateParams) (dispute.Record, discipline.Outcome, error)
	Resolve(ctx context.Context, disputeID string) (dispute.Record, error)
	Reject(ctx context.Context, disputeID string) (dispute.Record, error)
}

type driverService interface {
	Profile(ctx context.Context, id string) (driver.Profile, error)
}

type notificationReader interface {
	List(ctx context.Context, userID string, limit int) ([]notification.Message, error)
}

type tokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

// Server holds the HTTP dependencies. Nil services leave their routes
// answering 503.
type Server struct {
	disciplineService disciplineService
	disputeService    disputeService
	driverService     driverService
	notifications     notificationReader
	tokens            tokenVerifier
	metricsHandler    http.Handler
	ready             func(ctx context.Context) error
	logger            *slog.Logger
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", s.handleListMyDisputes)
			r.Post("/", s.handleCreateDispute)
		})
		r.Get("/notifications", s.handleListMyNotifications)

		r.Route("/internal", func(r chi.Router) {
			r.Use(requireRole(auth.RoleService, auth.RoleAdmin))
			r.Post("/rides/started", s.handleRideStarted)
			r.Post("/rides/completed", s.handleRideCompleted)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(auth.RoleAdmin))
			r.Get("/discipline/pending", s.handlePending)
			r.Patch("/disputes/{disputeID}", s.handleUpdateDispute)
			r.Route("/drivers/{driverID}", func(r chi.Router) {
				r.Get("/", s.handleDriver)
				r.Get("/disputes", s.handleDriverDisputes)
				r.Get("/discipline", s.handleDisciplineStatus)
				r.Get("/discipline/history", s.handleDisciplineHistory)
				r.Post("/discipline/evaluate", s.handleEvaluate)
				r.Post("/discipline/actions/{actionID}/apply", s.handleApplyAction)
				r.Post("/discipline/actions/{actionID}/lift", s.handleLiftAction)
			})
		})
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.tokens.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, id.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, id.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log().WarnContext(ctx, "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- admin: driver + discipline ---

func (s *Server) handleDriver(w http.ResponseWriter, r *http.Request) {
	if s.driverService == nil {
		writeError(w, http.StatusServiceUnavailable, "driver service unavailable")
		return
	}
	p, err := s.driverService.Profile(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(p))
}

func (s *Server) handleDisciplineStatus(w http.ResponseWriter, r *http.Request) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	st, err := s.disciplineService.Status(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleDisciplineHistory(w http.ResponseWriter, r *http.Request) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	entries, err := s.disciplineService.History(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyEntryResponse{
			Action:           toActionResponse(e.Action),
			DisputesInWindow: e.DisputesInWindow,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	actions, err := s.disciplineService.Pending(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toActionResponses(actions), "total": len(actions)})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	out, err := s.disciplineService.Evaluate(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(out))
}

func (s *Server) handleApplyAction(w http.ResponseWriter, r *http.Request) {
	s.handleActionTransition(w, r, func(ctx context.Context, driverID, actionID string) (discipline.Action, error) {
		return s.disciplineService.Apply(ctx, driverID, actionID)
	})
}

func (s *Server) handleLiftAction(w http.ResponseWriter, r *http.Request) {
	s.handleActionTransition(w, r, func(ctx context.Context, driverID, actionID string) (discipline.Action, error) {
		return s.disciplineService.Lift(ctx, driverID, actionID)
	})
}

func (s *Server) handleActionTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, driverID, actionID string) (discipline.Action, error)) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	action, err := fn(r.Context(), chi.URLParam(r, "driverID"), chi.URLParam(r, "actionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(action))
}

// --- internal ride hooks ---

type rideEventRequest struct {
	DriverID  string `json:"driverId"`
	BookingID string `json:"bookingId"`
}

func (s *Server) handleRideStarted(w http.ResponseWriter, r *http.Request) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	var req rideEventRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.DriverID) == "" {
		writeError(w, http.StatusBadRequest, "driverId is required")
		return
	}
	paused, err := s.disciplineService.PauseIfActiveRide(r.Context(), req.DriverID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleRideCompleted(w http.ResponseWriter, r *http.Request) {
	if s.disciplineService == nil {
		writeError(w, http.StatusServiceUnavailable, "discipline service unavailable")
		return
	}
	var req rideEventRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.DriverID) == "" || strings.TrimSpace(req.BookingID) == "" {
		writeError(w, http.StatusBadRequest, "driverId and bookingId are required")
		return
	}
	res, err := s.disciplineService.ResumeAfterRide(r.Context(), req.DriverID, req.BookingID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{
		Applied: toActionResponses(res.Applied),
		Expired: toActionResponses(res.Expired),
	})
}

// --- disputes ---

type createDisputeRequest struct {
	HotelBookingID string `json:"hotelBookingId"`
	CarBookingID   string `json:"carBookingId"`
	Reason         string `json:"reason"`
}

type updateDisputeRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	if s.disputeService == nil {
		writeError(w, http.StatusServiceUnavailable, "dispute service unavailable")
		return
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	var req createDisputeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, outcome, err := s.disputeService.Create(r.Context(), dispute.CreateParams{
		RaisedBy:       userID,
		HotelBookingID: req.HotelBookingID,
		CarBookingID:   req.CarBookingID,
		Reason:         req.Reason,
	})
	if err != nil && !errors.Is(err, dispute.ErrEscalation) {
		s.writeServiceError(w, r, err)
		return
	}

	resp := createDisputeResponse{Dispute: toDisputeResponse(rec)}
	if err != nil {
		resp.EscalationError = err.Error()
	} else if outcome.DriverID != "" {
		o := toOutcomeResponse(outcome)
		resp.Escalation = &o
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListMyDisputes(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	s.listDisputes(w, r, dispute.Filter{RaisedBy: userID})
}

func (s *Server) handleDriverDisputes(w http.ResponseWriter, r *http.Request) {
	s.listDisputes(w, r, dispute.Filter{
		DriverID: chi.URLParam(r, "driverID"),
		Status:   dispute.Status(r.URL.Query().Get("status")),
	})
}

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request, f dispute.Filter) {
	if s.disputeService == nil {
		writeError(w, http.StatusServiceUnavailable, "dispute service unavailable")
		return
	}
	records, err := s.disputeService.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleUpdateDispute(w http.ResponseWriter, r *http.Request) {
	if s.disputeService == nil {
		writeError(w, http.StatusServiceUnavailable, "dispute service unavailable")
		return
	}
	var req updateDisputeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "disputeID")
	var (
		rec dispute.Record
		err error
	)
	switch dispute.Status(req.Status) {
	case dispute.StatusResolved:
		rec, err = s.disputeService.Resolve(r.Context(), id)
	case dispute.StatusRejected:
		rec, err = s.disputeService.Reject(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "status must be resolved or rejected")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

// --- notifications ---

func (s *Server) handleListMyNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	msgs, err := s.notifications.List(r.Context(), userID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]notificationResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toNotificationResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// --- errors + encoding ---

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, discipline.ErrNotFound), errors.Is(err, dispute.ErrNotFound), errors.Is(err, driver.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, discipline.ErrInvalidState), errors.Is(err, dispute.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispute.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discipline.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		s.log().ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

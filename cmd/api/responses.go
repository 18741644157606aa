package main

import (
	"time"

	"bookinghub/discipline"
	"bookinghub/dispute"
	"bookinghub/driver"
	"bookinghub/notification"
)

type actionResponse struct {
	ID                string  `json:"id"`
	DriverID          string  `json:"driverId"`
	Type              string  `json:"type"`
	DisputeCount      int     `json:"disputeCount"`
	SuspensionDays    *int    `json:"suspensionDays,omitempty"`
	PeriodStart       string  `json:"periodStart"`
	PeriodEnd         string  `json:"periodEnd"`
	ScheduledStart    *string `json:"scheduledStart,omitempty"`
	ScheduledEnd      *string `json:"scheduledEnd,omitempty"`
	ActualStart       *string `json:"actualStart,omitempty"`
	ActualEnd         *string `json:"actualEnd,omitempty"`
	IsPaused          bool    `json:"isPaused"`
	PauseReason       *string `json:"pauseReason,omitempty"`
	BlockingBookingID *string `json:"blockingBookingId,omitempty"`
	CreatedAt         string  `json:"createdAt"`
}

type historyEntryResponse struct {
	Action           actionResponse `json:"action"`
	DisputesInWindow int            `json:"disputesInWindow"`
}

type statusResponse struct {
	DriverID          string          `json:"driverId"`
	AccountStatus     string          `json:"accountStatus"`
	PeriodStart       string          `json:"periodStart"`
	PeriodEnd         string          `json:"periodEnd"`
	DisputesInPeriod  int             `json:"disputesInPeriod"`
	LastWarningAt     *string         `json:"lastWarningAt,omitempty"`
	CurrentSuspension *actionResponse `json:"currentSuspension,omitempty"`
	ActiveBan         *actionResponse `json:"activeBan,omitempty"`
}

type outcomeResponse struct {
	DriverID     string          `json:"driverId"`
	PeriodStart  string          `json:"periodStart"`
	PeriodEnd    string          `json:"periodEnd"`
	PeriodReset  bool            `json:"periodReset"`
	DisputeCount int             `json:"disputeCount"`
	Skipped      bool            `json:"skipped"`
	Warning      *actionResponse `json:"warning,omitempty"`
	Scheduled    *actionResponse `json:"scheduled,omitempty"`
}

type resumeResponse struct {
	Applied []actionResponse `json:"applied"`
	Expired []actionResponse `json:"expired"`
}

type disputeResponse struct {
	ID             string  `json:"id"`
	HotelBookingID *string `json:"hotelBookingId,omitempty"`
	CarBookingID   *string `json:"carBookingId,omitempty"`
	DriverID       *string `json:"driverId,omitempty"`
	RaisedBy       string  `json:"raisedBy"`
	Reason         string  `json:"reason"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
	ResolvedAt     *string `json:"resolvedAt,omitempty"`
}

type createDisputeResponse struct {
	Dispute         disputeResponse  `json:"dispute"`
	Escalation      *outcomeResponse `json:"escalation,omitempty"`
	EscalationError string           `json:"escalationError,omitempty"`
}

type carResponse struct {
	ID       string `json:"id"`
	Plate    string `json:"plate"`
	Model    string `json:"model"`
	IsActive bool   `json:"isActive"`
}

type driverResponse struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	FullName      string        `json:"fullName"`
	Email         string        `json:"email"`
	IsVerified    bool          `json:"isVerified"`
	AccountStatus string        `json:"accountStatus"`
	CreatedAt     string        `json:"createdAt"`
	Cars          []carResponse `json:"cars"`
}

type notificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toActionResponse(a discipline.Action) actionResponse {
	return actionResponse{
		ID:                a.ID,
		DriverID:          a.DriverID,
		Type:              string(a.Type),
		DisputeCount:      a.DisputeCount,
		SuspensionDays:    a.SuspensionDays,
		PeriodStart:       formatTime(a.PeriodStart),
		PeriodEnd:         formatTime(a.PeriodEnd),
		ScheduledStart:    formatOptional(a.ScheduledStart),
		ScheduledEnd:      formatOptional(a.ScheduledEnd),
		ActualStart:       formatOptional(a.ActualStart),
		ActualEnd:         formatOptional(a.ActualEnd),
		IsPaused:          a.IsPaused,
		PauseReason:       a.PauseReason,
		BlockingBookingID: a.BlockingBookingID,
		CreatedAt:         formatTime(a.CreatedAt),
	}
}

func toActionResponses(actions []discipline.Action) []actionResponse {
	out := make([]actionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, toActionResponse(a))
	}
	return out
}

func optionalAction(a *discipline.Action) *actionResponse {
	if a == nil {
		return nil
	}
	resp := toActionResponse(*a)
	return &resp
}

func toStatusResponse(st discipline.Status) statusResponse {
	return statusResponse{
		DriverID:          st.DriverID,
		AccountStatus:     string(st.AccountStatus),
		PeriodStart:       formatTime(st.Period.Start),
		PeriodEnd:         formatTime(st.Period.End),
		DisputesInPeriod:  st.DisputesInPeriod,
		LastWarningAt:     formatOptional(st.LastWarningAt),
		CurrentSuspension: optionalAction(st.CurrentSuspension),
		ActiveBan:         optionalAction(st.ActiveBan),
	}
}

func toOutcomeResponse(o discipline.Outcome) outcomeResponse {
	return outcomeResponse{
		DriverID:     o.DriverID,
		PeriodStart:  formatTime(o.Period.Start),
		PeriodEnd:    formatTime(o.Period.End),
		PeriodReset:  o.PeriodReset,
		DisputeCount: o.DisputeCount,
		Skipped:      o.Skipped,
		Warning:      optionalAction(o.Warning),
		Scheduled:    optionalAction(o.Scheduled),
	}
}

func toDisputeResponse(r dispute.Record) disputeResponse {
	return disputeResponse{
		ID:             r.ID,
		HotelBookingID: r.HotelBookingID,
		CarBookingID:   r.CarBookingID,
		DriverID:       r.DriverID,
		RaisedBy:       r.RaisedBy,
		Reason:         r.Reason,
		Status:         string(r.Status),
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
		ResolvedAt:     formatOptional(r.ResolvedAt),
	}
}

func toDriverResponse(p driver.Profile) driverResponse {
	cars := make([]carResponse, 0, len(p.Cars))
	for _, c := range p.Cars {
		cars = append(cars, carResponse{ID: c.ID, Plate: c.Plate, Model: c.Model, IsActive: c.IsActive})
	}
	return driverResponse{
		ID:            p.ID,
		UserID:        p.UserID,
		FullName:      p.FullName,
		Email:         p.Email,
		IsVerified:    p.IsVerified,
		AccountStatus: p.AccountStatus,
		CreatedAt:     formatTime(p.CreatedAt),
		Cars:          cars,
	}
}

func toNotificationResponse(m notification.Message) notificationResponse {
	return notificationResponse{
		ID:        m.ID,
		Type:      string(m.Type),
		Title:     m.Title,
		Body:      m.Body,
		CreatedAt: formatTime(m.CreatedAt),
	}
}

package discipline

import "time"

// ActionType enumerates the disciplinary_action_type values.
type ActionType string

const (
	ActionWarning    ActionType = "warning"
	ActionSuspension ActionType = "suspension"
	ActionBan        ActionType = "ban"
)

// AccountStatus mirrors the user_status enum on the users table.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBanned   AccountStatus = "banned"
)

// BookingInProgress is the only car booking status that blocks a suspension.
const BookingInProgress = "IN_PROGRESS"

// PauseReasonActiveRide tags actions deferred because the driver is mid-trip.
const PauseReasonActiveRide = "active_ride"

// Driver is the locked view of a driver row joined with its user account.
type Driver struct {
	ID                  string
	UserID              string
	IsVerified          bool
	LastWarningAt       *time.Time
	CurrentSuspensionID *string
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	AccountStatus       AccountStatus
}

// Action mirrors the disciplinary_actions table. Rows are never deleted.
type Action struct {
	ID                string
	DriverID          string
	Type              ActionType
	DisputeCount      int
	SuspensionDays    *int
	PeriodStart       time.Time
	PeriodEnd         time.Time
	ScheduledStart    *time.Time
	ScheduledEnd      *time.Time
	ActualStart       *time.Time
	ActualEnd         *time.Time
	IsPaused          bool
	PauseReason       *string
	BlockingBookingID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Applied reports whether the action has taken effect.
func (a Action) Applied() bool { return a.ActualStart != nil }

// Ended reports whether the action reached its terminal state.
func (a Action) Ended() bool { return a.ActualEnd != nil }

// Days returns the suspension length, or zero for warnings and bans.
func (a Action) Days() int {
	if a.SuspensionDays == nil {
		return 0
	}
	return *a.SuspensionDays
}

// Period is a driver's evaluation window, [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Outcome summarises what a single Evaluate call did.
type Outcome struct {
	DriverID     string
	Period       Period
	PeriodReset  bool
	DisputeCount int
	Skipped      bool
	Warning      *Action
	Scheduled    *Action
}

// ResumeResult lists the actions touched by ResumeAfterRide.
type ResumeResult struct {
	Applied []Action
	Expired []Action
}

// Status is the admin-facing snapshot of a driver's discipline.
type Status struct {
	DriverID          string
	AccountStatus     AccountStatus
	Period            Period
	DisputesInPeriod  int
	LastWarningAt     *time.Time
	CurrentSuspension *Action
	ActiveBan         *Action
}

// HistoryEntry pairs an action with the disputes counted over its own window.
type HistoryEntry struct {
	Action           Action
	DisputesInWindow int
}

package notification

import "time"

// Type enumerates the user-facing notices the discipline engine emits.
type Type string

const (
	TypeDisputeWarning      Type = "dispute_warning"
	TypeSuspensionScheduled Type = "suspension_scheduled"
	TypeSuspensionPaused    Type = "suspension_paused"
	TypeSuspensionStarted   Type = "suspension_started"
	TypeSuspensionResumed   Type = "suspension_resumed"
	TypeSuspensionLifted    Type = "suspension_lifted"
	TypeBanScheduled        Type = "ban_scheduled"
	TypeBanApplied          Type = "ban_applied"
)

// Message is one notice addressed to a user.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
)

// Record mirrors the disputes table. Exactly one of HotelBookingID and
// CarBookingID is set. DriverID is filled for car disputes.
type Record struct {
	ID             string
	HotelBookingID *string
	CarBookingID   *string
	DriverID       *string
	RaisedBy       string
	Reason         string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}

// CreateParams carries a new dispute raised by a customer.
type CreateParams struct {
	RaisedBy       string
	HotelBookingID string
	CarBookingID   string
	Reason         string
}

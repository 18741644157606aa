package driver

import "time"

// Profile is the admin view of a driver account and its fleet.
type Profile struct {
	ID            string
	UserID        string
	FullName      string
	Email         string
	IsVerified    bool
	AccountStatus string
	CreatedAt     time.Time
	Cars          []Car
}

// Car is a vehicle listed by a driver. Suspended drivers have every car
// deactivated.
type Car struct {
	ID       string
	Plate    string
	Model    string
	IsActive bool
}

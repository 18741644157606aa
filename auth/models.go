package auth

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	// RoleService marks internal callers such as the ride service.
	RoleService Role = "service"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID string
	Role   Role
}

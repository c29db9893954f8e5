package domain

import "github.com/google/uuid"

// UserRole is carried in the bearer token issued by the identity provider.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// SystemActorID identifies transitions made by the scheduler rather than a user.
var SystemActorID = uuid.Nil

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

// IsAdmin returns true for administrator principals.
func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

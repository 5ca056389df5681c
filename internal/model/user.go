package model

import "time"

// Roles accepted by the authorization gate. They correspond to the values
// stored in users.role and embedded in token claims.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStudent = "student"
)

// User account statuses.
const (
	UserActive   = "active"
	UserInactive = "inactive"
)

// User mirrors the 'users' table. The password hash never leaves the server.
type User struct {
	ID           uint64     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Phone        *string    `json:"phone,omitempty"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStudent:
		return true
	}
	return false
}

// UserPatch carries a partial profile update. Unset fields are left
// untouched; Phone can be cleared by sending an explicit null.
type UserPatch struct {
	FirstName Field[string]  `json:"first_name"`
	LastName  Field[string]  `json:"last_name"`
	Phone     Field[*string] `json:"phone"`
}

package models

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTrainer UserRole = "trainer"
	RoleAdmin   UserRole = "admin"
)

// Identity is what the auth middleware extracts from a bearer token.
type Identity struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
}

func (i Identity) IsStaff() bool {
	return i.Role == RoleTrainer || i.Role == RoleAdmin
}

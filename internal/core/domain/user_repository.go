package domain

import (
	"context"
	"time"
)

// Role is the privilege level of a user account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRank = map[Role]int{
	RoleUser:       0,
	RoleAdmin:      1,
	RoleSuperAdmin: 2,
}

// Meets reports whether the role satisfies the given minimum privilege level.
// Unknown roles never satisfy anything.
func (r Role) Meets(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	minRank, ok := roleRank[min]
	if !ok {
		return false
	}
	return rank >= minRank
}

// User is the identity record as stored. It includes the password hash so the
// Logic layer can verify credentials; never serialize it to clients — use
// Profile() for anything leaving the service.
type User struct {
	ID                    int
	Email                 string
	PasswordHash          string
	Role                  Role
	Active                bool
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
	LastLoginAt           *time.Time
}

// Profile is the client-visible projection of a User.
type Profile struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Profile returns the client-visible projection of the user.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Email: u.Email, Role: u.Role}
}

// UserRepository defines the data-access contract for user operations.
// Implementations live in internal/core/repository (Core layer).
// The Logic layer depends on this interface only — never on SQL or pgx directly.
type UserRepository interface {
	// GetByID returns the user with the given id.
	// Returns (nil, nil) when no user is found.
	GetByID(ctx context.Context, id int) (*User, error)

	// GetByEmail returns the user matching the given email.
	// Returns (nil, nil) when no user is found.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// ExistsByEmail returns true when a user with the given email already exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Create inserts a new user and returns the generated user ID.
	Create(ctx context.Context, email, passwordHash string, role Role) (int, error)

	// UpdateLastLogin sets the last_login timestamp to now for the given user.
	UpdateLastLogin(ctx context.Context, userID int) error
}

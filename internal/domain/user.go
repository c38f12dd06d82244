package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the platform-wide user type stored on the user row.
type Role string

const (
	RoleSchoolAdmin  Role = "school_admin"
	RoleTeacher      Role = "teacher"
	RoleParent       Role = "parent"
	RoleSuperAdmin   Role = "super_admin"
	RolePendingAdmin Role = "pending_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSchoolAdmin, RoleTeacher, RoleParent, RoleSuperAdmin, RolePendingAdmin:
		return true
	}
	return false
}

// InitialTokenVersion is assigned to every new account.
const InitialTokenVersion = 1

// User is the identity aggregate. It is never hard-deleted.
type User struct {
	UserID        uuid.UUID
	Email         string
	PasswordHash  string
	FullName      string
	Phone         string
	Role          Role
	IsActive      bool
	EmailVerified bool
	PhoneVerified bool
	// TokenVersion is embedded in every token; bumping it invalidates all of them.
	TokenVersion int
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanAuthenticate reports whether the account may hold a session at all.
func (u User) CanAuthenticate() bool {
	return u.IsActive && u.EmailVerified
}

// RefreshToken is the server-side half of a refresh session.
// Only the hash of the opaque token is ever stored.
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
	RememberMe bool
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Usable reports whether the record can still mint access tokens at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// DeviceInfo is request metadata captured with each session.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

package domain

import "time"

// Role controls what a credential is allowed to do elsewhere in the
// platform. The auth service only ever assigns RoleStudent on its own;
// anything else goes through the admin path.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// Credential is one registered identity. Emails are stored normalized
// (trimmed, lowercased) and are unique across the table.
//
// RefreshFingerprint and ResetFingerprint hold SHA-256 fingerprints of the
// live refresh token and the outstanding reset token; the raw token values
// are never persisted. A nil RefreshFingerprint means "logged out".
type Credential struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       string // argon2id, PHC encoded
	Role               Role
	Active             bool
	LoginAttempts      int
	LockedUntil        *time.Time
	RefreshFingerprint *string
	ResetFingerprint   *string
	ResetExpiresAt     *time.Time
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Locked reports whether the credential is under a lockout at the given
// instant. An elapsed lockedUntil counts as unlocked; the row is cleaned
// up lazily on the next login attempt.
func (c Credential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// ProfileUpdate carries a partial profile mutation. Nil fields are left
// untouched. Role is deliberately absent; it cannot ride through the
// public profile surface.
type ProfileUpdate struct {
	Email *string
	Name  *string
}

// Empty reports whether the update would change nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Email == nil && p.Name == nil
}

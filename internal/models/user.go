package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	Email          string
	FirstName      string
	LastName       string
	AvatarURL      string
	HashedPassword string

	// Lockout accounting. LockedUntil is nil when the account is not locked.
	FailedLogins int
	LockedUntil  *time.Time
}

// IsLockedOut reports whether the account is locked at the given moment.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Claim is an additional key-value statement attached to a user identity.
// Claims are folded into issued access tokens next to role claims.
type Claim struct {
	Name  string
	Value string
}

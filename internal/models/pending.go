package models

import (
	"time"
)

// PendingRegistration is a staged, not yet persisted registration.
// It lives only inside the pending store and becomes garbage the moment
// it is confirmed or its TTL elapses. The password is kept as submitted;
// it is hashed when the durable user row is created.
type PendingRegistration struct {
	Email            string
	Username         string
	FirstName        string
	LastName         string
	Password         string
	AvatarURL        string
	Roles            []string
	ConfirmationCode string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

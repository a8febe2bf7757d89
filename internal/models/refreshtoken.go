package models

import (
	"time"

	"github.com/google/uuid"
)

// Binding is the client fingerprint a refresh token is issued against.
// It is checked again on every rotation.
type Binding struct {
	Device string
	IP     string
}

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string // random secret, base64
	CreatedOn time.Time
	ExpiresOn time.Time
	RevokedOn *time.Time // nil while the token is not revoked
	Device    string
	IP        string
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresOn)
}

// IsActive reports whether the token may still be rotated or revoked.
// A token is active until it is revoked or passes its expiry.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedOn == nil && !t.IsExpired(now)
}

func (t *RefreshToken) MatchesBinding(b Binding) bool {
	return t.Device == b.Device && t.IP == b.IP
}

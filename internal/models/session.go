package models

import (
	"time"
)

// AuthSession is the result of every successful auth operation:
// register confirmation, login, refresh. It is never persisted and is
// rebuilt from scratch each time.
type AuthSession struct {
	IsAuthenticated bool
	Username        string
	Email           string
	Roles           []string

	AccessToken     string
	AccessExpiresAt time.Time

	RefreshToken     string
	RefreshExpiresAt time.Time
}

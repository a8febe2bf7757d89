package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_RefreshToken_State(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)

	tests := []struct {
		name    string
		token   RefreshToken
		active  bool
		expired bool
	}{
		{
			name:   "fresh token is active",
			token:  RefreshToken{ExpiresOn: now.Add(time.Hour)},
			active: true,
		},
		{
			name:    "expired token is inactive",
			token:   RefreshToken{ExpiresOn: now.Add(-time.Hour)},
			expired: true,
		},
		{
			name:    "expiry moment counts as expired",
			token:   RefreshToken{ExpiresOn: now},
			expired: true,
		},
		{
			name:  "revoked token is inactive even before expiry",
			token: RefreshToken{ExpiresOn: now.Add(time.Hour), RevokedOn: &revokedAt},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.active, tt.token.IsActive(now))
			assert.Equal(t, tt.expired, tt.token.IsExpired(now))
		})
	}
}

func Test_RefreshToken_MatchesBinding(t *testing.T) {
	t.Parallel()

	token := RefreshToken{Device: "device-1", IP: "192.0.2.10"}

	assert.True(t, token.MatchesBinding(Binding{Device: "device-1", IP: "192.0.2.10"}))
	assert.False(t, token.MatchesBinding(Binding{Device: "device-2", IP: "192.0.2.10"}))
	assert.False(t, token.MatchesBinding(Binding{Device: "device-1", IP: "198.51.100.1"}))
}

func Test_User_IsLockedOut(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	assert.False(t, (&User{}).IsLockedOut(now), "no lock timestamp means not locked")
	assert.True(t, (&User{LockedUntil: &future}).IsLockedOut(now))
	assert.False(t, (&User{LockedUntil: &past}).IsLockedOut(now), "elapsed lock no longer holds")
}

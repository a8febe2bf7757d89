package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nstepanov/usermgmt/internal/models"
)

// UserRepo is the durable credential store contract.
type UserRepo interface {
	// Create user row
	// If username or email is taken (case-insensitive) has to return
	// apperrors.ErrUsernameAlreadyRegistered / apperrors.ErrEmailAlreadyRegistered
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by id, email or username
	// Email and username lookups are case-insensitive
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Replace the stored password hash
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	// Record one failed sign-in attempt. When the counter reaches
	// threshold the account is locked until now+lockFor and the counter
	// resets. Returns whether the account is locked after this attempt.
	RecordLoginFailure(ctx context.Context, userID uuid.UUID, threshold int, lockFor time.Duration) (bool, error)

	// Reset the failure counter after a successful sign-in
	ResetLoginFailures(ctx context.Context, userID uuid.UUID) error
}

// RefreshTokenRepo owns refresh token rows keyed by their secret.
type RefreshTokenRepo interface {
	// Save a freshly generated token
	Save(ctx context.Context, token models.RefreshToken) error

	// Return the token row by exact secret match, whatever its state
	// If no row owns the secret must return apperrors.ErrRefreshTokenNotFound
	GetByToken(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Set revoked_on if it is not set yet. First caller wins: a second
	// revoke of the same token must return apperrors.ErrInactiveToken,
	// a missing token apperrors.ErrRefreshTokenNotFound.
	Revoke(ctx context.Context, tokenString string) (time.Time, error)

	// Return the newest token of the user that is neither revoked nor
	// expired at the given moment, or apperrors.ErrRefreshTokenNotFound.
	GetActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (models.RefreshToken, error)
}

// RoleRepo stores role memberships and extra identity claims.
type RoleRepo interface {
	// Assign roles to the user, creating missing role rows on the way.
	// Assigning an already held role is a no-op.
	AssignRoles(ctx context.Context, userID uuid.UUID, names []string) error

	// List role names held by the user, sorted
	ListUserRoles(ctx context.Context, userID uuid.UUID) ([]string, error)

	// Set or replace one identity claim
	SetUserClaim(ctx context.Context, userID uuid.UUID, claim models.Claim) error

	// List identity claims of the user
	ListUserClaims(ctx context.Context, userID uuid.UUID) ([]models.Claim, error)
}

// Storage bundles the repositories over one database handle.
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Role() RoleRepo

	// Run fn inside one database transaction. The storage passed to fn
	// shares the transaction; any returned error rolls it back.
	InTx(ctx context.Context, fn func(Storage) error) error
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (id, created_at, username, email, first_name, last_name, avatar_url, hashed_password)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, username, email, first_name, last_name, avatar_url, hashed_password, failed_logins, locked_until
`

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser,
		user.ID, user.CreatedAt, user.Username, user.Email,
		user.FirstName, user.LastName, user.AvatarURL, user.HashedPassword,
	)
	created, err := pgx.CollectOneRow(rows, rowToUser)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return created, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		if strings.Contains(pgErr.ConstraintName, "email") {
			return created, fmt.Errorf("repo error: %w", apperrors.ErrEmailAlreadyRegistered)
		}
		return created, fmt.Errorf("repo error: %w", apperrors.ErrUsernameAlreadyRegistered)
	default:
		return created, fmt.Errorf("db error: %w", err)
	}
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, username, email, first_name, last_name, avatar_url, hashed_password, failed_logins, locked_until
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT id, created_at, username, email, first_name, last_name, avatar_url, hashed_password, failed_logins, locked_until
FROM users
WHERE lower(email) = lower($1)
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT id, created_at, username, email, first_name, last_name, avatar_url, hashed_password, failed_logins, locked_until
FROM users
WHERE lower(username) = lower($1)
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

const updatePassword = `-- name: UpdatePassword
UPDATE users
SET hashed_password = $2
WHERE id = $1
`

func (r *UserRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	tag, err := r.DB.Exec(ctx, updatePassword, userID, hashedPassword)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return nil
}

const recordLoginFailure = `-- name: RecordLoginFailure
UPDATE users
SET failed_logins = CASE WHEN failed_logins + 1 >= $2 THEN 0 ELSE failed_logins + 1 END,
    locked_until  = CASE WHEN failed_logins + 1 >= $2 THEN $3::timestamptz ELSE locked_until END
WHERE id = $1
RETURNING locked_until
`

func (r *UserRepo) RecordLoginFailure(ctx context.Context, userID uuid.UUID, threshold int, lockFor time.Duration) (bool, error) {
	now := time.Now().UTC()
	rows, _ := r.DB.Query(ctx, recordLoginFailure, userID, threshold, now.Add(lockFor))
	lockedUntil, err := pgx.CollectOneRow(rows, pgx.RowTo[*time.Time])

	switch {
	case err == nil:
		return lockedUntil != nil && now.Before(*lockedUntil), nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return false, fmt.Errorf("db error: %w", err)
	}
}

const resetLoginFailures = `-- name: ResetLoginFailures
UPDATE users
SET failed_logins = 0, locked_until = NULL
WHERE id = $1
`

func (r *UserRepo) ResetLoginFailures(ctx context.Context, userID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, resetLoginFailures, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.Username, &u.Email,
		&u.FirstName, &u.LastName, &u.AvatarURL, &u.HashedPassword,
		&u.FailedLogins, &u.LockedUntil,
	)
	return u, err
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token, created_on, expires_on, revoked_on, device, ip)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.Token,
		token.CreatedOn, token.ExpiresOn, token.RevokedOn,
		token.Device, token.IP,
	)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getToken = `-- name: GetRefreshToken by the secret itself
SELECT id, user_id, created_on, expires_on, revoked_on, device, ip
FROM refresh_tokens
WHERE token = $1
`

// GetByToken returns the row even if it is expired or revoked already.
// State checks belong to the service layer.
func (r *RefreshTokenRepo) GetByToken(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenString)
	token, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		var t = models.RefreshToken{Token: tokenString}
		err := row.Scan(&t.ID, &t.UserID, &t.CreatedOn, &t.ExpiresOn, &t.RevokedOn, &t.Device, &t.IP)
		return t, err
	})

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: Revoke token if it is not revoked yet
UPDATE refresh_tokens
SET revoked_on = COALESCE(revoked_on, $2)
WHERE token = $1
RETURNING revoked_on
`

// Revoke sets revoked_on exactly once. When two rotations race on the same
// token the COALESCE keeps the first timestamp, so the loser observes a
// foreign revoked_on and gets ErrInactiveToken.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenString string) (time.Time, error) {
	// timestamptz holds microseconds, so the value must be truncated before
	// sending or the returned revoked_on would never compare equal and a
	// fresh revoke would be misread as a lost race.
	now := time.Now().UTC().Truncate(time.Microsecond)
	rows, _ := r.DB.Query(ctx, revokeToken, tokenString, now)
	revokedOn, err := pgx.CollectOneRow(rows, pgx.RowTo[time.Time])

	switch {
	case err == nil && revokedOn.Equal(now):
		return revokedOn, nil
	case err == nil: // revoked_on != now == token was revoked before
		return revokedOn, fmt.Errorf("repo error: %w", apperrors.ErrInactiveToken)
	case errors.Is(err, pgx.ErrNoRows):
		return revokedOn, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return revokedOn, fmt.Errorf("db error: %w", err)
	}
}

const getActiveByUser = `-- name: GetActiveRefreshToken for the user
SELECT id, user_id, token, created_on, expires_on, revoked_on, device, ip
FROM refresh_tokens
WHERE user_id = $1 AND revoked_on IS NULL AND expires_on > $2
ORDER BY created_on DESC
LIMIT 1
`

func (r *RefreshTokenRepo) GetActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getActiveByUser, userID, now)
	token, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		var t models.RefreshToken
		err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedOn, &t.ExpiresOn, &t.RevokedOn, &t.Device, &t.IP)
		return t, err
	})

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

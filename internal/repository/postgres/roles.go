package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nstepanov/usermgmt/internal/models"
)

type RoleRepo struct {
	DB DBTX
}

const ensureRole = `-- name: EnsureRole
INSERT INTO roles (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id
`

const assignRole = `-- name: AssignRole
INSERT INTO user_roles (user_id, role_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

func (r *RoleRepo) AssignRoles(ctx context.Context, userID uuid.UUID, names []string) error {
	for _, name := range names {
		rows, _ := r.DB.Query(ctx, ensureRole, name)
		roleID, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if _, err := r.DB.Exec(ctx, assignRole, userID, roleID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

const listUserRoles = `-- name: ListUserRoles
SELECT r.name
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.name
`

func (r *RoleRepo) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, _ := r.DB.Query(ctx, listUserRoles, userID)
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

const setUserClaim = `-- name: SetUserClaim
INSERT INTO user_claims (user_id, name, value)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, name) DO UPDATE SET value = EXCLUDED.value
`

func (r *RoleRepo) SetUserClaim(ctx context.Context, userID uuid.UUID, claim models.Claim) error {
	if _, err := r.DB.Exec(ctx, setUserClaim, userID, claim.Name, claim.Value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const listUserClaims = `-- name: ListUserClaims
SELECT name, value
FROM user_claims
WHERE user_id = $1
ORDER BY name
`

func (r *RoleRepo) ListUserClaims(ctx context.Context, userID uuid.UUID) ([]models.Claim, error) {
	rows, _ := r.DB.Query(ctx, listUserClaims, userID)
	claims, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Claim, error) {
		var c models.Claim
		err := row.Scan(&c.Name, &c.Value)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return claims, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/models"
	"github.com/nstepanov/usermgmt/internal/repository"
)

// Refresh tokens live for a fixed window from creation.
const defaultRefreshTokenTTL = 10 * 24 * time.Hour

// RefreshManager owns the refresh token lifecycle: generation,
// validation, rotation and revocation. Tokens are bound to the client
// device/IP pair they were issued against.
type RefreshManager struct {
	storage    repository.Storage
	tokens     *TokenManager
	refreshTTL time.Duration
}

func NewRefreshManager(storage repository.Storage, tokens *TokenManager, refreshTTL time.Duration) (*RefreshManager, error) {
	if storage == nil || tokens == nil {
		return nil, errors.New("storage and token manager must not be nil")
	}

	if refreshTTL == 0 {
		refreshTTL = defaultRefreshTokenTTL
	}

	return &RefreshManager{
		storage:    storage,
		tokens:     tokens,
		refreshTTL: refreshTTL,
	}, nil
}

// Generate constructs a new token bound to the client. Pure construction:
// the caller persists it against a user.
func (m *RefreshManager) Generate(binding models.Binding) (models.RefreshToken, error) {
	secret, err := GenerateRefreshSecret()
	if err != nil {
		return models.RefreshToken{}, err
	}

	now := time.Now().UTC()
	return models.RefreshToken{
		ID:        uuid.New(),
		Token:     secret,
		CreatedOn: now,
		ExpiresOn: now.Add(m.refreshTTL),
		Device:    binding.Device,
		IP:        binding.IP,
	}, nil
}

// Validate resolves the presented secret to a stored token and its owner.
// Errors follow the lookup order: no row owns the secret -> ErrInvalidToken;
// owner row gone (possible mid-cascade) -> ErrRefreshTokenNotFound;
// revoked or expired -> ErrInactiveToken.
func (m *RefreshManager) Validate(ctx context.Context, tokenString string) (models.RefreshToken, models.User, error) {
	var user models.User

	token, err := m.storage.Refresh().GetByToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
			return token, user, fmt.Errorf("validate: %w", apperrors.ErrInvalidToken)
		}
		return token, user, fmt.Errorf("validate: %w", err)
	}

	user, err = m.storage.User().GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return token, user, fmt.Errorf("validate: %w", apperrors.ErrRefreshTokenNotFound)
		}
		return token, user, fmt.Errorf("validate: %w", err)
	}

	if !token.IsActive(time.Now().UTC()) {
		return token, user, fmt.Errorf("validate: %w", apperrors.ErrInactiveToken)
	}

	return token, user, nil
}

// Rotate revokes the presented token and mints its replacement with the
// same binding. A binding mismatch fails without revoking: the mismatched
// request is treated as the illegitimate one, so it must not log the real
// owner out. Concurrent rotations of one token cannot both succeed; the
// revoke is first-wins and the loser gets ErrInactiveToken.
func (m *RefreshManager) Rotate(ctx context.Context, tokenString string, presented models.Binding) (models.AuthSession, error) {
	var session models.AuthSession

	token, user, err := m.Validate(ctx, tokenString)
	if err != nil {
		return session, err
	}

	if !token.MatchesBinding(presented) {
		return session, fmt.Errorf("rotate: %w", apperrors.ErrTokenBindingMismatch)
	}

	newToken, err := m.Generate(models.Binding{Device: token.Device, IP: token.IP})
	if err != nil {
		return session, fmt.Errorf("rotate: %w", err)
	}
	newToken.UserID = user.ID

	err = m.storage.InTx(ctx, func(s repository.Storage) error {
		if _, err := s.Refresh().Revoke(ctx, tokenString); err != nil {
			return err
		}
		return s.Refresh().Save(ctx, newToken)
	})
	if err != nil {
		return session, fmt.Errorf("rotate: %w", err)
	}

	return m.buildSession(ctx, user, newToken)
}

// Revoke marks an active token permanently inactive.
func (m *RefreshManager) Revoke(ctx context.Context, tokenString string) error {
	if _, _, err := m.Validate(ctx, tokenString); err != nil {
		return err
	}

	if _, err := m.storage.Refresh().Revoke(ctx, tokenString); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}

	return nil
}

// buildSession issues a fresh access token and assembles the AuthSession
// DTO returned by every successful auth operation.
func (m *RefreshManager) buildSession(ctx context.Context, user models.User, refresh models.RefreshToken) (models.AuthSession, error) {
	var session models.AuthSession

	roles, err := m.storage.Role().ListUserRoles(ctx, user.ID)
	if err != nil {
		return session, fmt.Errorf("session roles: %w", err)
	}

	claims, err := m.storage.Role().ListUserClaims(ctx, user.ID)
	if err != nil {
		return session, fmt.Errorf("session claims: %w", err)
	}

	access, accessExpiresAt, err := m.tokens.IssueAccessToken(user, roles, claims)
	if err != nil {
		return session, fmt.Errorf("session access token: %w", err)
	}

	return models.AuthSession{
		IsAuthenticated:  true,
		Username:         user.Username,
		Email:            user.Email,
		Roles:            roles,
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresOn,
	}, nil
}

// Package auth implements the identity core: staged registration with
// emailed confirmation codes, password login with lockout, JWT access
// token issuance and the refresh token lifecycle.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/avatars"
	"github.com/nstepanov/usermgmt/internal/logger"
	"github.com/nstepanov/usermgmt/internal/mail"
	"github.com/nstepanov/usermgmt/internal/models"
	"github.com/nstepanov/usermgmt/internal/pending"
	"github.com/nstepanov/usermgmt/internal/repository"
)

const (
	defaultConfirmationTTL  = 15 * time.Minute
	defaultLockoutThreshold = 5
	defaultLockoutWindow    = 15 * time.Minute
)

var defaultRoles = []string{"user"}

type Config struct {
	// How long a staged registration stays confirmable
	// If not set then default (15 minutes) is used
	ConfirmationTTL time.Duration

	// Roles assigned when the register request names none
	DefaultRoles []string

	// Failed sign-in attempts before the account locks, and for how long
	LockoutThreshold int
	LockoutWindow    time.Duration

	// Hasher to use during registration or login
	// If not set then BcryptHasher is used
	Hasher PasswordHasher
}

// AuthService composes the pending store, credential storage, mail and
// avatar collaborators into the register/confirm and login flows.
type AuthService struct {
	cfg     Config
	storage repository.Storage
	pending pending.Store
	mailer  mail.Sender
	avatars avatars.Store // may be nil: registration then rejects avatars
	hasher  PasswordHasher
	tokens  *TokenManager
	refresh *RefreshManager
	log     logger.Logger
}

func NewAuthService(
	cfg Config,
	storage repository.Storage,
	pendingStore pending.Store,
	mailer mail.Sender,
	avatarStore avatars.Store,
	tokens *TokenManager,
	refresh *RefreshManager,
	log logger.Logger,
) (*AuthService, error) {
	if storage == nil || pendingStore == nil || mailer == nil {
		return nil, errors.New("storage, pending store and mailer must not be nil")
	}
	if tokens == nil || refresh == nil {
		return nil, errors.New("token and refresh managers must not be nil")
	}

	if cfg.ConfirmationTTL == 0 {
		cfg.ConfirmationTTL = defaultConfirmationTTL
	}
	if len(cfg.DefaultRoles) == 0 {
		cfg.DefaultRoles = defaultRoles
	}
	if cfg.LockoutThreshold == 0 {
		cfg.LockoutThreshold = defaultLockoutThreshold
	}
	if cfg.LockoutWindow == 0 {
		cfg.LockoutWindow = defaultLockoutWindow
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &AuthService{
		cfg:     cfg,
		storage: storage,
		pending: pendingStore,
		mailer:  mailer,
		avatars: avatarStore,
		hasher:  hasher,
		tokens:  tokens,
		refresh: refresh,
		log:     log,
	}, nil
}

// AvatarFile is an avatar image submitted along with a registration.
type AvatarFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type RegisterRequest struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
	Roles     []string
	Avatar    *AvatarFile
}

// Register stages a registration and emails the confirmation code. No
// durable user row exists until Confirm succeeds. The returned handle is
// the opaque key for the staged entry; the emailed code is the secret.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (uuid.UUID, error) {
	s.log.Info("starting registration", "email", req.Email, "username", req.Username)

	if _, err := s.storage.User().GetUserByEmail(ctx, req.Email); err == nil {
		return uuid.Nil, fmt.Errorf("register: %w", apperrors.ErrEmailAlreadyRegistered)
	} else if !errors.Is(err, apperrors.ErrUserNotFound) {
		return uuid.Nil, fmt.Errorf("register: %w", err)
	}

	if _, err := s.storage.User().GetUserByUsername(ctx, req.Username); err == nil {
		return uuid.Nil, fmt.Errorf("register: %w", apperrors.ErrUsernameAlreadyRegistered)
	} else if !errors.Is(err, apperrors.ErrUserNotFound) {
		return uuid.Nil, fmt.Errorf("register: %w", err)
	}

	var avatarURL string
	if req.Avatar != nil {
		if s.avatars == nil {
			return uuid.Nil, fmt.Errorf("register: %w", apperrors.ErrAvatarUploadFailed)
		}

		url, err := s.avatars.Upload(ctx, req.Avatar.Filename, req.Avatar.ContentType, req.Avatar.Size, req.Avatar.Body)
		if err != nil {
			s.log.Warn("avatar upload failed", "username", req.Username, "error", err.Error())
			return uuid.Nil, fmt.Errorf("register: %w: %w", apperrors.ErrAvatarUploadFailed, err)
		}
		avatarURL = url
	}

	code, err := GenerateConfirmationCode()
	if err != nil {
		return uuid.Nil, fmt.Errorf("register: %w", err)
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = s.cfg.DefaultRoles
	}

	now := time.Now().UTC()
	handle := uuid.New()
	reg := models.PendingRegistration{
		Email:            req.Email,
		Username:         req.Username,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Password:         req.Password,
		AvatarURL:        avatarURL,
		Roles:            roles,
		ConfirmationCode: code,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.ConfirmationTTL),
	}

	if err := s.pending.Stage(handle.String(), reg, s.cfg.ConfirmationTTL); err != nil {
		if errors.Is(err, pending.ErrTTLTooLong) {
			return uuid.Nil, fmt.Errorf("register: %w", apperrors.ErrConfirmationTTLInvalid)
		}
		return uuid.Nil, fmt.Errorf("register: %w", err)
	}

	// A failed send aborts the attempt but the staged entry stays: it is
	// unreachable without the code and self-expires. Re-registering just
	// re-stages.
	subject, body := mail.ConfirmationMessage(req.FirstName, req.LastName, code, s.cfg.ConfirmationTTL)
	if err := s.mailer.Send(ctx, req.Email, subject, body); err != nil {
		s.log.Warn("confirmation email failed", "email", req.Email, "error", err.Error())
		return uuid.Nil, fmt.Errorf("register: %w: %w", apperrors.ErrMailSendFailed, err)
	}

	s.log.Info("registration staged", "username", req.Username)
	return handle, nil
}

// Confirm redeems a confirmation code. On match the staged entry is
// consumed, the durable user is created with its roles and the first
// token pair is issued. On mismatch the entry stays staged so the user
// may retry within the TTL.
func (s *AuthService) Confirm(ctx context.Context, handle string, code string, binding models.Binding) (models.AuthSession, error) {
	var session models.AuthSession

	reg, err := s.pending.Consume(handle, code)
	switch {
	case err == nil:
	case errors.Is(err, pending.ErrNotFound):
		return session, fmt.Errorf("confirm: %w", apperrors.ErrConfirmationNotFound)
	case errors.Is(err, pending.ErrCodeMismatch):
		return session, fmt.Errorf("confirm: %w", apperrors.ErrConfirmationCodeMismatch)
	default:
		return session, fmt.Errorf("confirm: %w", err)
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return session, fmt.Errorf("confirm: can't use this as password, error=%w", err)
	}

	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      time.Now().UTC(),
		Username:       reg.Username,
		Email:          reg.Email,
		FirstName:      reg.FirstName,
		LastName:       reg.LastName,
		AvatarURL:      reg.AvatarURL,
		HashedPassword: hash,
	}

	token, err := s.refresh.Generate(binding)
	if err != nil {
		return session, fmt.Errorf("confirm: %w", err)
	}
	token.UserID = user.ID

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		created, err := st.User().CreateUser(ctx, user)
		if err != nil {
			return err
		}
		user = created

		if err := st.Role().AssignRoles(ctx, user.ID, reg.Roles); err != nil {
			return err
		}

		return st.Refresh().Save(ctx, token)
	})
	if err != nil {
		return session, fmt.Errorf("confirm: %w", err)
	}

	s.log.Info("user confirmed and created", "username", user.Username)
	return s.refresh.buildSession(ctx, user, token)
}

// Login authenticates by email and password. Unknown email and wrong
// password produce the same error; a locked account is reported
// distinctly. An existing active refresh token is reused so repeated
// logins from the same user don't pile up token rows.
func (s *AuthService) Login(ctx context.Context, email string, password string, binding models.Binding) (models.AuthSession, error) {
	var session models.AuthSession

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return session, fmt.Errorf("login: %w", apperrors.ErrInvalidCredentials)
		}
		return session, fmt.Errorf("login: %w", err)
	}

	now := time.Now().UTC()
	if user.IsLockedOut(now) {
		s.log.Warn("login attempt on locked account", "username", user.Username)
		return session, fmt.Errorf("login: %w", apperrors.ErrUserLockedOut)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		locked, err := s.storage.User().RecordLoginFailure(ctx, user.ID, s.cfg.LockoutThreshold, s.cfg.LockoutWindow)
		if err != nil {
			return session, fmt.Errorf("login: %w", err)
		}
		if locked {
			s.log.Warn("account locked after repeated failures", "username", user.Username)
			return session, fmt.Errorf("login: %w", apperrors.ErrUserLockedOut)
		}
		return session, fmt.Errorf("login: %w", apperrors.ErrInvalidCredentials)
	}

	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.storage.User().ResetLoginFailures(ctx, user.ID); err != nil {
			return session, fmt.Errorf("login: %w", err)
		}
	}

	token, err := s.storage.Refresh().GetActiveByUser(ctx, user.ID, now)
	switch {
	case err == nil:
		// Reuse, not duplication.
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		token, err = s.refresh.Generate(binding)
		if err != nil {
			return session, fmt.Errorf("login: %w", err)
		}
		token.UserID = user.ID

		if err := s.storage.Refresh().Save(ctx, token); err != nil {
			return session, fmt.Errorf("login: %w", err)
		}
	default:
		return session, fmt.Errorf("login: %w", err)
	}

	return s.refresh.buildSession(ctx, user, token)
}

// RefreshSession rotates the presented refresh token and returns the new
// session.
func (s *AuthService) RefreshSession(ctx context.Context, tokenString string, binding models.Binding) (models.AuthSession, error) {
	return s.refresh.Rotate(ctx, tokenString, binding)
}

// RevokeToken marks the presented refresh token permanently inactive.
func (s *AuthService) RevokeToken(ctx context.Context, tokenString string) error {
	return s.refresh.Revoke(ctx, tokenString)
}

// ChangePassword verifies the current password and stores a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, current); err != nil {
		return fmt.Errorf("change password: %w", apperrors.ErrInvalidCredentials)
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("change password: can't use this as password, error=%w", err)
	}

	if err := s.storage.User().UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	return nil
}

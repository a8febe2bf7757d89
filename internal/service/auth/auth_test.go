package auth

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/models"
	"github.com/nstepanov/usermgmt/internal/pending"
	"github.com/nstepanov/usermgmt/internal/repository/postgres"
	"github.com/nstepanov/usermgmt/internal/testutil"
)

// fakeSender records outbound mail instead of delivering it
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (f *fakeSender) Send(_ context.Context, to string, subject string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeSender) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.sent, "expected at least one mail to be sent")
	return f.sent[len(f.sent)-1]
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func codeFromMail(t *testing.T, m sentMail) string {
	t.Helper()
	match := codePattern.FindStringSubmatch(m.Body)
	require.NotNil(t, match, "confirmation mail must carry the six digit code")
	return match[1]
}

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	binding := models.Binding{Device: "device-1", IP: "192.0.2.10"}

	registerReq := func(name string) RegisterRequest {
		return RegisterRequest{
			Email:     name + "@example.com",
			Username:  name,
			FirstName: "Test",
			LastName:  "User",
			Password:  "strongpassword",
		}
	}

	// Begin new db transaction and build a fresh AuthService on top of it
	// Rollback transaction when test stops
	withTx := func(dbpool *pgxpool.Pool, t *testing.T, fn func(s *AuthService, mailer *fakeSender)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			mailer := &fakeSender{}

			tokenManager, err := NewTokenManager(TokenConfig{SecretKey: "test-secret-key"})
			require.NoError(t, err)

			refreshManager, err := NewRefreshManager(storage, tokenManager, 24*time.Hour)
			require.NoError(t, err)

			s, err := NewAuthService(
				Config{LockoutThreshold: 3, LockoutWindow: 15 * time.Minute},
				storage,
				pending.NewStore(0),
				mailer,
				nil,
				tokenManager,
				refreshManager,
				nil,
			)
			require.NoError(t, err, "auth service could't be started")

			fn(s, mailer)
		})
	}

	// Register and confirm in one go, returns the session
	registerConfirmed := func(t *testing.T, s *AuthService, mailer *fakeSender, name string) models.AuthSession {
		t.Helper()

		handle, err := s.Register(t.Context(), registerReq(name))
		require.NoError(t, err)

		code := codeFromMail(t, mailer.last(t))
		session, err := s.Confirm(t.Context(), handle.String(), code, binding)
		require.NoError(t, err)

		return session
	}

	t.Run("new auth service defaults", func(t *testing.T) {
		withTx(pg.Pool, t, func(s *AuthService, _ *fakeSender) {
			require.Equal(t, defaultConfirmationTTL, s.cfg.ConfirmationTTL)
			require.Equal(t, defaultRoles, s.cfg.DefaultRoles)
			require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
		})
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("stages and mails the code", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				handle, err := s.Register(t.Context(), registerReq("newuser"))

				require.NoError(t, err)
				require.NotEmpty(t, handle)

				m := mailer.last(t)
				assert.Equal(t, "newuser@example.com", m.To)
				assert.Equal(t, "Email Confirmation", m.Subject)
				assert.Len(t, codeFromMail(t, m), 6)

				// No durable user yet
				_, err = s.storage.User().GetUserByEmail(t.Context(), "newuser@example.com")
				assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})

		t.Run("fails for registered email", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "takenmail")

				req := registerReq("othername")
				req.Email = "takenmail@example.com"
				_, err := s.Register(t.Context(), req)

				assert.ErrorIs(t, err, apperrors.ErrEmailAlreadyRegistered)
			})
		})

		t.Run("fails for registered username", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "takenname")

				req := registerReq("takenname")
				req.Email = "fresh@example.com"
				_, err := s.Register(t.Context(), req)

				assert.ErrorIs(t, err, apperrors.ErrUsernameAlreadyRegistered)
			})
		})

		t.Run("fails when mail can not be sent", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				mailer.err = context.DeadlineExceeded

				_, err := s.Register(t.Context(), registerReq("unmailable"))

				assert.ErrorIs(t, err, apperrors.ErrMailSendFailed)
			})
		})

		t.Run("fails when confirmation ttl exceeds the staging cap", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)

				tokenManager, err := NewTokenManager(TokenConfig{SecretKey: "test-secret-key"})
				require.NoError(t, err)
				refreshManager, err := NewRefreshManager(storage, tokenManager, 24*time.Hour)
				require.NoError(t, err)

				s, err := NewAuthService(
					Config{ConfirmationTTL: time.Hour},
					storage,
					pending.NewStore(time.Minute),
					&fakeSender{},
					nil,
					tokenManager,
					refreshManager,
					nil,
				)
				require.NoError(t, err)

				_, err = s.Register(t.Context(), registerReq("misconfigured"))

				assert.ErrorIs(t, err, apperrors.ErrConfirmationTTLInvalid)
				assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), "a ttl misconfiguration is a client-visible validation error, not a 500")
			})
		})

		t.Run("fails for avatar without configured store", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, _ *fakeSender) {
				req := registerReq("avataruser")
				req.Avatar = &AvatarFile{Filename: "me.png", ContentType: "image/png", Size: 10}

				_, err := s.Register(t.Context(), req)

				assert.ErrorIs(t, err, apperrors.ErrAvatarUploadFailed)
			})
		})
	})

	t.Run("Confirm", func(t *testing.T) {
		t.Run("creates user with default role and session", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				session := registerConfirmed(t, s, mailer, "confirmed")

				assert.True(t, session.IsAuthenticated)
				assert.Equal(t, "confirmed", session.Username)
				assert.Equal(t, []string{"user"}, session.Roles)
				assert.NotEmpty(t, session.AccessToken)
				assert.NotEmpty(t, session.RefreshToken)

				user, err := s.storage.User().GetUserByEmail(t.Context(), "confirmed@example.com")
				require.NoError(t, err)
				assert.NotEqual(t, "strongpassword", user.HashedPassword, "password must be stored hashed")
			})
		})

		t.Run("unknown handle fails", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, _ *fakeSender) {
				_, err := s.Confirm(t.Context(), "no-such-handle", "123456", binding)

				assert.ErrorIs(t, err, apperrors.ErrConfirmationNotFound)
			})
		})

		t.Run("wrong code keeps the entry for retry", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				handle, err := s.Register(t.Context(), registerReq("retryuser"))
				require.NoError(t, err)

				code := codeFromMail(t, mailer.last(t))
				wrong := "000000"
				if wrong == code {
					wrong = "000001"
				}

				_, err = s.Confirm(t.Context(), handle.String(), wrong, binding)
				assert.ErrorIs(t, err, apperrors.ErrConfirmationCodeMismatch)

				// The right code still works afterwards
				session, err := s.Confirm(t.Context(), handle.String(), code, binding)
				require.NoError(t, err)
				assert.True(t, session.IsAuthenticated)
			})
		})

		t.Run("code can not be redeemed twice", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				handle, err := s.Register(t.Context(), registerReq("oneshot"))
				require.NoError(t, err)
				code := codeFromMail(t, mailer.last(t))

				_, err = s.Confirm(t.Context(), handle.String(), code, binding)
				require.NoError(t, err)

				_, err = s.Confirm(t.Context(), handle.String(), code, binding)
				assert.ErrorIs(t, err, apperrors.ErrConfirmationNotFound)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing user ok", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "loginuser")

				session, err := s.Login(t.Context(), "loginuser@example.com", "strongpassword", binding)

				require.NoError(t, err)
				assert.True(t, session.IsAuthenticated)
				assert.NotEmpty(t, session.AccessToken)
				assert.NotEmpty(t, session.RefreshToken)
			})
		})

		t.Run("reuses the active refresh token", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				first := registerConfirmed(t, s, mailer, "reuser")

				second, err := s.Login(t.Context(), "reuser@example.com", "strongpassword", binding)

				require.NoError(t, err)
				assert.Equal(t, first.RefreshToken, second.RefreshToken, "repeated login must not mint a new refresh token")
			})
		})

		t.Run("unknown email and wrong password look the same", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "victim")

				_, wrongPass := s.Login(t.Context(), "victim@example.com", "wrong", binding)
				_, unknown := s.Login(t.Context(), "nobody@example.com", "whatever", binding)

				assert.ErrorIs(t, wrongPass, apperrors.ErrInvalidCredentials)
				assert.ErrorIs(t, unknown, apperrors.ErrInvalidCredentials)
			})
		})

		t.Run("locks out after repeated failures", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "lockme")

				var err error
				for range 3 {
					_, err = s.Login(t.Context(), "lockme@example.com", "wrong", binding)
				}
				assert.ErrorIs(t, err, apperrors.ErrUserLockedOut, "threshold attempt must lock")

				// Even the right password is rejected while locked
				_, err = s.Login(t.Context(), "lockme@example.com", "strongpassword", binding)
				assert.ErrorIs(t, err, apperrors.ErrUserLockedOut)
			})
		})

		t.Run("successful login resets the failure counter", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "clumsy")

				_, err := s.Login(t.Context(), "clumsy@example.com", "wrong", binding)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

				_, err = s.Login(t.Context(), "clumsy@example.com", "strongpassword", binding)
				require.NoError(t, err)

				user, err := s.storage.User().GetUserByEmail(t.Context(), "clumsy@example.com")
				require.NoError(t, err)
				assert.Zero(t, user.FailedLogins)
			})
		})
	})

	t.Run("RefreshSession", func(t *testing.T) {
		t.Run("rotates the token", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				session := registerConfirmed(t, s, mailer, "rotator")

				rotated, err := s.RefreshSession(t.Context(), session.RefreshToken, binding)

				require.NoError(t, err)
				assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

				// The old token is spent
				_, err = s.RefreshSession(t.Context(), session.RefreshToken, binding)
				assert.ErrorIs(t, err, apperrors.ErrInactiveToken)
			})
		})

		t.Run("unknown token fails", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, _ *fakeSender) {
				_, err := s.RefreshSession(t.Context(), "never-issued", binding)

				assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("expired token is inactive and stays unrotated", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "sluggish")
				user, err := s.storage.User().GetUserByEmail(t.Context(), "sluggish@example.com")
				require.NoError(t, err)

				stale, err := s.refresh.Generate(binding)
				require.NoError(t, err)
				stale.UserID = user.ID
				stale.ExpiresOn = time.Now().UTC().Add(-time.Minute)
				require.NoError(t, s.storage.Refresh().Save(t.Context(), stale))

				_, err = s.RefreshSession(t.Context(), stale.Token, binding)
				assert.ErrorIs(t, err, apperrors.ErrInactiveToken)

				// No rotation happened: the token was never revoked
				got, err := s.storage.Refresh().GetByToken(t.Context(), stale.Token)
				require.NoError(t, err)
				assert.Nil(t, got.RevokedOn)
			})
		})

		t.Run("binding mismatch fails without revoking", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				session := registerConfirmed(t, s, mailer, "bound")

				foreign := models.Binding{Device: "other-device", IP: "198.51.100.1"}
				_, err := s.RefreshSession(t.Context(), session.RefreshToken, foreign)
				assert.ErrorIs(t, err, apperrors.ErrTokenBindingMismatch)

				// The legitimate client still rotates fine
				_, err = s.RefreshSession(t.Context(), session.RefreshToken, binding)
				assert.NoError(t, err)
			})
		})
	})

	t.Run("RevokeToken", func(t *testing.T) {
		t.Run("revoked token can not be used", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				session := registerConfirmed(t, s, mailer, "quitter")

				err := s.RevokeToken(t.Context(), session.RefreshToken)
				require.NoError(t, err)

				_, err = s.RefreshSession(t.Context(), session.RefreshToken, binding)
				assert.ErrorIs(t, err, apperrors.ErrInactiveToken)

				err = s.RevokeToken(t.Context(), session.RefreshToken)
				assert.ErrorIs(t, err, apperrors.ErrInactiveToken)
			})
		})
	})

	t.Run("ChangePassword", func(t *testing.T) {
		t.Run("verifies the current password", func(t *testing.T) {
			withTx(pg.Pool, t, func(s *AuthService, mailer *fakeSender) {
				registerConfirmed(t, s, mailer, "changer")
				user, err := s.storage.User().GetUserByEmail(t.Context(), "changer@example.com")
				require.NoError(t, err)

				err = s.ChangePassword(t.Context(), user.ID, "wrong", "newpassword")
				assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

				err = s.ChangePassword(t.Context(), user.ID, "strongpassword", "newpassword")
				require.NoError(t, err)

				_, err = s.Login(t.Context(), "changer@example.com", "newpassword", binding)
				assert.NoError(t, err)
			})
		})
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nstepanov/usermgmt/internal/avatars"
	"github.com/nstepanov/usermgmt/internal/db"
	"github.com/nstepanov/usermgmt/internal/handlers"
	"github.com/nstepanov/usermgmt/internal/logger"
	"github.com/nstepanov/usermgmt/internal/mail"
	"github.com/nstepanov/usermgmt/internal/pending"
	"github.com/nstepanov/usermgmt/internal/repository/postgres"
	"github.com/nstepanov/usermgmt/internal/service/auth"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger. Production gets JSON output, everything else text.
	var log logger.Logger
	if c.Environment == EnvProduction {
		log = logger.NewJSONLogger(c.LogLevel)
	} else {
		log = logger.NewLogger(c.LogLevel)
	}

	if c.DatabaseDSN == "" {
		return nil, errors.New("database DSN must be set")
	}
	if c.SMTPHost == "" || c.SMTPFrom == "" {
		return nil, errors.New("SMTP host and sender address must be set")
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize token managers
	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
		SecretKey: c.SecretKey,
		Issuer:    c.JWTIssuer,
		Audience:  c.JWTAudience,
		AccessTTL: c.AccessTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	refreshManager, err := auth.NewRefreshManager(storage, tokenManager, c.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("error while creating refresh manager. Err: %w", err)
	}

	// Initialize collaborators: staging area, outbound mail, avatar bucket
	pendingStore := pending.NewStore(pending.DefaultMaxTTL)

	mailer, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:        c.SMTPHost,
		Port:        c.SMTPPort,
		Username:    c.SMTPUsername,
		Password:    c.SMTPPassword,
		From:        c.SMTPFrom,
		DisplayName: c.SMTPDisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating mail sender. Err: %w", err)
	}

	var avatarStore avatars.Store
	if c.S3Endpoint != "" {
		avatarStore, err = avatars.New(ctx, avatars.Config{
			Endpoint:      c.S3Endpoint,
			AccessKey:     c.S3AccessKey,
			SecretKey:     c.S3SecretKey,
			Bucket:        c.S3Bucket,
			PublicBaseURL: c.S3PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("error while creating avatar store. Err: %w", err)
		}
	}

	authService, err := auth.NewAuthService(
		auth.Config{ConfirmationTTL: c.ConfirmationTTL},
		storage,
		pendingStore,
		mailer,
		avatarStore,
		tokenManager,
		refreshManager,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(authService, log)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		Logger:     log,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}

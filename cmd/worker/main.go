package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/keygate-io/keygate/internal/app"
	"github.com/keygate-io/keygate/internal/credential"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/owners"
	"github.com/keygate-io/keygate/internal/platform/cache"
	"github.com/keygate-io/keygate/internal/platform/db"
	"github.com/keygate-io/keygate/internal/session"
	"github.com/keygate-io/keygate/internal/shared"
	"github.com/keygate-io/keygate/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
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

	catalog := shared.NewPermissionCatalog()
	recorder := shared.NewPGAuditRecorder(pool)
	hasher := credential.NewBcryptHasher(cfg.BcryptCost)

	devices := keys.NewDeviceRegistry(redisClient)
	keyRepo := keys.NewRepository(pool)
	keyService := keys.NewService(keyRepo, devices, hasher, catalog, recorder, nil)

	ownerRepo := owners.NewRepository(pool)
	ownerService := owners.NewService(ownerRepo, hasher, recorder)

	issuer := session.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL)
	sessionRepo := session.NewRepository(pool)
	sessionService := session.NewService(ownerService, keyService, sessionRepo, issuer, catalog, recorder, nil, cfg.RefreshTTL)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCascadeSweep, Handler: jobs.NewCascadeSweepHandler(keyService, logger)},
			{Type: jobs.TaskTokenPurge, Handler: jobs.NewTokenPurgeHandler(sessionService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewCascadeSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: jobs.NewTokenPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

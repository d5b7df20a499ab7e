package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/keygate-io/keygate/internal/access"
	"github.com/keygate-io/keygate/internal/app"
	"github.com/keygate-io/keygate/internal/audit"
	"github.com/keygate-io/keygate/internal/credential"
	"github.com/keygate-io/keygate/internal/groups"
	"github.com/keygate-io/keygate/internal/keys"
	"github.com/keygate-io/keygate/internal/observability"
	"github.com/keygate-io/keygate/internal/owners"
	"github.com/keygate-io/keygate/internal/platform/cache"
	"github.com/keygate-io/keygate/internal/platform/db"
	"github.com/keygate-io/keygate/internal/resources"
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

	metrics := observability.NewMetrics()
	metrics.Registerer().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	catalog := shared.NewPermissionCatalog()
	recorder := shared.NewPGAuditRecorder(pool)
	hasher := credential.NewBcryptHasher(cfg.BcryptCost)

	ownerRepo := owners.NewRepository(pool)
	ownerService := owners.NewService(ownerRepo, hasher, recorder)

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	devices := keys.NewDeviceRegistry(redisClient)
	keyRepo := keys.NewRepository(pool)
	keyService := keys.NewService(keyRepo, devices, hasher, catalog, recorder, queue)

	issuer := session.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL)
	sessionRepo := session.NewRepository(pool)
	sessionService := session.NewService(ownerService, keyService, sessionRepo, issuer, catalog, recorder, metrics, cfg.RefreshTTL)

	groupRepo := groups.NewRepository(pool)
	groupService := groups.NewService(groupRepo, keyService, recorder)

	resourceRepo := resources.NewRepository(pool)
	accessRepo := access.NewRepository(pool)
	evaluator := access.NewEvaluator(accessRepo)
	resourceService := resources.NewService(resourceRepo, evaluator, keyService, recorder)
	accessService := access.NewService(accessRepo, evaluator, keyService, groupService, resourceService, recorder)

	auditRepo := audit.NewPGRepository(pool)
	auditService := audit.NewService(auditRepo)

	authMiddleware := session.Middleware{Issuer: issuer, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Auth:             authMiddleware,
		SessionHandler:   session.NewHandler(logger, sessionService, ownerService),
		KeysHandler:      keys.NewHandler(logger, keyService),
		ResourcesHandler: resources.NewHandler(logger, resourceService),
		AccessHandler:    access.NewHandler(logger, accessService),
		GroupsHandler:    groups.NewHandler(logger, groupService),
		AuditHandler:     audit.NewHandler(logger, auditService),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}

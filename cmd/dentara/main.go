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

	"github.com/dentara/dentara/internal/app"
	"github.com/dentara/dentara/internal/billing"
	"github.com/dentara/dentara/internal/patients"
	"github.com/dentara/dentara/internal/platform/cache"
	"github.com/dentara/dentara/internal/platform/db"
	"github.com/dentara/dentara/internal/shared"
	"github.com/dentara/dentara/jobs"
)

// queueAdapter bridges the jobs client to the billing handler's queue port.
type queueAdapter struct {
	client *jobs.Client
}

func (a *queueAdapter) EnqueuePlanStatusRefresh(ctx context.Context, planID int64) error {
	_, err := a.client.EnqueuePlanStatusRefresh(ctx, jobs.PlanStatusRefreshPayload{PlanID: planID})
	return err
}

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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summaries uncached", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	summaryCache := billing.NewSummaryCache(redisClient, cfg.SummaryTTL)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, auditLogger, idempotencyStore, summaryCache)

	patientsRepo := patients.NewRepository(pool)
	patientsService := patients.NewService(patientsRepo)
	patientsHandler := patients.NewHandler(logger, patientsService)

	billingHandler := billing.NewHandler(logger, billingService, patientsService)
	if redisClient != nil {
		queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("queue client unavailable", slog.Any("error", err))
		} else {
			defer func() {
				if err := queueClient.Close(); err != nil {
					logger.Warn("queue client close", slog.Any("error", err))
				}
			}()
			billingHandler.WithQueue(&queueAdapter{client: queueClient})
		}
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BillingHandler:  billingHandler,
		PatientsHandler: patientsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

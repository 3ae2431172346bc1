package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dentara/dentara/internal/app"
	"github.com/dentara/dentara/internal/billing"
	"github.com/dentara/dentara/internal/platform/db"
	"github.com/dentara/dentara/internal/shared"
	"github.com/dentara/dentara/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, auditLogger, nil, nil)

	statusJob := jobs.NewPlanStatusRefreshJob(billingService, logger)
	remindersJob := jobs.NewInstallmentRemindersJob(billingRepo, logger)

	statusTask, err := jobs.NewPlanStatusRefreshTask(jobs.PlanStatusRefreshPayload{})
	if err != nil {
		logger.Error("build status task", slog.Any("error", err))
		os.Exit(1)
	}
	remindersTask, err := jobs.NewInstallmentRemindersTask(jobs.InstallmentRemindersPayload{WindowDays: cfg.ReminderWindowDays})
	if err != nil {
		logger.Error("build reminders task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPlanStatusRefresh, Handler: statusJob.Handle},
			{Type: jobs.TaskInstallmentReminders, Handler: remindersJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: statusTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: remindersTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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

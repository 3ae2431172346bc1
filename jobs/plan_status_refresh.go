package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dentara/dentara/internal/billing"
)

// PlanStatusRefreshJob promotes plans whose installments are all completed.
type PlanStatusRefreshJob struct {
	Billing *billing.Service
	Logger  *slog.Logger
}

// NewPlanStatusRefreshJob wires dependencies for the status sweep handler.
func NewPlanStatusRefreshJob(billingSvc *billing.Service, logger *slog.Logger) *PlanStatusRefreshJob {
	return &PlanStatusRefreshJob{Billing: billingSvc, Logger: logger}
}

// Handle processes plan status refresh tasks.
func (j *PlanStatusRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Billing == nil {
		return errors.New("plan status refresh: handler not configured")
	}
	var payload PlanStatusRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	if payload.PlanID != 0 {
		status, err := j.Billing.RefreshPlanStatus(ctx, payload.PlanID)
		if err != nil {
			j.logger().Error("refresh plan status", slog.Int64("plan_id", payload.PlanID), slog.Any("error", err))
			return err
		}
		j.logger().Info("plan status refreshed", slog.Int64("plan_id", payload.PlanID), slog.String("status", string(status)))
		return nil
	}

	changed, err := j.Billing.ReconcilePlanStatuses(ctx)
	if err != nil {
		j.logger().Error("reconcile plan statuses", slog.Any("error", err))
		return err
	}
	j.logger().Info("plan statuses reconciled", slog.Int("promoted", changed))
	return nil
}

func (j *PlanStatusRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

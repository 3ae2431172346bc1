package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dentara/dentara/internal/billing"
)

// ReminderSource lists plans whose due date is approaching.
type ReminderSource interface {
	ListPlansDueWithin(ctx context.Context, days int) ([]billing.PaymentPlan, error)
}

// InstallmentRemindersJob logs upcoming dues with outstanding balances.
// Delivery (SMS/email) hangs off the log pipeline for now.
type InstallmentRemindersJob struct {
	Source ReminderSource
	Logger *slog.Logger
}

// NewInstallmentRemindersJob wires dependencies for the reminder scan.
func NewInstallmentRemindersJob(source ReminderSource, logger *slog.Logger) *InstallmentRemindersJob {
	return &InstallmentRemindersJob{Source: source, Logger: logger}
}

// Handle processes reminder scan tasks.
func (j *InstallmentRemindersJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("installment reminders: handler not configured")
	}
	var payload InstallmentRemindersPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = 7
	}

	plans, err := j.Source.ListPlansDueWithin(ctx, payload.WindowDays)
	if err != nil {
		j.logger().Error("list plans due", slog.Any("error", err))
		return err
	}

	flagged := 0
	for i := range plans {
		plan := &plans[i]
		outstanding := plan.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}
		flagged++
		j.logger().Info("installment reminder",
			slog.Int64("plan_id", plan.ID),
			slog.Int64("patient_id", plan.PatientID),
			slog.Time("due_date", plan.DueDate),
			slog.String("outstanding", outstanding.String()),
		)
	}
	j.logger().Info("reminder scan finished", slog.Int("plans_flagged", flagged), slog.Int("window_days", payload.WindowDays))
	return nil
}

func (j *InstallmentRemindersJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dentara/dentara/internal/billing"
)

type stubReminderSource struct {
	plans []billing.PaymentPlan
	err   error
	days  int
}

func (s *stubReminderSource) ListPlansDueWithin(ctx context.Context, days int) ([]billing.PaymentPlan, error) {
	s.days = days
	return s.plans, s.err
}

func reminderTask(t *testing.T, payload InstallmentRemindersPayload) *asynq.Task {
	t.Helper()
	task, err := NewInstallmentRemindersTask(payload)
	require.NoError(t, err)
	return task
}

func TestInstallmentRemindersFlagsOutstandingPlans(t *testing.T) {
	due := time.Date(2026, time.September, 5, 0, 0, 0, 0, time.UTC)
	source := &stubReminderSource{plans: []billing.PaymentPlan{
		{
			ID:          1,
			PatientID:   7,
			DueDate:     due,
			TotalAmount: decimal.NewFromInt(100),
			Installments: []billing.Installment{
				{ExpectedAmount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(40)},
			},
		},
		{
			ID:          2,
			PatientID:   8,
			DueDate:     due,
			TotalAmount: decimal.NewFromInt(50),
			Installments: []billing.Installment{
				{ExpectedAmount: decimal.NewFromInt(50), PaidAmount: decimal.NewFromInt(50)},
			},
		},
	}}

	var buf bytes.Buffer
	job := NewInstallmentRemindersJob(source, slog.New(slog.NewTextHandler(&buf, nil)))

	err := job.Handle(context.Background(), reminderTask(t, InstallmentRemindersPayload{WindowDays: 14}))
	require.NoError(t, err)
	require.Equal(t, 14, source.days)

	out := buf.String()
	require.Contains(t, out, "plan_id=1")
	require.Contains(t, out, "outstanding=60")
	// The fully paid plan is skipped.
	require.NotContains(t, out, "plan_id=2")
	require.Contains(t, out, "plans_flagged=1")
}

func TestInstallmentRemindersDefaultsWindow(t *testing.T) {
	source := &stubReminderSource{}
	job := NewInstallmentRemindersJob(source, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	err := job.Handle(context.Background(), reminderTask(t, InstallmentRemindersPayload{}))
	require.NoError(t, err)
	require.Equal(t, 7, source.days)
}

func TestInstallmentRemindersPropagatesSourceError(t *testing.T) {
	source := &stubReminderSource{err: errors.New("db down")}
	job := NewInstallmentRemindersJob(source, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	err := job.Handle(context.Background(), reminderTask(t, InstallmentRemindersPayload{WindowDays: 3}))
	require.Error(t, err)
}

func TestInstallmentRemindersMalformedPayloadSkipsRetry(t *testing.T) {
	source := &stubReminderSource{}
	job := NewInstallmentRemindersJob(source, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	task := asynq.NewTask(TaskInstallmentReminders, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

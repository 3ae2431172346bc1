package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPlanStatusRefresh promotes fully paid plans to complete.
	TaskPlanStatusRefresh = "billing:plan_status_refresh"
	// TaskInstallmentReminders scans for plans coming due with an
	// outstanding balance.
	TaskInstallmentReminders = "billing:installment_reminders"
)

// PlanStatusRefreshPayload scopes the status sweep. A zero PlanID sweeps all
// pending plans.
type PlanStatusRefreshPayload struct {
	PlanID int64 `json:"planId"`
}

// NewPlanStatusRefreshTask constructs an Asynq task.
func NewPlanStatusRefreshTask(payload PlanStatusRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPlanStatusRefresh, data), nil
}

// InstallmentRemindersPayload configures the reminder window.
type InstallmentRemindersPayload struct {
	WindowDays int `json:"windowDays"`
}

// NewInstallmentRemindersTask constructs an Asynq task.
func NewInstallmentRemindersTask(payload InstallmentRemindersPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInstallmentReminders, data), nil
}

package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvariantViolation signals that the scheduled amounts drifted from the
// plan total beyond rounding absorption. It marks a programming defect (or
// the documented all-slots-locked clamp), never a user error.
var ErrInvariantViolation = errors.New("installment amounts do not sum to the plan total")

// PlanEvent is one mutation request against a plan aggregate. Every caller
// path (plan form edits, installment overrides, payment receipts) funnels
// through the same reducer so the rebalancing call exists exactly once.
type PlanEvent interface {
	isPlanEvent()
}

// TotalChanged updates the plan total and rebalances resizable installments.
type TotalChanged struct {
	Total decimal.Decimal
}

// CountChanged updates the requested installment count and rebalances.
type CountChanged struct {
	Count int
}

// InstallmentEdited fixes one installment's scheduled amount by operator
// override. The slot becomes resize-locked and the rest rebalance around it.
type InstallmentEdited struct {
	Index  int
	Amount decimal.Decimal
}

// PaymentRecorded applies a real payment to one installment. An empty
// ReceiptLink clears any stored receipt and reverts the status to pending.
type PaymentRecorded struct {
	Index       int
	Amount      decimal.Decimal
	Date        time.Time
	ReceiptLink string
}

func (TotalChanged) isPlanEvent()      {}
func (CountChanged) isPlanEvent()      {}
func (InstallmentEdited) isPlanEvent() {}
func (PaymentRecorded) isPlanEvent()   {}

// PlanAggregate holds one payment plan and its installments in memory and
// enforces the plan-level invariant after every mutation. All computation is
// synchronous; persistence belongs to the caller.
type PlanAggregate struct {
	Plan PaymentPlan

	now func() time.Time
}

// NewPlanAggregate wraps an existing plan.
func NewPlanAggregate(plan PaymentPlan) *PlanAggregate {
	return &PlanAggregate{Plan: plan, now: time.Now}
}

// NewPlan builds a fresh plan with its initial installment allocation.
func NewPlan(total decimal.Decimal, count int, description string, patientID, consultationID int64, createdAt, dueDate time.Time) (*PlanAggregate, error) {
	plan := PaymentPlan{
		CreatedAt:        createdAt,
		DueDate:          dueDate,
		TotalAmount:      total,
		InstallmentCount: count,
		Description:      description,
		Status:           PlanStatusPending,
		PatientID:        patientID,
		ConsultationID:   consultationID,
	}
	if err := ValidatePlanTerms(&plan, time.Now()); err != nil {
		return nil, err
	}
	plan.Installments = Allocate(total, count, nil)
	return NewPlanAggregate(plan), nil
}

// WithClock overrides the aggregate's time source.
func (a *PlanAggregate) WithClock(now func() time.Time) *PlanAggregate {
	a.now = now
	return a
}

// Apply validates the event, stages the mutation on a copy, rebalances, and
// only then replaces the aggregate state. A failed rule leaves the plan
// untouched.
func (a *PlanAggregate) Apply(event PlanEvent) error {
	staged := a.Plan
	staged.Installments = a.Plan.CloneInstallments()

	switch ev := event.(type) {
	case TotalChanged:
		staged.TotalAmount = ev.Total
		if err := ValidatePlanTerms(&staged, a.now()); err != nil {
			return err
		}
		staged.Installments = Allocate(staged.TotalAmount, staged.InstallmentCount, staged.Installments)

	case CountChanged:
		staged.InstallmentCount = ev.Count
		if err := ValidatePlanTerms(&staged, a.now()); err != nil {
			return err
		}
		staged.Installments = Allocate(staged.TotalAmount, staged.InstallmentCount, staged.Installments)

	case InstallmentEdited:
		if err := ValidateInstallmentEdit(&staged, ev.Index, ev.Amount); err != nil {
			return err
		}
		staged.Installments[ev.Index].ExpectedAmount = ev.Amount
		staged.Installments[ev.Index].Status = InstallmentStatusEdited
		staged.Installments = Allocate(staged.TotalAmount, staged.InstallmentCount, staged.Installments)

	case PaymentRecorded:
		if err := ValidatePayment(&staged, ev.Index, ev.Amount, ev.Date, a.now()); err != nil {
			return err
		}
		applyPayment(&staged, ev)
		staged.Installments = Allocate(staged.TotalAmount, staged.InstallmentCount, staged.Installments)

	default:
		return errors.New("unknown plan event")
	}

	staged.UpdatedAt = a.now()
	a.Plan = staged
	return nil
}

// CheckInvariant verifies that scheduled amounts sum to the plan total,
// tolerating only the overshoot that ceiling division can introduce (strictly
// less than one unit per resizable slot). The clamp that guarantees one
// resizable slot when every installment is locked can exceed that tolerance;
// such plans are reported here rather than silently corrected.
func (a *PlanAggregate) CheckInvariant() error {
	expected := a.Plan.ExpectedTotal()
	if expected.Equal(a.Plan.TotalAmount) {
		return nil
	}
	resizable := 0
	for _, inst := range a.Plan.Installments {
		if !inst.Locked() {
			resizable++
		}
	}
	overshoot := expected.Sub(a.Plan.TotalAmount)
	if overshoot.IsPositive() && overshoot.LessThan(decimal.NewFromInt(int64(resizable))) {
		return nil
	}
	return ErrInvariantViolation
}

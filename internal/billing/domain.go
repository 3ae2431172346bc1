package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus enumerates payment plan statuses.
type PlanStatus string

const (
	PlanStatusPending  PlanStatus = "pending"
	PlanStatusComplete PlanStatus = "complete"
)

// InstallmentStatus enumerates installment statuses.
type InstallmentStatus string

const (
	// InstallmentStatusPending is untouched; the allocator may freely resize it.
	InstallmentStatusPending InstallmentStatus = "pending"
	// InstallmentStatusEdited has an operator-fixed amount; the allocator must not resize it.
	InstallmentStatusEdited InstallmentStatus = "edited"
	// InstallmentStatusCompleted has a recorded payment with a receipt; fully locked.
	InstallmentStatusCompleted InstallmentStatus = "completed"
)

// PaymentPlan is an agreement to pay a total amount across a fixed number
// of installments by a due date.
type PaymentPlan struct {
	ID               int64           `json:"id,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	DueDate          time.Time       `json:"dueDate"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	InstallmentCount int             `json:"installmentCount"`
	Description      string          `json:"description"`
	Status           PlanStatus      `json:"status"`
	PatientID        int64           `json:"patientId,omitempty"`
	ConsultationID   int64           `json:"consultationId,omitempty"`
	Installments     []Installment   `json:"installments"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Installment is one scheduled slice of a payment plan's total amount.
type Installment struct {
	ID             int64             `json:"id,omitempty"`
	PlanID         int64             `json:"planId,omitempty"`
	ExpectedAmount decimal.Decimal   `json:"expectedAmount"`
	PaidAmount     decimal.Decimal   `json:"paidAmount"`
	PaymentDate    *time.Time        `json:"paymentDate,omitempty"`
	Status         InstallmentStatus `json:"status"`
	ReceiptLink    string            `json:"receiptLink,omitempty"`
}

// Locked reports whether the allocator must leave this installment alone,
// either because an operator fixed its amount or because money was received.
func (i Installment) Locked() bool {
	return i.LockedByEdit() || i.LockedByPayment()
}

// LockedByEdit reports an operator-fixed amount with no money received yet.
func (i Installment) LockedByEdit() bool {
	return (i.Status == InstallmentStatusEdited || i.Status == InstallmentStatusCompleted) && i.PaidAmount.IsZero()
}

// LockedByPayment reports that a real payment has been recorded, regardless
// of status.
func (i Installment) LockedByPayment() bool {
	return i.PaidAmount.IsPositive()
}

// PaidTotal sums recorded payments across all installments.
func (p *PaymentPlan) PaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		total = total.Add(inst.PaidAmount)
	}
	return total
}

// ExpectedTotal sums scheduled amounts across all installments.
func (p *PaymentPlan) ExpectedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		total = total.Add(inst.ExpectedAmount)
	}
	return total
}

// Outstanding returns the portion of the plan total not yet paid. Never
// negative.
func (p *PaymentPlan) Outstanding() decimal.Decimal {
	out := p.TotalAmount.Sub(p.PaidTotal())
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// AllInstallmentsCompleted reports whether every installment carries a
// completed status.
func (p *PaymentPlan) AllInstallmentsCompleted() bool {
	if len(p.Installments) == 0 {
		return false
	}
	for _, inst := range p.Installments {
		if inst.Status != InstallmentStatusCompleted {
			return false
		}
	}
	return true
}

// CloneInstallments returns a deep copy of the installment list so mutations
// can be staged without touching the aggregate until they are validated.
func (p *PaymentPlan) CloneInstallments() []Installment {
	out := make([]Installment, len(p.Installments))
	copy(out, p.Installments)
	for i := range out {
		if out[i].PaymentDate != nil {
			d := *out[i].PaymentDate
			out[i].PaymentDate = &d
		}
	}
	return out
}

// PlanSummary aggregates a patient's payment position for display.
type PlanSummary struct {
	PatientID    int64           `json:"patientId"`
	PlanCount    int             `json:"planCount"`
	TotalOwed    decimal.Decimal `json:"totalOwed"`
	TotalPaid    decimal.Decimal `json:"totalPaid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	PendingPlans int             `json:"pendingPlans"`
}

package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplyPayment records a real payment against one installment and rebalances
// the remaining resizable installments around the newly locked amount. The
// returned plan is a new value; on validation failure the input plan is
// returned unchanged alongside the error. Persisting the result is the
// caller's responsibility.
func ApplyPayment(plan PaymentPlan, index int, amount decimal.Decimal, date time.Time, receiptLink string) (PaymentPlan, error) {
	agg := NewPlanAggregate(plan)
	if err := agg.Apply(PaymentRecorded{
		Index:       index,
		Amount:      amount,
		Date:        date,
		ReceiptLink: receiptLink,
	}); err != nil {
		return plan, err
	}
	return agg.Plan, nil
}

// applyPayment mutates the staged installment in place. The status follows
// the receipt link: attaching one completes the installment, removing it
// reverts to pending.
func applyPayment(staged *PaymentPlan, ev PaymentRecorded) {
	inst := &staged.Installments[ev.Index]
	inst.PaidAmount = ev.Amount
	d := ev.Date
	inst.PaymentDate = &d
	inst.ReceiptLink = ev.ReceiptLink
	if ev.ReceiptLink != "" {
		inst.Status = InstallmentStatusCompleted
	} else {
		inst.Status = InstallmentStatusPending
	}
}

// SetReceiptLink attaches or clears the proof-of-payment reference on one
// installment without touching amounts. Mirrors the receipt sub-resource of
// the persistence layer.
func SetReceiptLink(plan *PaymentPlan, index int, link string) error {
	if index < 0 || index >= len(plan.Installments) {
		return invalid("installment", "installment does not exist")
	}
	inst := &plan.Installments[index]
	inst.ReceiptLink = link
	if link != "" {
		inst.Status = InstallmentStatusCompleted
	} else {
		inst.Status = InstallmentStatusPending
	}
	return nil
}

package billing

import (
	"github.com/shopspring/decimal"
)

// Allocate splits a plan total across the requested number of installments,
// preserving any installment that is locked by an operator edit or by a real
// payment. It is a pure function: the input slice is never mutated and
// identical arguments always produce identical output, so callers may retry
// freely.
//
// With no existing installments the total is divided by integer-floor and
// the remainder lands on the first slot. When rebalancing around locked
// installments the per-slot amount uses ceiling division instead; the two
// rounding policies are deliberately different and both are relied on by
// round-trip callers, so neither may be unified with the other.
func Allocate(total decimal.Decimal, count int, existing []Installment) []Installment {
	if count <= 0 || !total.IsPositive() {
		return []Installment{}
	}
	if len(existing) == 0 {
		return allocateFresh(total, count)
	}
	return rebalance(total, count, existing)
}

func allocateFresh(total decimal.Decimal, count int) []Installment {
	countDec := decimal.NewFromInt(int64(count))
	base := total.Div(countDec).Floor()
	remainder := total.Sub(base.Mul(countDec))

	out := make([]Installment, 0, count)
	for i := 0; i < count; i++ {
		amount := base
		if i == 0 {
			amount = base.Add(remainder)
		}
		out = append(out, Installment{
			ExpectedAmount: amount,
			PaidAmount:     decimal.Zero,
			Status:         InstallmentStatusPending,
		})
	}
	return out
}

func rebalance(total decimal.Decimal, count int, existing []Installment) []Installment {
	var editLocked, payLocked []Installment
	accounted := decimal.Zero
	for _, inst := range existing {
		switch {
		case inst.LockedByPayment():
			payLocked = append(payLocked, inst)
			accounted = accounted.Add(inst.PaidAmount)
		case inst.LockedByEdit():
			editLocked = append(editLocked, inst)
			accounted = accounted.Add(inst.ExpectedAmount)
		}
	}

	if accounted.GreaterThanOrEqual(total) {
		// Fully accounted for; nothing left to distribute, even if that
		// leaves fewer than count installments.
		out := make([]Installment, len(existing))
		copy(out, existing)
		return out
	}

	remainingSlots := count - len(editLocked) - len(payLocked)
	if remainingSlots <= 0 {
		// Callers expect at least one resizable installment to exist after a
		// total increase, so a consumed count still yields one slot. When the
		// remaining amount is small this single slot can push the scheduled
		// sum past the plan total; see CheckInvariant.
		remainingSlots = 1
	}

	remaining := total.Sub(accounted)
	perSlot := remaining.Div(decimal.NewFromInt(int64(remainingSlots))).Ceil()

	out := make([]Installment, 0, len(editLocked)+len(payLocked)+remainingSlots)
	out = append(out, editLocked...)
	out = append(out, payLocked...)
	for i := 0; i < remainingSlots; i++ {
		out = append(out, Installment{
			ExpectedAmount: perSlot,
			PaidAmount:     decimal.Zero,
			Status:         InstallmentStatusPending,
		})
	}
	return out
}

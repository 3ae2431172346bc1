package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func amounts(installments []Installment) []string {
	out := make([]string, len(installments))
	for i, inst := range installments {
		out[i] = inst.ExpectedAmount.String()
	}
	return out
}

func expectedSum(installments []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.ExpectedAmount)
	}
	return total
}

func TestAllocateFreshRemainderToFirst(t *testing.T) {
	result := Allocate(decimal.NewFromInt(100), 3, nil)

	require.Len(t, result, 3)
	require.Equal(t, []string{"34", "33", "33"}, amounts(result))
	require.True(t, expectedSum(result).Equal(decimal.NewFromInt(100)))
	for _, inst := range result {
		require.Equal(t, InstallmentStatusPending, inst.Status)
		require.True(t, inst.PaidAmount.IsZero())
	}
}

func TestAllocateFreshSumsToTotal(t *testing.T) {
	cases := []struct {
		total int64
		count int
	}{
		{100, 1}, {100, 3}, {100, 7}, {90, 3}, {99, 12},
		{20, 2}, {100000, 12}, {77, 5}, {1000, 6},
	}
	for _, tc := range cases {
		total := decimal.NewFromInt(tc.total)
		result := Allocate(total, tc.count, nil)
		require.Len(t, result, tc.count, "total=%d count=%d", tc.total, tc.count)
		require.True(t, expectedSum(result).Equal(total), "total=%d count=%d got=%v", tc.total, tc.count, amounts(result))
	}
}

func TestAllocateDegenerateInputs(t *testing.T) {
	require.Empty(t, Allocate(decimal.NewFromInt(100), 0, nil))
	require.Empty(t, Allocate(decimal.NewFromInt(100), -1, nil))
	require.Empty(t, Allocate(decimal.Zero, 3, nil))
	require.Empty(t, Allocate(decimal.NewFromInt(-5), 3, nil))
}

func TestRebalanceAroundPayment(t *testing.T) {
	existing := Allocate(decimal.NewFromInt(100), 4, nil)
	existing[0].PaidAmount = decimal.NewFromInt(40)
	existing[0].Status = InstallmentStatusCompleted

	result := Allocate(decimal.NewFromInt(100), 4, existing)

	require.Len(t, result, 4)
	// Payment-locked installment survives unchanged, ahead of the fresh slots.
	require.True(t, result[0].PaidAmount.Equal(decimal.NewFromInt(40)))
	require.Equal(t, InstallmentStatusCompleted, result[0].Status)

	rest := decimal.Zero
	for _, inst := range result[1:] {
		require.Equal(t, InstallmentStatusPending, inst.Status)
		rest = rest.Add(inst.ExpectedAmount)
	}
	require.True(t, rest.Equal(decimal.NewFromInt(60)), "got %v", amounts(result))
	require.Equal(t, []string{"20", "20", "20"}, amounts(result)[1:])
}

func TestRebalanceOrdering(t *testing.T) {
	existing := []Installment{
		{ExpectedAmount: decimal.NewFromInt(25), PaidAmount: decimal.NewFromInt(25), Status: InstallmentStatusCompleted},
		{ExpectedAmount: decimal.NewFromInt(30), PaidAmount: decimal.Zero, Status: InstallmentStatusEdited},
		{ExpectedAmount: decimal.NewFromInt(25), PaidAmount: decimal.Zero, Status: InstallmentStatusPending},
		{ExpectedAmount: decimal.NewFromInt(20), PaidAmount: decimal.Zero, Status: InstallmentStatusPending},
	}

	result := Allocate(decimal.NewFromInt(100), 4, existing)

	require.Len(t, result, 4)
	// Edit-locked first, payment-locked second, regenerated pending last.
	require.Equal(t, InstallmentStatusEdited, result[0].Status)
	require.True(t, result[0].ExpectedAmount.Equal(decimal.NewFromInt(30)))
	require.Equal(t, InstallmentStatusCompleted, result[1].Status)
	require.True(t, result[1].PaidAmount.Equal(decimal.NewFromInt(25)))
	// accounted = 30 + 25 = 55, remaining 45 over 2 slots, ceiling.
	require.Equal(t, []string{"23", "23"}, amounts(result)[2:])
}

func TestRebalanceCeilingAsymmetry(t *testing.T) {
	// Fresh allocation floors with remainder-to-first; rebalancing ceilings
	// per slot. The same figures land differently on purpose.
	fresh := Allocate(decimal.NewFromInt(100), 3, nil)
	require.Equal(t, []string{"34", "33", "33"}, amounts(fresh))

	rebalanced := Allocate(decimal.NewFromInt(100), 3, fresh)
	require.Equal(t, []string{"34", "34", "34"}, amounts(rebalanced))
}

func TestRebalanceLockedSurviveRepeatedRuns(t *testing.T) {
	existing := Allocate(decimal.NewFromInt(100), 4, nil)
	existing[1].PaidAmount = decimal.NewFromInt(40)
	existing[1].Status = InstallmentStatusCompleted
	existing[2].Status = InstallmentStatusEdited
	existing[2].ExpectedAmount = decimal.NewFromInt(30)

	first := Allocate(decimal.NewFromInt(100), 4, existing)
	second := Allocate(decimal.NewFromInt(100), 4, first)

	// Locked installments pass through both runs untouched; only the fully
	// pending slots are regenerated each time.
	require.True(t, second[0].ExpectedAmount.Equal(decimal.NewFromInt(30)))
	require.Equal(t, InstallmentStatusEdited, second[0].Status)
	require.True(t, second[1].PaidAmount.Equal(decimal.NewFromInt(40)))
	require.Equal(t, amounts(first), amounts(second))
}

func TestRebalanceFullyAccountedReturnsExistingUnchanged(t *testing.T) {
	existing := []Installment{
		{ExpectedAmount: decimal.NewFromInt(60), PaidAmount: decimal.NewFromInt(60), Status: InstallmentStatusCompleted},
		{ExpectedAmount: decimal.NewFromInt(40), PaidAmount: decimal.Zero, Status: InstallmentStatusEdited},
	}

	result := Allocate(decimal.NewFromInt(100), 4, existing)

	// Accounted total reached the plan total: no new slots, even though the
	// requested count was 4.
	require.Len(t, result, 2)
	require.Equal(t, amounts(existing), amounts(result))
}

func TestAllocateClampLeavesKnownOvershoot(t *testing.T) {
	// Every slot of the requested count is locked but the accounted total is
	// still short of the plan total. The forced single pending slot then
	// pushes the scheduled sum past the total. Known, deliberately kept
	// behavior: callers depend on a resizable slot existing after a total
	// increase.
	existing := []Installment{
		{ExpectedAmount: decimal.NewFromInt(50), PaidAmount: decimal.NewFromInt(50), Status: InstallmentStatusCompleted},
		{ExpectedAmount: decimal.NewFromInt(45), PaidAmount: decimal.Zero, Status: InstallmentStatusEdited},
	}

	result := Allocate(decimal.NewFromInt(100), 2, existing)

	require.Len(t, result, 3)
	require.True(t, result[2].ExpectedAmount.Equal(decimal.NewFromInt(5)))
	require.True(t, expectedSum(result).Equal(decimal.NewFromInt(100)))

	agg := NewPlanAggregate(PaymentPlan{TotalAmount: decimal.NewFromInt(100), Installments: result})
	require.NoError(t, agg.CheckInvariant())

	// A partial payment makes it worse: the slot counts against the total by
	// its paid amount (46) while its scheduled amount (50) still stands, so
	// the forced slot stacks 4 units of overshoot on top.
	partial := []Installment{
		{ExpectedAmount: decimal.NewFromInt(50), PaidAmount: decimal.NewFromInt(46), Status: InstallmentStatusCompleted},
		{ExpectedAmount: decimal.NewFromInt(45), PaidAmount: decimal.Zero, Status: InstallmentStatusEdited},
	}
	overshootPlan := PaymentPlan{
		TotalAmount:  decimal.NewFromInt(96),
		Installments: Allocate(decimal.NewFromInt(96), 2, partial),
	}
	require.True(t, overshootPlan.ExpectedTotal().GreaterThan(overshootPlan.TotalAmount))
	require.ErrorIs(t, NewPlanAggregate(overshootPlan).CheckInvariant(), ErrInvariantViolation)
}

func TestAllocateDoesNotMutateInput(t *testing.T) {
	existing := Allocate(decimal.NewFromInt(90), 3, nil)
	existing[0].PaidAmount = decimal.NewFromInt(30)
	before := amounts(existing)

	_ = Allocate(decimal.NewFromInt(120), 3, existing)

	require.Equal(t, before, amounts(existing))
	require.True(t, existing[0].PaidAmount.Equal(decimal.NewFromInt(30)))
}

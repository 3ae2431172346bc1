package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/dentara/dentara/internal/shared"
)

// RepositoryPort defines persistence for payment plans. The aggregate is
// mutated in memory first and then handed to the port; a failed write is
// reported upward without rolling the in-memory state back.
type RepositoryPort interface {
	CreatePlan(ctx context.Context, plan PaymentPlan) (*PaymentPlan, error)
	GetPlan(ctx context.Context, id int64) (*PaymentPlan, error)
	ListPlansByPatient(ctx context.Context, patientID int64) ([]PaymentPlan, error)
	ListPlansByStatus(ctx context.Context, status PlanStatus) ([]PaymentPlan, error)
	ReplacePlan(ctx context.Context, plan PaymentPlan) (*PaymentPlan, error)
	UpdateReceiptLink(ctx context.Context, planID int64, index int, link string, status InstallmentStatus) error
	UpdatePlanStatus(ctx context.Context, id int64, status PlanStatus) error
}

// AuditPort records plan mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards duplicate payment submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates plan mutations over the repository port.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       *SummaryCache
	now         func() time.Time
	flight      singleflight.Group
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cache *SummaryCache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache, now: time.Now}
}

// CreatePlanInput carries the plan form fields.
type CreatePlanInput struct {
	TotalAmount      decimal.Decimal
	InstallmentCount int
	Description      string
	PatientID        int64
	ConsultationID   int64
	CreatedAt        time.Time
	DueDate          time.Time
}

// CreatePlan validates the terms, runs the initial allocation, and persists
// the plan with its installments.
func (s *Service) CreatePlan(ctx context.Context, input CreatePlanInput) (*PaymentPlan, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	agg, err := NewPlan(input.TotalAmount, input.InstallmentCount, input.Description, input.PatientID, input.ConsultationID, createdAt, input.DueDate)
	if err != nil {
		return nil, err
	}
	agg.WithClock(s.now)

	created, err := s.repo.CreatePlan(ctx, agg.Plan)
	if err != nil {
		return nil, fmt.Errorf("billing: create plan: %w", err)
	}
	s.invalidateSummary(ctx, created.PatientID)
	s.record(ctx, "plan.create", created.ID, map[string]any{
		"total":        created.TotalAmount.String(),
		"installments": created.InstallmentCount,
	})
	return created, nil
}

// GetPlan loads one plan with its installments.
func (s *Service) GetPlan(ctx context.Context, id int64) (*PaymentPlan, error) {
	plan, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, shared.ErrNotFound
	}
	return plan, nil
}

// ListPlansByPatient returns all plans linked to a patient.
func (s *Service) ListPlansByPatient(ctx context.Context, patientID int64) ([]PaymentPlan, error) {
	return s.repo.ListPlansByPatient(ctx, patientID)
}

// UpdatePlanTermsInput changes the plan total and/or installment count.
type UpdatePlanTermsInput struct {
	PlanID      int64
	TotalAmount *decimal.Decimal
	Count       *int
}

// UpdatePlanTerms applies total/count edits through the aggregate reducer and
// persists the rebalanced installment list.
func (s *Service) UpdatePlanTerms(ctx context.Context, input UpdatePlanTermsInput) (*PaymentPlan, error) {
	agg, err := s.loadAggregate(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if input.TotalAmount != nil {
		if err := agg.Apply(TotalChanged{Total: *input.TotalAmount}); err != nil {
			return nil, err
		}
	}
	if input.Count != nil {
		if err := agg.Apply(CountChanged{Count: *input.Count}); err != nil {
			return nil, err
		}
	}
	return s.persist(ctx, agg, "plan.terms", map[string]any{
		"total":        agg.Plan.TotalAmount.String(),
		"installments": agg.Plan.InstallmentCount,
	})
}

// EditInstallmentAmount fixes one installment's scheduled amount by operator
// override and rebalances the rest.
func (s *Service) EditInstallmentAmount(ctx context.Context, planID int64, index int, amount decimal.Decimal) (*PaymentPlan, error) {
	agg, err := s.loadAggregate(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := agg.Apply(InstallmentEdited{Index: index, Amount: amount}); err != nil {
		return nil, err
	}
	return s.persist(ctx, agg, "installment.edit", map[string]any{
		"index":  index,
		"amount": amount.String(),
	})
}

// RecordPaymentInput carries one real-world payment.
type RecordPaymentInput struct {
	PlanID      int64
	Index       int
	Amount      decimal.Decimal
	Date        time.Time
	ReceiptLink string
	// Reference deduplicates retried submissions. Generated when empty.
	Reference string
}

// RecordPayment applies a payment to one installment, rebalances, and
// persists. A repeated Reference short-circuits with ErrIdempotencyConflict
// before any state changes.
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*PaymentPlan, error) {
	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, reference, "billing"); err != nil {
			return nil, err
		}
	}

	agg, err := s.loadAggregate(ctx, input.PlanID)
	if err != nil {
		s.releaseKey(ctx, reference)
		return nil, err
	}
	if err := agg.Apply(PaymentRecorded{
		Index:       input.Index,
		Amount:      input.Amount,
		Date:        input.Date,
		ReceiptLink: input.ReceiptLink,
	}); err != nil {
		s.releaseKey(ctx, reference)
		return nil, err
	}

	plan, err := s.persist(ctx, agg, "payment.record", map[string]any{
		"index":     input.Index,
		"amount":    input.Amount.String(),
		"reference": reference,
	})
	if err != nil {
		s.releaseKey(ctx, reference)
		return nil, err
	}
	return plan, nil
}

// SetReceiptLink updates the proof-of-payment reference on one installment
// through the repository sub-resource. An empty link clears the receipt and
// reverts the installment to pending.
func (s *Service) SetReceiptLink(ctx context.Context, planID int64, index int, link string) (*PaymentPlan, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := SetReceiptLink(plan, index, link); err != nil {
		return nil, err
	}
	inst := plan.Installments[index]
	if err := s.repo.UpdateReceiptLink(ctx, planID, index, link, inst.Status); err != nil {
		return nil, fmt.Errorf("billing: update receipt link: %w", err)
	}
	s.invalidateSummary(ctx, plan.PatientID)
	s.record(ctx, "receipt.set", planID, map[string]any{"index": index, "link": link})
	return plan, nil
}

// RefreshPlanStatus recomputes the pending/complete status of one plan from
// its installments and persists the transition when it changed.
func (s *Service) RefreshPlanStatus(ctx context.Context, planID int64) (PlanStatus, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return "", err
	}
	status := PlanStatusPending
	if plan.AllInstallmentsCompleted() {
		status = PlanStatusComplete
	}
	if status == plan.Status {
		return status, nil
	}
	if err := s.repo.UpdatePlanStatus(ctx, planID, status); err != nil {
		return "", fmt.Errorf("billing: update plan status: %w", err)
	}
	s.invalidateSummary(ctx, plan.PatientID)
	s.record(ctx, "plan.status", planID, map[string]any{"status": string(status)})
	return status, nil
}

// ReconcilePlanStatuses sweeps pending plans and promotes the fully paid
// ones. Used by the background worker.
func (s *Service) ReconcilePlanStatuses(ctx context.Context) (int, error) {
	plans, err := s.repo.ListPlansByStatus(ctx, PlanStatusPending)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, plan := range plans {
		if !plan.AllInstallmentsCompleted() {
			continue
		}
		if err := s.repo.UpdatePlanStatus(ctx, plan.ID, PlanStatusComplete); err != nil {
			return changed, fmt.Errorf("billing: update plan status: %w", err)
		}
		s.invalidateSummary(ctx, plan.PatientID)
		changed++
	}
	return changed, nil
}

// PatientSummary aggregates a patient's plans, served from cache when warm.
// Concurrent rebuilds for the same patient collapse into one repository scan.
func (s *Service) PatientSummary(ctx context.Context, patientID int64) (*PlanSummary, error) {
	if s.cache != nil {
		if summary, err := s.cache.Get(ctx, patientID); err == nil && summary != nil {
			return summary, nil
		}
	}
	result, err, _ := s.flight.Do(strconv.FormatInt(patientID, 10), func() (any, error) {
		return s.buildSummary(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*PlanSummary), nil
}

func (s *Service) buildSummary(ctx context.Context, patientID int64) (*PlanSummary, error) {
	plans, err := s.repo.ListPlansByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	summary := &PlanSummary{PatientID: patientID, PlanCount: len(plans)}
	summary.TotalOwed = decimal.Zero
	summary.TotalPaid = decimal.Zero
	summary.Outstanding = decimal.Zero
	for i := range plans {
		plan := &plans[i]
		summary.TotalOwed = summary.TotalOwed.Add(plan.TotalAmount)
		summary.TotalPaid = summary.TotalPaid.Add(plan.PaidTotal())
		summary.Outstanding = summary.Outstanding.Add(plan.Outstanding())
		if plan.Status == PlanStatusPending {
			summary.PendingPlans++
		}
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, summary)
	}
	return summary, nil
}

func (s *Service) loadAggregate(ctx context.Context, planID int64) (*PlanAggregate, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return NewPlanAggregate(*plan).WithClock(s.now), nil
}

func (s *Service) persist(ctx context.Context, agg *PlanAggregate, action string, meta map[string]any) (*PaymentPlan, error) {
	if err := agg.CheckInvariant(); err != nil {
		if !errors.Is(err, ErrInvariantViolation) {
			return nil, err
		}
		// Known overshoot from the one-slot clamp; recorded, not rejected.
		meta["scheduledTotal"] = agg.Plan.ExpectedTotal().String()
	}
	saved, err := s.repo.ReplacePlan(ctx, agg.Plan)
	if err != nil {
		return nil, fmt.Errorf("billing: replace plan: %w", err)
	}
	s.invalidateSummary(ctx, saved.PatientID)
	s.record(ctx, action, saved.ID, meta)
	return saved, nil
}

func (s *Service) record(ctx context.Context, action string, planID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   "billing." + action,
		Entity:   "payment_plan",
		EntityID: strconv.FormatInt(planID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) invalidateSummary(ctx context.Context, patientID int64) {
	if s.cache == nil || patientID == 0 {
		return
	}
	_ = s.cache.Invalidate(ctx, patientID)
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if s.idempotency == nil {
		return
	}
	_ = s.idempotency.Delete(ctx, key)
}

package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentara/dentara/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payment plans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrDuplicatePlan indicates a plan already exists for the consultation.
var ErrDuplicatePlan = errors.New("billing: plan already exists for consultation")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreatePlan inserts the plan row and its installments in one transaction.
func (r *Repository) CreatePlan(ctx context.Context, plan PaymentPlan) (*PaymentPlan, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO payment_plans (created_at, due_date, total_amount, installment_count, description, status, patient_id, consultation_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), NULLIF($8, 0), $9) RETURNING id`,
			plan.CreatedAt, plan.DueDate, plan.TotalAmount, plan.InstallmentCount, plan.Description, plan.Status, plan.PatientID, plan.ConsultationID, plan.CreatedAt).Scan(&plan.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicatePlan
			}
			return err
		}
		return insertInstallments(ctx, tx, plan.ID, plan.Installments)
	})
	if err != nil {
		return nil, err
	}
	for i := range plan.Installments {
		plan.Installments[i].PlanID = plan.ID
	}
	return &plan, nil
}

// GetPlan loads one plan with its installments ordered by position.
func (r *Repository) GetPlan(ctx context.Context, id int64) (*PaymentPlan, error) {
	var plan PaymentPlan
	err := r.pool.QueryRow(ctx, `SELECT id, created_at, due_date, total_amount, installment_count, description, status, COALESCE(patient_id, 0), COALESCE(consultation_id, 0), updated_at
FROM payment_plans WHERE id = $1`, id).Scan(&plan.ID, &plan.CreatedAt, &plan.DueDate, &plan.TotalAmount, &plan.InstallmentCount, &plan.Description, &plan.Status, &plan.PatientID, &plan.ConsultationID, &plan.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	installments, err := r.listInstallments(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	plan.Installments = installments
	return &plan, nil
}

// ListPlansByPatient returns all plans linked to a patient, newest first.
func (r *Repository) ListPlansByPatient(ctx context.Context, patientID int64) ([]PaymentPlan, error) {
	return r.listPlans(ctx, `SELECT id, created_at, due_date, total_amount, installment_count, description, status, COALESCE(patient_id, 0), COALESCE(consultation_id, 0), updated_at
FROM payment_plans WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
}

// ListPlansByStatus returns plans in the given status.
func (r *Repository) ListPlansByStatus(ctx context.Context, status PlanStatus) ([]PaymentPlan, error) {
	return r.listPlans(ctx, `SELECT id, created_at, due_date, total_amount, installment_count, description, status, COALESCE(patient_id, 0), COALESCE(consultation_id, 0), updated_at
FROM payment_plans WHERE status = $1 ORDER BY due_date`, status)
}

// ListPlansDueWithin returns pending plans whose due date falls inside the
// next given number of days. Used by the reminder job.
func (r *Repository) ListPlansDueWithin(ctx context.Context, days int) ([]PaymentPlan, error) {
	return r.listPlans(ctx, `SELECT id, created_at, due_date, total_amount, installment_count, description, status, COALESCE(patient_id, 0), COALESCE(consultation_id, 0), updated_at
FROM payment_plans WHERE status = 'pending' AND due_date <= NOW() + ($1 || ' days')::interval ORDER BY due_date`, days)
}

// ReplacePlan overwrites the plan row and swaps the full installment list in
// one transaction. Installment identity is positional; rows are re-created.
func (r *Repository) ReplacePlan(ctx context.Context, plan PaymentPlan) (*PaymentPlan, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE payment_plans SET due_date = $2, total_amount = $3, installment_count = $4, description = $5, status = $6, updated_at = NOW() WHERE id = $1`,
			plan.ID, plan.DueDate, plan.TotalAmount, plan.InstallmentCount, plan.Description, plan.Status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		if _, err := tx.Exec(ctx, `DELETE FROM installments WHERE plan_id = $1`, plan.ID); err != nil {
			return err
		}
		return insertInstallments(ctx, tx, plan.ID, plan.Installments)
	})
	if err != nil {
		return nil, err
	}
	for i := range plan.Installments {
		plan.Installments[i].PlanID = plan.ID
	}
	return &plan, nil
}

// UpdateReceiptLink updates the receipt sub-resource of one installment,
// addressed by its position within the plan.
func (r *Repository) UpdateReceiptLink(ctx context.Context, planID int64, index int, link string, status InstallmentStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE installments SET receipt_link = NULLIF($3, ''), status = $4 WHERE plan_id = $1 AND position = $2`,
		planID, index, link, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdatePlanStatus transitions the plan status.
func (r *Repository) UpdatePlanStatus(ctx context.Context, id int64, status PlanStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_plans SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) listPlans(ctx context.Context, query string, args ...any) ([]PaymentPlan, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plans []PaymentPlan
	for rows.Next() {
		var plan PaymentPlan
		if err := rows.Scan(&plan.ID, &plan.CreatedAt, &plan.DueDate, &plan.TotalAmount, &plan.InstallmentCount, &plan.Description, &plan.Status, &plan.PatientID, &plan.ConsultationID, &plan.UpdatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range plans {
		installments, err := r.listInstallments(ctx, plans[i].ID)
		if err != nil {
			return nil, err
		}
		plans[i].Installments = installments
	}
	return plans, nil
}

func (r *Repository) listInstallments(ctx context.Context, planID int64) ([]Installment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, plan_id, expected_amount, paid_amount, payment_date, status, COALESCE(receipt_link, '')
FROM installments WHERE plan_id = $1 ORDER BY position`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var installments []Installment
	for rows.Next() {
		var inst Installment
		if err := rows.Scan(&inst.ID, &inst.PlanID, &inst.ExpectedAmount, &inst.PaidAmount, &inst.PaymentDate, &inst.Status, &inst.ReceiptLink); err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return installments, nil
}

func insertInstallments(ctx context.Context, tx pgx.Tx, planID int64, installments []Installment) error {
	for i, inst := range installments {
		_, err := tx.Exec(ctx, `INSERT INTO installments (plan_id, position, expected_amount, paid_amount, payment_date, status, receipt_link)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
			planID, i, inst.ExpectedAmount, inst.PaidAmount, inst.PaymentDate, inst.Status, inst.ReceiptLink)
		if err != nil {
			return err
		}
	}
	return nil
}

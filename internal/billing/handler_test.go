package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	patients      map[int64]bool
	consultations map[int64]bool
}

func (d *stubDirectory) PatientExists(ctx context.Context, id int64) (bool, error) {
	return d.patients[id], nil
}

func (d *stubDirectory) ConsultationExists(ctx context.Context, id int64) (bool, error) {
	return d.consultations[id], nil
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	svc, _, _, _ := newTestService(t)
	directory := &stubDirectory{patients: map[int64]bool{7: true}, consultations: map[int64]bool{}}
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, directory)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodePlan(t *testing.T, rec *httptest.ResponseRecorder) PaymentPlan {
	t.Helper()
	var plan PaymentPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	return plan
}

func createPlanViaAPI(t *testing.T, r chi.Router) PaymentPlan {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/plans", map[string]any{
		"totalAmount":      "100",
		"installmentCount": 4,
		"description":      "implant treatment",
		"patientId":        7,
		"dueDate":          "2026-09-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodePlan(t, rec)
}

func TestHandlerCreatePlan(t *testing.T) {
	r := newTestRouter(t)

	plan := createPlanViaAPI(t, r)
	require.NotZero(t, plan.ID)
	require.Len(t, plan.Installments, 4)
	require.Equal(t, []string{"25", "25", "25", "25"}, amounts(plan.Installments))
}

func TestHandlerCreatePlanUnknownPatient(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/plans", map[string]any{
		"totalAmount":      "100",
		"installmentCount": 4,
		"patientId":        999,
		"dueDate":          "2026-09-15",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "patient does not exist")
}

func TestHandlerCreatePlanBusinessRuleRejected(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/plans", map[string]any{
		"totalAmount":      "10",
		"installmentCount": 2,
		"patientId":        7,
		"dueDate":          "2026-09-15",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "total amount must be at least")
}

func TestHandlerGetPlanNotFound(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/plans/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListPlansRequiresPatient(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/plans", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListPlansByPatient(t *testing.T) {
	r := newTestRouter(t)
	createPlanViaAPI(t, r)
	createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodGet, "/plans?patient_id=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plans []PaymentPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans, 2)
}

func TestHandlerUpdateTerms(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPut, fmt.Sprintf("/plans/%d/terms", plan.ID), map[string]any{
		"totalAmount":      "120",
		"installmentCount": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodePlan(t, rec)
	require.Equal(t, []string{"40", "40", "40"}, amounts(updated.Installments))
}

func TestHandlerUpdateTermsEmptyBody(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPut, fmt.Sprintf("/plans/%d/terms", plan.ID), map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "nothing to update")
}

func TestHandlerEditInstallment(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPut, fmt.Sprintf("/plans/%d/installments/0", plan.ID), map[string]any{
		"expectedAmount": "20",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodePlan(t, rec)
	require.Equal(t, []string{"20", "27", "27", "27"}, amounts(updated.Installments))
}

func TestHandlerEditInstallmentScheduleOverflow(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPut, fmt.Sprintf("/plans/%d/installments/0", plan.ID), map[string]any{
		"expectedAmount": "40",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "other scheduled amounts would exceed the plan total")
}

func TestHandlerRecordPayment(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/plans/%d/installments/0/payment", plan.ID), map[string]any{
		"amount":      "25",
		"paymentDate": "2026-03-15",
		"receiptLink": "receipts/25.jpg",
		"reference":   "pay-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodePlan(t, rec)
	require.Equal(t, InstallmentStatusCompleted, updated.Installments[0].Status)
	require.True(t, updated.Installments[0].PaidAmount.Equal(decimal.NewFromInt(25)))
}

func TestHandlerRecordPaymentDuplicateReference(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	body := map[string]any{
		"amount":      "25",
		"paymentDate": "2026-03-15",
		"reference":   "pay-dup",
	}
	path := fmt.Sprintf("/plans/%d/installments/0/payment", plan.ID)
	rec := doJSON(t, r, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, path, body)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRecordPaymentBelowMinimum(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/plans/%d/installments/0/payment", plan.ID), map[string]any{
		"amount":      "10",
		"paymentDate": "2026-03-15",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerReceiptLifecycle(t *testing.T) {
	r := newTestRouter(t)
	plan := createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodPut, fmt.Sprintf("/plans/%d/installments/1/receipt", plan.ID), map[string]any{
		"receiptLink": "receipts/cash.jpg",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodePlan(t, rec)
	require.Equal(t, InstallmentStatusCompleted, updated.Installments[1].Status)

	rec = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/plans/%d/installments/1/receipt", plan.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	updated = decodePlan(t, rec)
	require.Equal(t, InstallmentStatusPending, updated.Installments[1].Status)
}

func TestHandlerPatientSummary(t *testing.T) {
	r := newTestRouter(t)
	createPlanViaAPI(t, r)

	rec := doJSON(t, r, http.MethodGet, "/patients/7/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary PlanSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, 1, summary.PlanCount)
	require.True(t, summary.TotalOwed.Equal(decimal.NewFromInt(100)))
}

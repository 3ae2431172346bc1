package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dentara/dentara/internal/platform/httpx"
	"github.com/dentara/dentara/internal/shared"
)

const dateLayout = "2006-01-02"

// DirectoryPort resolves patient and consultation references. Implemented by
// the patients module; the billing handler only needs existence checks.
type DirectoryPort interface {
	PatientExists(ctx context.Context, id int64) (bool, error)
	ConsultationExists(ctx context.Context, id int64) (bool, error)
}

// QueuePort schedules background work after a mutation. Implemented by the
// jobs client; nil disables enqueueing.
type QueuePort interface {
	EnqueuePlanStatusRefresh(ctx context.Context, planID int64) error
}

// Handler exposes the payment plan JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	directory DirectoryPort
	queue     QueuePort
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, directory DirectoryPort) *Handler {
	return &Handler{logger: logger, service: service, directory: directory, validator: validator.New()}
}

// WithQueue attaches a background queue for post-mutation status sweeps.
func (h *Handler) WithQueue(queue QueuePort) *Handler {
	h.queue = queue
	return h
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/plans", h.createPlan)
	r.Get("/plans", h.listPlans)
	r.Get("/plans/{id}", h.getPlan)
	r.Put("/plans/{id}/terms", h.updateTerms)
	r.Put("/plans/{id}/installments/{index}", h.editInstallment)
	r.Post("/plans/{id}/installments/{index}/payment", h.recordPayment)
	r.Put("/plans/{id}/installments/{index}/receipt", h.setReceipt)
	r.Delete("/plans/{id}/installments/{index}/receipt", h.clearReceipt)
	r.Get("/patients/{patientID}/summary", h.patientSummary)
}

type createPlanRequest struct {
	TotalAmount      string `json:"totalAmount" validate:"required"`
	InstallmentCount int    `json:"installmentCount" validate:"required,min=1,max=12"`
	Description      string `json:"description" validate:"max=150"`
	PatientID        int64  `json:"patientId"`
	ConsultationID   int64  `json:"consultationId"`
	DueDate          string `json:"dueDate" validate:"required"`
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "totalAmount is not a valid number")
		return
	}
	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "dueDate must use YYYY-MM-DD")
		return
	}
	if !h.resolveReferences(w, r, req.PatientID, req.ConsultationID) {
		return
	}

	plan, err := h.service.CreatePlan(r.Context(), CreatePlanInput{
		TotalAmount:      total,
		InstallmentCount: req.InstallmentCount,
		Description:      req.Description,
		PatientID:        req.PatientID,
		ConsultationID:   req.ConsultationID,
		DueDate:          dueDate,
	})
	if err != nil {
		h.respondError(w, r, "create plan", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.planID(w, r)
	if !ok {
		return
	}
	plan, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get plan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	patientID, err := strconv.ParseInt(r.URL.Query().Get("patient_id"), 10, 64)
	if err != nil || patientID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "patient_id query parameter is required")
		return
	}
	plans, err := h.service.ListPlansByPatient(r.Context(), patientID)
	if err != nil {
		h.respondError(w, r, "list plans", err)
		return
	}
	if plans == nil {
		plans = []PaymentPlan{}
	}
	httpx.JSON(w, http.StatusOK, plans)
}

type updateTermsRequest struct {
	TotalAmount      *string `json:"totalAmount"`
	InstallmentCount *int    `json:"installmentCount" validate:"omitempty,min=1,max=12"`
}

func (h *Handler) updateTerms(w http.ResponseWriter, r *http.Request) {
	id, ok := h.planID(w, r)
	if !ok {
		return
	}
	var req updateTermsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	if req.TotalAmount == nil && req.InstallmentCount == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "nothing to update")
		return
	}

	input := UpdatePlanTermsInput{PlanID: id, Count: req.InstallmentCount}
	if req.TotalAmount != nil {
		total, err := decimal.NewFromString(*req.TotalAmount)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "totalAmount is not a valid number")
			return
		}
		input.TotalAmount = &total
	}

	plan, err := h.service.UpdatePlanTerms(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "update plan terms", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

type editInstallmentRequest struct {
	ExpectedAmount string `json:"expectedAmount" validate:"required"`
}

func (h *Handler) editInstallment(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.planIDAndIndex(w, r)
	if !ok {
		return
	}
	var req editInstallmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	amount, err := decimal.NewFromString(req.ExpectedAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expectedAmount is not a valid number")
		return
	}

	plan, err := h.service.EditInstallmentAmount(r.Context(), id, index, amount)
	if err != nil {
		h.respondError(w, r, "edit installment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

type recordPaymentRequest struct {
	Amount      string `json:"amount" validate:"required"`
	PaymentDate string `json:"paymentDate" validate:"required"`
	ReceiptLink string `json:"receiptLink"`
	Reference   string `json:"reference"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.planIDAndIndex(w, r)
	if !ok {
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a valid number")
		return
	}
	date, err := time.Parse(dateLayout, req.PaymentDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "paymentDate must use YYYY-MM-DD")
		return
	}

	plan, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		PlanID:      id,
		Index:       index,
		Amount:      amount,
		Date:        date,
		ReceiptLink: req.ReceiptLink,
		Reference:   req.Reference,
	})
	if err != nil {
		h.respondError(w, r, "record payment", err)
		return
	}
	h.enqueueStatusRefresh(r.Context(), id)
	httpx.JSON(w, http.StatusOK, plan)
}

type setReceiptRequest struct {
	ReceiptLink string `json:"receiptLink" validate:"required"`
}

func (h *Handler) setReceipt(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.planIDAndIndex(w, r)
	if !ok {
		return
	}
	var req setReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	plan, err := h.service.SetReceiptLink(r.Context(), id, index, req.ReceiptLink)
	if err != nil {
		h.respondError(w, r, "set receipt link", err)
		return
	}
	h.enqueueStatusRefresh(r.Context(), id)
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) clearReceipt(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.planIDAndIndex(w, r)
	if !ok {
		return
	}
	plan, err := h.service.SetReceiptLink(r.Context(), id, index, "")
	if err != nil {
		h.respondError(w, r, "clear receipt link", err)
		return
	}
	h.enqueueStatusRefresh(r.Context(), id)
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) patientSummary(w http.ResponseWriter, r *http.Request) {
	patientID, err := strconv.ParseInt(chi.URLParam(r, "patientID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid patient id")
		return
	}
	summary, err := h.service.PatientSummary(r.Context(), patientID)
	if err != nil {
		h.respondError(w, r, "patient summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) enqueueStatusRefresh(ctx context.Context, planID int64) {
	if h.queue == nil {
		return
	}
	if err := h.queue.EnqueuePlanStatusRefresh(ctx, planID); err != nil {
		h.logger.Warn("enqueue status refresh", slog.Int64("plan_id", planID), slog.Any("error", err))
	}
}

func (h *Handler) planID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid plan id")
		return 0, false
	}
	return id, true
}

func (h *Handler) planIDAndIndex(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	id, ok := h.planID(w, r)
	if !ok {
		return 0, 0, false
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid installment index")
		return 0, 0, false
	}
	return id, index, true
}

func (h *Handler) resolveReferences(w http.ResponseWriter, r *http.Request, patientID, consultationID int64) bool {
	if h.directory == nil {
		return true
	}
	if patientID != 0 {
		ok, err := h.directory.PatientExists(r.Context(), patientID)
		if err != nil {
			h.respondError(w, r, "resolve patient", err)
			return false
		}
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "patient does not exist")
			return false
		}
	}
	if consultationID != 0 {
		ok, err := h.directory.ConsultationExists(r.Context(), consultationID)
		if err != nil {
			h.respondError(w, r, "resolve consultation", err)
			return false
		}
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "consultation does not exist")
			return false
		}
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", vErr.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "plan not found")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "payment already recorded for this reference")
	case errors.Is(err, ErrDuplicatePlan):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fe.Field() + " failed rule " + fe.Tag()
	}
	return "invalid request"
}

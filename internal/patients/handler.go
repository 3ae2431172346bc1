package patients

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dentara/dentara/internal/platform/httpx"
	"github.com/dentara/dentara/internal/shared"
)

// Handler exposes patient lookup endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers patient routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.search)
	r.Get("/{id}", h.get)
}

type searchResponse struct {
	Patients   []Patient         `json:"patients"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	patients, pagination, err := h.service.SearchPatients(r.Context(), query, page, perPage)
	if err != nil {
		h.logger.Error("search patients", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if patients == nil {
		patients = []Patient{}
	}
	httpx.JSON(w, http.StatusOK, searchResponse{Patients: patients, Pagination: pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid patient id")
		return
	}
	patient, err := h.service.GetPatient(r.Context(), id)
	if err != nil {
		h.logger.Error("get patient", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if patient == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "patient not found")
		return
	}
	httpx.JSON(w, http.StatusOK, patient)
}

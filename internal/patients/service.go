package patients

import (
	"context"

	"github.com/dentara/dentara/internal/shared"
)

// RepositoryPort defines data access for patient lookups.
type RepositoryPort interface {
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	GetConsultation(ctx context.Context, id int64) (*Consultation, error)
	SearchPatients(ctx context.Context, query string, page, perPage int) ([]Patient, int, error)
}

// Service handles patient lookup logic and implements the existence checks
// the billing handler resolves references through.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetPatient returns one patient, nil when absent.
func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

// SearchPatients returns one page of patients matching the query.
func (s *Service) SearchPatients(ctx context.Context, query string, page, perPage int) ([]Patient, shared.Pagination, error) {
	patients, total, err := s.repo.SearchPatients(ctx, query, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return patients, shared.NewPagination(page, perPage, total), nil
}

// PatientExists reports whether the patient record is present.
func (s *Service) PatientExists(ctx context.Context, id int64) (bool, error) {
	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// ConsultationExists reports whether the consultation record is present.
func (s *Service) ConsultationExists(ctx context.Context, id int64) (bool, error) {
	c, err := s.repo.GetConsultation(ctx, id)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

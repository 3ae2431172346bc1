package patients

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryPatientRepo struct {
	patients      map[int64]*Patient
	consultations map[int64]*Consultation
}

func newMemoryPatientRepo() *memoryPatientRepo {
	return &memoryPatientRepo{
		patients:      make(map[int64]*Patient),
		consultations: make(map[int64]*Consultation),
	}
}

func (r *memoryPatientRepo) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return r.patients[id], nil
}

func (r *memoryPatientRepo) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	return r.consultations[id], nil
}

func (r *memoryPatientRepo) SearchPatients(ctx context.Context, query string, page, perPage int) ([]Patient, int, error) {
	var matched []Patient
	for _, p := range r.patients {
		if strings.Contains(strings.ToLower(p.LastName), strings.ToLower(query)) {
			matched = append(matched, *p)
		}
	}
	start := (page - 1) * perPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func TestPatientExists(t *testing.T) {
	repo := newMemoryPatientRepo()
	repo.patients[7] = &Patient{ID: 7, FirstName: "Ana", LastName: "Silva"}
	svc := NewService(repo)

	ok, err := svc.PatientExists(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.PatientExists(context.Background(), 8)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConsultationExists(t *testing.T) {
	repo := newMemoryPatientRepo()
	repo.consultations[3] = &Consultation{ID: 3, PatientID: 7}
	svc := NewService(repo)

	ok, err := svc.ConsultationExists(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.ConsultationExists(context.Background(), 4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSearchPatientsPaginates(t *testing.T) {
	repo := newMemoryPatientRepo()
	for i := int64(1); i <= 5; i++ {
		repo.patients[i] = &Patient{ID: i, LastName: "Souza"}
	}
	svc := NewService(repo)

	patients, pagination, err := svc.SearchPatients(context.Background(), "souza", 2, 2)
	require.NoError(t, err)
	require.Len(t, patients, 2)
	require.Equal(t, 2, pagination.Page)
	require.Equal(t, 5, pagination.Total)
	require.Equal(t, 3, pagination.TotalPages)
}

package patients

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed lookups for patients and
// consultations. Record management itself lives elsewhere; billing only
// needs resolution and listing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetPatient loads one patient.
func (r *Repository) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `SELECT id, first_name, last_name, document, COALESCE(phone, ''), birth_date, created_at FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.Document, &p.Phone, &p.BirthDate, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetConsultation loads one consultation.
func (r *Repository) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	var c Consultation
	err := r.pool.QueryRow(ctx, `SELECT id, patient_id, date, COALESCE(reason, ''), created_at FROM consultations WHERE id = $1`, id).
		Scan(&c.ID, &c.PatientID, &c.Date, &c.Reason, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchPatients returns one page of patients matching the name or document
// fragment, plus the total match count for pagination.
func (r *Repository) SearchPatients(ctx context.Context, query string, page, perPage int) ([]Patient, int, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	where := `WHERE first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%' OR document ILIKE '%' || $1 || '%'`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients `+where, query).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, first_name, last_name, document, COALESCE(phone, ''), birth_date, created_at
FROM patients `+where+`
ORDER BY last_name, first_name LIMIT $2 OFFSET $3`, query, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Document, &p.Phone, &p.BirthDate, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

package patients

import "time"

// Patient represents a clinic patient record.
type Patient struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Document  string    `json:"document"`
	Phone     string    `json:"phone"`
	BirthDate time.Time `json:"birthDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// Consultation represents one clinical consultation a plan can be linked to.
type Consultation struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patientId"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

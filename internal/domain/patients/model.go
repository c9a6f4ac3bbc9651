package patients

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a patient does not exist.
var ErrNotFound = errors.New("patient not found")

// Patient maps to the patients table. Records are created explicitly or
// auto-provisioned on first upload for an unknown MRN, and never deleted.
type Patient struct {
	ID          int64      `db:"id" json:"id"`
	MRN         string     `db:"mrn" json:"mrn"`
	FirstName   *string    `db:"first_name" json:"first_name,omitempty"`
	LastName    *string    `db:"last_name" json:"last_name,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

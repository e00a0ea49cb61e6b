package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrPatientNotFound = errors.New("patient not found")

// Patient maps to the patient table. Only the fields the assignment flow
// reads are mapped.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	MRN               string     `db:"mrn" json:"mrn"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	GeoOrganizationID *uuid.UUID `db:"geo_organization_id" json:"geo_organization_id,omitempty"`
	CreatedBy         uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

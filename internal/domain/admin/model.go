package admin

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrFacilityNotFound = errors.New("no facility found for patient assignment")

// Facility maps to the facility table.
type Facility struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	GeoOrganizationID uuid.UUID `db:"geo_organization_id" json:"geo_organization_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

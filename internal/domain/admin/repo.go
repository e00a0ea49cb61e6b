package admin

import (
	"context"

	"github.com/google/uuid"
)

type FacilityRepository interface {
	Create(ctx context.Context, f *Facility) error
	// FindByGeoOrganization returns the oldest facility of the organization,
	// or ErrFacilityNotFound.
	FindByGeoOrganization(ctx context.Context, geoOrganizationID uuid.UUID) (*Facility, error)
}

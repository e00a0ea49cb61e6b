package admin

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/quickassign/internal/platform/db"
)

type facilityRepoPG struct {
	pool *pgxpool.Pool
}

func NewFacilityRepoPG(pool *pgxpool.Pool) FacilityRepository {
	return &facilityRepoPG{pool: pool}
}

func (r *facilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *facilityRepoPG) Create(ctx context.Context, f *Facility) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO facility (id, name, geo_organization_id) VALUES ($1, $2, $3)
		RETURNING created_at`,
		f.ID, f.Name, f.GeoOrganizationID).Scan(&f.CreatedAt)
}

func (r *facilityRepoPG) FindByGeoOrganization(ctx context.Context, geoOrganizationID uuid.UUID) (*Facility, error) {
	var f Facility
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, geo_organization_id, created_at FROM facility
		WHERE geo_organization_id = $1
		ORDER BY created_at, id LIMIT 1`, geoOrganizationID).
		Scan(&f.ID, &f.Name, &f.GeoOrganizationID, &f.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrFacilityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

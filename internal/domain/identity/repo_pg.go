package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/quickassign/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, geo_organization_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.GeoOrganizationID, p.CreatedBy).Scan(&p.CreatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, mrn, first_name, last_name, geo_organization_id, created_by, created_at
		FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.GeoOrganizationID, &p.CreatedBy, &p.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM patient WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if db.IsNoRows(err) {
		return ErrPatientNotFound
	}
	return err
}

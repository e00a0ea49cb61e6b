package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	// GetByID returns ErrPatientNotFound when no row matches.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// LockForUpdate takes a row lock held until the transaction in ctx ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) error
}

package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrEventNotFound = errors.New("auto-assignment event not found")

type EventRepository interface {
	// GetOrCreate returns the patient's event, inserting a PENDING one when
	// none exists. Losing a concurrent insert is not an error: the winner's
	// row is returned with created=false.
	GetOrCreate(ctx context.Context, patientID uuid.UUID, triggeredAt time.Time) (ev *Event, created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Event, error)
	// SaveOutcome writes status, reason, staff, booking and timing fields.
	// Retry count is left alone.
	SaveOutcome(ctx context.Context, e *Event) error
	// IncrementRetry bumps retry_count only while it is below max and
	// returns the new value. ok is false when the bound was already reached.
	IncrementRetry(ctx context.Context, id uuid.UUID, max int) (count int, ok bool, err error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Event, int, error)
}

package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ResourceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Resource, error)
	ListByFacility(ctx context.Context, facilityID uuid.UUID, resourceType string) ([]*Resource, error)
}

// AvailabilityRepository reads templates and exceptions whose validity
// intersects [from, to] (calendar dates, inclusive).
type AvailabilityRepository interface {
	ListTemplates(ctx context.Context, resourceIDs []uuid.UUID, slotType string, from, to time.Time) ([]*AvailabilityTemplate, error)
	ListExceptions(ctx context.Context, resourceIDs []uuid.UUID, from, to time.Time) ([]*AvailabilityException, error)
}

// SlotRepository. Day queries cover slots starting in [dayStart, dayEnd);
// the last slot of a day may end after dayEnd.
type SlotRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListByDay(ctx context.Context, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error)
	// CreateIfAbsent inserts sl unless a slot with the same resource, start,
	// end and template exists. It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, sl *Slot) (bool, error)
	// ListAvailable returns slots with allocated < capacity ordered by start.
	ListAvailable(ctx context.Context, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error)
	// Claim increments allocated if capacity remains, else ErrSlotFull.
	Claim(ctx context.Context, slotID uuid.UUID) error
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	// CountOutstanding counts the patient's bookings in a non-terminal status
	// whose slot starts at or after since.
	CountOutstanding(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Booking, error)
}

// PatientLocker serializes bookings of one patient for the rest of the
// enclosing transaction.
type PatientLocker interface {
	LockForUpdate(ctx context.Context, patientID uuid.UUID) error
}

// TxRunner runs fn in a transaction carried by the context it passes.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Transactor books a slot for a patient in a single transaction.
type Transactor struct {
	tx              TxRunner
	patients        PatientLocker
	bookings        BookingRepository
	slots           SlotRepository
	clock           Clock
	maxAppointments int
	note            string
}

func NewTransactor(tx TxRunner, patients PatientLocker, bookings BookingRepository, slots SlotRepository, clock Clock, maxAppointments int, note string) *Transactor {
	return &Transactor{
		tx:              tx,
		patients:        patients,
		bookings:        bookings,
		slots:           slots,
		clock:           clock,
		maxAppointments: maxAppointments,
		note:            note,
	}
}

// Book locks the patient, enforces the outstanding-booking cap, claims one
// token of the slot and records the booking. Any error rolls the whole unit
// back, so a capacity failure never leaves allocated incremented.
func (t *Transactor) Book(ctx context.Context, slot *Slot, patientID, bookedBy uuid.UUID) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "scheduling.Book")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slot.ID.String()), attribute.String("patient_id", patientID.String()))

	var booking *Booking
	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := t.patients.LockForUpdate(ctx, patientID); err != nil {
			return fmt.Errorf("lock patient: %w", err)
		}

		count, err := t.bookings.CountOutstanding(ctx, patientID, t.clock.Now())
		if err != nil {
			return fmt.Errorf("count outstanding bookings: %w", err)
		}
		if count >= t.maxAppointments {
			return &CapacityError{Max: t.maxAppointments}
		}

		if err := t.slots.Claim(ctx, slot.ID); err != nil {
			return err
		}

		b := &Booking{
			SlotID:    slot.ID,
			PatientID: patientID,
			BookedBy:  bookedBy,
			Status:    BookingBooked,
			Note:      t.note,
		}
		if err := t.bookings.Create(ctx, b); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		booking = b
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return booking, nil
}

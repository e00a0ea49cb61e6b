package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ehr/quickassign/internal/domain/admin"
	"github.com/ehr/quickassign/internal/domain/identity"
	"github.com/ehr/quickassign/internal/domain/scheduling"
	"github.com/ehr/quickassign/internal/platform/lock"
)

var tracer = otel.Tracer("github.com/ehr/quickassign/internal/domain/assignment")

// Scheduler runs an attempt for a patient after delay. Both the
// patient-created trigger (delay 0) and retries go through it.
type Scheduler interface {
	Schedule(ctx context.Context, patientID uuid.UUID, delay time.Duration) error
}

// SlotFinder is satisfied by *scheduling.Selector.
type SlotFinder interface {
	FindFirstAvailable(ctx context.Context, facilityID uuid.UUID, window int) (*scheduling.Slot, error)
}

// SlotBooker is satisfied by *scheduling.Transactor.
type SlotBooker interface {
	Book(ctx context.Context, slot *scheduling.Slot, patientID, bookedBy uuid.UUID) (*scheduling.Booking, error)
}

// Orchestrator drives one patient's assignment from event creation to a
// recorded outcome and, on failure, a bounded retry.
type Orchestrator struct {
	cfg        Config
	events     EventRepository
	patients   identity.PatientRepository
	facilities admin.FacilityRepository
	resources  scheduling.ResourceRepository
	finder     SlotFinder
	booker     SlotBooker
	tx         scheduling.TxRunner
	scheduler  Scheduler
	locker     lock.Locker
	clock      scheduling.Clock
	logger     zerolog.Logger
}

// Deps groups the Orchestrator's collaborators.
type Deps struct {
	Events     EventRepository
	Patients   identity.PatientRepository
	Facilities admin.FacilityRepository
	Resources  scheduling.ResourceRepository
	Finder     SlotFinder
	Booker     SlotBooker
	// Tx wraps the booking and the success write so neither commits
	// without the other. Nil runs them without a transaction.
	Tx         scheduling.TxRunner
	Scheduler  Scheduler
	Locker     lock.Locker
	Clock      scheduling.Clock
}

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func NewOrchestrator(cfg Config, d Deps, logger zerolog.Logger) *Orchestrator {
	tx := d.Tx
	if tx == nil {
		tx = directTx{}
	}
	return &Orchestrator{
		cfg:        cfg,
		events:     d.Events,
		patients:   d.Patients,
		facilities: d.Facilities,
		resources:  d.Resources,
		finder:     d.Finder,
		booker:     d.Booker,
		tx:         tx,
		scheduler:  d.Scheduler,
		locker:     d.Locker,
		clock:      d.Clock,
		logger:     logger.With().Str("component", "auto-assign").Logger(),
	}
}

// SetScheduler replaces the scheduler. Queue-backed schedulers need the
// orchestrator to exist before they can be built.
func (o *Orchestrator) SetScheduler(s Scheduler) { o.scheduler = s }

func lockKey(patientID uuid.UUID) string { return "patient:" + patientID.String() }

// AttemptAssignment is safe to call repeatedly for the same patient: a
// patient whose event is already SUCCESS is left alone, and an attempt that
// finds another one in flight returns without doing anything. Business
// failures are recorded on the event and return nil; the returned error is
// reserved for an unknown patient and for infrastructure failures.
func (o *Orchestrator) AttemptAssignment(ctx context.Context, patientID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "assignment.AttemptAssignment")
	defer span.End()
	span.SetAttributes(attribute.String("patient_id", patientID.String()))

	err := o.attemptAssignment(ctx, patientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) attemptAssignment(ctx context.Context, patientID uuid.UUID) error {
	log := o.logger.With().Str("patient_id", patientID.String()).Logger()

	patient, err := o.patients.GetByID(ctx, patientID)
	if errors.Is(err, identity.ErrPatientNotFound) {
		log.Warn().Msg("patient not found; skipping auto-assignment")
		return err
	}
	if err != nil {
		return fmt.Errorf("get patient: %w", err)
	}

	ev, created, err := o.events.GetOrCreate(ctx, patientID, o.clock.Now())
	if err != nil {
		return fmt.Errorf("get or create event: %w", err)
	}
	log = log.With().Str("event_id", ev.ID.String()).Logger()
	if created {
		log.Info().Msg("auto-assignment event created")
	}
	if ev.Status == StatusSuccess {
		log.Debug().Msg("patient already assigned")
		return nil
	}

	release, err := o.locker.TryLock(ctx, lockKey(patientID), o.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Info().Msg("another attempt is in flight for this patient")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire patient guard: %w", err)
	}

	// a concurrent attempt may have finished between the read and the lock
	ev, err = o.events.GetByPatient(ctx, patientID)
	if err != nil {
		o.release(ctx, log, release)
		return fmt.Errorf("reload event: %w", err)
	}
	if ev.Status == StatusSuccess {
		o.release(ctx, log, release)
		log.Debug().Msg("patient assigned by a concurrent attempt")
		return nil
	}

	retry, err := o.attempt(ctx, log, patient, ev)
	o.release(ctx, log, release)
	if err != nil {
		return err
	}
	if retry {
		o.retry(ctx, log, patientID)
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, log zerolog.Logger, release lock.Release) {
	if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
		log.Warn().Err(rerr).Msg("release patient guard")
	}
}

// attempt runs one selection and booking pass and records its outcome. It
// reports whether the failure, if any, should be retried.
func (o *Orchestrator) attempt(ctx context.Context, log zerolog.Logger, patient *identity.Patient, ev *Event) (bool, error) {
	ev.MarkPending(o.clock.Now())
	if err := o.events.SaveOutcome(ctx, ev); err != nil {
		return false, fmt.Errorf("mark event pending: %w", err)
	}

	var facility *admin.Facility
	var err error
	if patient.GeoOrganizationID == nil {
		err = admin.ErrFacilityNotFound
	} else {
		facility, err = o.facilities.FindByGeoOrganization(ctx, *patient.GeoOrganizationID)
	}
	if errors.Is(err, admin.ErrFacilityNotFound) {
		log.Warn().Msg(admin.ErrFacilityNotFound.Error())
		return false, o.fail(ctx, ev, admin.ErrFacilityNotFound)
	}
	if err != nil {
		return true, o.fail(ctx, ev, fmt.Errorf("find facility: %w", err))
	}
	log = log.With().Str("facility_id", facility.ID.String()).Logger()

	slot, err := o.finder.FindFirstAvailable(ctx, facility.ID, o.cfg.WindowDays)
	if err != nil {
		if scheduling.IsConfigError(err) {
			log.Error().Err(err).Str("kind", "config").Msg("auto-assignment misconfigured")
			return false, o.fail(ctx, ev, err)
		}
		log.Info().Err(err).Msg("no slot selected")
		return true, o.fail(ctx, ev, err)
	}
	log = log.With().Str("slot_id", slot.ID.String()).Logger()

	resource, err := o.resources.GetByID(ctx, slot.ResourceID)
	if err != nil {
		return true, o.fail(ctx, ev, fmt.Errorf("get resource %s: %w", slot.ResourceID, err))
	}

	var booking *scheduling.Booking
	var saveErr error
	err = o.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := o.booker.Book(ctx, slot, patient.ID, patient.CreatedBy)
		if err != nil {
			return err
		}
		ev.MarkSucceeded(resource.UserID, b.ID, o.clock.Now())
		if err := o.events.SaveOutcome(ctx, ev); err != nil {
			saveErr = fmt.Errorf("record success: %w", err)
			return saveErr
		}
		booking = b
		return nil
	})
	if saveErr != nil {
		log.Error().Err(saveErr).Msg("booking rolled back")
		return true, o.fail(ctx, ev, saveErr)
	}
	if err != nil {
		var capErr *scheduling.CapacityError
		switch {
		case errors.Is(err, scheduling.ErrSlotFull):
			log.Warn().Msg("slot filled before it could be claimed")
		case errors.As(err, &capErr):
			log.Info().Int("max", capErr.Max).Msg("patient at appointment cap")
		default:
			log.Error().Err(err).Msg("booking failed")
		}
		return true, o.fail(ctx, ev, err)
	}
	log.Info().
		Str("booking_id", booking.ID.String()).
		Str("assigned_staff_id", resource.UserID.String()).
		Int64("execution_time_ms", *ev.ExecutionTimeMS).
		Msg("patient auto-assigned")
	return false, nil
}

func (o *Orchestrator) fail(ctx context.Context, ev *Event, cause error) error {
	ev.MarkFailed(cause.Error(), o.clock.Now())
	if err := o.events.SaveOutcome(ctx, ev); err != nil {
		return fmt.Errorf("record failure %q: %w", cause.Error(), err)
	}
	return nil
}

// retry re-reads the event so the decision uses the persisted count, then
// bumps it and schedules the next attempt.
func (o *Orchestrator) retry(ctx context.Context, log zerolog.Logger, patientID uuid.UUID) {
	ev, err := o.events.GetByPatient(ctx, patientID)
	if err != nil {
		log.Error().Err(err).Msg("load event for retry")
		return
	}
	if ev.RetryCount >= o.cfg.MaxRetries {
		log.Warn().Int("retry_count", ev.RetryCount).Msg("max retry attempts reached")
		return
	}

	count, ok, err := o.events.IncrementRetry(ctx, ev.ID, o.cfg.MaxRetries)
	if err != nil {
		log.Error().Err(err).Msg("increment retry count")
		return
	}
	if !ok {
		log.Warn().Msg("max retry attempts reached")
		return
	}

	if err := o.scheduler.Schedule(ctx, patientID, o.cfg.RetryDelay); err != nil {
		log.Error().Err(err).Int("retry_count", count).Msg("schedule retry")
		return
	}
	log.Info().Int("retry_count", count).Dur("delay", o.cfg.RetryDelay).Msg("retry scheduled")
}

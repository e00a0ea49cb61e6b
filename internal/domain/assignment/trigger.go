package assignment

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Trigger turns external signals into scheduled attempts.
type Trigger struct {
	scheduler Scheduler
	enabled   bool
	logger    zerolog.Logger
}

func NewTrigger(scheduler Scheduler, enabled bool, logger zerolog.Logger) *Trigger {
	return &Trigger{scheduler: scheduler, enabled: enabled, logger: logger}
}

// OnPatientCreated schedules an immediate attempt for a newly registered
// patient. It does nothing while auto-assignment is disabled.
func (t *Trigger) OnPatientCreated(ctx context.Context, patientID uuid.UUID) error {
	if !t.enabled {
		t.logger.Debug().Str("patient_id", patientID.String()).Msg("auto-assignment disabled; ignoring patient creation")
		return nil
	}
	t.logger.Info().Str("patient_id", patientID.String()).Msg("patient created; scheduling auto-assignment")
	return t.scheduler.Schedule(ctx, patientID, 0)
}

// Enqueue schedules an immediate attempt on operator request, regardless of
// the enabled flag.
func (t *Trigger) Enqueue(ctx context.Context, patientID uuid.UUID) error {
	t.logger.Info().Str("patient_id", patientID.String()).Msg("manual auto-assignment requested")
	return t.scheduler.Schedule(ctx, patientID, 0)
}

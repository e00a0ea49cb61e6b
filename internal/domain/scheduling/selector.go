package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/ehr/quickassign/internal/domain/scheduling")

// Selector searches a rolling window of days for the earliest slot with
// remaining capacity.
type Selector struct {
	resources      ResourceRepository
	availability   AvailabilityRepository
	materializer   *Materializer
	clock          Clock
	maxPerTemplate int
	logger         zerolog.Logger
}

func NewSelector(resources ResourceRepository, availability AvailabilityRepository, materializer *Materializer, clock Clock, maxPerTemplate int, logger zerolog.Logger) *Selector {
	return &Selector{
		resources:      resources,
		availability:   availability,
		materializer:   materializer,
		clock:          clock,
		maxPerTemplate: maxPerTemplate,
		logger:         logger,
	}
}

// FindFirstAvailable scans days 0..window-1 from today in order and returns
// the first slot of the first day that has one. It never looks past a
// non-empty day for a better slot.
func (s *Selector) FindFirstAvailable(ctx context.Context, facilityID uuid.UUID, window int) (*Slot, error) {
	ctx, span := tracer.Start(ctx, "scheduling.FindFirstAvailable")
	defer span.End()
	span.SetAttributes(attribute.String("facility_id", facilityID.String()), attribute.Int("window_days", window))

	slot, err := s.find(ctx, facilityID, window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("slot_id", slot.ID.String()))
	return slot, nil
}

func (s *Selector) find(ctx context.Context, facilityID uuid.UUID, window int) (*Slot, error) {
	if window < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindowSize, window)
	}

	resources, err := s.resources.ListByFacility(ctx, facilityID, ResourcePractitioner)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	if len(resources) == 0 {
		return nil, ErrNoSchedulableResources
	}
	resourceIDs := make([]uuid.UUID, len(resources))
	for i, r := range resources {
		resourceIDs[i] = r.ID
	}

	today := StartOfDay(s.clock.Now())
	last := today.AddDate(0, 0, window)

	templates, err := s.availability.ListTemplates(ctx, resourceIDs, SlotTypeAppointment, today, last)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if len(templates) == 0 {
		return nil, ErrNoAvailability
	}
	exceptions, err := s.availability.ListExceptions(ctx, resourceIDs, today, last)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}

	for _, o := range FindTemplateOverlaps(templates) {
		s.logger.Warn().
			Str("resource_id", o.ResourceID.String()).
			Str("template_id", o.First.String()).
			Str("other_template_id", o.Second.String()).
			Int("day_of_week", o.DayOfWeek).
			Msg("overlapping availability templates; identical slots resolve to the later template")
	}

	for offset := 0; offset < window; offset++ {
		day := today.AddDate(0, 0, offset)

		var dayTemplates []*AvailabilityTemplate
		for _, t := range templates {
			if t.ValidOn(day) {
				dayTemplates = append(dayTemplates, t)
			}
		}
		var dayExceptions []*AvailabilityException
		for _, e := range exceptions {
			if e.ValidOn(day) {
				dayExceptions = append(dayExceptions, e)
			}
		}

		candidates := ExpandDay(day, dayTemplates, dayExceptions, s.maxPerTemplate)
		slots, err := s.materializer.Materialize(ctx, day, resourceIDs, candidates)
		if err != nil {
			return nil, err
		}
		if len(slots) > 0 {
			s.logger.Info().
				Str("facility_id", facilityID.String()).
				Str("day", day.Format(time.DateOnly)).
				Int("available", len(slots)).
				Msg("slots found")
			return slots[0], nil
		}
	}

	return nil, &NoSlotError{Window: window}
}

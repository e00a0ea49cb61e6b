package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Materializer persists a day's candidates as slots and returns the slots of
// that day that still have capacity.
type Materializer struct {
	slots SlotRepository
	clock Clock
}

func NewMaterializer(slots SlotRepository, clock Clock) *Materializer {
	return &Materializer{slots: slots, clock: clock}
}

// Materialize is idempotent: candidates already persisted with the same key
// and template are skipped, and creation tolerates a concurrent insert of
// the same slot. Candidates that ended before now are never persisted, and
// slots that already ended are not returned.
func (m *Materializer) Materialize(ctx context.Context, day time.Time, resourceIDs []uuid.UUID, candidates map[CandidateKey]Candidate) ([]*Slot, error) {
	dayStart := StartOfDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)

	existing, err := m.slots.ListByDay(ctx, resourceIDs, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list slots for %s: %w", dayStart.Format(time.DateOnly), err)
	}

	pending := make(map[CandidateKey]Candidate, len(candidates))
	for k, c := range candidates {
		pending[k] = c
	}
	for _, sl := range existing {
		if c, ok := pending[sl.Key()]; ok && c.TemplateID == sl.TemplateID {
			delete(pending, sl.Key())
		}
	}

	now := m.clock.Now()
	for _, c := range sortedCandidates(pending) {
		if c.End.Before(now) {
			continue
		}
		sl := &Slot{
			ResourceID: c.ResourceID,
			TemplateID: c.TemplateID,
			StartTime:  c.Start,
			EndTime:    c.End,
			Capacity:   c.Capacity,
		}
		if _, err := m.slots.CreateIfAbsent(ctx, sl); err != nil {
			return nil, fmt.Errorf("create slot %s-%s: %w", c.Start.Format(time.TimeOnly), c.End.Format(time.TimeOnly), err)
		}
	}

	available, err := m.slots.ListAvailable(ctx, resourceIDs, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	out := make([]*Slot, 0, len(available))
	for _, sl := range available {
		if sl.EndTime.Before(now) {
			continue
		}
		out = append(out, sl)
	}
	return out, nil
}

func sortedCandidates(m map[CandidateKey]Candidate) []Candidate {
	out := make([]Candidate, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ResourceID.String() < out[j].ResourceID.String()
	})
	return out
}

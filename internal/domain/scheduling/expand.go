package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// ExpandDay turns one day's templates into candidate intervals. Each
// applicable template is walked from its start in steps of its slot size
// while the step start is before its end, so the last candidate may run past
// the template end. At most maxPerTemplate steps are taken per template
// (maxPerTemplate <= 0 disables the cap). A candidate is dropped when an
// exception of the same resource, valid on day, overlaps it:
// exception.start < candidate.end && exception.end > candidate.start.
//
// Later templates overwrite earlier ones on an identical key.
func ExpandDay(day time.Time, templates []*AvailabilityTemplate, exceptions []*AvailabilityException, maxPerTemplate int) map[CandidateKey]Candidate {
	blackouts := make(map[uuid.UUID][][2]time.Time)
	for _, ex := range exceptions {
		if !ex.ValidOn(day) {
			continue
		}
		blackouts[ex.ResourceID] = append(blackouts[ex.ResourceID], [2]time.Time{ex.StartTime.On(day), ex.EndTime.On(day)})
	}

	out := make(map[CandidateKey]Candidate)
	for _, tpl := range templates {
		if !tpl.AppliesOn(day) || tpl.SlotSizeMinutes <= 0 {
			continue
		}
		step := tpl.SlotDuration()
		end := tpl.EndTime.On(day)
		n := 0
		for cur := tpl.StartTime.On(day); cur.Before(end); cur = cur.Add(step) {
			n++
			if maxPerTemplate > 0 && n > maxPerTemplate {
				break
			}
			c := Candidate{
				ResourceID: tpl.ResourceID,
				TemplateID: tpl.ID,
				Start:      cur,
				End:        cur.Add(step),
				Capacity:   tpl.TokensPerSlot,
			}
			if blocked(blackouts[tpl.ResourceID], c.Start, c.End) {
				continue
			}
			out[c.Key()] = c
		}
	}
	return out
}

func blocked(ranges [][2]time.Time, start, end time.Time) bool {
	for _, r := range ranges {
		if r[0].Before(end) && r[1].After(start) {
			return true
		}
	}
	return false
}

// TemplateOverlap names two templates of one resource whose weekly ranges
// and validity periods intersect. Their candidates can collide on a key.
type TemplateOverlap struct {
	ResourceID uuid.UUID
	First      uuid.UUID
	Second     uuid.UUID
	DayOfWeek  int
}

// FindTemplateOverlaps reports overlapping template pairs in input order.
func FindTemplateOverlaps(templates []*AvailabilityTemplate) []TemplateOverlap {
	var out []TemplateOverlap
	for i, a := range templates {
		for _, b := range templates[i+1:] {
			if a.ResourceID != b.ResourceID || a.DayOfWeek != b.DayOfWeek {
				continue
			}
			if a.StartTime >= b.EndTime || b.StartTime >= a.EndTime {
				continue
			}
			if !validityIntersects(a, b) {
				continue
			}
			out = append(out, TemplateOverlap{ResourceID: a.ResourceID, First: a.ID, Second: b.ID, DayOfWeek: a.DayOfWeek})
		}
	}
	return out
}

func validityIntersects(a, b *AvailabilityTemplate) bool {
	if a.ValidTo != nil && civil(*a.ValidTo) < civil(b.ValidFrom) {
		return false
	}
	if b.ValidTo != nil && civil(*b.ValidTo) < civil(a.ValidFrom) {
		return false
	}
	return true
}

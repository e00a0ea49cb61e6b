package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotTypeAppointment is the only template slot type the auto-assigner
// searches.
const SlotTypeAppointment = "appointment"

// Schedulable resource types.
const (
	ResourcePractitioner      = "practitioner"
	ResourceLocation          = "location"
	ResourceHealthcareService = "healthcare_service"
)

// Booking statuses.
const (
	BookingBooked         = "booked"
	BookingCheckedIn      = "checked_in"
	BookingInConsultation = "in_consultation"
	BookingFulfilled      = "fulfilled"
	BookingCancelled      = "cancelled"
	BookingNoShow         = "noshow"
	BookingEnteredInError = "entered_in_error"
	BookingRescheduled    = "rescheduled"
)

// CompletedBookingStatuses are terminal; bookings in them do not count
// toward the per-patient cap.
var CompletedBookingStatuses = []string{
	BookingFulfilled, BookingCancelled, BookingNoShow, BookingEnteredInError, BookingRescheduled,
}

// IsCompletedStatus reports whether status is terminal.
func IsCompletedStatus(status string) bool {
	for _, s := range CompletedBookingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// TimeOfDay is an offset from midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day: %q", s)
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// On returns the instant showing this wall-clock time on day's calendar
// date in day's location. On daylight-saving transition days this is not
// midnight plus t.
func (t TimeOfDay) On(day time.Time) time.Time {
	d := time.Duration(t)
	y, m, dd := day.Date()
	return time.Date(y, m, dd, int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second), 0, day.Location())
}

// StartOfDay truncates t to local midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayOfWeek numbers days 0 = Monday through 6 = Sunday.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// civil folds a calendar date into a comparable integer, ignoring location.
func civil(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// AvailabilityTemplate is a recurring weekly availability rule of a resource.
type AvailabilityTemplate struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ResourceID      uuid.UUID  `db:"resource_id" json:"resource_id"`
	ValidFrom       time.Time  `db:"valid_from" json:"valid_from"`
	ValidTo         *time.Time `db:"valid_to" json:"valid_to,omitempty"`
	DayOfWeek       int        `db:"day_of_week" json:"day_of_week"`
	StartTime       TimeOfDay  `db:"start_time" json:"start_time"`
	EndTime         TimeOfDay  `db:"end_time" json:"end_time"`
	SlotSizeMinutes int        `db:"slot_size_minutes" json:"slot_size_minutes"`
	TokensPerSlot   int        `db:"tokens_per_slot" json:"tokens_per_slot"`
	SlotType        string     `db:"slot_type" json:"slot_type"`
}

func (a *AvailabilityTemplate) Validate() error {
	if a.StartTime >= a.EndTime {
		return fmt.Errorf("template %s: start %s must be before end %s", a.ID, a.StartTime, a.EndTime)
	}
	if a.SlotSizeMinutes <= 0 {
		return fmt.Errorf("template %s: slot size must be positive", a.ID)
	}
	if a.TokensPerSlot <= 0 {
		return fmt.Errorf("template %s: tokens per slot must be positive", a.ID)
	}
	if a.DayOfWeek < 0 || a.DayOfWeek > 6 {
		return fmt.Errorf("template %s: day of week %d out of range", a.ID, a.DayOfWeek)
	}
	return nil
}

// ValidOn reports whether day falls inside the template's validity dates.
func (a *AvailabilityTemplate) ValidOn(day time.Time) bool {
	d := civil(day)
	if d < civil(a.ValidFrom) {
		return false
	}
	return a.ValidTo == nil || d <= civil(*a.ValidTo)
}

// AppliesOn is ValidOn plus the weekday match.
func (a *AvailabilityTemplate) AppliesOn(day time.Time) bool {
	return a.DayOfWeek == DayOfWeek(day) && a.ValidOn(day)
}

// SlotDuration returns the template's step as a duration.
func (a *AvailabilityTemplate) SlotDuration() time.Duration {
	return time.Duration(a.SlotSizeMinutes) * time.Minute
}

// AvailabilityException blacks out a time range of a resource on every day
// between ValidFrom and ValidTo inclusive.
type AvailabilityException struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ResourceID uuid.UUID `db:"resource_id" json:"resource_id"`
	ValidFrom  time.Time `db:"valid_from" json:"valid_from"`
	ValidTo    time.Time `db:"valid_to" json:"valid_to"`
	StartTime  TimeOfDay `db:"start_time" json:"start_time"`
	EndTime    TimeOfDay `db:"end_time" json:"end_time"`
}

func (e *AvailabilityException) ValidOn(day time.Time) bool {
	d := civil(day)
	return d >= civil(e.ValidFrom) && d <= civil(e.ValidTo)
}

// Resource is a schedulable entity of a facility.
type Resource struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FacilityID   uuid.UUID `db:"facility_id" json:"facility_id"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Name         string    `db:"name" json:"name"`
}

// Slot is a persisted, capacity-bounded interval produced from a template.
type Slot struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ResourceID uuid.UUID `db:"resource_id" json:"resource_id"`
	TemplateID uuid.UUID `db:"template_id" json:"template_id"`
	StartTime  time.Time `db:"start_time" json:"start_time"`
	EndTime    time.Time `db:"end_time" json:"end_time"`
	Capacity   int       `db:"capacity" json:"capacity"`
	Allocated  int       `db:"allocated" json:"allocated"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Available reports whether the slot has remaining capacity.
func (s *Slot) Available() bool { return s.Allocated < s.Capacity }

// Key returns the slot's candidate key.
func (s *Slot) Key() CandidateKey {
	return CandidateKey{ResourceID: s.ResourceID, Start: s.StartTime.UnixNano(), End: s.EndTime.UnixNano()}
}

// Booking ties a patient to a slot.
type Booking struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SlotID    uuid.UUID `db:"slot_id" json:"slot_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	BookedBy  uuid.UUID `db:"booked_by" json:"booked_by"`
	Status    string    `db:"status" json:"status"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CandidateKey identifies a candidate interval for one resource. Start and
// End are Unix nanoseconds so that equal instants in different locations
// compare equal.
type CandidateKey struct {
	ResourceID uuid.UUID
	Start      int64
	End        int64
}

// Candidate is a bookable interval computed from a template but not yet
// persisted.
type Candidate struct {
	ResourceID uuid.UUID
	TemplateID uuid.UUID
	Start      time.Time
	End        time.Time
	Capacity   int
}

func (c Candidate) Key() CandidateKey {
	return CandidateKey{ResourceID: c.ResourceID, Start: c.Start.UnixNano(), End: c.End.UnixNano()}
}

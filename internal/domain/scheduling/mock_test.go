package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- Mock Resource Repository --

type mockResourceRepo struct {
	items map[uuid.UUID]*Resource
}

func newMockResourceRepo(items ...*Resource) *mockResourceRepo {
	m := &mockResourceRepo{items: make(map[uuid.UUID]*Resource)}
	for _, r := range items {
		m.items[r.ID] = r
	}
	return m
}

func (m *mockResourceRepo) GetByID(_ context.Context, id uuid.UUID) (*Resource, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (m *mockResourceRepo) ListByFacility(_ context.Context, facilityID uuid.UUID, resourceType string) ([]*Resource, error) {
	var out []*Resource
	for _, r := range m.items {
		if r.FacilityID == facilityID && r.ResourceType == resourceType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// -- Mock Availability Repository --

type mockAvailabilityRepo struct {
	templates  []*AvailabilityTemplate
	exceptions []*AvailabilityException
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (m *mockAvailabilityRepo) ListTemplates(_ context.Context, resourceIDs []uuid.UUID, slotType string, from, to time.Time) ([]*AvailabilityTemplate, error) {
	var out []*AvailabilityTemplate
	for _, t := range m.templates {
		if !contains(resourceIDs, t.ResourceID) || t.SlotType != slotType {
			continue
		}
		if civil(t.ValidFrom) > civil(to) || (t.ValidTo != nil && civil(*t.ValidTo) < civil(from)) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockAvailabilityRepo) ListExceptions(_ context.Context, resourceIDs []uuid.UUID, from, to time.Time) ([]*AvailabilityException, error) {
	var out []*AvailabilityException
	for _, e := range m.exceptions {
		if contains(resourceIDs, e.ResourceID) && civil(e.ValidFrom) <= civil(to) && civil(e.ValidTo) >= civil(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

// -- Mock Slot Repository --

type slotNaturalKey struct {
	key        CandidateKey
	templateID uuid.UUID
}

type mockSlotRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*Slot
	byKey   map[slotNaturalKey]uuid.UUID
	creates int
	// inserts counts CreateIfAbsent calls, including ones that found a row.
	inserts int
}

func newMockSlotRepo() *mockSlotRepo {
	return &mockSlotRepo{items: make(map[uuid.UUID]*Slot), byKey: make(map[slotNaturalKey]uuid.UUID)}
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.items[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *sl
	return &cp, nil
}

func (m *mockSlotRepo) list(resourceIDs []uuid.UUID, dayStart, dayEnd time.Time, onlyAvailable bool) []*Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Slot
	for _, sl := range m.items {
		if !contains(resourceIDs, sl.ResourceID) {
			continue
		}
		if sl.StartTime.Before(dayStart) || !sl.StartTime.Before(dayEnd) {
			continue
		}
		if onlyAvailable && !sl.Available() {
			continue
		}
		cp := *sl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *mockSlotRepo) ListByDay(_ context.Context, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error) {
	return m.list(resourceIDs, dayStart, dayEnd, false), nil
}

func (m *mockSlotRepo) ListAvailable(_ context.Context, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error) {
	return m.list(resourceIDs, dayStart, dayEnd, true), nil
}

func (m *mockSlotRepo) CreateIfAbsent(_ context.Context, sl *Slot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	nk := slotNaturalKey{key: sl.Key(), templateID: sl.TemplateID}
	if _, ok := m.byKey[nk]; ok {
		return false, nil
	}
	sl.ID = uuid.New()
	cp := *sl
	m.items[sl.ID] = &cp
	m.byKey[nk] = sl.ID
	m.creates++
	return true, nil
}

func (m *mockSlotRepo) Claim(_ context.Context, slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.items[slotID]
	if !ok || sl.Allocated >= sl.Capacity {
		return ErrSlotFull
	}
	sl.Allocated++
	return nil
}

// seed stores a slot as-is and returns its id.
func (m *mockSlotRepo) seed(sl *Slot) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sl.ID == uuid.Nil {
		sl.ID = uuid.New()
	}
	cp := *sl
	m.items[sl.ID] = &cp
	m.byKey[slotNaturalKey{key: sl.Key(), templateID: sl.TemplateID}] = sl.ID
	return sl.ID
}

// -- Mock Booking Repository --

type mockBookingRepo struct {
	mu    sync.Mutex
	items []*Booking
	slots *mockSlotRepo
}

func (m *mockBookingRepo) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	cp := *b
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockBookingRepo) CountOutstanding(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.items {
		if b.PatientID != patientID || IsCompletedStatus(b.Status) {
			continue
		}
		sl, err := m.slots.GetByID(ctx, b.SlotID)
		if err != nil {
			return 0, err
		}
		if !sl.StartTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockBookingRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.items {
		if b.PatientID == patientID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -- Mock Patient Locker --

// mockPatientLocker holds a per-patient mutex until the enclosing mockTx
// finishes, like SELECT ... FOR UPDATE.
type mockPatientLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	known map[uuid.UUID]bool
}

func newMockPatientLocker(ids ...uuid.UUID) *mockPatientLocker {
	m := &mockPatientLocker{locks: make(map[uuid.UUID]*sync.Mutex), known: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		m.known[id] = true
	}
	return m
}

var errUnknownPatient = errors.New("patient not found")

func (m *mockPatientLocker) LockForUpdate(ctx context.Context, patientID uuid.UUID) error {
	m.mu.Lock()
	if !m.known[patientID] {
		m.mu.Unlock()
		return errUnknownPatient
	}
	l, ok := m.locks[patientID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[patientID] = l
	}
	m.mu.Unlock()

	l.Lock()
	if release, ok := ctx.Value(txReleaseKey{}).(*[]func()); ok {
		*release = append(*release, l.Unlock)
	} else {
		l.Unlock()
	}
	return nil
}

// -- Mock Tx Runner --

type txReleaseKey struct{}

type mockTx struct {
	mu      sync.Mutex
	commits int
	aborts  int
}

func (m *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var release []func()
	err := fn(context.WithValue(ctx, txReleaseKey{}, &release))
	for _, r := range release {
		r()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.aborts++
		return err
	}
	m.commits++
	return nil
}

// -- helpers --

var (
	monday  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
)

func at(day time.Time, hhmm string) time.Time {
	return MustTimeOfDay(hhmm).On(day)
}

func newTemplate(resourceID uuid.UUID, dow int, start, end string, size int) *AvailabilityTemplate {
	return &AvailabilityTemplate{
		ID:              uuid.New(),
		ResourceID:      resourceID,
		ValidFrom:       monday.AddDate(0, 0, -30),
		DayOfWeek:       dow,
		StartTime:       MustTimeOfDay(start),
		EndTime:         MustTimeOfDay(end),
		SlotSizeMinutes: size,
		TokensPerSlot:   1,
		SlotType:        SlotTypeAppointment,
	}
}

func newException(resourceID uuid.UUID, day time.Time, start, end string) *AvailabilityException {
	return &AvailabilityException{
		ID:         uuid.New(),
		ResourceID: resourceID,
		ValidFrom:  day,
		ValidTo:    day,
		StartTime:  MustTimeOfDay(start),
		EndTime:    MustTimeOfDay(end),
	}
}

package assignment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/quickassign/internal/domain/admin"
	"github.com/ehr/quickassign/internal/domain/identity"
	"github.com/ehr/quickassign/internal/domain/scheduling"
)

// -- Mock Event Repository --

type mockEventRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*Event // by patient
	creates int
	saves   []Status
	saveErr error
	// failStatus makes saves of one status fail with statusErr.
	failStatus Status
	statusErr  error
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{items: make(map[uuid.UUID]*Event)}
}

func clone(e *Event) *Event {
	c := *e
	return &c
}

func (m *mockEventRepo) GetOrCreate(_ context.Context, patientID uuid.UUID, triggeredAt time.Time) (*Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[patientID]; ok {
		return clone(e), false, nil
	}
	e := &Event{
		ID:          uuid.New(),
		PatientID:   patientID,
		Status:      StatusPending,
		TriggeredAt: triggeredAt,
		CreatedAt:   triggeredAt,
		UpdatedAt:   triggeredAt,
	}
	m.items[patientID] = e
	m.creates++
	return clone(e), true, nil
}

func (m *mockEventRepo) GetByID(_ context.Context, id uuid.UUID) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.ID == id {
			return clone(e), nil
		}
	}
	return nil, ErrEventNotFound
}

func (m *mockEventRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[patientID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return clone(e), nil
}

func (m *mockEventRepo) SaveOutcome(_ context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.statusErr != nil && e.Status == m.failStatus {
		return m.statusErr
	}
	cur, ok := m.items[e.PatientID]
	if !ok {
		return ErrEventNotFound
	}
	retries := cur.RetryCount
	next := clone(e)
	next.RetryCount = retries
	m.items[e.PatientID] = next
	m.saves = append(m.saves, e.Status)
	return nil
}

func (m *mockEventRepo) IncrementRetry(_ context.Context, id uuid.UUID, max int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.ID != id {
			continue
		}
		if e.RetryCount >= max {
			return e.RetryCount, false, nil
		}
		e.RetryCount++
		return e.RetryCount, true, nil
	}
	return 0, false, ErrEventNotFound
}

func (m *mockEventRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Event, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Event
	for _, e := range m.items {
		if filter.Status != 0 && e.Status != filter.Status {
			continue
		}
		if filter.PatientID != uuid.Nil && e.PatientID != filter.PatientID {
			continue
		}
		all = append(all, clone(e))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockEventRepo) get(patientID uuid.UUID) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[patientID]
	if !ok {
		return nil
	}
	return clone(e)
}

func (m *mockEventRepo) put(e *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[e.PatientID] = clone(e)
}

// -- Mock Patient Repository --

type mockPatientRepo struct {
	items map[uuid.UUID]*identity.Patient
	err   error
}

func newMockPatientRepo(items ...*identity.Patient) *mockPatientRepo {
	m := &mockPatientRepo{items: make(map[uuid.UUID]*identity.Patient)}
	for _, p := range items {
		m.items[p.ID] = p
	}
	return m
}

func (m *mockPatientRepo) Create(_ context.Context, p *identity.Patient) error {
	m.items[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.items[id]
	if !ok {
		return nil, identity.ErrPatientNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) LockForUpdate(context.Context, uuid.UUID) error { return nil }

// -- Mock Facility Repository --

type mockFacilityRepo struct {
	byOrg map[uuid.UUID]*admin.Facility
	err   error
}

func (m *mockFacilityRepo) Create(_ context.Context, f *admin.Facility) error {
	m.byOrg[f.GeoOrganizationID] = f
	return nil
}

func (m *mockFacilityRepo) FindByGeoOrganization(_ context.Context, orgID uuid.UUID) (*admin.Facility, error) {
	if m.err != nil {
		return nil, m.err
	}
	f, ok := m.byOrg[orgID]
	if !ok {
		return nil, admin.ErrFacilityNotFound
	}
	return f, nil
}

// -- Mock Resource Repository --

type mockResourceRepo struct {
	items map[uuid.UUID]*scheduling.Resource
}

func (m *mockResourceRepo) GetByID(_ context.Context, id uuid.UUID) (*scheduling.Resource, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, errors.New("resource not found")
	}
	return r, nil
}

func (m *mockResourceRepo) ListByFacility(_ context.Context, facilityID uuid.UUID, resourceType string) ([]*scheduling.Resource, error) {
	var out []*scheduling.Resource
	for _, r := range m.items {
		if r.FacilityID == facilityID && r.ResourceType == resourceType {
			out = append(out, r)
		}
	}
	return out, nil
}

// -- Finder / Booker / Scheduler stubs --

type stubFinder struct {
	mu    sync.Mutex
	calls int
	fn    func(facilityID uuid.UUID, window int) (*scheduling.Slot, error)
}

func (s *stubFinder) FindFirstAvailable(_ context.Context, facilityID uuid.UUID, window int) (*scheduling.Slot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(facilityID, window)
}

type stubBooker struct {
	mu    sync.Mutex
	calls int
	inTx  bool
	err   error
	delay time.Duration
}

func (s *stubBooker) Book(ctx context.Context, slot *scheduling.Slot, patientID, bookedBy uuid.UUID) (*scheduling.Booking, error) {
	s.mu.Lock()
	s.calls++
	s.inTx = ctx.Value(txKey{}) != nil
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &scheduling.Booking{
		ID:        uuid.New(),
		SlotID:    slot.ID,
		PatientID: patientID,
		BookedBy:  bookedBy,
		Status:    scheduling.BookingBooked,
	}, nil
}

// -- Recording transaction runner --

type txKey struct{}

type recordingTx struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

func (r *recordingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(context.WithValue(ctx, txKey{}, r))
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rollbacks++
	} else {
		r.commits++
	}
	return err
}

type scheduled struct {
	patientID uuid.UUID
	delay     time.Duration
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (s *recordingScheduler) Schedule(_ context.Context, patientID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, scheduled{patientID: patientID, delay: delay})
	return nil
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

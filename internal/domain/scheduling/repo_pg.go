package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/quickassign/internal/platform/db"
)

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func timeOfDay(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

// =========== Resource Repository ===========

type resourceRepoPG struct{ pool *pgxpool.Pool }

func NewResourceRepoPG(pool *pgxpool.Pool) ResourceRepository { return &resourceRepoPG{pool: pool} }

func (r *resourceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const resourceCols = `id, facility_id, resource_type, user_id, name`

func scanResource(row pgx.Row) (*Resource, error) {
	var res Resource
	err := row.Scan(&res.ID, &res.FacilityID, &res.ResourceType, &res.UserID, &res.Name)
	return &res, err
}

func (r *resourceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Resource, error) {
	return scanResource(r.conn(ctx).QueryRow(ctx, `SELECT `+resourceCols+` FROM schedulable_resource WHERE id = $1`, id))
}

func (r *resourceRepoPG) ListByFacility(ctx context.Context, facilityID uuid.UUID, resourceType string) ([]*Resource, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+resourceCols+` FROM schedulable_resource
		WHERE facility_id = $1 AND resource_type = $2 ORDER BY created_at, id`, facilityID, resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, rows.Err()
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const templateCols = `id, resource_id, valid_from, valid_to, day_of_week, start_time, end_time,
	slot_size_minutes, tokens_per_slot, slot_type`

func scanTemplate(row pgx.Row) (*AvailabilityTemplate, error) {
	var a AvailabilityTemplate
	var start, end pgtype.Time
	err := row.Scan(&a.ID, &a.ResourceID, &a.ValidFrom, &a.ValidTo, &a.DayOfWeek, &start, &end,
		&a.SlotSizeMinutes, &a.TokensPerSlot, &a.SlotType)
	a.StartTime, a.EndTime = timeOfDay(start), timeOfDay(end)
	return &a, err
}

// ListTemplates orders by creation so that later templates win key
// collisions consistently across runs.
func (r *availabilityRepoPG) ListTemplates(ctx context.Context, resourceIDs []uuid.UUID, slotType string, from, to time.Time) ([]*AvailabilityTemplate, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM availability_template
		WHERE resource_id = ANY($1::uuid[]) AND slot_type = $2
			AND valid_from <= $4::date AND (valid_to IS NULL OR valid_to >= $3::date)
		ORDER BY created_at, id`,
		uuidStrings(resourceIDs), slotType, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AvailabilityTemplate
	for rows.Next() {
		a, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) ListExceptions(ctx context.Context, resourceIDs []uuid.UUID, from, to time.Time) ([]*AvailabilityException, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, resource_id, valid_from, valid_to, start_time, end_time
		FROM availability_exception
		WHERE resource_id = ANY($1::uuid[]) AND valid_from <= $3::date AND valid_to >= $2::date`,
		uuidStrings(resourceIDs), from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AvailabilityException
	for rows.Next() {
		var e AvailabilityException
		var start, end pgtype.Time
		if err := rows.Scan(&e.ID, &e.ResourceID, &e.ValidFrom, &e.ValidTo, &start, &end); err != nil {
			return nil, err
		}
		e.StartTime, e.EndTime = timeOfDay(start), timeOfDay(end)
		items = append(items, &e)
	}
	return items, rows.Err()
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const slotCols = `id, resource_id, template_id, start_time, end_time, capacity, allocated, created_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	err := row.Scan(&sl.ID, &sl.ResourceID, &sl.TemplateID, &sl.StartTime, &sl.EndTime,
		&sl.Capacity, &sl.Allocated, &sl.CreatedAt)
	return &sl, err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slot WHERE id = $1`, id))
}

func (r *slotRepoPG) listDay(ctx context.Context, extra string, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slot
		WHERE resource_id = ANY($1::uuid[]) AND start_time >= $2 AND start_time < $3`+extra+`
		ORDER BY start_time, resource_id`,
		uuidStrings(resourceIDs), dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sl)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) ListByDay(ctx context.Context, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error) {
	return r.listDay(ctx, "", resourceIDs, dayStart, dayEnd)
}

func (r *slotRepoPG) ListAvailable(ctx context.Context, resourceIDs []uuid.UUID, dayStart, dayEnd time.Time) ([]*Slot, error) {
	return r.listDay(ctx, " AND allocated < capacity", resourceIDs, dayStart, dayEnd)
}

func (r *slotRepoPG) CreateIfAbsent(ctx context.Context, sl *Slot) (bool, error) {
	sl.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO slot (id, resource_id, template_id, start_time, end_time, capacity, allocated)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (resource_id, start_time, end_time, template_id) DO NOTHING`,
		sl.ID, sl.ResourceID, sl.TemplateID, sl.StartTime, sl.EndTime, sl.Capacity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Claim(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot SET allocated = allocated + 1
		WHERE id = $1 AND allocated < capacity`, slotID)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotFull
	}
	return nil
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO booking (id, slot_id, patient_id, booked_by, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		b.ID, b.SlotID, b.PatientID, b.BookedBy, b.Status, b.Note).Scan(&b.CreatedAt)
}

func (r *bookingRepoPG) CountOutstanding(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM booking b JOIN slot s ON s.id = b.slot_id
		WHERE b.patient_id = $1 AND s.start_time >= $2 AND NOT (b.status = ANY($3))`,
		patientID, since, CompletedBookingStatuses).Scan(&n)
	return n, err
}

func (r *bookingRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, slot_id, patient_id, booked_by, status, note, created_at
		FROM booking WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.SlotID, &b.PatientID, &b.BookedBy, &b.Status, &b.Note, &b.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &b)
	}
	return items, rows.Err()
}

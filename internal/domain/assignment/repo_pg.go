package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/quickassign/internal/platform/db"
)

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository { return &eventRepoPG{pool: pool} }

func (r *eventRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const eventCols = `id, patient_id, status, failure_reason, assigned_staff_id, booking_id,
	retry_count, triggered_at, last_attempt_at, completed_at, execution_time_ms, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var status int16
	err := row.Scan(&e.ID, &e.PatientID, &status, &e.FailureReason, &e.AssignedStaffID, &e.BookingID,
		&e.RetryCount, &e.TriggeredAt, &e.LastAttemptAt, &e.CompletedAt, &e.ExecutionTimeMS, &e.CreatedAt, &e.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

func (r *eventRepoPG) GetOrCreate(ctx context.Context, patientID uuid.UUID, triggeredAt time.Time) (*Event, bool, error) {
	ev, err := r.GetByPatient(ctx, patientID)
	if err == nil {
		return ev, false, nil
	}
	if !errors.Is(err, ErrEventNotFound) {
		return nil, false, err
	}

	ev, err = scanEvent(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO auto_assignment_event (id, patient_id, status, retry_count, triggered_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (patient_id) DO NOTHING
		RETURNING `+eventCols,
		uuid.New(), patientID, int16(StatusPending), triggeredAt))
	switch {
	case err == nil:
		return ev, true, nil
	case errors.Is(err, ErrEventNotFound):
		// Another attempt inserted first; its row is the event.
		ev, err = r.GetByPatient(ctx, patientID)
		if err != nil {
			return nil, false, fmt.Errorf("read event after insert conflict: %w", err)
		}
		return ev, false, nil
	case db.IsUniqueViolation(err):
		ev, err = r.GetByPatient(ctx, patientID)
		return ev, false, err
	default:
		return nil, false, err
	}
}

func (r *eventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventCols+` FROM auto_assignment_event WHERE id = $1`, id))
}

func (r *eventRepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventCols+` FROM auto_assignment_event WHERE patient_id = $1`, patientID))
}

func (r *eventRepoPG) SaveOutcome(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE auto_assignment_event SET status = $2, failure_reason = $3, assigned_staff_id = $4,
			booking_id = $5, last_attempt_at = $6, completed_at = $7, execution_time_ms = $8,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, int16(e.Status), e.FailureReason, e.AssignedStaffID, e.BookingID,
		e.LastAttemptAt, e.CompletedAt, e.ExecutionTimeMS).Scan(&e.UpdatedAt)
}

func (r *eventRepoPG) IncrementRetry(ctx context.Context, id uuid.UUID, max int) (int, bool, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE auto_assignment_event SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1 AND retry_count < $2
		RETURNING retry_count`, id, max).Scan(&count)
	if db.IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (r *eventRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Event, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.Status != 0 {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, int16(filter.Status))
		idx++
	}
	if filter.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, filter.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM auto_assignment_event`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + eventCols + ` FROM auto_assignment_event` + where +
		fmt.Sprintf(` ORDER BY triggered_at DESC, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

package assignment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is stored as a small integer.
type Status int

const (
	StatusPending Status = 1
	StatusSuccess Status = 2
	StatusFailed  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSuccess || s == StatusFailed
}

// ParseStatus accepts a label in any case or the stored number.
func ParseStatus(v string) (Status, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if s := Status(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("invalid status: %s", v)
	}
	switch strings.ToUpper(v) {
	case "PENDING":
		return StatusPending, nil
	case "SUCCESS":
		return StatusSuccess, nil
	case "FAILED":
		return StatusFailed, nil
	}
	return 0, fmt.Errorf("invalid status: %s", v)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Event is the per-patient audit record of auto-assignment. There is at most
// one per patient.
type Event struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status          Status     `db:"status" json:"status"`
	FailureReason   *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	AssignedStaffID *uuid.UUID `db:"assigned_staff_id" json:"assigned_staff_id,omitempty"`
	BookingID       *uuid.UUID `db:"booking_id" json:"booking_id,omitempty"`
	RetryCount      int        `db:"retry_count" json:"retry_count"`
	TriggeredAt     time.Time  `db:"triggered_at" json:"triggered_at"`
	LastAttemptAt   *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ExecutionTimeMS *int64     `db:"execution_time_ms" json:"execution_time_ms,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// MarkPending starts a new attempt and clears the previous outcome.
func (e *Event) MarkPending(now time.Time) {
	e.Status = StatusPending
	e.FailureReason = nil
	e.AssignedStaffID = nil
	e.BookingID = nil
	e.CompletedAt = nil
	e.ExecutionTimeMS = nil
	e.LastAttemptAt = &now
}

func (e *Event) MarkFailed(reason string, now time.Time) {
	e.Status = StatusFailed
	e.FailureReason = &reason
	e.AssignedStaffID = nil
	e.BookingID = nil
	e.complete(now)
}

func (e *Event) MarkSucceeded(staffID, bookingID uuid.UUID, now time.Time) {
	e.Status = StatusSuccess
	e.FailureReason = nil
	e.AssignedStaffID = &staffID
	e.BookingID = &bookingID
	e.complete(now)
}

func (e *Event) complete(now time.Time) {
	start := e.TriggeredAt
	if e.LastAttemptAt != nil {
		start = *e.LastAttemptAt
	}
	ms := now.Sub(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	e.CompletedAt = &now
	e.ExecutionTimeMS = &ms
}

// Validate mirrors the table's CHECK constraint.
func (e *Event) Validate() error {
	switch e.Status {
	case StatusPending:
		if e.FailureReason != nil || e.AssignedStaffID != nil {
			return errors.New("pending event must have neither failure reason nor assigned staff")
		}
	case StatusFailed:
		if e.FailureReason == nil || *e.FailureReason == "" {
			return errors.New("failed event requires a failure reason")
		}
		if e.AssignedStaffID != nil {
			return errors.New("failed event must not have assigned staff")
		}
	case StatusSuccess:
		if e.AssignedStaffID == nil {
			return errors.New("successful event requires assigned staff")
		}
		if e.FailureReason != nil {
			return errors.New("successful event must not have a failure reason")
		}
	default:
		return fmt.Errorf("invalid status %d", int(e.Status))
	}
	if e.RetryCount < 0 {
		return errors.New("retry count must not be negative")
	}
	return nil
}

// ListFilter narrows List; zero values match everything.
type ListFilter struct {
	Status    Status
	PatientID uuid.UUID
}

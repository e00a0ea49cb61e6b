package assignment

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestTrigger_OnPatientCreated(t *testing.T) {
	s := &recordingScheduler{}
	tr := NewTrigger(s, true, zerolog.New(io.Discard))
	pid := uuid.New()

	if err := tr.OnPatientCreated(context.Background(), pid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("expected 1 scheduled attempt, got %d", s.count())
	}
	if s.calls[0].patientID != pid || s.calls[0].delay != 0 {
		t.Errorf("unexpected schedule %+v", s.calls[0])
	}
}

func TestTrigger_Disabled(t *testing.T) {
	s := &recordingScheduler{}
	tr := NewTrigger(s, false, zerolog.New(io.Discard))

	if err := tr.OnPatientCreated(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.count() != 0 {
		t.Error("disabled trigger must not schedule")
	}

	if err := tr.Enqueue(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.count() != 1 {
		t.Error("manual enqueue ignores the enabled flag")
	}
}

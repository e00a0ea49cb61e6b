package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWindowSize is a configuration error and is never retried.
	ErrInvalidWindowSize      = errors.New("invalid window size for auto-assignment")
	ErrNoSchedulableResources = errors.New("no schedulable resources found for the given facility")
	ErrNoAvailability         = errors.New("no availabilities found for the given resources")
	// ErrSlotFull is returned when a claim loses the race for the last token.
	ErrSlotFull = errors.New("slot has no remaining capacity")
)

// NoSlotError reports an exhausted search window.
type NoSlotError struct {
	Window int
}

func (e *NoSlotError) Error() string {
	unit := "days"
	if e.Window == 1 {
		unit = "day"
	}
	return fmt.Sprintf("no suitable slot found within %d %s for quick assignment", e.Window, unit)
}

// CapacityError is returned when the patient already holds the maximum
// number of outstanding bookings.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("patient already has maximum number of appointments (%d)", e.Max)
}

// IsConfigError reports whether err is a misconfiguration rather than a
// business failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidWindowSize)
}

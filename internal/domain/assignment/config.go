package assignment

import "time"

// Config carries the auto-assignment tunables. It is passed to constructors;
// nothing reads process-wide settings.
type Config struct {
	// Enabled gates the patient-created trigger. Manual triggers ignore it.
	Enabled             bool
	WindowDays          int
	MaxSlotsPerTemplate int
	MaxAppointments     int
	MaxRetries          int
	RetryDelay          time.Duration
	AppointmentNote     string
	// LockTTL bounds how long one attempt may hold the per-patient guard.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		WindowDays:          7,
		MaxSlotsPerTemplate: 100,
		MaxAppointments:     1,
		MaxRetries:          3,
		RetryDelay:          time.Minute,
		AppointmentNote:     "This appointment was automatically generated using quick auto-assign feature.",
		LockTTL:             2 * time.Minute,
	}
}

package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory is the read-only view of doctor management data.
type Directory interface {
	// GetDoctor returns ErrDoctorNotFound for unknown ids.
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// ListTemplates returns the active templates for weekday ordered by start.
	ListTemplates(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]ScheduleTemplate, error)
	// GetOverride returns nil, nil when no override exists for the date.
	GetOverride(ctx context.Context, doctorID uuid.UUID, date time.Time) (*AvailabilityOverride, error)
}

// CapacityGuard asks a write to verify, inside its transaction, that the
// doctor holds fewer than Max scheduled appointments starting within Day.
// Max <= 0 disables the check.
type CapacityGuard struct {
	DoctorID uuid.UUID
	Day      Interval
	Max      int
	Exclude  uuid.UUID
}

// Update is a version-checked mutation. It applies only if the stored
// version equals ExpectedVersion and bumps the version by one.
type Update struct {
	ID              uuid.UUID
	ExpectedVersion int
	Status          Status
	SlotStart       time.Time
	SlotEnd         time.Time
	RescheduleCount int
	Capacity        CapacityGuard
}

// Store owns appointment rows. Implementations must reject any write that
// would leave two SCHEDULED appointments of one doctor overlapping with
// ErrConflict, at commit time.
type Store interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// For availability and capacity
	ListScheduled(ctx context.Context, doctorID uuid.UUID, window Interval) ([]Appointment, error)
	CountScheduled(ctx context.Context, doctorID uuid.UUID, day Interval, exclude uuid.UUID) (int, error)

	// Writes
	Insert(ctx context.Context, a Appointment, guard CapacityGuard) (*Appointment, error)
	Update(ctx context.Context, u Update) (*Appointment, error)

	// No-show worker
	ListOverdue(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s != StatusScheduled
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second
			return TimeOfDay(d), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// On places t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	y, mo, day := date.Date()
	return time.Date(y, mo, day, h, m, s, 0, date.Location())
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Doctor is the scheduling view of a doctor owned by doctor management.
type Doctor struct {
	ID                   uuid.UUID
	Name                 string
	Department           string
	Specialization       string
	Active               bool
	MaxDailyAppointments int
}

// ScheduleTemplate is a recurring weekly availability rule.
type ScheduleTemplate struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	DayOfWeek    time.Weekday
	Start        TimeOfDay
	End          TimeOfDay
	SlotDuration time.Duration
	Active       bool
}

// AvailabilityOverride is a one-date exception for a doctor. Start and End
// are either both set or both nil.
type AvailabilityOverride struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Start     *TimeOfDay
	End       *TimeOfDay
	Available bool
	Reason    string
}

// HasRange reports whether the override names a sub-interval of the day.
func (o AvailabilityOverride) HasRange() bool {
	return o.Start != nil && o.End != nil && *o.Start < *o.End
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Department      string
	SlotStart       time.Time
	SlotEnd         time.Time
	Status          Status
	RescheduleCount int
	Notes           string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.SlotStart, End: a.SlotEnd}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ListFilter narrows ListAppointments. Zero values are ignored.
type ListFilter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    Status
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalized applies the default page size and clamps limit and offset.
func (f ListFilter) Normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// BookRequest asks for a new appointment.
type BookRequest struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	Department string
	Start      time.Time
	End        time.Time
	Notes      string
}

// RescheduleRequest moves an appointment the caller last saw at ExpectedVersion.
type RescheduleRequest struct {
	ID              uuid.UUID
	ExpectedVersion int
	Start           time.Time
	End             time.Time
}

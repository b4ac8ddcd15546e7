package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store and Directory. Writes enforce the same
// overlap, capacity and version rules as the Postgres store.
type memStore struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]Doctor
	templates    map[uuid.UUID][]ScheduleTemplate
	overrides    map[string]AvailabilityOverride
	appointments map[uuid.UUID]Appointment
	events       []EventLog

	// hooks for fault injection
	insertErr   error
	beforeWrite func()
}

func newMemStore() *memStore {
	return &memStore{
		doctors:      make(map[uuid.UUID]Doctor),
		templates:    make(map[uuid.UUID][]ScheduleTemplate),
		overrides:    make(map[string]AvailabilityOverride),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func overrideKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + "/" + date.Format(time.DateOnly)
}

func (m *memStore) addDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *memStore) addTemplate(t ScheduleTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.templates[t.DoctorID] = append(m.templates[t.DoctorID], t)
}

func (m *memStore) setOverride(o AvailabilityOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[overrideKey(o.DoctorID, o.Date)] = o
}

// put stores a row as is, bypassing the write checks.
func (m *memStore) put(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memStore) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *memStore) ListTemplates(_ context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]ScheduleTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduleTemplate
	for _, t := range m.templates[doctorID] {
		if t.DayOfWeek == weekday && t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (m *memStore) GetOverride(_ context.Context, doctorID uuid.UUID, date time.Time) (*AvailabilityOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[overrideKey(doctorID, date)]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Appointment{}
	for _, a := range m.sortedLocked() {
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.SlotStart.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.SlotStart.Before(f.To) {
			continue
		}
		out = append(out, a)
	}
	if f.Offset >= len(out) {
		return []Appointment{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) ListScheduled(_ context.Context, doctorID uuid.UUID, window Interval) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.sortedLocked() {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) CountScheduled(_ context.Context, doctorID uuid.UUID, day Interval, exclude uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(doctorID, day, exclude), nil
}

func (m *memStore) Insert(_ context.Context, a Appointment, guard CapacityGuard) (*Appointment, error) {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if err := m.checkLocked(a, guard); err != nil {
		return nil, err
	}

	now := time.Now()
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *memStore) Update(_ context.Context, u Update) (*Appointment, error) {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.appointments[u.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if current.Version != u.ExpectedVersion {
		return nil, ErrVersionConflict
	}

	next := current
	next.Status = u.Status
	next.SlotStart, next.SlotEnd = u.SlotStart, u.SlotEnd
	next.RescheduleCount = u.RescheduleCount
	if next.Status == StatusScheduled {
		if err := m.checkLocked(next, u.Capacity); err != nil {
			return nil, err
		}
	}

	next.Version++
	next.UpdatedAt = time.Now()
	m.appointments[u.ID] = next
	return &next, nil
}

func (m *memStore) ListOverdue(_ context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.sortedLocked() {
		if a.Status == StatusScheduled && a.SlotEnd.Before(endedBefore) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// checkLocked mirrors the exclusion and check constraints plus the capacity guard.
func (m *memStore) checkLocked(a Appointment, guard CapacityGuard) error {
	if !a.Interval().Valid() {
		return ErrInvalidInterval
	}
	for _, other := range m.appointments {
		if other.ID == a.ID || other.DoctorID != a.DoctorID || other.Status != StatusScheduled {
			continue
		}
		if other.Interval().Overlaps(a.Interval()) {
			return ErrConflict
		}
	}
	if guard.Max > 0 && m.countLocked(guard.DoctorID, guard.Day, guard.Exclude) >= guard.Max {
		return fmt.Errorf("%w: limit is %d", ErrDailyCapacityExceeded, guard.Max)
	}
	return nil
}

func (m *memStore) countLocked(doctorID uuid.UUID, day Interval, exclude uuid.UUID) int {
	n := 0
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || a.Status != StatusScheduled || a.ID == exclude {
			continue
		}
		if !a.SlotStart.Before(day.Start) && a.SlotStart.Before(day.End) {
			n++
		}
	}
	return n
}

func (m *memStore) sortedLocked() []Appointment {
	out := make([]Appointment, 0, len(m.appointments))
	for _, a := range m.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotStart.Equal(out[j].SlotStart) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].SlotStart.Before(out[j].SlotStart)
	})
	return out
}

package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolverFor(store *memStore) *Resolver {
	return NewResolver(store, store, time.UTC, 30*time.Minute)
}

func TestResolve_TemplateWithUnavailableRange(t *testing.T) {
	store, doc := seededStore(20)
	store.setOverride(AvailabilityOverride{
		DoctorID:  doc.ID,
		Date:      monday,
		Start:     tod("10:00"),
		End:       tod("10:30"),
		Available: false,
		Reason:    "ward round",
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"09:00-09:30", "09:30-10:00", "10:30-11:00", "11:00-11:30", "11:30-12:00",
	}, starts(avail.Slots()))
}

func TestResolve_WholeDayUnavailable(t *testing.T) {
	store, doc := seededStore(20)
	store.setOverride(AvailabilityOverride{DoctorID: doc.ID, Date: monday, Available: false, Reason: "leave"})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, at(15, 0))
	require.NoError(t, err)

	slots := avail.Slots()
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestResolve_AvailableWithoutRangeKeepsTemplates(t *testing.T) {
	store, doc := seededStore(20)
	store.setOverride(AvailabilityOverride{DoctorID: doc.ID, Date: monday, Available: true})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)
	assert.Len(t, avail.Slots(), 6)
}

func TestResolve_NoTemplateForWeekday(t *testing.T) {
	store, doc := seededStore(20)

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, avail.Slots())
}

func TestResolve_AdditiveOverrideOnDayOff(t *testing.T) {
	store, doc := seededStore(20)
	saturday := monday.AddDate(0, 0, 5)
	store.setOverride(AvailabilityOverride{
		DoctorID:  doc.ID,
		Date:      saturday,
		Start:     tod("10:00"),
		End:       tod("11:00"),
		Available: true,
		Reason:    "extra clinic",
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, saturday)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00-10:30", "10:30-11:00"}, starts(avail.Slots()))
}

func TestResolve_AdditiveOverrideExtendsTemplate(t *testing.T) {
	store, doc := seededStore(20)
	store.setOverride(AvailabilityOverride{
		DoctorID:  doc.ID,
		Date:      monday,
		Start:     tod("11:00"),
		End:       tod("13:00"),
		Available: true,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:00-09:30", "09:30-10:00", "10:00-10:30", "10:30-11:00", "11:00-11:30", "11:30-12:00",
		"12:00-12:30", "12:30-13:00",
	}, starts(avail.Slots()))
}

func TestResolve_MixedSlotDurations(t *testing.T) {
	store := newMemStore()
	doc := newDoctor(20)
	store.addDoctor(doc)
	store.addTemplate(ScheduleTemplate{
		DoctorID: doc.ID, DayOfWeek: time.Monday, Active: true,
		Start: MustTimeOfDay("14:00"), End: MustTimeOfDay("15:00"), SlotDuration: 45 * time.Minute,
	})
	store.addTemplate(ScheduleTemplate{
		DoctorID: doc.ID, DayOfWeek: time.Monday, Active: true,
		Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("10:00"), SlotDuration: 20 * time.Minute,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	// The trailing 14:45 slot would run past 15:00 and is dropped.
	assert.Equal(t, []string{"09:00-09:20", "09:20-09:40", "09:40-10:00", "14:00-14:45"}, starts(avail.Slots()))
}

func TestResolve_ZeroSlotDurationUsesDefault(t *testing.T) {
	store := newMemStore()
	doc := newDoctor(20)
	store.addDoctor(doc)
	tmpl := mondayTemplate(doc.ID)
	tmpl.End = MustTimeOfDay("10:00")
	tmpl.SlotDuration = 0
	store.addTemplate(tmpl)

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00-09:30", "09:30-10:00"}, starts(avail.Slots()))
}

func TestResolve_SubtractsScheduledAppointments(t *testing.T) {
	store, doc := seededStore(20)
	store.put(Appointment{
		ID: uuid.New(), DoctorID: doc.ID, PatientID: uuid.New(),
		SlotStart: at(9, 30), SlotEnd: at(10, 0), Status: StatusScheduled, Version: 1,
	})
	store.put(Appointment{
		ID: uuid.New(), DoctorID: doc.ID, PatientID: uuid.New(),
		SlotStart: at(10, 0), SlotEnd: at(10, 30), Status: StatusCancelled, Version: 2,
	})
	store.put(Appointment{
		ID: uuid.New(), DoctorID: doc.ID, PatientID: uuid.New(),
		SlotStart: at(11, 0), SlotEnd: at(11, 15), Status: StatusScheduled, Version: 1,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	// A partially booked slot is no longer offered at all.
	assert.Equal(t, []string{
		"09:00-09:30", "10:00-10:30", "10:30-11:00", "11:30-12:00",
	}, starts(avail.Slots()))
}

func TestResolve_OtherDoctorsAppointmentsIgnored(t *testing.T) {
	store, doc := seededStore(20)
	other := newDoctor(20)
	store.addDoctor(other)
	store.put(Appointment{
		ID: uuid.New(), DoctorID: other.ID, PatientID: uuid.New(),
		SlotStart: at(9, 0), SlotEnd: at(9, 30), Status: StatusScheduled, Version: 1,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)
	assert.Len(t, avail.Slots(), 6)
}

func TestResolve_UnknownOrInactiveDoctor(t *testing.T) {
	store, doc := seededStore(20)

	_, err := resolverFor(store).Resolve(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	doc.Active = false
	store.addDoctor(doc)
	_, err = resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestResolve_IdempotentAndRestartable(t *testing.T) {
	store, doc := seededStore(20)
	r := resolverFor(store)

	first, err := r.Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, first.Slots(), second.Slots())

	// Stop after two, then range again from the top.
	var partial []Interval
	for slot := range first.All() {
		partial = append(partial, slot)
		if len(partial) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"09:00-09:30", "09:30-10:00"}, starts(partial))
	assert.Len(t, first.Slots(), 6)
}

func TestResolve_Timezone(t *testing.T) {
	store, doc := seededStore(20)
	loc := time.FixedZone("UTC+3", 3*60*60)
	r := NewResolver(store, store, loc, 30*time.Minute)

	avail, err := r.Resolve(context.Background(), doc.ID, time.Date(2030, 1, 7, 0, 0, 0, 0, loc))
	require.NoError(t, err)

	slots := avail.Slots()
	require.Len(t, slots, 6)
	assert.True(t, slots[0].Start.Equal(at(6, 0)), "09:00 local is 06:00 UTC")
}

func TestAvailability_Covers(t *testing.T) {
	store, doc := seededStore(20)
	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	assert.True(t, avail.Covers(iv(9, 0, 9, 30)))
	assert.True(t, avail.Covers(iv(9, 0, 10, 0)), "run of whole slots")
	assert.False(t, avail.Covers(iv(9, 10, 9, 20)), "inside a slot")
	assert.False(t, avail.Covers(iv(9, 7, 9, 11)), "inside a slot")
	assert.False(t, avail.Covers(iv(9, 15, 9, 45)), "straddles a boundary")
	assert.False(t, avail.Covers(iv(9, 0, 9, 45)), "ends mid slot")
	assert.False(t, avail.Covers(iv(8, 30, 9, 0)))
	assert.False(t, avail.Covers(iv(12, 0, 12, 30)))
}

func TestAvailability_CoversStopsAtBookedSlot(t *testing.T) {
	store, doc := seededStore(20)
	store.put(Appointment{
		ID: uuid.New(), DoctorID: doc.ID, PatientID: uuid.New(),
		SlotStart: at(9, 30), SlotEnd: at(10, 0), Status: StatusScheduled, Version: 1,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	assert.True(t, avail.Covers(iv(10, 0, 11, 0)))
	assert.False(t, avail.Covers(iv(9, 0, 10, 0)))
	assert.False(t, avail.Covers(iv(9, 30, 10, 0)))
}

func TestResolve_UnavailableRangeDropsTouchedSlots(t *testing.T) {
	store, doc := seededStore(20)
	store.setOverride(AvailabilityOverride{
		DoctorID:  doc.ID,
		Date:      monday,
		Start:     tod("10:15"),
		End:       tod("10:45"),
		Available: false,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	// Same rule as a booked 10:15-10:45: both touched slots go, boundaries stay.
	assert.Equal(t, []string{
		"09:00-09:30", "09:30-10:00", "11:00-11:30", "11:30-12:00",
	}, starts(avail.Slots()))
	assert.False(t, avail.Covers(iv(10, 45, 11, 0)))
}

func TestAvailability_CoversOverlappingTemplates(t *testing.T) {
	store := newMemStore()
	doc := newDoctor(20)
	store.addDoctor(doc)
	store.addTemplate(ScheduleTemplate{
		DoctorID: doc.ID, DayOfWeek: time.Monday, Active: true,
		Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("12:00"), SlotDuration: 45 * time.Minute,
	})
	store.addTemplate(ScheduleTemplate{
		DoctorID: doc.ID, DayOfWeek: time.Monday, Active: true,
		Start: MustTimeOfDay("10:00"), End: MustTimeOfDay("11:00"), SlotDuration: 30 * time.Minute,
	})

	avail, err := resolverFor(store).Resolve(context.Background(), doc.ID, monday)
	require.NoError(t, err)

	// 10:00-10:30 only exists in the second template, after the first
	// template has already yielded later slots.
	assert.True(t, avail.Covers(iv(10, 0, 10, 30)))
	assert.False(t, avail.Covers(iv(9, 30, 10, 15)))
}

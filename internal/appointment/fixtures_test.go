package appointment

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
)

// 2030-01-07 is a Monday.
var monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func tod(s string) *TimeOfDay {
	t := MustTimeOfDay(s)
	return &t
}

func newDoctor(maxDaily int) Doctor {
	return Doctor{
		ID:                   uuid.New(),
		Name:                 "Dr. Ada Osei",
		Department:           "Cardiology",
		Active:               true,
		MaxDailyAppointments: maxDaily,
	}
}

// mondayTemplate is 09:00-12:00 in 30 minute slots.
func mondayTemplate(doctorID uuid.UUID) ScheduleTemplate {
	return ScheduleTemplate{
		DoctorID:     doctorID,
		DayOfWeek:    time.Monday,
		Start:        MustTimeOfDay("09:00"),
		End:          MustTimeOfDay("12:00"),
		SlotDuration: 30 * time.Minute,
		Active:       true,
	}
}

func seededStore(maxDaily int) (*memStore, Doctor) {
	store := newMemStore()
	doc := newDoctor(maxDaily)
	store.addDoctor(doc)
	store.addTemplate(mondayTemplate(doc.ID))
	return store, doc
}

func testConfig() config.Config {
	return config.Config{
		Location:        time.UTC,
		DefaultSlotSize: 30 * time.Minute,
	}
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

// newTestService runs with the clock at Sunday noon before the test Monday.
func newTestService(store *memStore, opts ...Option) (*Service, *fixedClock) {
	clock := &fixedClock{t: monday.Add(-12 * time.Hour)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewService(store, store, testConfig(), zap.NewNop(), opts...), clock
}

func starts(slots []Interval) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04")+"-"+s.End.Format("15:04"))
	}
	return out
}

package appointment

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// window is a stretch of working time sliced into slots of step, aligned to
// anchor (the start of the rule that produced it).
type window struct {
	Interval
	anchor time.Time
	step   time.Duration
}

// Availability is the resolved free time of one doctor on one date.
type Availability struct {
	DoctorID uuid.UUID
	Date     time.Time
	windows  []window
	busy     []Interval
}

// All yields free slots in chronological order. A slot that overlaps busy
// time is skipped whole. Slots are cut on demand, so ranging again starts
// over from the first slot.
func (a Availability) All() iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		for _, w := range a.windows {
			for slot := range w.slots() {
				if a.blocked(slot) {
					continue
				}
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// slots cuts w into whole steps aligned to its anchor. A trailing piece
// shorter than step is dropped.
func (w window) slots() iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		start := w.anchor
		if start.Before(w.Start) {
			steps := (w.Start.Sub(w.anchor) + w.step - 1) / w.step
			start = w.anchor.Add(steps * w.step)
		}
		for ; !start.Add(w.step).After(w.End); start = start.Add(w.step) {
			if !yield(Interval{Start: start, End: start.Add(w.step)}) {
				return
			}
		}
	}
}

func (a Availability) blocked(slot Interval) bool {
	for _, b := range a.busy {
		if !b.Start.Before(slot.End) {
			return false
		}
		if b.Overlaps(slot) {
			return true
		}
	}
	return false
}

// Slots collects All into a slice. It never returns nil.
func (a Availability) Slots() []Interval {
	out := slices.Collect(a.All())
	if out == nil {
		out = []Interval{}
	}
	return out
}

// Covers reports whether iv is exactly one free slot, or a run of
// consecutive free slots of the same window.
func (a Availability) Covers(iv Interval) bool {
	if !iv.Valid() {
		return false
	}
	for _, w := range a.windows {
		if !w.Contains(iv) {
			continue
		}
		cursor := iv.Start
		for slot := range w.slots() {
			if slot.Start.Before(cursor) {
				continue
			}
			if !slot.Start.Equal(cursor) || a.blocked(slot) {
				break
			}
			cursor = slot.End
			if !cursor.Before(iv.End) {
				if cursor.Equal(iv.End) {
					return true
				}
				break
			}
		}
	}
	return false
}

// Resolver derives bookable time from templates, overrides and existing
// appointments. It keeps no state between calls.
type Resolver struct {
	directory   Directory
	store       Store
	loc         *time.Location
	defaultSlot time.Duration
}

func NewResolver(directory Directory, store Store, loc *time.Location, defaultSlot time.Duration) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if defaultSlot <= 0 {
		defaultSlot = 30 * time.Minute
	}
	return &Resolver{
		directory:   directory,
		store:       store,
		loc:         loc,
		defaultSlot: defaultSlot,
	}
}

// Resolve returns the free intervals of doctorID on the calendar date of date.
func (r *Resolver) Resolve(ctx context.Context, doctorID uuid.UUID, date time.Time) (Availability, error) {
	doctor, err := r.activeDoctor(ctx, doctorID)
	if err != nil {
		return Availability{}, err
	}
	return r.resolve(ctx, doctor, date, uuid.Nil)
}

// Day returns the [midnight, next midnight) interval holding t.
func (r *Resolver) Day(t time.Time) Interval {
	y, m, d := t.In(r.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

func (r *Resolver) activeDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	doctor, err := r.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, ErrDoctorNotFound
	}
	return doctor, nil
}

// resolve skips the appointment exclude when collecting busy time, so a
// reschedule can reuse the time it already holds.
func (r *Resolver) resolve(ctx context.Context, doctor *Doctor, date time.Time, exclude uuid.UUID) (Availability, error) {
	day := r.Day(date)
	result := Availability{DoctorID: doctor.ID, Date: day.Start}

	templates, err := r.directory.ListTemplates(ctx, doctor.ID, day.Start.Weekday())
	if err != nil {
		return Availability{}, fmt.Errorf("load schedule templates: %w", err)
	}

	var windows []window
	for _, t := range templates {
		if !t.Active || t.Start >= t.End {
			continue
		}
		step := t.SlotDuration
		if step <= 0 {
			step = r.defaultSlot
		}
		start := t.Start.On(day.Start)
		windows = append(windows, window{
			Interval: Interval{Start: start, End: t.End.On(day.Start)},
			anchor:   start,
			step:     step,
		})
	}

	override, err := r.directory.GetOverride(ctx, doctor.ID, day.Start)
	if err != nil {
		return Availability{}, fmt.Errorf("load availability override: %w", err)
	}
	var closed []Interval
	if override != nil {
		windows, closed = r.applyOverride(windows, *override, day)
	}
	if len(windows) == 0 {
		return result, nil
	}
	sort.Slice(windows, func(a, b int) bool {
		return windows[a].Start.Before(windows[b].Start)
	})

	booked, err := r.store.ListScheduled(ctx, doctor.ID, day)
	if err != nil {
		return Availability{}, fmt.Errorf("load scheduled appointments: %w", err)
	}
	busy := make([]Interval, 0, len(booked)+len(closed))
	busy = append(busy, closed...)
	for _, a := range booked {
		if a.ID == exclude || a.Status != StatusScheduled {
			continue
		}
		busy = append(busy, a.Interval())
	}
	sortIntervals(busy)

	result.windows = windows
	result.busy = busy
	return result, nil
}

// applyOverride returns the working windows for the day and any range the
// override closes. A closed range is treated like booked time, so it takes
// out every slot it touches and leaves slot boundaries in place.
func (r *Resolver) applyOverride(windows []window, o AvailabilityOverride, day Interval) ([]window, []Interval) {
	if !o.HasRange() {
		if o.Available {
			// Nothing to add without a range; templates stand.
			return windows, nil
		}
		return nil, nil
	}

	span := Interval{Start: o.Start.On(day.Start), End: o.End.On(day.Start)}
	if !o.Available {
		return windows, []Interval{span}
	}

	// Only the part of span not already covered by a template is added, so
	// existing windows keep their own slot size.
	covered := make([]Interval, 0, len(windows))
	for _, w := range windows {
		covered = append(covered, w.Interval)
	}
	sortIntervals(covered)
	for _, a := range subtractAll(span, covered) {
		windows = append(windows, window{Interval: a, anchor: span.Start, step: r.defaultSlot})
	}
	return windows, nil
}

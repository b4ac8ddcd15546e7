package appointment

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Subtract returns the zero, one or two pieces of i not covered by o.
func (i Interval) Subtract(o Interval) []Interval {
	if !i.Overlaps(o) {
		return []Interval{i}
	}
	var out []Interval
	if i.Start.Before(o.Start) {
		out = append(out, Interval{Start: i.Start, End: o.Start})
	}
	if o.End.Before(i.End) {
		out = append(out, Interval{Start: o.End, End: i.End})
	}
	return out
}

// subtractAll removes every interval of cut from i. cut must be sorted by Start.
func subtractAll(i Interval, cut []Interval) []Interval {
	remaining := []Interval{i}
	for _, c := range cut {
		if !c.Start.Before(i.End) {
			break
		}
		var next []Interval
		for _, r := range remaining {
			next = append(next, r.Subtract(c)...)
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}
	}
	return remaining
}

func sortIntervals(ivs []Interval) {
	sort.Slice(ivs, func(a, b int) bool {
		return ivs[a].Start.Before(ivs[b].Start)
	})
}

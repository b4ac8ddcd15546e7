package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Validator checks a requested interval against availability and business
// rules. It never writes.
type Validator struct {
	resolver    *Resolver
	store       Store
	minLeadTime time.Duration
}

func NewValidator(resolver *Resolver, store Store, minLeadTime time.Duration) *Validator {
	return &Validator{
		resolver:    resolver,
		store:       store,
		minLeadTime: minLeadTime,
	}
}

// Validate returns nil when [start, end) may be booked with doctorID at now,
// otherwise the first rule that fails.
func (v *Validator) Validate(ctx context.Context, doctorID uuid.UUID, start, end, now time.Time) error {
	_, err := v.validate(ctx, doctorID, Interval{Start: start, End: end}, now, uuid.Nil)
	return err
}

// validate also returns the doctor so callers can size the capacity guard.
// exclude is an appointment whose own time and capacity do not count.
func (v *Validator) validate(ctx context.Context, doctorID uuid.UUID, iv Interval, now time.Time, exclude uuid.UUID) (*Doctor, error) {
	if !iv.Valid() {
		return nil, ErrInvalidInterval
	}

	earliest := now.Add(v.minLeadTime)
	if iv.Start.Before(earliest) {
		return nil, fmt.Errorf("%w: earliest allowed start is %s", ErrLeadTimeViolation, earliest.Format(time.RFC3339))
	}

	doctor, err := v.resolver.activeDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	avail, err := v.resolver.resolve(ctx, doctor, iv.Start, exclude)
	if err != nil {
		return nil, err
	}
	if !avail.Covers(iv) {
		return nil, ErrSlotUnavailable
	}

	if doctor.MaxDailyAppointments > 0 {
		count, err := v.store.CountScheduled(ctx, doctor.ID, v.resolver.Day(iv.Start), exclude)
		if err != nil {
			return nil, fmt.Errorf("count scheduled appointments: %w", err)
		}
		if count >= doctor.MaxDailyAppointments {
			return nil, fmt.Errorf("%w: limit is %d", ErrDailyCapacityExceeded, doctor.MaxDailyAppointments)
		}
	}

	return doctor, nil
}

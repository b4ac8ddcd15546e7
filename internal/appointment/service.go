package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
)

const overdueBatchSize = 500

// Event is what the notification side learns about an accepted mutation.
type Event struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	Status        Status         `json:"status"`
	Version       int            `json:"version"`
	SlotStart     time.Time      `json:"slot_start"`
	SlotEnd       time.Time      `json:"slot_end"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Details       map[string]any `json:"details,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Option func(*Service)

func WithLocker(l redisclient.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service coordinates every appointment state change. It holds no
// appointment state between calls; the store is the only source of truth.
type Service struct {
	store     Store
	resolver  *Resolver
	validator *Validator
	locker    redisclient.Locker
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store Store, directory Directory, cfg config.Config, log *zap.Logger, opts ...Option) *Service {
	resolver := NewResolver(directory, store, cfg.Location, cfg.DefaultSlotSize)
	s := &Service{
		store:     store,
		resolver:  resolver,
		validator: NewValidator(resolver, store, cfg.MinLeadTime),
		locker:    redisclient.NoopLocker(),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Availability resolves the free intervals of a doctor on date.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date time.Time) (Availability, error) {
	return s.resolver.Resolve(ctx, doctorID, date)
}

// Validate runs the slot rules without booking.
func (s *Service) Validate(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	return s.validator.Validate(ctx, doctorID, start, end, s.now())
}

// Book creates a SCHEDULED appointment at version 1. A concurrent booking that
// wins the same time makes this one fail with ErrConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	iv := Interval{Start: req.Start, End: req.End}

	doctor, err := s.validator.validate(ctx, req.DoctorID, iv, s.now(), uuid.Nil)
	if err != nil {
		return nil, err
	}

	department := req.Department
	if department == "" {
		department = doctor.Department
	}

	appt := Appointment{
		ID:         uuid.New(),
		PatientID:  req.PatientID,
		DoctorID:   doctor.ID,
		Department: department,
		SlotStart:  iv.Start,
		SlotEnd:    iv.End,
		Status:     StatusScheduled,
		Notes:      req.Notes,
		Version:    1,
	}

	var created *Appointment
	err = s.withBookingLock(ctx, doctor.ID, iv.Start, func(lockCtx context.Context) error {
		a, err := s.store.Insert(lockCtx, appt, s.capacityGuard(doctor, iv, uuid.Nil))
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, s.failed(ctx, "book appointment", err)
	}

	s.logEvent(ctx, created, EventAppointmentBooked, map[string]any{
		"department": created.Department,
	})
	return created, nil
}

// Reschedule moves a SCHEDULED appointment to a new interval, provided the
// caller saw the current version.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*Appointment, error) {
	current, err := s.loadMutable(ctx, req.ID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	iv := Interval{Start: req.Start, End: req.End}
	doctor, err := s.validator.validate(ctx, current.DoctorID, iv, s.now(), current.ID)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.withBookingLock(ctx, doctor.ID, iv.Start, func(lockCtx context.Context) error {
		a, err := s.store.Update(lockCtx, Update{
			ID:              current.ID,
			ExpectedVersion: req.ExpectedVersion,
			Status:          StatusScheduled,
			SlotStart:       iv.Start,
			SlotEnd:         iv.End,
			RescheduleCount: current.RescheduleCount + 1,
			Capacity:        s.capacityGuard(doctor, iv, current.ID),
		})
		if err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, s.failed(ctx, "reschedule appointment", err)
	}

	s.logEvent(ctx, updated, EventAppointmentRescheduled, map[string]any{
		"previous_start": current.SlotStart,
		"previous_end":   current.SlotEnd,
	})
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, expectedVersion int, reason string) (*Appointment, error) {
	return s.transition(ctx, id, expectedVersion, StatusCancelled, EventAppointmentCancelled, map[string]any{
		"reason": reason,
	})
}

// Complete closes an appointment whose slot has already ended.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, expectedVersion int) (*Appointment, error) {
	return s.transition(ctx, id, expectedVersion, StatusCompleted, EventAppointmentCompleted, nil)
}

// MarkNoShow closes an appointment whose slot has ended without the patient.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, expectedVersion int) (*Appointment, error) {
	return s.transition(ctx, id, expectedVersion, StatusNoShow, EventAppointmentNoShow, nil)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, expectedVersion int, to Status, eventType string, details map[string]any) (*Appointment, error) {
	current, err := s.loadMutable(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}

	if to != StatusCancelled && current.SlotEnd.After(s.now()) {
		return nil, fmt.Errorf("%w: slot ends at %s", ErrInvalidState, current.SlotEnd.Format(time.RFC3339))
	}

	updated, err := s.store.Update(ctx, Update{
		ID:              current.ID,
		ExpectedVersion: expectedVersion,
		Status:          to,
		SlotStart:       current.SlotStart,
		SlotEnd:         current.SlotEnd,
		RescheduleCount: current.RescheduleCount,
	})
	if err != nil {
		return nil, s.failed(ctx, fmt.Sprintf("mark appointment %s", to), err)
	}

	s.logEvent(ctx, updated, eventType, details)
	return updated, nil
}

// loadMutable fetches id and rejects terminal or already-stale appointments
// before any slot work is done. The store repeats the version check on write.
func (s *Service) loadMutable(ctx context.Context, id uuid.UUID, expectedVersion int) (*Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidState, current.Status)
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, current is %d", ErrVersionConflict, expectedVersion, current.Version)
	}
	return current, nil
}

// MarkOverdueNoShows moves SCHEDULED appointments that ended more than grace
// ago to NO_SHOW. Appointments changed meanwhile are skipped.
func (s *Service) MarkOverdueNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	overdue, err := s.store.ListOverdue(ctx, cutoff, overdueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		_, err := s.MarkNoShow(ctx, appt.ID, appt.Version)
		switch {
		case err == nil:
			marked++
		case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrInvalidState):
			s.log.Debug("skip no-show, appointment changed", zap.Stringer("appointment_id", appt.ID))
		default:
			s.log.Warn("failed to mark no-show", zap.Stringer("appointment_id", appt.ID), zap.Error(err))
		}
	}
	return marked, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	appointments, err := s.store.ListAppointments(ctx, f.Normalized())
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func (s *Service) capacityGuard(doctor *Doctor, iv Interval, exclude uuid.UUID) CapacityGuard {
	return CapacityGuard{
		DoctorID: doctor.ID,
		Day:      s.resolver.Day(iv.Start),
		Max:      doctor.MaxDailyAppointments,
		Exclude:  exclude,
	}
}

func (s *Service) withBookingLock(ctx context.Context, doctorID uuid.UUID, start time.Time, fn func(context.Context) error) error {
	err := s.locker.WithLock(ctx, redisclient.BookingKey(doctorID, start), fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrConflict
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// The store constraint still rejects overlaps; go ahead unlocked.
		logger.FromContext(ctx, s.log).Warn("booking lock unavailable, writing without it", zap.Error(err))
		return fn(ctx)
	}
	return err
}

// failed logs a rejected mutation and wraps unexpected errors with op.
func (s *Service) failed(ctx context.Context, op string, err error) error {
	log := logger.FromContext(ctx, s.log)
	if IsRetryable(err) || IsValidation(err) || errors.Is(err, ErrAppointmentNotFound) {
		log.Info(op+" rejected", zap.Error(err))
		return err
	}
	log.Error(op+" failed", zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) logEvent(ctx context.Context, appt *Appointment, eventType string, details map[string]any) {
	log := logger.FromContext(ctx, s.log).With(
		zap.String("event", eventType),
		zap.Stringer("appointment_id", appt.ID),
		zap.Stringer("doctor_id", appt.DoctorID),
		zap.Int("version", appt.Version),
	)
	log.Info("appointment changed")

	ev := Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Status:        appt.Status,
		Version:       appt.Version,
		SlotStart:     appt.SlotStart,
		SlotEnd:       appt.SlotEnd,
		CorrelationID: logger.CorrelationID(ctx),
		OccurredAt:    s.now(),
		Details:       details,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn("failed to marshal event payload", zap.Error(err))
		data = nil
	}

	apptID := appt.ID
	if err := s.store.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     ev.OccurredAt,
	}); err != nil {
		log.Warn("failed to insert event log", zap.Error(err))
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Warn("failed to publish event", zap.Error(err))
		}
	}
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes the store translates.
const (
	pgExclusionViolation   = "23P01"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const appointmentColumns = `id, patient_id, doctor_id, department, slot_start, slot_end, status,
	reschedule_count, notes, version, created_at, updated_at`

// PgStore keeps appointments in Postgres and reads doctor schedules from the
// same database. Overlaps are rejected by the appointments_no_overlap
// exclusion constraint.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

var (
	_ Store     = (*PgStore)(nil)
	_ Directory = (*PgStore)(nil)
)

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var department, specialization *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&department,
		&specialization,
		&d.Active,
		&d.MaxDailyAppointments,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if department != nil {
		d.Department = *department
	}
	if specialization != nil {
		d.Specialization = *specialization
	}
	return &d, nil
}

func scanTemplate(row pgx.Row) (*ScheduleTemplate, error) {
	var t ScheduleTemplate
	var day int16
	var start, end pgtype.Time
	var slotMinutes int32

	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&day,
		&start,
		&end,
		&slotMinutes,
		&t.Active,
	)
	if err != nil {
		return nil, err
	}

	t.DayOfWeek = time.Weekday(day)
	t.Start = timeOfDay(start)
	t.End = timeOfDay(end)
	t.SlotDuration = time.Duration(slotMinutes) * time.Minute
	return &t, nil
}

func scanOverride(row pgx.Row) (*AvailabilityOverride, error) {
	var o AvailabilityOverride
	var start, end pgtype.Time
	var reason *string

	err := row.Scan(
		&o.ID,
		&o.DoctorID,
		&o.Date,
		&start,
		&end,
		&o.Available,
		&reason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if start.Valid && end.Valid {
		s, e := timeOfDay(start), timeOfDay(end)
		o.Start, o.End = &s, &e
	}
	if reason != nil {
		o.Reason = *reason
	}
	return &o, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var department, notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&department,
		&a.SlotStart,
		&a.SlotEnd,
		&a.Status,
		&a.RescheduleCount,
		&notes,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if department != nil {
		a.Department = *department
	}
	if notes != nil {
		a.Notes = *notes
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func timeOfDay(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

// translateErr maps driver failures onto the package errors. Anything it
// does not recognise is reported as ErrStorageUnavailable.
func translateErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrDoctorNotFound) ||
		IsRetryable(err) || IsValidation(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation, pgSerializationFailure, pgDeadlockDetected:
			return ErrConflict
		case pgCheckViolation:
			return ErrInvalidInterval
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Directory

func (r *PgStore) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, department, specialization, is_active, max_daily_appointments
		FROM doctors
		WHERE id = $1
	`, id)
	d, err := scanDoctor(row)
	return d, translateErr("get doctor", err)
}

func (r *PgStore) ListTemplates(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]ScheduleTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, slot_duration, is_active
		FROM doctor_schedules
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND is_active
		ORDER BY start_time
	`, doctorID, int16(weekday))
	if err != nil {
		return nil, translateErr("list schedule templates", err)
	}
	defer rows.Close()

	var result []ScheduleTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, translateErr("scan schedule template", err)
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("list schedule templates", err)
	}
	return result, nil
}

func (r *PgStore) GetOverride(ctx context.Context, doctorID uuid.UUID, date time.Time) (*AvailabilityOverride, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, date, start_time, end_time, is_available, reason
		FROM doctor_availability_overrides
		WHERE doctor_id = $1
		  AND date = $2::date
	`, doctorID, date.Format(time.DateOnly))
	o, err := scanOverride(row)
	return o, translateErr("get availability override", err)
}

// Store

func (r *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	return a, translateErr("get appointment", err)
}

func (r *PgStore) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != uuid.Nil {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("slot_start >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("slot_start < $%d", f.To)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY slot_start, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translateErr("list appointments", err)
	}
	result, err := collectAppointments(rows)
	return result, translateErr("list appointments", err)
}

func (r *PgStore) ListScheduled(ctx context.Context, doctorID uuid.UUID, window Interval) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'SCHEDULED'
		  AND slot_start < $3
		  AND slot_end > $2
		ORDER BY slot_start
	`, doctorID, window.Start, window.End)
	if err != nil {
		return nil, translateErr("list scheduled appointments", err)
	}
	result, err := collectAppointments(rows)
	return result, translateErr("list scheduled appointments", err)
}

func (r *PgStore) CountScheduled(ctx context.Context, doctorID uuid.UUID, day Interval, exclude uuid.UUID) (int, error) {
	n, err := countScheduled(ctx, r.pool, doctorID, day, exclude)
	return n, translateErr("count scheduled appointments", err)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countScheduled(ctx context.Context, q querier, doctorID uuid.UUID, day Interval, exclude uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'SCHEDULED'
		  AND slot_start >= $2
		  AND slot_start < $3
		  AND id <> $4
	`, doctorID, day.Start, day.End, exclude).Scan(&n)
	return n, err
}

// checkCapacity serialises writers for one doctor and day with a transaction
// advisory lock, then counts what is already scheduled.
func checkCapacity(ctx context.Context, tx pgx.Tx, g CapacityGuard) error {
	if g.Max <= 0 {
		return nil
	}

	key := fmt.Sprintf("capacity:%s:%s", g.DoctorID, g.Day.Start.Format(time.DateOnly))
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return err
	}

	n, err := countScheduled(ctx, tx, g.DoctorID, g.Day, g.Exclude)
	if err != nil {
		return err
	}
	if n >= g.Max {
		return fmt.Errorf("%w: limit is %d", ErrDailyCapacityExceeded, g.Max)
	}
	return nil
}

func (r *PgStore) Insert(ctx context.Context, a Appointment, guard CapacityGuard) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, translateErr("begin insert", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkCapacity(ctx, tx, guard); err != nil {
		return nil, translateErr("check capacity", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, department, slot_start, slot_end,
			status, reschedule_count, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, 0, NULLIF($8, ''), 1, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.Department, a.SlotStart, a.SlotEnd, a.Status, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, translateErr("insert appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateErr("commit insert", err)
	}
	return created, nil
}

func (r *PgStore) Update(ctx context.Context, u Update) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, translateErr("begin update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if u.Status == StatusScheduled {
		if err := checkCapacity(ctx, tx, u.Capacity); err != nil {
			return nil, translateErr("check capacity", err)
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    slot_start = $4,
		    slot_end = $5,
		    reschedule_count = $6,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		u.ID, u.ExpectedVersion, u.Status, u.SlotStart, u.SlotEnd, u.RescheduleCount)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, missedUpdate(ctx, tx, u.ID)
	}
	if err != nil {
		return nil, translateErr("update appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translateErr("commit update", err)
	}
	return updated, nil
}

// missedUpdate explains a version-checked UPDATE that matched no row: the
// row exists with another version, or it does not exist at all.
func missedUpdate(ctx context.Context, q querier, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return translateErr("update appointment", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrAppointmentNotFound
}

func (r *PgStore) ListOverdue(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND slot_end < $1
		ORDER BY slot_end
		LIMIT $2
	`, endedBefore, limit)
	if err != nil {
		return nil, translateErr("list overdue appointments", err)
	}
	result, err := collectAppointments(rows)
	return result, translateErr("list overdue appointments", err)
}

func (r *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestTranslateErr(t *testing.T) {
	dial := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"exclusion violation", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"}, ErrConflict},
		{"wrapped exclusion violation", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "23P01"}), ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrConflict},
		{"check violation", &pgconn.PgError{Code: "23514", ConstraintName: "appointments_valid_interval"}, ErrInvalidInterval},
		{"not found passes through", ErrAppointmentNotFound, ErrAppointmentNotFound},
		{"doctor not found passes through", ErrDoctorNotFound, ErrDoctorNotFound},
		{"capacity passes through", fmt.Errorf("%w: limit is 1", ErrDailyCapacityExceeded), ErrDailyCapacityExceeded},
		{"version conflict passes through", ErrVersionConflict, ErrVersionConflict},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrStorageUnavailable},
		{"connection error", dial, ErrStorageUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, translateErr("insert appointment", tc.err), tc.want)
		})
	}

	assert.NoError(t, translateErr("noop", nil))
}

func TestTranslateErr_KeepsCauseAndDeadline(t *testing.T) {
	dial := errors.New("connection refused")
	err := translateErr("insert appointment", dial)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, dial)
	assert.Contains(t, err.Error(), "insert appointment")
	assert.False(t, IsRetryable(err))

	err = translateErr("commit insert", fmt.Errorf("commit: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

type fakeRow struct {
	exists bool
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.exists
	return nil
}

type fakeQuerier struct {
	row  fakeRow
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func TestMissedUpdate(t *testing.T) {
	id := uuid.New()

	q := &fakeQuerier{row: fakeRow{exists: true}}
	assert.ErrorIs(t, missedUpdate(context.Background(), q, id), ErrVersionConflict)
	assert.Equal(t, []any{id}, q.args)

	q = &fakeQuerier{row: fakeRow{exists: false}}
	assert.ErrorIs(t, missedUpdate(context.Background(), q, id), ErrAppointmentNotFound)

	q = &fakeQuerier{row: fakeRow{err: errors.New("conn closed")}}
	err := missedUpdate(context.Background(), q, id)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrVersionConflict)
}

package appointment

import "errors"

// Validation errors. They are returned before anything is written and are
// never worth retrying with the same input.
var (
	ErrInvalidInterval       = errors.New("slot start must be before slot end")
	ErrLeadTimeViolation     = errors.New("slot starts sooner than the minimum lead time")
	ErrSlotUnavailable       = errors.New("requested interval is not within an available slot")
	ErrDailyCapacityExceeded = errors.New("doctor has reached the maximum appointments for the day")
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidState        = errors.New("appointment state does not allow this transition")
)

// Retryable errors. The caller must re-read before trying again.
var (
	ErrVersionConflict = errors.New("appointment was modified concurrently, re-read and retry")
	ErrConflict        = errors.New("interval overlaps another scheduled appointment for this doctor")
)

var ErrStorageUnavailable = errors.New("appointment storage unavailable")

// IsValidation reports whether err is one of the slot validation rejections.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrLeadTimeViolation) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrDailyCapacityExceeded)
}

// IsRetryable reports whether err is a lost race the caller may retry after a
// fresh read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrConflict)
}

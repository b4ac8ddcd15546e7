package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:         code,
		Details:       details,
		CorrelationID: logger.CorrelationID(r.Context()),
	})
}

// writeServiceError maps core errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidInterval):
		writeError(w, r, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, appointment.ErrLeadTimeViolation):
		writeError(w, r, http.StatusBadRequest, "lead_time_violation", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, r, http.StatusBadRequest, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrDailyCapacityExceeded):
		writeError(w, r, http.StatusBadRequest, "daily_capacity_exceeded", err.Error())
	case errors.Is(err, appointment.ErrInvalidState):
		writeError(w, r, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, r, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, r, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, "version_conflict", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, r, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "timeout", "outcome unknown, re-read before retrying")
	case errors.Is(err, appointment.ErrStorageUnavailable):
		logger.FromContext(r.Context(), log).Error("storage unavailable", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "storage_unavailable", "appointment storage unavailable, retry later")
	default:
		logger.FromContext(r.Context(), log).Error("unhandled error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

// formatValidationErrors renders validator failures as "field rule" pairs.
func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + " " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, ", ")
}

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID  string    `json:"patient_id" validate:"required,uuid"`
	DoctorID   string    `json:"doctor_id" validate:"required,uuid"`
	Department string    `json:"department" validate:"max=100"`
	SlotStart  time.Time `json:"slot_start" validate:"required"`
	SlotEnd    time.Time `json:"slot_end" validate:"required"`
	Notes      string    `json:"notes" validate:"max=2000"`
}

type RescheduleAppointmentRequest struct {
	ExpectedVersion int       `json:"expected_version" validate:"required,min=1"`
	SlotStart       time.Time `json:"slot_start" validate:"required"`
	SlotEnd         time.Time `json:"slot_end" validate:"required"`
}

type CancelAppointmentRequest struct {
	ExpectedVersion int    `json:"expected_version" validate:"required,min=1"`
	Reason          string `json:"reason" validate:"max=500"`
}

// TransitionRequest is the body of complete and no-show.
type TransitionRequest struct {
	ExpectedVersion int `json:"expected_version" validate:"required,min=1"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Department      string    `json:"department,omitempty"`
	SlotStart       time.Time `json:"slot_start"`
	SlotEnd         time.Time `json:"slot_end"`
	Status          string    `json:"status"`
	RescheduleCount int       `json:"reschedule_count"`
	Notes           string    `json:"notes,omitempty"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Department:      a.Department,
		SlotStart:       a.SlotStart,
		SlotEnd:         a.SlotEnd,
		Status:          string(a.Status),
		RescheduleCount: a.RescheduleCount,
		Notes:           a.Notes,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID              `json:"doctor_id"`
	Date     string                 `json:"date"`
	Slots    []appointment.Interval `json:"slots"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

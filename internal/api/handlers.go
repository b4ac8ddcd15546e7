package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

const maxBodyBytes = 64 << 10

// Scheduler is what the HTTP layer needs from the booking coordinator.
type Scheduler interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, expectedVersion int, reason string) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, expectedVersion int) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, expectedVersion int) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, error)
	Availability(ctx context.Context, doctorID uuid.UUID, date time.Time) (appointment.Availability, error)
}

type handlers struct {
	svc      Scheduler
	validate *validator.Validate
	log      *zap.Logger
	loc      *time.Location
}

// decode reads a JSON body into dst and runs its validate tags. It writes the
// 400 itself and returns false on failure.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_failed", formatValidationErrors(err))
		return false
	}
	return true
}

func (h *handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookRequest{
		PatientID:  uuid.MustParse(req.PatientID),
		DoctorID:   uuid.MustParse(req.DoctorID),
		Department: req.Department,
		Start:      req.SlotStart,
		End:        req.SlotEnd,
		Notes:      req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f appointment.ListFilter

	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		f.PatientID = id
	}
	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = id
	}
	if v := q.Get("status"); v != "" {
		f.Status = appointment.Status(v)
		if !f.Status.Valid() {
			writeError(w, r, http.StatusBadRequest, "invalid_status", "status must be one of SCHEDULED, COMPLETED, CANCELLED, NO_SHOW")
			return
		}
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_"+name, name+" must be an RFC 3339 timestamp")
				return
			}
			*dst = t
		}
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	f = f.Normalized()
	list, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := AppointmentListResponse{
		Items:  make([]AppointmentResponse, 0, len(list)),
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	for i := range list {
		resp.Items = append(resp.Items, toAppointmentResponse(&list[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req RescheduleAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), appointment.RescheduleRequest{
		ID:              id,
		ExpectedVersion: req.ExpectedVersion,
		Start:           req.SlotStart,
		End:             req.SlotEnd,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), id, req.ExpectedVersion, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type transitionFunc func(ctx context.Context, id uuid.UUID, expectedVersion int) (*appointment.Appointment, error)

// transition serves complete and no-show, which share a body.
func (h *handlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		var req TransitionRequest
		if !h.decode(w, r, &req) {
			return
		}

		appt, err := fn(r.Context(), id, req.ExpectedVersion)
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func (h *handlers) doctorAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	date, err := time.ParseInLocation(time.DateOnly, r.URL.Query().Get("date"), h.loc)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	avail, err := h.svc.Availability(r.Context(), id, date)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		DoctorID: id,
		Date:     date.Format(time.DateOnly),
		Slots:    avail.Slots(),
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type requestError struct {
	code    string
	details string
}

func parseOptionalUUID(raw, code, field string) (uuid.UUID, *requestError) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &requestError{code: code, details: field + " must be a valid UUID"}
	}
	return id, nil
}

func (b BookingRequest) toDomain() (appointment.BookingRequest, *requestError) {
	var req appointment.BookingRequest
	var rerr *requestError

	if req.PetID, rerr = parseOptionalUUID(b.PetID, "invalid_pet_id", "pet_id"); rerr != nil {
		return req, rerr
	}
	if req.VeterinarianID, rerr = parseOptionalUUID(b.VeterinarianID, "invalid_veterinarian_id", "veterinarian_id"); rerr != nil {
		return req, rerr
	}
	if req.ServiceID, rerr = parseOptionalUUID(b.ServiceID, "invalid_service_id", "service_id"); rerr != nil {
		return req, rerr
	}
	if b.Date != "" {
		d, err := time.Parse(time.DateOnly, b.Date)
		if err != nil {
			return req, &requestError{code: "invalid_date", details: "date must be YYYY-MM-DD"}
		}
		req.Date = d
	}
	if b.StartTime != "" {
		t, err := appointment.ParseTimeOfDay(b.StartTime)
		if err != nil {
			return req, &requestError{code: "invalid_start_time", details: "start_time must be HH:MM"}
		}
		req.StartTime = &t
	}

	req.DurationMinutes = b.DurationMinutes
	req.Reason = b.Reason
	req.IsEmergency = b.IsEmergency
	req.IsHouseCall = b.IsHouseCall
	req.HouseCallAddress = b.HouseCallAddress
	return req, nil
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		req, rerr := body.toDomain()
		if rerr != nil {
			writeError(w, http.StatusBadRequest, rerr.code, rerr.details)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), req)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vetID, err := uuid.Parse(r.URL.Query().Get("veterinarian_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_veterinarian_id", "veterinarian_id must be a valid UUID")
			return
		}
		date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), vetID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, len(appts))
		for i := range appts {
			resp[i] = toAppointmentResponse(&appts[i])
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type transitionFunc func(svc AppointmentService, r *http.Request, id uuid.UUID) (appointment.Transition, error)

func transitionHandler(svc AppointmentService, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		tr, err := fn(svc, r, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTransitionResponse(tr))
	}
}

func confirm(svc AppointmentService, r *http.Request, id uuid.UUID) (appointment.Transition, error) {
	return svc.Confirm(r.Context(), id)
}

func startAttention(svc AppointmentService, r *http.Request, id uuid.UUID) (appointment.Transition, error) {
	return svc.StartAttention(r.Context(), id)
}

func markAttended(svc AppointmentService, r *http.Request, id uuid.UUID) (appointment.Transition, error) {
	return svc.MarkAttended(r.Context(), id)
}

func markNoShow(svc AppointmentService, r *http.Request, id uuid.UUID) (appointment.Transition, error) {
	return svc.MarkNoShow(r.Context(), id)
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		// The body is optional.
		var body CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tr, err := svc.Cancel(r.Context(), id, body.Reason, body.Actor)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTransitionResponse(tr))
	}
}

func rescheduleAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var body RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		req, rerr := body.BookingRequest.toDomain()
		if rerr != nil {
			writeError(w, http.StatusBadRequest, rerr.code, rerr.details)
			return
		}

		res, err := svc.Reschedule(r.Context(), id, req, body.Actor)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, RescheduleResponse{
			Cancelled: toTransitionResponse(res.Cancelled),
			Created:   toAppointmentResponse(res.Created),
		})
	}
}

func availableSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vetID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_veterinarian_id", "id must be a valid UUID")
			return
		}
		date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		duration, err := strconv.Atoi(r.URL.Query().Get("duration_minutes"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration_minutes must be an integer")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), vetID, date, duration)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]SlotResponse, len(slots))
		for i, s := range slots {
			resp[i] = SlotResponse{StartTime: s.Start.String(), EndTime: s.End.String(), Remaining: s.Remaining}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *appointment.ValidationError
		cerr  *appointment.ConflictError
		sterr *appointment.StateTransitionError
		nferr *appointment.NotFoundError
	)

	switch {
	case errors.As(err, &cerr):
		resp := ErrorResponse{Error: "scheduling_conflict", Details: cerr.Error(), Capacity: cerr.Capacity}
		if cerr.Contended {
			resp.Error = "schedule_being_booked"
		}
		if cerr.Cause != nil {
			resp.Field, resp.Reason = cerr.Cause.Field, cerr.Cause.Reason
		}
		for _, c := range cerr.Conflicts {
			resp.Conflicts = append(resp.Conflicts, ConflictResponse{
				AppointmentID: c.AppointmentID,
				StartTime:     c.Start.String(),
				EndTime:       c.End.String(),
			})
		}
		for _, s := range cerr.Suggestions {
			resp.Suggestions = append(resp.Suggestions, s.String())
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Details: verr.Error(),
			Field:   verr.Field,
			Reason:  verr.Reason,
			Data:    verr.Details,
		})
	case errors.As(err, &sterr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "invalid_status_transition",
			Details:   sterr.Error(),
			Current:   string(sterr.Current),
			Requested: string(sterr.Requested),
		})
	case errors.As(err, &nferr):
		writeError(w, http.StatusNotFound, nferr.Entity+"_not_found", nferr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request_timeout", "request took too long")
	default:
		loggerFrom(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type BookingRequest struct {
	PetID            string `json:"pet_id"`
	VeterinarianID   string `json:"veterinarian_id"`
	ServiceID        string `json:"service_id"`
	Date             string `json:"date"`
	StartTime        string `json:"start_time"`
	DurationMinutes  int    `json:"duration_minutes,omitempty"`
	Reason           string `json:"reason"`
	IsEmergency      bool   `json:"is_emergency"`
	IsHouseCall      bool   `json:"is_house_call"`
	HouseCallAddress string `json:"house_call_address,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type RescheduleRequest struct {
	BookingRequest
	Actor string `json:"actor"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PetID              uuid.UUID  `json:"pet_id"`
	VeterinarianID     uuid.UUID  `json:"veterinarian_id"`
	ServiceID          uuid.UUID  `json:"service_id"`
	Date               string     `json:"date"`
	StartTime          string     `json:"start_time"`
	EndTime            string     `json:"end_time"`
	DurationMinutes    int        `json:"duration_minutes"`
	Reason             string     `json:"reason"`
	Status             string     `json:"status"`
	IsEmergency        bool       `json:"is_emergency"`
	IsHouseCall        bool       `json:"is_house_call"`
	HouseCallAddress   *string    `json:"house_call_address,omitempty"`
	FinalPrice         string     `json:"final_price"`
	FinalPriceCents    int64      `json:"final_price_cents"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	AttentionStartedAt *time.Time `json:"attention_started_at,omitempty"`
	AttentionEndedAt   *time.Time `json:"attention_ended_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	RescheduledFrom    *uuid.UUID `json:"rescheduled_from,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type TransitionResponse struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	Operation   string              `json:"operation"`
	Appointment AppointmentResponse `json:"appointment"`
}

type RescheduleResponse struct {
	Cancelled TransitionResponse  `json:"cancelled"`
	Created   AppointmentResponse `json:"created"`
}

type SlotResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Remaining int    `json:"remaining"`
}

type ConflictResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
}

type ErrorResponse struct {
	Error       string             `json:"error"`
	Details     string             `json:"details,omitempty"`
	Field       string             `json:"field,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Data        map[string]any     `json:"data,omitempty"`
	Capacity    int                `json:"capacity,omitempty"`
	Conflicts   []ConflictResponse `json:"conflicts,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Current     string             `json:"current_status,omitempty"`
	Requested   string             `json:"requested_status,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PetID:              a.PetID,
		VeterinarianID:     a.VeterinarianID,
		ServiceID:          a.ServiceID,
		Date:               a.Date.Format(time.DateOnly),
		StartTime:          a.StartTime.String(),
		EndTime:            a.EndTime().String(),
		DurationMinutes:    a.DurationMinutes,
		Reason:             a.Reason,
		Status:             string(a.Status),
		IsEmergency:        a.IsEmergency,
		IsHouseCall:        a.IsHouseCall,
		HouseCallAddress:   a.HouseCallAddress,
		FinalPrice:         a.FinalPrice.String(),
		FinalPriceCents:    int64(a.FinalPrice),
		ConfirmedAt:        a.ConfirmedAt,
		AttentionStartedAt: a.AttentionStartedAt,
		AttentionEndedAt:   a.AttentionEndedAt,
		CancelledAt:        a.CancelledAt,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		RescheduledFrom:    a.RescheduledFrom,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toTransitionResponse(t appointment.Transition) TransitionResponse {
	return TransitionResponse{
		From:        string(t.From),
		To:          string(t.To),
		Operation:   t.Operation,
		Appointment: toAppointmentResponse(&t.Appointment),
	}
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, vetID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
	AvailableSlots(ctx context.Context, vetID uuid.UUID, date time.Time, duration int) ([]appointment.Slot, error)
	Confirm(ctx context.Context, id uuid.UUID) (appointment.Transition, error)
	StartAttention(ctx context.Context, id uuid.UUID) (appointment.Transition, error)
	MarkAttended(ctx context.Context, id uuid.UUID) (appointment.Transition, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (appointment.Transition, error)
	Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (appointment.Transition, error)
	Reschedule(ctx context.Context, id uuid.UUID, req appointment.BookingRequest, actor string) (*appointment.RescheduleResult, error)
}

type RouterConfig struct {
	Service AppointmentService
	Checks  []ReadyCheck
	Logger  zerolog.Logger
	Env     string
	Version string

	// RequestTimeout bounds every request's context. Zero disables it.
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/confirm", transitionHandler(cfg.Service, confirm))
		r.Post("/{id}/start", transitionHandler(cfg.Service, startAttention))
		r.Post("/{id}/attend", transitionHandler(cfg.Service, markAttended))
		r.Post("/{id}/no-show", transitionHandler(cfg.Service, markNoShow))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
	})

	r.Get("/veterinarians/{id}/slots", availableSlotsHandler(cfg.Service))

	return r
}

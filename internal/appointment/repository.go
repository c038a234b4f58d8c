package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReferenceStore is the read-only view of pets, veterinarians and services owned elsewhere.
// Missing rows are reported as *NotFoundError.
type ReferenceStore interface {
	GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error)
	GetVeterinarianByID(ctx context.Context, id uuid.UUID) (*Veterinarian, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error)
}

// WindowStore returns every window for the weekday, active or not.
type WindowStore interface {
	ListWindows(ctx context.Context, vetID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error)
}

type AppointmentReader interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListAppointmentsByVetDate returns all appointments on the day regardless of status, ordered by start.
	ListAppointmentsByVetDate(ctx context.Context, vetID uuid.UUID, date time.Time) ([]Appointment, error)
}

type AppointmentWriter interface {
	// InsertAppointment assigns an ID when appt.ID is nil.
	InsertAppointment(ctx context.Context, appt *Appointment) error
	// UpdateAppointment persists appt only if the stored status still equals from,
	// otherwise it returns ErrStaleAppointment.
	UpdateAppointment(ctx context.Context, appt *Appointment, from Status) error
	InsertEvent(ctx context.Context, ev EventLog) error
}

type AppointmentStore interface {
	AppointmentReader
	AppointmentWriter
}

// Store contains all persistence the booking service needs.
type Store interface {
	ReferenceStore
	WindowStore
	AppointmentStore

	// ListOpenAppointments returns SCHEDULED and CONFIRMED appointments dated on or before the given day.
	ListOpenAppointments(ctx context.Context, onOrBefore time.Time) ([]Appointment, error)

	// WithTx runs fn against a transactional view; nothing fn wrote is visible unless it returns nil.
	WithTx(ctx context.Context, fn func(tx AppointmentStore) error) error
}

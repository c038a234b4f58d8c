package appointment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrConflict                = errors.New("scheduling conflict")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNotFound                = errors.New("not found")
	ErrStore                   = errors.New("store failure")

	// ErrSlotBeingBooked is returned by Locker implementations that gave up waiting.
	ErrSlotBeingBooked = errors.New("veterinarian schedule is being modified, please retry")

	// ErrStaleAppointment is returned by stores when a conditional update matched no row.
	ErrStaleAppointment = errors.New("appointment changed concurrently")
)

const (
	ReasonRequired            = "required"
	ReasonInPast              = "in the past"
	ReasonNoAvailability      = "no availability that weekday"
	ReasonOutsideWorkingHours = "outside working hours"
	ReasonNotAligned          = "not aligned to slot grid"
	ReasonCrossesMidnight     = "crosses midnight"
	ReasonInactive            = "inactive"
	ReasonNotEligible         = "not eligible"
)

// ValidationError names the failing field. Details carries extra payload such as the
// day's window ranges or the slot grid.
type ValidationError struct {
	Field   string
	Reason  string
	Details map[string]any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type Conflict struct {
	AppointmentID uuid.UUID
	Start         TimeOfDay
	End           TimeOfDay
}

// ConflictError reports overlapping appointments that exhaust a window's capacity.
// Contended is set instead when the schedule lock could not be acquired in time.
// Cause, when set, is a validation failure found alongside the collision.
type ConflictError struct {
	Requested   [2]TimeOfDay
	Capacity    int
	Conflicts   []Conflict
	Suggestions []TimeOfDay
	Contended   bool
	Cause       *ValidationError
}

func (e *ConflictError) Error() string {
	if e.Contended {
		return ErrSlotBeingBooked.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "requested %s-%s overlaps with %d existing appointment(s), capacity %d",
		e.Requested[0], e.Requested[1], len(e.Conflicts), e.Capacity)
	if len(e.Suggestions) > 0 {
		starts := make([]string, len(e.Suggestions))
		for i, s := range e.Suggestions {
			starts[i] = s.String()
		}
		fmt.Fprintf(&b, "; available: %s", strings.Join(starts, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%s)", e.Cause.Error())
	}
	return b.String()
}

func (e *ConflictError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConflict, e.Cause}
	}
	return []error{ErrConflict}
}

type StateTransitionError struct {
	Current   Status
	Requested Status
	Operation string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move appointment from %s to %s", e.Operation, e.Current, e.Requested)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StoreError wraps a backing-store failure. Both ErrStore and the cause match errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// storeErr passes typed domain errors through and wraps everything else.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) || errors.Is(err, ErrStaleAppointment) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

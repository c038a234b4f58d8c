package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusAttended   Status = "ATTENDED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

const (
	MinDurationMinutes = 5
	MinReasonLength    = 10
	MaxReasonLength    = 1000

	MinSlotMinutes   = 15
	MaxSlotMinutes   = 240
	MinMaxConcurrent = 1
	MaxMaxConcurrent = 10

	minutesPerDay = 24 * 60
)

// TimeOfDay is a wall-clock time expressed as minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". Seconds must be zero.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec != 0 {
			return 0, fmt.Errorf("seconds not supported in %q", s)
		}
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals known to be valid.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Add(minutes int) TimeOfDay { return t + TimeOfDay(minutes) }

func (t TimeOfDay) Minutes() int { return int(t) }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// ClockMinute is the first whole minute at or after t's wall clock, so a start
// at that minute is never in the past relative to t.
func ClockMinute(t time.Time) TimeOfDay {
	m := TimeOfDay(t.Hour()*60 + t.Minute())
	if t.Second() > 0 || t.Nanosecond() > 0 {
		m++
	}
	return m
}

// Duration is the offset from midnight, useful for pgtype.Time and time.Time arithmetic.
func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) * time.Minute }

// Money is an amount in cents.
type Money int64

func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, int64(m)/100, int64(m)%100)
}

// DateOf strips the clock from t, keeping its calendar day in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At anchors a calendar date and a time of day in loc.
func At(date time.Time, t TimeOfDay, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(t.Duration())
}

type Pet struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Species   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Veterinarian is the only view of staff this package needs.
type Veterinarian struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClinicService is a bookable service and its pricing inputs.
type ClinicService struct {
	ID                      uuid.UUID
	Name                    string
	BasePrice               Money
	StandardDurationMinutes int
	AllowsHouseCall         bool
	AllowsEmergency         bool
	Active                  bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// AvailabilityWindow is a recurring weekly slot for one veterinarian.
type AvailabilityWindow struct {
	ID             uuid.UUID
	VeterinarianID uuid.UUID
	Weekday        time.Weekday
	Start          TimeOfDay
	End            TimeOfDay
	SlotMinutes    int
	MaxConcurrent  int
	Active         bool
}

func (w AvailabilityWindow) Contains(start, end TimeOfDay) bool {
	return start >= w.Start && end <= w.End
}

func (w AvailabilityWindow) Aligned(start TimeOfDay) bool {
	return w.SlotMinutes > 0 && int(start-w.Start)%w.SlotMinutes == 0
}

func (w AvailabilityWindow) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Validate checks the window invariants enforced on administrative writes.
func (w AvailabilityWindow) Validate() error {
	switch {
	case w.VeterinarianID == uuid.Nil:
		return &ValidationError{Field: "veterinarian_id", Reason: "required"}
	case w.Weekday < time.Sunday || w.Weekday > time.Saturday:
		return &ValidationError{Field: "weekday", Reason: "out of range"}
	case w.Start < 0 || w.End > minutesPerDay:
		return &ValidationError{Field: "window", Reason: "out of range"}
	case w.End <= w.Start:
		return &ValidationError{Field: "window_end", Reason: "must be after window_start"}
	case w.SlotMinutes < MinSlotMinutes || w.SlotMinutes > MaxSlotMinutes:
		return &ValidationError{Field: "slot_minutes", Reason: fmt.Sprintf("must be between %d and %d", MinSlotMinutes, MaxSlotMinutes)}
	case int(w.End-w.Start) < w.SlotMinutes:
		return &ValidationError{Field: "slot_minutes", Reason: "window must admit at least one slot"}
	case w.MaxConcurrent < MinMaxConcurrent || w.MaxConcurrent > MaxMaxConcurrent:
		return &ValidationError{Field: "max_concurrent", Reason: fmt.Sprintf("must be between %d and %d", MinMaxConcurrent, MaxMaxConcurrent)}
	}
	return nil
}

type Appointment struct {
	ID                 uuid.UUID
	PetID              uuid.UUID
	VeterinarianID     uuid.UUID
	ServiceID          uuid.UUID
	Date               time.Time
	StartTime          TimeOfDay
	DurationMinutes    int
	Reason             string
	Status             Status
	IsEmergency        bool
	IsHouseCall        bool
	HouseCallAddress   *string
	FinalPrice         Money
	ConfirmedAt        *time.Time
	AttentionStartedAt *time.Time
	AttentionEndedAt   *time.Time
	CancelledAt        *time.Time
	CancellationReason string
	CancelledBy        string
	RescheduledFrom    *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EndTime is always derived from the start and duration.
func (a Appointment) EndTime() TimeOfDay {
	return a.StartTime.Add(a.DurationMinutes)
}

// Active reports whether the appointment still occupies its slot.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled && a.Status != StatusNoShow
}

// BookingRequest is a proposed appointment. StartTime nil and a zero Date mean missing.
// DurationMinutes 0 falls back to the service's standard duration.
type BookingRequest struct {
	PetID            uuid.UUID
	VeterinarianID   uuid.UUID
	ServiceID        uuid.UUID
	Date             time.Time
	StartTime        *TimeOfDay
	DurationMinutes  int
	Reason           string
	IsEmergency      bool
	IsHouseCall      bool
	HouseCallAddress string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

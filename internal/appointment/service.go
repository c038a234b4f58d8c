package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentTransition  = "APPOINTMENT_TRANSITIONED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"

	RescheduleCancelReason = "rescheduled"
	SystemActor            = "system"
)

// Locker serializes work on a set of keys. Implementations acquire keys in a stable
// order and return ErrSlotBeingBooked when they give up waiting.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// ScheduleKey identifies the contended resource: one veterinarian's appointments on one day.
func ScheduleKey(vetID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("schedule:%s:%s", vetID, DateOf(date).Format(time.DateOnly))
}

// Service is the booking service. Create and Reschedule run validation and the
// write under the schedule lock; status transitions rely on conditional updates.
type Service struct {
	store    Store
	locker   Locker
	catalog  ScheduleCatalog
	detector ConflictDetector
	pipeline *Pipeline
	pricing  PricingPolicy
	clock    Clock
	logger   zerolog.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithPipeline(p *Pipeline) Option { return func(s *Service) { s.pipeline = p } }

// WithCatalog replaces the store-backed catalog, e.g. with a cached one.
func WithCatalog(c ScheduleCatalog) Option { return func(s *Service) { s.catalog = c } }

func WithPricing(p PricingPolicy) Option { return func(s *Service) { s.pricing = p } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store Store, locker Locker, opts ...Option) *Service {
	s := &Service{
		store:   store,
		locker:  locker,
		pricing: PricingPolicy{HouseCallSurcharge: DefaultHouseCallSurcharge},
		clock:   SystemClock{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = NewScheduleCatalog(store)
	}
	s.detector = NewConflictDetector(store)
	if s.pipeline == nil {
		s.pipeline = DefaultPipeline(store, s.catalog, s.detector, s.clock)
	}
	return s
}

// CreateAppointment validates req and persists it as SCHEDULED. Validation and
// insert happen under the (veterinarian, date) lock so concurrent bookings cannot
// exceed a window's capacity.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := requireScheduleKey(req); err != nil {
		return nil, err
	}

	var created *Appointment
	err := s.withScheduleLock(ctx, []string{ScheduleKey(req.VeterinarianID, req.Date)}, func(lockCtx context.Context) error {
		d := &Draft{Request: req}
		if err := s.pipeline.Run(lockCtx, d); err != nil {
			return err
		}

		appt := s.build(d)
		if err := s.store.InsertAppointment(lockCtx, appt); err != nil {
			return storeErr("insert appointment", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("veterinarian_id", created.VeterinarianID.String()).
		Str("date", created.Date.Format(time.DateOnly)).
		Str("start", created.StartTime.String()).
		Msg("appointment created")
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"veterinarian_id": created.VeterinarianID.String(),
		"date":            created.Date.Format(time.DateOnly),
		"start_time":      created.StartTime.String(),
		"end_time":        created.EndTime().String(),
		"final_price":     created.FinalPrice.String(),
	})
	return created, nil
}

func (s *Service) build(d *Draft) *Appointment {
	now := s.clock.Now()
	req := d.Request
	appt := &Appointment{
		PetID:           req.PetID,
		VeterinarianID:  req.VeterinarianID,
		ServiceID:       req.ServiceID,
		Date:            DateOf(req.Date),
		StartTime:       d.Start,
		DurationMinutes: d.DurationMinutes,
		Reason:          strings.TrimSpace(req.Reason),
		Status:          StatusScheduled,
		IsEmergency:     req.IsEmergency,
		IsHouseCall:     req.IsHouseCall,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IsHouseCall {
		addr := strings.TrimSpace(req.HouseCallAddress)
		appt.HouseCallAddress = &addr
	}
	if d.Service != nil {
		appt.FinalPrice = s.pricing.Price(*d.Service, req.IsEmergency, req.IsHouseCall)
	}
	return appt
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storeErr("get appointment", err)
	}
	return appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, vetID uuid.UUID, date time.Time) ([]Appointment, error) {
	appts, err := s.store.ListAppointmentsByVetDate(ctx, vetID, DateOf(date))
	if err != nil {
		return nil, storeErr("list appointments", err)
	}
	return appts, nil
}

// AvailableSlots lists bookable starts for a duration across the day's windows.
func (s *Service) AvailableSlots(ctx context.Context, vetID uuid.UUID, date time.Time, duration int) ([]Slot, error) {
	if duration < MinDurationMinutes {
		return nil, &ValidationError{Field: "duration_minutes", Reason: fmt.Sprintf("must be at least %d", MinDurationMinutes)}
	}

	now := s.clock.Now()
	day := DateOf(date)
	today := DateOf(now)
	if day.Before(today) {
		return nil, nil
	}
	notBefore := TimeOfDay(0)
	if day.Equal(today) {
		notBefore = ClockMinute(now)
	}

	windows, err := s.catalog.WindowsFor(ctx, vetID, day.Weekday())
	if err != nil {
		return nil, storeErr("load availability windows", err)
	}
	busy, err := s.detector.Overlapping(ctx, vetID, day, 0, minutesPerDay, uuid.Nil)
	if err != nil {
		return nil, err
	}

	var slots []Slot
	for _, w := range windows {
		slots = append(slots, FreeSlots(w, duration, busy, notBefore)...)
	}
	sortSlots(slots)
	return slots, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (Transition, error) {
	return s.transition(ctx, id, StatusConfirmed, func(a *Appointment, now time.Time) (Transition, error) {
		return a.Confirm(now)
	})
}

func (s *Service) StartAttention(ctx context.Context, id uuid.UUID) (Transition, error) {
	return s.transition(ctx, id, StatusInProgress, func(a *Appointment, now time.Time) (Transition, error) {
		return a.StartAttention(now)
	})
}

func (s *Service) MarkAttended(ctx context.Context, id uuid.UUID) (Transition, error) {
	return s.transition(ctx, id, StatusAttended, func(a *Appointment, now time.Time) (Transition, error) {
		return a.MarkAttended(now)
	})
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (Transition, error) {
	return s.transition(ctx, id, StatusNoShow, func(a *Appointment, now time.Time) (Transition, error) {
		return a.MarkNoShow(now)
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (Transition, error) {
	return s.transition(ctx, id, StatusCancelled, func(a *Appointment, now time.Time) (Transition, error) {
		return a.Cancel(now, strings.TrimSpace(reason), strings.TrimSpace(actor))
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, apply func(*Appointment, time.Time) (Transition, error)) (Transition, error) {
	current, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return Transition{}, storeErr("load appointment", err)
	}

	next := *current
	tr, err := apply(&next, s.clock.Now())
	if err != nil {
		return Transition{}, fmt.Errorf("appointment %s: %w", id, err)
	}

	if err := s.store.UpdateAppointment(ctx, &next, current.Status); err != nil {
		if errors.Is(err, ErrStaleAppointment) {
			return Transition{}, s.staleTransition(ctx, id, to, tr.Operation)
		}
		return Transition{}, storeErr("update appointment", err)
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Msg("appointment transitioned")
	s.logEvent(ctx, id, EventAppointmentTransition, map[string]any{
		"operation": tr.Operation,
		"from":      tr.From,
		"to":        tr.To,
	})
	return tr, nil
}

// staleTransition reports a lost race with the state that actually won.
func (s *Service) staleTransition(ctx context.Context, id uuid.UUID, to Status, op string) error {
	fresh, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return storeErr("reload appointment", err)
	}
	return fmt.Errorf("appointment %s: %w", id, &StateTransitionError{Current: fresh.Status, Requested: to, Operation: op})
}

type RescheduleResult struct {
	Cancelled Transition
	Created   *Appointment
}

// Reschedule cancels the appointment and books req in its place. The new booking
// passes the full pipeline with the old appointment excluded from conflicts; both
// writes commit together or not at all.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req BookingRequest, actor string) (*RescheduleResult, error) {
	if err := requireScheduleKey(req); err != nil {
		return nil, err
	}
	old, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storeErr("load appointment", err)
	}

	keys := []string{ScheduleKey(old.VeterinarianID, old.Date), ScheduleKey(req.VeterinarianID, req.Date)}

	var result RescheduleResult
	err = s.withScheduleLock(ctx, keys, func(lockCtx context.Context) error {
		current, err := s.store.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return storeErr("reload appointment", err)
		}

		cancelled := *current
		tr, err := cancelled.Cancel(s.clock.Now(), RescheduleCancelReason, strings.TrimSpace(actor))
		if err != nil {
			return fmt.Errorf("appointment %s: %w", id, err)
		}

		d := &Draft{Request: req, ExcludeID: current.ID}
		if err := s.pipeline.Run(lockCtx, d); err != nil {
			return err
		}
		replacement := s.build(d)
		replacement.RescheduledFrom = &current.ID

		err = s.store.WithTx(lockCtx, func(tx AppointmentStore) error {
			if err := tx.UpdateAppointment(lockCtx, &cancelled, current.Status); err != nil {
				return err
			}
			return tx.InsertAppointment(lockCtx, replacement)
		})
		if err != nil {
			if errors.Is(err, ErrStaleAppointment) {
				return s.staleTransition(lockCtx, id, StatusCancelled, OpCancel)
			}
			return storeErr("reschedule appointment", err)
		}

		tr.Appointment = cancelled
		result = RescheduleResult{Cancelled: tr, Created: replacement}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("replacement_id", result.Created.ID.String()).
		Msg("appointment rescheduled")
	s.logEvent(ctx, id, EventAppointmentRescheduled, map[string]any{
		"replacement_id": result.Created.ID.String(),
		"date":           result.Created.Date.Format(time.DateOnly),
		"start_time":     result.Created.StartTime.String(),
	})
	return &result, nil
}

// SweepNoShows marks SCHEDULED and CONFIRMED appointments whose end plus grace has
// passed as NO_SHOW. Individual failures are logged and skipped.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	now := s.clock.Now()
	candidates, err := s.store.ListOpenAppointments(ctx, DateOf(now))
	if err != nil {
		return 0, storeErr("find open appointments", err)
	}

	marked := 0
	for _, appt := range candidates {
		end := At(appt.Date, appt.EndTime(), now.Location()).Add(grace)
		if !now.After(end) {
			continue
		}
		if _, err := s.MarkNoShow(ctx, appt.ID); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			continue
		}
		marked++
	}
	return marked, nil
}

func (s *Service) withScheduleLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, keys, fn)
	if errors.Is(err, ErrSlotBeingBooked) {
		return &ConflictError{Contended: true}
	}
	return err
}

func requireScheduleKey(req BookingRequest) error {
	if req.VeterinarianID == uuid.Nil {
		return &ValidationError{Field: "veterinarian_id", Reason: ReasonRequired}
	}
	if req.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: ReasonRequired}
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Draft is an appointment-in-progress flowing through the pipeline. Validators
// fill in what later stages and the booking service read.
type Draft struct {
	Request   BookingRequest
	ExcludeID uuid.UUID

	Pet          *Pet
	Veterinarian *Veterinarian
	Service      *ClinicService

	Start           TimeOfDay
	End             TimeOfDay
	DurationMinutes int
	Window          *AvailabilityWindow
}

type Validator interface {
	Name() string
	Validate(ctx context.Context, d *Draft) error
}

// Pipeline runs its validators in order and stops at the first error.
type Pipeline struct {
	validators []Validator
}

func NewPipeline(validators ...Validator) *Pipeline {
	return &Pipeline{validators: append([]Validator(nil), validators...)}
}

func (p *Pipeline) Validators() []Validator {
	return append([]Validator(nil), p.validators...)
}

func (p *Pipeline) Run(ctx context.Context, d *Draft) error {
	for _, v := range p.validators {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.Validate(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// DefaultPipeline is data -> availability -> permission -> resource.
func DefaultPipeline(refs ReferenceStore, catalog ScheduleCatalog, detector ConflictDetector, clock Clock) *Pipeline {
	return NewPipeline(
		&DataValidator{refs: refs},
		&AvailabilityValidator{catalog: catalog, detector: detector, clock: clock},
		PermissionValidator{},
		ResourceValidator{},
	)
}

type DataValidator struct {
	refs ReferenceStore
}

func NewDataValidator(refs ReferenceStore) *DataValidator {
	return &DataValidator{refs: refs}
}

func (v *DataValidator) Name() string { return "data" }

func (v *DataValidator) Validate(ctx context.Context, d *Draft) error {
	req := d.Request
	switch {
	case req.PetID == uuid.Nil:
		return &ValidationError{Field: "pet_id", Reason: ReasonRequired}
	case req.VeterinarianID == uuid.Nil:
		return &ValidationError{Field: "veterinarian_id", Reason: ReasonRequired}
	case req.ServiceID == uuid.Nil:
		return &ValidationError{Field: "service_id", Reason: ReasonRequired}
	case req.Date.IsZero():
		return &ValidationError{Field: "date", Reason: ReasonRequired}
	case req.StartTime == nil:
		return &ValidationError{Field: "start_time", Reason: ReasonRequired}
	case *req.StartTime < 0 || *req.StartTime >= minutesPerDay:
		return &ValidationError{Field: "start_time", Reason: "out of range"}
	case req.DurationMinutes < 0:
		return &ValidationError{Field: "duration_minutes", Reason: "must not be negative"}
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return &ValidationError{Field: "reason", Reason: ReasonRequired}
	}
	if n := utf8.RuneCountInString(reason); n < MinReasonLength || n > MaxReasonLength {
		return &ValidationError{
			Field:   "reason",
			Reason:  fmt.Sprintf("must be between %d and %d characters", MinReasonLength, MaxReasonLength),
			Details: map[string]any{"length": n},
		}
	}
	if req.IsHouseCall && strings.TrimSpace(req.HouseCallAddress) == "" {
		return &ValidationError{Field: "house_call_address", Reason: ReasonRequired}
	}

	pet, err := v.refs.GetPetByID(ctx, req.PetID)
	if err != nil {
		return storeErr("load pet", err)
	}
	vet, err := v.refs.GetVeterinarianByID(ctx, req.VeterinarianID)
	if err != nil {
		return storeErr("load veterinarian", err)
	}
	svc, err := v.refs.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return storeErr("load service", err)
	}
	d.Pet, d.Veterinarian, d.Service = pet, vet, svc

	d.DurationMinutes = req.DurationMinutes
	if d.DurationMinutes == 0 {
		d.DurationMinutes = svc.StandardDurationMinutes
	}
	if d.DurationMinutes < MinDurationMinutes {
		return &ValidationError{
			Field:  "duration_minutes",
			Reason: fmt.Sprintf("must be at least %d", MinDurationMinutes),
		}
	}

	d.Start = *req.StartTime
	d.End = d.Start.Add(d.DurationMinutes)
	if d.End > minutesPerDay {
		return &ValidationError{
			Field:   "duration_minutes",
			Reason:  ReasonCrossesMidnight,
			Details: map[string]any{"start_time": d.Start.String(), "duration_minutes": d.DurationMinutes},
		}
	}
	return nil
}

type AvailabilityValidator struct {
	catalog  ScheduleCatalog
	detector ConflictDetector
	clock    Clock
}

func NewAvailabilityValidator(catalog ScheduleCatalog, detector ConflictDetector, clock Clock) *AvailabilityValidator {
	return &AvailabilityValidator{catalog: catalog, detector: detector, clock: clock}
}

func (v *AvailabilityValidator) Name() string { return "availability" }

func (v *AvailabilityValidator) Validate(ctx context.Context, d *Draft) error {
	req := d.Request
	now := v.clock.Now()

	// Emergencies may be recorded after the fact.
	if !req.IsEmergency && At(req.Date, d.Start, now.Location()).Before(now) {
		return &ValidationError{
			Field:   "start_time",
			Reason:  ReasonInPast,
			Details: map[string]any{"now": now},
		}
	}

	weekday := req.Date.Weekday()
	windows, err := v.catalog.WindowsFor(ctx, req.VeterinarianID, weekday)
	if err != nil {
		return storeErr("load availability windows", err)
	}
	if len(windows) == 0 {
		return &ValidationError{
			Field:   "date",
			Reason:  ReasonNoAvailability,
			Details: map[string]any{"weekday": weekday.String()},
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })

	var containing []AvailabilityWindow
	for _, w := range windows {
		if w.Contains(d.Start, d.End) {
			containing = append(containing, w)
		}
	}
	if len(containing) == 0 {
		ranges := make([]string, len(windows))
		for i, w := range windows {
			ranges[i] = w.String()
		}
		return &ValidationError{
			Field:   "start_time",
			Reason:  ReasonOutsideWorkingHours,
			Details: map[string]any{"windows": ranges, "requested": d.Start.String() + "-" + d.End.String()},
		}
	}

	var window *AvailabilityWindow
	for i := range containing {
		if containing[i].Aligned(d.Start) {
			window = &containing[i]
			break
		}
	}
	if window == nil {
		w := containing[0]
		misaligned := &ValidationError{
			Field:  "start_time",
			Reason: ReasonNotAligned,
			Details: map[string]any{
				"slot_minutes": w.SlotMinutes,
				"window_start": w.Start.String(),
			},
		}
		// A misaligned request that also collides reports the collision, with the
		// grid failure attached as its cause.
		cerr, err := v.capacity(ctx, d, w, now)
		if err != nil {
			return err
		}
		if cerr == nil {
			return misaligned
		}
		cerr.Cause = misaligned
		return cerr
	}
	d.Window = window

	cerr, err := v.capacity(ctx, d, *window, now)
	if err != nil {
		return err
	}
	if cerr != nil {
		return cerr
	}
	return nil
}

// capacity returns a ConflictError when the overlapping appointments already fill w.
func (v *AvailabilityValidator) capacity(ctx context.Context, d *Draft, w AvailabilityWindow, now time.Time) (*ConflictError, error) {
	req := d.Request
	overlapping, err := v.detector.Overlapping(ctx, req.VeterinarianID, req.Date, d.Start, d.End, d.ExcludeID)
	if err != nil {
		return nil, storeErr("check overlapping appointments", err)
	}
	if len(overlapping) < w.MaxConcurrent {
		return nil, nil
	}

	cerr := &ConflictError{
		Requested: [2]TimeOfDay{d.Start, d.End},
		Capacity:  w.MaxConcurrent,
		Conflicts: conflictsOf(overlapping),
	}
	// Suggestions are best effort; the conflict is reported either way.
	if busy, err := v.detector.Overlapping(ctx, req.VeterinarianID, req.Date, w.Start, w.End, d.ExcludeID); err == nil {
		notBefore := TimeOfDay(0)
		if DateOf(now).Equal(DateOf(req.Date)) {
			notBefore = ClockMinute(now)
		}
		for _, s := range FreeSlots(w, d.DurationMinutes, busy, notBefore) {
			cerr.Suggestions = append(cerr.Suggestions, s.Start)
		}
	}
	return cerr, nil
}

// PermissionValidator stands in for an access check owned elsewhere: the
// veterinarian and service must be enabled.
type PermissionValidator struct{}

func (PermissionValidator) Name() string { return "permission" }

func (PermissionValidator) Validate(_ context.Context, d *Draft) error {
	if d.Veterinarian != nil && !d.Veterinarian.Active {
		return &ValidationError{Field: "veterinarian_id", Reason: ReasonInactive}
	}
	if d.Service != nil && !d.Service.Active {
		return &ValidationError{Field: "service_id", Reason: ReasonInactive}
	}
	return nil
}

// ResourceValidator checks the service and pet can actually be booked.
type ResourceValidator struct{}

func (ResourceValidator) Name() string { return "resource" }

func (ResourceValidator) Validate(_ context.Context, d *Draft) error {
	if d.Service != nil {
		if !d.Service.Active {
			return &ValidationError{Field: "service_id", Reason: ReasonInactive}
		}
		if d.Request.IsEmergency && !d.Service.AllowsEmergency {
			return &ValidationError{Field: "is_emergency", Reason: ReasonNotEligible, Details: map[string]any{"service": d.Service.Name}}
		}
		if d.Request.IsHouseCall && !d.Service.AllowsHouseCall {
			return &ValidationError{Field: "is_house_call", Reason: ReasonNotEligible, Details: map[string]any{"service": d.Service.Name}}
		}
	}
	if d.Pet != nil && !d.Pet.Active {
		return &ValidationError{Field: "pet_id", Reason: ReasonInactive}
	}
	return nil
}

package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConflictDetector finds active appointments for a veterinarian and day whose
// interval intersects [start, end).
type ConflictDetector interface {
	Overlapping(ctx context.Context, vetID uuid.UUID, date time.Time, start, end TimeOfDay, exclude uuid.UUID) ([]Appointment, error)
}

// Overlaps uses half-open interval semantics, so adjacent intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	return aStart < bEnd && aEnd > bStart
}

type StoreConflictDetector struct {
	store AppointmentReader
}

func NewConflictDetector(store AppointmentReader) *StoreConflictDetector {
	return &StoreConflictDetector{store: store}
}

func (d *StoreConflictDetector) Overlapping(ctx context.Context, vetID uuid.UUID, date time.Time, start, end TimeOfDay, exclude uuid.UUID) ([]Appointment, error) {
	appts, err := d.store.ListAppointmentsByVetDate(ctx, vetID, DateOf(date))
	if err != nil {
		return nil, storeErr("list appointments for conflict check", err)
	}
	return filterOverlapping(appts, start, end, exclude), nil
}

func filterOverlapping(appts []Appointment, start, end TimeOfDay, exclude uuid.UUID) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if !a.Active() {
			continue
		}
		if exclude != uuid.Nil && a.ID == exclude {
			continue
		}
		if Overlaps(a.StartTime, a.EndTime(), start, end) {
			out = append(out, a)
		}
	}
	return out
}

func conflictsOf(appts []Appointment) []Conflict {
	out := make([]Conflict, len(appts))
	for i, a := range appts {
		out[i] = Conflict{AppointmentID: a.ID, Start: a.StartTime, End: a.EndTime()}
	}
	return out
}

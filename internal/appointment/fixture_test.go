package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	monday    = time.Date(2030, time.January, 7, 0, 0, 0, 0, time.UTC)
	tuesday   = monday.AddDate(0, 0, 1)
	wednesday = monday.AddDate(0, 0, 2)
	// sunday noon, before every test booking
	testNow = monday.Add(-12 * time.Hour)
)

type fixture struct {
	store   *MemoryStore
	pet     Pet
	vet     Veterinarian
	service ClinicService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := NewMemoryStore()
	f := &fixture{
		store: store,
		pet:   store.AddPet(Pet{OwnerID: uuid.New(), Name: "Rex", Species: "dog", Active: true}),
		vet:   store.AddVeterinarian(Veterinarian{Name: "Dr. Ortiz", Active: true}),
		service: store.AddService(ClinicService{
			Name:                    "General Consultation",
			BasePrice:               35000,
			StandardDurationMinutes: 30,
			AllowsHouseCall:         true,
			AllowsEmergency:         true,
			Active:                  true,
		}),
	}

	f.addWindow(t, time.Monday, "09:00", "12:00", 30, 1)
	f.addWindow(t, time.Tuesday, "14:00", "16:00", 20, 1)
	f.addWindow(t, time.Wednesday, "09:00", "11:00", 30, 2)
	return f
}

func (f *fixture) addWindow(t *testing.T, day time.Weekday, start, end string, slot, capacity int) AvailabilityWindow {
	t.Helper()
	w, err := f.store.AddWindow(AvailabilityWindow{
		VeterinarianID: f.vet.ID,
		Weekday:        day,
		Start:          MustTimeOfDay(start),
		End:            MustTimeOfDay(end),
		SlotMinutes:    slot,
		MaxConcurrent:  capacity,
		Active:         true,
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) request(date time.Time, start string) BookingRequest {
	st := MustTimeOfDay(start)
	return BookingRequest{
		PetID:          f.pet.ID,
		VeterinarianID: f.vet.ID,
		ServiceID:      f.service.ID,
		Date:           date,
		StartTime:      &st,
		Reason:         "Annual vaccination and checkup",
	}
}

func (f *fixture) newService(opts ...Option) *Service {
	opts = append([]Option{WithClock(FixedClock(testNow))}, opts...)
	return NewService(f.store, newTestLocker(), opts...)
}

func (f *fixture) mustCreate(t *testing.T, svc *Service, req BookingRequest) *Appointment {
	t.Helper()
	appt, err := svc.CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	return appt
}

// mutexLocker serializes every key behind one mutex.
type mutexLocker struct {
	mu    sync.Mutex
	calls [][]string
}

func newTestLocker() *mutexLocker { return &mutexLocker{} }

func (l *mutexLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, append([]string(nil), keys...))
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, []string, func(context.Context) error) error {
	return ErrSlotBeingBooked
}

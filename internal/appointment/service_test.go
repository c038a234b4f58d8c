package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppointmentMondayScenario(t *testing.T) {
	f := newFixture(t)
	svc := f.newService()
	ctx := context.Background()

	a, err := svc.CreateAppointment(ctx, f.request(monday, "09:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, MustTimeOfDay("09:30"), a.EndTime())
	assert.Equal(t, Money(35000), a.FinalPrice)
	assert.Equal(t, testNow, a.CreatedAt)

	reqB := f.request(monday, "09:15")
	_, err = svc.CreateAppointment(ctx, reqB)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	require.Len(t, cerr.Conflicts, 1)
	assert.Equal(t, a.ID, cerr.Conflicts[0].AppointmentID)
	assert.Equal(t, MustTimeOfDay("09:00"), cerr.Conflicts[0].Start)
	assert.Equal(t, MustTimeOfDay("09:30"), cerr.Conflicts[0].End)

	c, err := svc.CreateAppointment(ctx, f.request(monday, "09:30"))
	require.NoError(t, err, "adjacent booking does not overlap")
	assert.Equal(t, StatusScheduled, c.Status)

	listed, err := svc.ListAppointments(ctx, f.vet.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, c.ID}, ids(listed))

	events := f.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "09:00", payload["start_time"])
}

func TestCreateAppointmentPricing(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(WithPricing(PricingPolicy{HouseCallSurcharge: 7500}))
	ctx := context.Background()

	req := f.request(monday, "09:00")
	req.IsHouseCall = true
	req.HouseCallAddress = " 12 Elm Street "
	a, err := svc.CreateAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Money(42500), a.FinalPrice)
	require.NotNil(t, a.HouseCallAddress)
	assert.Equal(t, "12 Elm Street", *a.HouseCallAddress)

	req = f.request(monday, "10:00")
	req.IsEmergency = true
	a, err = svc.CreateAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Money(52500), a.FinalPrice)
	assert.True(t, a.IsEmergency)
}

func TestCreateAppointmentRejectsWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	svc := f.newService()
	ctx := context.Background()

	for _, start := range []string{"11:45", "08:30", "09:10"} {
		_, err := svc.CreateAppointment(ctx, f.request(monday, start))
		require.ErrorIs(t, err, ErrValidation, start)
	}

	listed, err := svc.ListAppointments(ctx, f.vet.ID, monday)
	require.NoError(t, err)
	assert.Empty(t, listed)
	assert.Empty(t, f.store.Events())
}

func TestCreateAppointmentConcurrentCapacityOne(t *testing.T) {
	f := newFixture(t)
	svc := f.newService()

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.CreateAppointment(context.Background(), f.request(monday, "10:00"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	listed, err := svc.ListAppointments(context.Background(), f.vet.ID, monday)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCreateAppointmentLockContention(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, busyLocker{}, WithClock(FixedClock(testNow)))

	_, err := svc.CreateAppointment(context.Background(), f.request(monday, "09:00"))
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Contended)
	assert.Equal(t, ErrSlotBeingBooked.Error(), cerr.Error())
}

func TestCreateAppointmentLocksScheduleKey(t *testing.T) {
	f := newFixture(t)
	locker := newTestLocker()
	svc := NewService(f.store, locker, WithClock(FixedClock(testNow)))

	f.mustCreate(t, svc, f.request(monday, "09:00"))
	require.Len(t, locker.calls, 1)
	assert.Equal(t, []string{"schedule:" + f.vet.ID.String() + ":2030-01-07"}, locker.calls[0])

	_, err := svc.CreateAppointment(context.Background(), BookingRequest{PetID: f.pet.ID})
	requireValidation(t, err, "veterinarian_id", ReasonRequired)
	assert.Len(t, locker.calls, 1, "requests without a schedule key never take the lock")
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := testNow
	svc := f.newService(WithClock(ClockFunc(func() time.Time { return clock })))

	a := f.mustCreate(t, svc, f.request(monday, "09:00"))

	clock = clock.Add(time.Hour)
	tr, err := svc.Confirm(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, tr.From)
	assert.Equal(t, StatusConfirmed, tr.To)
	assert.Equal(t, OpConfirm, tr.Operation)
	assert.Equal(t, clock, *tr.Appointment.ConfirmedAt)

	clock = clock.Add(time.Hour)
	_, err = svc.StartAttention(ctx, a.ID)
	require.NoError(t, err)

	clock = clock.Add(30 * time.Minute)
	tr, err = svc.MarkAttended(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, tr.From)

	stored, err := svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAttended, stored.Status)
	assert.Equal(t, clock, *stored.AttentionEndedAt)
	assert.Equal(t, testNow, stored.CreatedAt)

	_, err = svc.Cancel(ctx, a.ID, "too late", "owner")
	var sterr *StateTransitionError
	require.ErrorAs(t, err, &sterr)
	assert.Equal(t, StatusAttended, sterr.Current)
	assert.Equal(t, StatusCancelled, sterr.Requested)
	assert.Equal(t, OpCancel, sterr.Operation)
	assert.Contains(t, err.Error(), a.ID.String())

	var transitions int
	for _, ev := range f.store.Events() {
		if ev.EventType == EventAppointmentTransition {
			transitions++
		}
	}
	assert.Equal(t, 3, transitions)
}

func TestCancelTwice(t *testing.T) {
	f := newFixture(t)
	svc := f.newService()
	ctx := context.Background()

	a := f.mustCreate(t, svc, f.request(monday, "09:00"))

	tr, err := svc.Cancel(ctx, a.ID, " owner travelling ", "front-desk")
	require.NoError(t, err)
	assert.Equal(t, "owner travelling", tr.Appointment.CancellationReason)

	_, err = svc.Cancel(ctx, a.ID, "again", "someone-else")
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	stored, err := svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner travelling", stored.CancellationReason)
	assert.Equal(t, "front-desk", stored.CancelledBy)

	_, err = svc.CreateAppointment(ctx, f.request(monday, "09:00"))
	require.NoError(t, err, "a cancelled appointment frees its slot")
}

func TestTransitionUnknownAppointment(t *testing.T) {
	f := newFixture(t)
	svc := f.newService()

	_, err := svc.Confirm(context.Background(), uuid.New())
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "appointment", nf.Entity)

	_, err = svc.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// racingStore loses every conditional update to a concurrent cancel.
type racingStore struct {
	*MemoryStore
}

func (s racingStore) UpdateAppointment(ctx context.Context, appt *Appointment, from Status) error {
	winner := *appt
	winner.Status = StatusCancelled
	if err := s.MemoryStore.UpdateAppointment(ctx, &winner, from); err != nil {
		return err
	}
	return s.MemoryStore.UpdateAppointment(ctx, appt, from)
}

func TestTransitionLostRaceReportsWinningState(t *testing.T) {
	f := newFixture(t)
	seed := f.newService()
	a := f.mustCreate(t, seed, f.request(monday, "09:00"))

	svc := NewService(racingStore{f.store}, newTestLocker(), WithClock(FixedClock(testNow)))
	_, err := svc.Confirm(context.Background(), a.ID)

	var sterr *StateTransitionError
	require.ErrorAs(t, err, &sterr)
	assert.Equal(t, StatusCancelled, sterr.Current)
	assert.Equal(t, StatusConfirmed, sterr.Requested)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	svc := f.newService()
	ctx := context.Background()

	old := f.mustCreate(t, svc, f.request(monday, "09:00"))
	blocker := f.mustCreate(t, svc, f.request(monday, "10:00"))

	t.Run("into a taken slot fails and leaves the original alone", func(t *testing.T) {
		_, err := svc.Reschedule(ctx, old.ID, f.request(monday, "10:00"), "owner")
		var cerr *ConflictError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, blocker.ID, cerr.Conflicts[0].AppointmentID)

		stored, err := svc.GetAppointment(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, stored.Status)
	})

	t.Run("onto its own slot ignores itself", func(t *testing.T) {
		req := f.request(monday, "09:00")
		req.DurationMinutes = 90
		_, err := svc.Reschedule(ctx, old.ID, req, "owner")
		var cerr *ConflictError
		require.ErrorAs(t, err, &cerr, "the longer booking runs into the 10:00 one")
		require.Len(t, cerr.Conflicts, 1)
		for _, c := range cerr.Conflicts {
			assert.NotEqual(t, old.ID, c.AppointmentID)
		}
	})

	t.Run("to another day", func(t *testing.T) {
		res, err := svc.Reschedule(ctx, old.ID, f.request(tuesday, "14:20"), "owner")
		require.NoError(t, err)

		assert.Equal(t, StatusScheduled, res.Cancelled.From)
		assert.Equal(t, StatusCancelled, res.Cancelled.To)
		assert.Equal(t, RescheduleCancelReason, res.Cancelled.Appointment.CancellationReason)
		assert.Equal(t, "owner", res.Cancelled.Appointment.CancelledBy)

		require.NotNil(t, res.Created.RescheduledFrom)
		assert.Equal(t, old.ID, *res.Created.RescheduledFrom)
		assert.Equal(t, StatusScheduled, res.Created.Status)
		assert.Equal(t, tuesday, res.Created.Date)

		stored, err := svc.GetAppointment(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, stored.Status)

		created, err := svc.GetAppointment(ctx, res.Created.ID)
		require.NoError(t, err)
		assert.Equal(t, MustTimeOfDay("14:20"), created.StartTime)
	})

	t.Run("a cancelled appointment cannot be rescheduled", func(t *testing.T) {
		_, err := svc.Reschedule(ctx, old.ID, f.request(wednesday, "09:00"), "owner")
		require.ErrorIs(t, err, ErrInvalidStatusTransition)

		listed, err := svc.ListAppointments(ctx, f.vet.ID, wednesday)
		require.NoError(t, err)
		assert.Empty(t, listed)
	})
}

func TestRescheduleLocksBothDays(t *testing.T) {
	f := newFixture(t)
	locker := newTestLocker()
	svc := NewService(f.store, locker, WithClock(FixedClock(testNow)))

	old := f.mustCreate(t, svc, f.request(monday, "09:00"))
	_, err := svc.Reschedule(context.Background(), old.ID, f.request(tuesday, "14:00"), "owner")
	require.NoError(t, err)

	require.Len(t, locker.calls, 2)
	assert.ElementsMatch(t, []string{ScheduleKey(f.vet.ID, monday), ScheduleKey(f.vet.ID, tuesday)}, locker.calls[1])
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := testNow
	svc := f.newService(WithClock(ClockFunc(func() time.Time { return clock })))

	f.mustCreate(t, svc, f.request(monday, "09:30"))

	slots, err := svc.AvailableSlots(ctx, f.vet.ID, monday, 30)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, MustTimeOfDay("09:00"), slots[0].Start)
	assert.Equal(t, MustTimeOfDay("10:00"), slots[1].Start)
	assert.Len(t, slots, 5)

	clock = monday.Add(10*time.Hour + 45*time.Minute)
	slots, err = svc.AvailableSlots(ctx, f.vet.ID, monday, 30)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, MustTimeOfDay("11:00"), slots[0].Start)

	slots, err = svc.AvailableSlots(ctx, f.vet.ID, monday.AddDate(0, 0, -7), 30)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = svc.AvailableSlots(ctx, f.vet.ID, monday, 2)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSuggestionsSkipTheCurrentPartialMinute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.newService(WithClock(FixedClock(monday.Add(9*time.Hour + 30*time.Second))))

	slots, err := svc.AvailableSlots(ctx, f.vet.ID, monday, 30)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, MustTimeOfDay("09:30"), slots[0].Start, "09:00 already started half a minute ago")

	_, err = svc.CreateAppointment(ctx, f.request(monday, "09:00"))
	requireValidation(t, err, "start_time", ReasonInPast)

	booked := f.mustCreate(t, svc, f.request(monday, slots[0].Start.String()))
	_, err = svc.CreateAppointment(ctx, f.request(monday, booked.StartTime.String()))
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	require.NotEmpty(t, cerr.Suggestions)
	assert.Equal(t, MustTimeOfDay("10:00"), cerr.Suggestions[0])
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := testNow
	svc := f.newService(WithClock(ClockFunc(func() time.Time { return clock })))

	early := f.mustCreate(t, svc, f.request(monday, "09:00"))
	confirmed := f.mustCreate(t, svc, f.request(monday, "09:30"))
	late := f.mustCreate(t, svc, f.request(monday, "11:00"))
	cancelled := f.mustCreate(t, svc, f.request(monday, "10:00"))
	_, err := svc.Confirm(ctx, confirmed.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, cancelled.ID, "owner request", "owner")
	require.NoError(t, err)

	clock = monday.Add(10*time.Hour + 20*time.Minute)
	marked, err := svc.SweepNoShows(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	status := func(id uuid.UUID) Status {
		a, err := svc.GetAppointment(ctx, id)
		require.NoError(t, err)
		return a.Status
	}
	assert.Equal(t, StatusNoShow, status(early.ID))
	assert.Equal(t, StatusNoShow, status(confirmed.ID))
	assert.Equal(t, StatusScheduled, status(late.ID))
	assert.Equal(t, StatusCancelled, status(cancelled.ID))

	marked, err = svc.SweepNoShows(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

// failingStore simulates a database outage on window reads.
type failingStore struct {
	*MemoryStore
	err error
}

func (s failingStore) ListWindows(context.Context, uuid.UUID, time.Weekday) ([]AvailabilityWindow, error) {
	return nil, s.err
}

func TestStoreFailuresSurface(t *testing.T) {
	f := newFixture(t)
	outage := errors.New("connection refused")
	svc := NewService(failingStore{f.store, outage}, newTestLocker(), WithClock(FixedClock(testNow)))

	_, err := svc.CreateAppointment(context.Background(), f.request(monday, "09:00"))
	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, ErrValidation)
}

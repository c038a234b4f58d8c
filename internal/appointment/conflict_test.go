package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlaps(t *testing.T) {
	nine, nineThirty, ten := MustTimeOfDay("09:00"), MustTimeOfDay("09:30"), MustTimeOfDay("10:00")

	assert.True(t, Overlaps(nine, ten, nineThirty, ten))
	assert.True(t, Overlaps(nine, ten, nine, ten))
	assert.True(t, Overlaps(nineThirty, nineThirty.Add(10), nine, ten), "contained")
	assert.False(t, Overlaps(nine, nineThirty, nineThirty, ten), "adjacent intervals touch but do not overlap")
	assert.False(t, Overlaps(nineThirty, ten, nine, nineThirty))
}

func TestStoreConflictDetector(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	vet := uuid.New()

	insert := func(start string, minutes int, status Status) Appointment {
		a := Appointment{
			VeterinarianID:  vet,
			Date:            monday,
			StartTime:       MustTimeOfDay(start),
			DurationMinutes: minutes,
			Status:          status,
		}
		require.NoError(t, store.InsertAppointment(ctx, &a))
		return a
	}

	a := insert("09:00", 30, StatusScheduled)
	b := insert("09:30", 30, StatusConfirmed)
	insert("09:15", 30, StatusCancelled)
	insert("09:15", 30, StatusNoShow)
	c := insert("10:00", 60, StatusInProgress)
	other := Appointment{VeterinarianID: uuid.New(), Date: monday, StartTime: MustTimeOfDay("09:15"), DurationMinutes: 30, Status: StatusScheduled}
	require.NoError(t, store.InsertAppointment(ctx, &other))
	nextDay := Appointment{VeterinarianID: vet, Date: tuesday, StartTime: MustTimeOfDay("09:15"), DurationMinutes: 30, Status: StatusScheduled}
	require.NoError(t, store.InsertAppointment(ctx, &nextDay))

	detector := NewConflictDetector(store)

	got, err := detector.Overlapping(ctx, vet, monday, MustTimeOfDay("09:15"), MustTimeOfDay("09:45"), uuid.Nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids(got))

	got, err = detector.Overlapping(ctx, vet, monday, MustTimeOfDay("09:15"), MustTimeOfDay("09:45"), a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b.ID}, ids(got))

	got, err = detector.Overlapping(ctx, vet, monday, MustTimeOfDay("11:00"), MustTimeOfDay("11:30"), uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, got, "c ends exactly at 11:00")

	got, err = detector.Overlapping(ctx, vet, monday.Add(15*time.Hour), MustTimeOfDay("10:30"), MustTimeOfDay("10:45"), uuid.Nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{c.ID}, ids(got), "date is normalized to the calendar day")
}

func ids(appts []Appointment) []uuid.UUID {
	out := make([]uuid.UUID, len(appts))
	for i, a := range appts {
		out[i] = a.ID
	}
	return out
}

func TestFreeSlots(t *testing.T) {
	w := AvailabilityWindow{
		Start:         MustTimeOfDay("09:00"),
		End:           MustTimeOfDay("11:00"),
		SlotMinutes:   30,
		MaxConcurrent: 2,
	}
	busy := []Appointment{
		{StartTime: MustTimeOfDay("09:00"), DurationMinutes: 30, Status: StatusScheduled},
		{StartTime: MustTimeOfDay("09:00"), DurationMinutes: 60, Status: StatusConfirmed},
		{StartTime: MustTimeOfDay("10:00"), DurationMinutes: 30, Status: StatusCancelled},
	}

	slots := FreeSlots(w, 30, busy, 0)
	starts := make([]string, len(slots))
	for i, s := range slots {
		starts[i] = s.Start.String()
	}
	assert.Equal(t, []string{"09:30", "10:00", "10:30"}, starts)
	assert.Equal(t, 1, slots[0].Remaining)
	assert.Equal(t, 2, slots[1].Remaining, "cancelled appointments free their capacity")

	slots = FreeSlots(w, 30, busy, MustTimeOfDay("10:10"))
	require.Len(t, slots, 1)
	assert.Equal(t, "10:30", slots[0].Start.String())

	assert.Empty(t, FreeSlots(w, 150, nil, 0), "duration longer than the window")
	assert.Empty(t, FreeSlots(w, 0, nil, 0))
}

package redisclient_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisclient.NewRedisClient(context.Background(), redisclient.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisClientFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := redisclient.NewRedisClient(context.Background(), redisclient.Options{Addr: addr})
	assert.Error(t, err)
}

func TestScheduleLockerHoldsAndReleases(t *testing.T) {
	mr, client := newRedis(t)
	l := redisclient.NewScheduleLocker(client, 5*time.Second, time.Second)

	err := l.WithLock(context.Background(), []string{"schedule:b", "schedule:a"}, func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:schedule:a"))
		assert.True(t, mr.Exists("lock:schedule:b"))
		assert.Greater(t, mr.TTL("lock:schedule:a"), time.Duration(0))

		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "callback runs under the lock ttl")
		return nil
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists("lock:schedule:a"))
	assert.False(t, mr.Exists("lock:schedule:b"))
}

func TestScheduleLockerGivesUpWhenHeldElsewhere(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("lock:schedule:a", "another-instance"))

	l := redisclient.NewScheduleLocker(client, 5*time.Second, 50*time.Millisecond)
	called := false
	err := l.WithLock(context.Background(), []string{"schedule:a"}, func(context.Context) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, appointment.ErrSlotBeingBooked)
	assert.False(t, called)

	got, err := mr.Get("lock:schedule:a")
	require.NoError(t, err)
	assert.Equal(t, "another-instance", got, "a foreign lock is never released")
}

func TestScheduleLockerDoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newRedis(t)
	l := redisclient.NewScheduleLocker(client, 5*time.Second, time.Second)

	err := l.WithLock(context.Background(), []string{"schedule:a"}, func(context.Context) error {
		// the lock expired and someone else took it
		mr.Set("lock:schedule:a", "new-holder")
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get("lock:schedule:a")
	require.NoError(t, err)
	assert.Equal(t, "new-holder", got)
}

func TestScheduleLockerSerializes(t *testing.T) {
	_, client := newRedis(t)
	l := redisclient.NewScheduleLocker(client, 5*time.Second, 5*time.Second)

	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), []string{"schedule:x"}, func(context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

// holdUntilFirstKey waits until the locker owns lock:schedule:a, moves the Redis
// clock by elapsed and then frees lock:schedule:b.
func holdUntilFirstKey(t *testing.T, mr *miniredis.Miniredis, elapsed time.Duration) {
	t.Helper()
	require.NoError(t, mr.Set("lock:schedule:b", "another-instance"))
	go func() {
		for !mr.Exists("lock:schedule:a") {
			time.Sleep(time.Millisecond)
		}
		mr.FastForward(elapsed)
		mr.Del("lock:schedule:b")
	}()
}

func TestScheduleLockerRefreshesEarlierKeys(t *testing.T) {
	mr, client := newRedis(t)
	l := redisclient.NewScheduleLocker(client, 5*time.Second, 2*time.Second)
	holdUntilFirstKey(t, mr, 4*time.Second)

	err := l.WithLock(context.Background(), []string{"schedule:a", "schedule:b"}, func(ctx context.Context) error {
		assert.Equal(t, 5*time.Second, mr.TTL("lock:schedule:a"), "the first key's ttl restarts once every key is held")
		assert.Equal(t, 5*time.Second, mr.TTL("lock:schedule:b"))

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
		assert.True(t, deadline.Before(time.Now().Add(5*time.Second)), "the callback stops before the keys expire")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:schedule:a"))
	assert.False(t, mr.Exists("lock:schedule:b"))
}

func TestScheduleLockerGivesUpWhenEarlierKeyExpired(t *testing.T) {
	mr, client := newRedis(t)
	l := redisclient.NewScheduleLocker(client, 5*time.Second, 2*time.Second)
	holdUntilFirstKey(t, mr, 6*time.Second)

	called := false
	err := l.WithLock(context.Background(), []string{"schedule:a", "schedule:b"}, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, appointment.ErrSlotBeingBooked)
	assert.False(t, called)
	assert.False(t, mr.Exists("lock:schedule:b"), "keys taken before giving up are released")
}

type countingCatalog struct {
	calls   int
	windows []appointment.AvailabilityWindow
	err     error
}

func (c *countingCatalog) WindowsFor(context.Context, uuid.UUID, time.Weekday) ([]appointment.AvailabilityWindow, error) {
	c.calls++
	return c.windows, c.err
}

func TestCachedCatalogReadsThrough(t *testing.T) {
	mr, client := newRedis(t)
	vet := uuid.New()
	window := appointment.AvailabilityWindow{
		ID:             uuid.New(),
		VeterinarianID: vet,
		Weekday:        time.Monday,
		Start:          appointment.MustTimeOfDay("09:00"),
		End:            appointment.MustTimeOfDay("12:00"),
		SlotMinutes:    30,
		MaxConcurrent:  2,
		Active:         true,
	}
	next := &countingCatalog{windows: []appointment.AvailabilityWindow{window}}
	cache := redisclient.NewCachedCatalog(next, client, time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)
	second, err := cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, []appointment.AvailabilityWindow{window}, first)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("windows:"+vet.String()+":1"))

	mr.FastForward(2 * time.Minute)
	_, err = cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls, "expired entries are reloaded")

	require.NoError(t, cache.Invalidate(ctx, vet, time.Monday))
	_, err = cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCachedCatalogFallsBackWhenRedisIsDown(t *testing.T) {
	mr, client := newRedis(t)
	next := &countingCatalog{}
	cache := redisclient.NewCachedCatalog(next, client, time.Minute, zerolog.Nop())
	mr.Close()

	windows, err := cache.WindowsFor(context.Background(), uuid.New(), time.Tuesday)
	require.NoError(t, err)
	assert.Empty(t, windows)
	assert.Equal(t, 1, next.calls)
}

func TestCachedCatalogPropagatesStoreErrors(t *testing.T) {
	_, client := newRedis(t)
	outage := errors.New("db down")
	cache := redisclient.NewCachedCatalog(&countingCatalog{err: outage}, client, time.Minute, zerolog.Nop())

	_, err := cache.WindowsFor(context.Background(), uuid.New(), time.Tuesday)
	assert.ErrorIs(t, err, outage)
}

type windowLog struct {
	written []appointment.AvailabilityWindow
	err     error
}

func (s *windowLog) CreateWindow(_ context.Context, w *appointment.AvailabilityWindow) error {
	if s.err != nil {
		return s.err
	}
	s.written = append(s.written, *w)
	return nil
}

func TestCachedCatalogCreateWindowInvalidates(t *testing.T) {
	mr, client := newRedis(t)
	next := &countingCatalog{}
	cache := redisclient.NewCachedCatalog(next, client, time.Hour, zerolog.Nop())
	ctx := context.Background()
	vet := uuid.New()

	_, err := cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)
	_, err = cache.WindowsFor(ctx, vet, time.Tuesday)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)

	store := &windowLog{}
	w := &appointment.AvailabilityWindow{
		ID:             uuid.New(),
		VeterinarianID: vet,
		Weekday:        time.Monday,
		Start:          appointment.MustTimeOfDay("09:00"),
		End:            appointment.MustTimeOfDay("12:00"),
		SlotMinutes:    30,
		MaxConcurrent:  1,
		Active:         true,
	}
	require.NoError(t, cache.CreateWindow(ctx, store, w))
	require.Len(t, store.written, 1)

	assert.False(t, mr.Exists("windows:"+vet.String()+":1"), "the written day is dropped")
	assert.True(t, mr.Exists("windows:"+vet.String()+":2"), "other days stay cached")

	_, err = cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls, "the new window is read from the store")
}

func TestCachedCatalogCreateWindowKeepsCacheOnWriteFailure(t *testing.T) {
	mr, client := newRedis(t)
	cache := redisclient.NewCachedCatalog(&countingCatalog{}, client, time.Hour, zerolog.Nop())
	ctx := context.Background()
	vet := uuid.New()

	_, err := cache.WindowsFor(ctx, vet, time.Monday)
	require.NoError(t, err)

	outage := errors.New("db down")
	err = cache.CreateWindow(ctx, &windowLog{err: outage}, &appointment.AvailabilityWindow{VeterinarianID: vet, Weekday: time.Monday})
	assert.ErrorIs(t, err, outage)
	assert.True(t, mr.Exists("windows:"+vet.String()+":1"))
}

package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/lock"
)

const (
	minRetryDelay = 10 * time.Millisecond
	maxRetryDelay = 200 * time.Millisecond

	defaultLockTTL = 10 * time.Second

	maxSafetyMargin = 500 * time.Millisecond
)

// ScheduleLocker guards per (veterinarian, date) critical sections across API instances.
type ScheduleLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewScheduleLocker creates a locker with one Redis key per schedule key. ttl bounds how
// long a crashed holder can block others; wait bounds how long a caller retries.
func NewScheduleLocker(client *redis.Client, ttl, wait time.Duration) *ScheduleLocker {
	if wait <= 0 {
		wait = lock.DefaultWait
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &ScheduleLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *ScheduleLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = lock.Normalize(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	var held []string
	defer func() {
		// Release even if the caller's context is already done.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for _, key := range held {
			_ = l.release(relCtx, key, token)
		}
	}()

	// expiresFrom is no later than the moment the earliest held key's ttl started.
	var expiresFrom time.Time
	for i, k := range keys {
		key := "lock:" + k
		attempted, err := l.acquire(ctx, key, token, deadline)
		if err != nil {
			return err
		}
		held = append(held, key)
		if i == 0 {
			expiresFrom = attempted
		}
	}

	// Waiting for later keys ate into the earlier keys' ttl; restart them all.
	if len(held) > 1 {
		expiresFrom = time.Now()
		if err := l.extend(ctx, held, token); err != nil {
			return err
		}
	}

	fnCtx, cancel := context.WithDeadline(ctx, expiresFrom.Add(l.ttl-l.margin()))
	defer cancel()
	return fn(fnCtx)
}

// margin leaves room to commit before the keys expire.
func (l *ScheduleLocker) margin() time.Duration {
	return min(l.ttl/10, maxSafetyMargin)
}

// acquire returns the time just before the successful SETNX was sent.
func (l *ScheduleLocker) acquire(ctx context.Context, key, token string, deadline time.Time) (time.Time, error) {
	delay := minRetryDelay
	for {
		attempted := time.Now()
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return time.Time{}, fmt.Errorf("acquire schedule lock: %w", err)
		}
		if ok {
			return attempted, nil
		}
		if time.Now().Add(delay).After(deadline) {
			return time.Time{}, appointment.ErrSlotBeingBooked
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return time.Time{}, ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// extend resets the ttl of every held key. A key that already expired means the
// schedule may have been taken by someone else, so the caller gives up.
func (l *ScheduleLocker) extend(ctx context.Context, keys []string, token string) error {
	for _, key := range keys {
		n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("extend schedule lock: %w", err)
		}
		if n == 0 {
			return appointment.ErrSlotBeingBooked
		}
	}
	return nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *ScheduleLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}

package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

// CachedCatalog is a read-through cache in front of another ScheduleCatalog.
// Windows change only through administration, so a short TTL is enough.
// Redis failures fall back to the underlying catalog.
type CachedCatalog struct {
	next   appointment.ScheduleCatalog
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedCatalog(next appointment.ScheduleCatalog, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{next: next, client: client, ttl: ttl, logger: logger}
}

type cachedWindow struct {
	ID            uuid.UUID `json:"id"`
	Weekday       int       `json:"weekday"`
	Start         int       `json:"start"`
	End           int       `json:"end"`
	SlotMinutes   int       `json:"slot_minutes"`
	MaxConcurrent int       `json:"max_concurrent"`
}

func windowsKey(vetID uuid.UUID, day time.Weekday) string {
	return fmt.Sprintf("windows:%s:%d", vetID, int(day))
}

func (c *CachedCatalog) WindowsFor(ctx context.Context, vetID uuid.UUID, day time.Weekday) ([]appointment.AvailabilityWindow, error) {
	key := windowsKey(vetID, day)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []cachedWindow
		if err := json.Unmarshal(raw, &cached); err == nil {
			out := make([]appointment.AvailabilityWindow, len(cached))
			for i, w := range cached {
				out[i] = appointment.AvailabilityWindow{
					ID:             w.ID,
					VeterinarianID: vetID,
					Weekday:        time.Weekday(w.Weekday),
					Start:          appointment.TimeOfDay(w.Start),
					End:            appointment.TimeOfDay(w.End),
					SlotMinutes:    w.SlotMinutes,
					MaxConcurrent:  w.MaxConcurrent,
					Active:         true,
				}
			}
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("key", key).Msg("window cache read failed")
	}

	windows, err := c.next.WindowsFor(ctx, vetID, day)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Active {
			continue
		}
		cached = append(cached, cachedWindow{
			ID:            w.ID,
			Weekday:       int(w.Weekday),
			Start:         w.Start.Minutes(),
			End:           w.End.Minutes(),
			SlotMinutes:   w.SlotMinutes,
			MaxConcurrent: w.MaxConcurrent,
		})
	}
	if data, err := json.Marshal(cached); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("window cache write failed")
		}
	}
	return windows, nil
}

// Invalidate drops the cached windows after an administrative change.
func (c *CachedCatalog) Invalidate(ctx context.Context, vetID uuid.UUID, day time.Weekday) error {
	return c.client.Del(ctx, windowsKey(vetID, day)).Err()
}

// WindowWriter is the administrative store a window is written to.
type WindowWriter interface {
	CreateWindow(ctx context.Context, w *appointment.AvailabilityWindow) error
}

// CreateWindow writes w through to store and drops the cached day it lands on.
// A failed invalidation is only logged; the entry still expires after the TTL.
func (c *CachedCatalog) CreateWindow(ctx context.Context, store WindowWriter, w *appointment.AvailabilityWindow) error {
	if err := store.CreateWindow(ctx, w); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, w.VeterinarianID, w.Weekday); err != nil {
		c.logger.Warn().Err(err).Str("key", windowsKey(w.VeterinarianID, w.Weekday)).Msg("window cache invalidation failed")
	}
	return nil
}

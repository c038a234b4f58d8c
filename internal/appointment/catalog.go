package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleCatalog returns a veterinarian's active recurring windows for a weekday.
// Results have no guaranteed order.
type ScheduleCatalog interface {
	WindowsFor(ctx context.Context, vetID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error)
}

type StoreCatalog struct {
	store WindowStore
}

func NewScheduleCatalog(store WindowStore) *StoreCatalog {
	return &StoreCatalog{store: store}
}

func (c *StoreCatalog) WindowsFor(ctx context.Context, vetID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error) {
	all, err := c.store.ListWindows(ctx, vetID, day)
	if err != nil {
		return nil, storeErr("list availability windows", err)
	}

	active := make([]AvailabilityWindow, 0, len(all))
	for _, w := range all {
		if w.Active {
			active = append(active, w)
		}
	}
	return active, nil
}

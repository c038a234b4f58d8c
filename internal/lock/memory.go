package lock

import (
	"context"
	"sync"
	"time"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
)

// KeyedLocker is a process-local mutex per key.
type KeyedLocker struct {
	wait time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &KeyedLocker{wait: wait, entries: make(map[string]*entry)}
}

func (l *KeyedLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = Normalize(keys)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	held := make([]*entry, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].sem
		}
		for _, k := range keys[:len(held)] {
			l.unref(k)
		}
	}()

	for _, k := range keys {
		e := l.ref(k)
		select {
		case e.sem <- struct{}{}:
			held = append(held, e)
		case <-ctx.Done():
			l.unref(k)
			return ctx.Err()
		case <-timer.C:
			l.unref(k)
			return appointment.ErrSlotBeingBooked
		}
	}

	return fn(ctx)
}

func (l *KeyedLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently referenced.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Package lock provides in-process and Postgres implementations of appointment.Locker.
package lock

import (
	"sort"
	"time"
)

// DefaultWait bounds how long a caller queues for a schedule lock.
const DefaultWait = 5 * time.Second

// Normalize sorts and de-duplicates keys so every caller acquires them in the same order.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

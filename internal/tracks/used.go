package tracks

import (
	"sync"
	"time"
)

// UsedSet remembers which items have been played recently. It is shared by
// every session in the process so the same track is not served twice while
// it is inside the retention window.
type UsedSet struct {
	mu        sync.RWMutex
	at        map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewUsedSet returns a set that forgets entries older than retention.
// A retention of zero keeps entries for the lifetime of the process.
func NewUsedSet(retention time.Duration) *UsedSet {
	return &UsedSet{
		at:        make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (u *UsedSet) Contains(id string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.at[id]
	return ok
}

func (u *UsedSet) Add(id string) time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	ts := u.now()
	u.at[id] = ts
	return ts
}

// Restore merges previously persisted entries, keeping the newest timestamp.
func (u *UsedSet) Restore(entries map[string]time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, ts := range entries {
		if cur, ok := u.at[id]; !ok || ts.After(cur) {
			u.at[id] = ts
		}
	}
}

// Prune drops entries that have aged out and returns how many were removed.
func (u *UsedSet) Prune() int {
	if u.retention <= 0 {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	cutoff := u.now().Add(-u.retention)
	removed := 0
	for id, ts := range u.at {
		if ts.Before(cutoff) {
			delete(u.at, id)
			removed++
		}
	}
	return removed
}

func (u *UsedSet) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.at)
}

func (u *UsedSet) Retention() time.Duration {
	return u.retention
}

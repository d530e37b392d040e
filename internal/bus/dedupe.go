package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a TTL window. It is used to collapse
// repeated notifications for the same change (a document saved several
// times in a row, a task reporting the same terminal status twice).
//
// Entries expire after TTL and are pruned lazily on each check.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]int64 // key → unix millis
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewDedupeCache creates a dedupe cache. maxSize <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]int64, 64),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// IsDuplicate returns true if key was already seen within the TTL window.
// If not a duplicate, records the key for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := d.now().UnixMilli()

	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now - d.ttl.Milliseconds()

	if ts, ok := d.entries[key]; ok && ts >= cutoff {
		return true
	}

	d.cleanup(cutoff)
	d.entries[key] = now
	return false
}

// SetTTL changes the window for later checks. Remembered keys are kept.
func (d *DedupeCache) SetTTL(ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ttl = ttl
}

// Len returns the number of remembered keys, expired ones included.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// cleanup removes expired entries and evicts the oldest while over maxSize.
// Must be called with d.mu held.
func (d *DedupeCache) cleanup(cutoff int64) {
	for k, ts := range d.entries {
		if ts < cutoff {
			delete(d.entries, k)
		}
	}

	for d.maxSize > 0 && len(d.entries) >= d.maxSize {
		oldestKey, oldestTS := "", int64(0)
		for k, ts := range d.entries {
			if oldestKey == "" || ts < oldestTS {
				oldestKey, oldestTS = k, ts
			}
		}
		delete(d.entries, oldestKey)
	}
}

package executor

import (
	"sync"
	"time"
)

// Dedup drops signals that were already processed within a TTL window, so a
// producer re-publishing the same candidate cannot open a second position.
// Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // signal ID -> last seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether signalID was seen within the TTL. Unseen or
// expired IDs are recorded and pass.
func (d *Dedup) IsDuplicate(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[signalID]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[signalID] = now
	return false
}

// Cleanup removes expired entries. Called periodically by the executor loop
// to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

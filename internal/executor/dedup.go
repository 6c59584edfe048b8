package executor

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// inputBucket groups input sizes so that the same cycle re-found at a
// slightly different amount still counts as a repeat.
const inputBucket = 10_000_000

// Dedup suppresses repeats of the same key within a time-to-live window. It
// is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a repeat if it was seen
// within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether key was seen within the window. Keys not seen
// (or expired) are recorded and reported as new.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup drops expired keys. Call it periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// DedupKey identifies an opportunity by its mint sequence and bucketed
// input size.
func DedupKey(opp domain.Opportunity) string {
	var b strings.Builder
	for i, m := range opp.Mints {
		if i > 0 {
			b.WriteByte('>')
		}
		b.WriteString(m.String())
	}
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(opp.InputAmount/inputBucket, 10))
	return b.String()
}

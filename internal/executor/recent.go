package executor

import (
	"context"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// recentCapacity is how many published opportunities are kept in memory.
const recentCapacity = 500

// recent is a fixed-size ring of the latest published opportunities.
type recent struct {
	mu   sync.Mutex
	buf  []domain.Opportunity
	next int
	full bool
}

func newRecent(n int) *recent { return &recent{buf: make([]domain.Opportunity, n)} }

func (r *recent) add(opp domain.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = opp
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// newest returns up to limit entries, most recent first.
func (r *recent) newest(limit int) []domain.Opportunity {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Opportunity, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}

// ListRecent returns the latest published opportunities, newest first. It
// serves the history endpoint when no database is wired.
func (e *Executor) ListRecent(_ context.Context, limit int) ([]domain.Opportunity, error) {
	return e.recent.newest(limit), nil
}

package dispatcher

import (
	"cmp"
	"slices"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/optimizer"
)

type candidate struct {
	route  domain.Route
	result optimizer.Result
}

// container keeps the most profitable candidate per token sequence, so two
// routes trading the same path of mints through different venues never both
// reach the sender in one cycle.
type container struct {
	mu   sync.Mutex
	best map[string]candidate
}

func newContainer() *container {
	return &container{best: make(map[string]candidate)}
}

func (c *container) offer(route domain.Route, res optimizer.Result) {
	key := route.TokenKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.best[key]
	if ok && compareCandidates(cur, candidate{route, res}) <= 0 {
		return
	}
	c.best[key] = candidate{route: route, result: res}
}

// top returns up to n candidates, most profitable first. n <= 0 returns all.
func (c *container) top(n int) []candidate {
	c.mu.Lock()
	out := make([]candidate, 0, len(c.best))
	for _, cand := range c.best {
		out = append(out, cand)
	}
	c.mu.Unlock()

	slices.SortFunc(out, compareCandidates)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (c *container) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.best)
}

// compareCandidates orders by profit descending, then by route key.
func compareCandidates(a, b candidate) int {
	if c := cmp.Compare(b.result.Profit, a.result.Profit); c != 0 {
		return c
	}
	return cmp.Compare(a.route.Key(), b.route.Key())
}

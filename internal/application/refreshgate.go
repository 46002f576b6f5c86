package application

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// RefreshDebounce is the minimum interval between refresh attempts for one
// credential scope.
const RefreshDebounce = 5 * time.Second

// refreshGate collapses refresh attempts per key. Concurrent callers share a
// single in-flight attempt; a new attempt inside the debounce window of the
// previous one is rejected with driven.ErrRefreshDebounced.
type refreshGate struct {
	window time.Duration
	now    Clock
	group  singleflight.Group

	mu   sync.Mutex
	last map[string]time.Time
}

func newRefreshGate(window time.Duration, now Clock) *refreshGate {
	return &refreshGate{
		window: window,
		now:    now.orNow(),
		last:   make(map[string]time.Time),
	}
}

// Do runs fn for key unless another attempt for key started less than the
// window ago.
func (g *refreshGate) Do(key string, fn func() error) error {
	_, err, _ := g.group.Do(key, func() (any, error) {
		now := g.now()

		g.mu.Lock()
		last, seen := g.last[key]
		if seen && now.Sub(last) < g.window {
			g.mu.Unlock()
			return nil, driven.ErrRefreshDebounced
		}
		g.last[key] = now
		g.mu.Unlock()

		return nil, fn()
	})
	return err
}

// Forget drops the debounce state for key.
func (g *refreshGate) Forget(key string) {
	g.mu.Lock()
	delete(g.last, key)
	g.mu.Unlock()
}

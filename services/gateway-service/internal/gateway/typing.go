package gateway

import (
	"sync"
	"time"
)

// Throttle allows one hit per key per window. Extra hits inside the window
// are dropped, not queued.
type Throttle struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
	now    func() time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = time.Second
	}
	return &Throttle{
		window: window,
		last:   map[string]time.Time{},
		now:    time.Now,
	}
}

func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[key] = now

	// Opportunistic cleanup so idle pairs do not accumulate forever.
	if len(t.last) > 10000 {
		for k, v := range t.last {
			if now.Sub(v) >= t.window {
				delete(t.last, k)
			}
		}
	}
	return true
}

package ratelimit

import (
	"sync"
	"time"
)

// localWindows is the in-process fallback counter map used while the Store is
// unreachable. Counts are per instance, not shared across replicas; that
// weaker guarantee is documented on Limiter.Check.
type localWindows struct {
	mu      sync.Mutex
	windows map[string]*localWindow
	sweepAt time.Time
}

type localWindow struct {
	count     int64
	expiresAt time.Time
}

const sweepInterval = 5 * time.Minute

func newLocalWindows() *localWindows {
	return &localWindows{windows: make(map[string]*localWindow)}
}

// incr bumps the counter for key, creating it with the window TTL when
// missing or expired. Returns the new count and remaining TTL.
func (lw *localWindows) incr(key string, window time.Duration, now time.Time) (int64, time.Duration) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if now.After(lw.sweepAt) {
		for k, w := range lw.windows {
			if now.After(w.expiresAt) {
				delete(lw.windows, k)
			}
		}
		lw.sweepAt = now.Add(sweepInterval)
	}

	w := lw.windows[key]
	if w == nil || now.After(w.expiresAt) {
		w = &localWindow{expiresAt: now.Add(window)}
		lw.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt.Sub(now)
}

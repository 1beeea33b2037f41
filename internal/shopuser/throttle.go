package shopuser

import (
	"sync"
	"time"

	"github.com/BootCodex/BlueOlive/internal/cache"
)

// throttle counts failed logins per key and locks a key out once it
// reaches max failures.  Counters live in a bounded LRU and expire after
// the lockout window.
type throttle struct {
	mu      sync.Mutex
	max     int
	lockout time.Duration
	now     func() time.Time
	seen    *cache.LRU
}

type attempts struct {
	n     int
	until time.Time
}

func newThrottle(max int, lockout time.Duration, capacity int) *throttle {
	return &throttle{
		max:     max,
		lockout: lockout,
		now:     time.Now,
		seen:    cache.New(capacity, lockout),
	}
}

func (t *throttle) locked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.seen.Get(key)
	if !ok {
		return false
	}
	return t.now().Before(v.(attempts).until)
}

func (t *throttle) fail(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var a attempts
	if v, ok := t.seen.Get(key); ok {
		a = v.(attempts)
	}
	a.n++
	if a.n >= t.max {
		a.until = t.now().Add(t.lockout)
	}
	t.seen.Add(key, a)
}

func (t *throttle) reset(key string) {
	t.seen.Remove(key)
}

// evictor.go houses the eviction loop for Registry.  Every EvictInterval it
// scans the map and removes:
//
//   - pools idle longer than IdleTTL
//   - least-recently-used pools when the map size exceeds MaxEntries
//
// Pools whose provisioning lock is held are skipped for that pass.  Each
// eviction is logged and updates Prometheus counters.
package registry

import (
	"context"
	"sort"
	"sync/atomic"
	"time"
)

// Start runs the evictor until ctx is done or Close is called.
func (r *Registry) Start(ctx context.Context) {
	if r.opts.EvictInterval <= 0 || (r.opts.IdleTTL <= 0 && r.opts.MaxEntries <= 0) {
		return
	}
	go r.evictLoop(ctx)
}

func (r *Registry) evictLoop(ctx context.Context) {
	t := time.NewTicker(r.opts.EvictInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case now := <-t.C:
			r.evictOnce(now)
		}
	}
}

// evictOnce runs one idle pass and one LRU pass.
func (r *Registry) evictOnce(now time.Time) {
	type kv struct {
		alias string
		at    int64
	}

	r.mu.RLock()
	all := make([]kv, 0, len(r.entries))
	for alias, ent := range r.entries {
		all = append(all, kv{alias: alias, at: atomic.LoadInt64(&ent.lastSeen)})
	}
	r.mu.RUnlock()

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	live := all[:0]
	for _, e := range all {
		idle := now.Sub(time.Unix(0, e.at))
		if r.opts.IdleTTL > 0 && idle > r.opts.IdleTTL && r.tryEvict(e.alias, "idle") {
			continue
		}
		live = append(live, e)
	}

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if r.opts.MaxEntries > 0 && len(live) > r.opts.MaxEntries {
		sort.Slice(live, func(i, j int) bool { return live[i].at < live[j].at })
		excess := len(live) - r.opts.MaxEntries
		for _, e := range live {
			if excess == 0 {
				break
			}
			if r.tryEvict(e.alias, "lru") {
				excess--
			}
		}
	}
}

// tryEvict evicts alias unless it is being provisioned.
func (r *Registry) tryEvict(alias, reason string) bool {
	release, ok := r.TryAcquire(alias)
	if !ok {
		return false
	}
	defer release()
	return r.evict(alias, reason)
}

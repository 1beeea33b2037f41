// internal/registry/registry.go
//
// Connection registry: alias → live tenant pool.
//
// Context
// -------
// The registry is the single owner of every tenant connection pool in the
// process.  Pools are created the first time a tenant is seen (middleware
// or provisioning), reused on every later request, and closed by the idle
// evictor or on shutdown.  The control database is held separately under
// ControlAlias and is never evicted.
//
// Concurrency
// -----------
//   - A RWMutex guards the alias map.  Reads are lock-shared.
//   - singleflight collapses concurrent first-touch registrations of the
//     same alias, so two simultaneous requests for a new tenant open one
//     pool.
//   - Per-alias provisioning locks (Acquire) serialize schema provisioning
//     of one tenant and keep the evictor away from pools in use by it.
//     Waiting honours the caller's context.  A lock entry lives only while
//     someone holds or waits for it.
//
// Notes
// -----
//   - Register with an identical descriptor is a no-op.  A changed
//     descriptor (rotated password, moved host) opens a new pool, swaps it
//     in, and closes the old one.
//   - Descriptors are returned by value, so callers cannot mutate the
//     registry's copy.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/metrics"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// ControlAlias names the control database.
const ControlAlias = "default"

// ErrUnknownAlias is returned when no pool is registered under an alias.
var ErrUnknownAlias = errors.New("registry: unknown alias")

// Opener opens a pool for a descriptor.
type Opener func(ctx context.Context, d Descriptor) (*sqlx.DB, error)

// DefaultOpener opens a lazily-connecting pgx pool sized by d.
func DefaultOpener(ctx context.Context, d Descriptor) (*sqlx.DB, error) {
	return database.Open(ctx, d.Driver, d.DSN(), database.Options{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	})
}

// Options configures New.
type Options struct {
	Defaults      Defaults
	Opener        Opener        // DefaultOpener when nil
	IdleTTL       time.Duration // 0 disables idle eviction
	MaxEntries    int           // 0 disables LRU eviction
	EvictInterval time.Duration // 0 disables the evictor
	Logger        *zap.Logger
}

type entry struct {
	desc     Descriptor
	db       *sqlx.DB
	lastSeen int64 // UnixNano
}

func (e *entry) touch() { atomic.StoreInt64(&e.lastSeen, time.Now().UnixNano()) }

// Registry is safe for concurrent use.
type Registry struct {
	control *sqlx.DB
	opts    Options
	log     *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	sfg     singleflight.Group

	lockMu sync.Mutex
	locks  map[string]*aliasLock

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns a Registry around the control pool.  Call Start to run the
// evictor.
func New(control *sqlx.DB, opts Options) *Registry {
	if opts.Opener == nil {
		opts.Opener = DefaultOpener
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	return &Registry{
		control: control,
		opts:    opts,
		log:     opts.Logger.Named("registry"),
		entries: make(map[string]*entry),
		locks:   make(map[string]*aliasLock),
		stop:    make(chan struct{}),
	}
}

// Control returns the control pool.
func (r *Registry) Control() *sqlx.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.control
}

// RegisterControl replaces the control pool.  The previous pool is not
// closed.
func (r *Registry) RegisterControl(db *sqlx.DB) {
	r.mu.Lock()
	r.control = db
	r.mu.Unlock()
}

// Register installs, or reuses, the pool for t.
func (r *Registry) Register(ctx context.Context, t *tenant.Tenant) error {
	return r.RegisterDescriptor(ctx, FromTenant(t, r.opts.Defaults))
}

// RegisterDescriptor installs, or reuses, the pool for d.
func (r *Registry) RegisterDescriptor(ctx context.Context, d Descriptor) error {
	if d.Alias == "" || d.Alias == ControlAlias {
		return fmt.Errorf("registry: invalid alias %q", d.Alias)
	}
	if r.reuse(d) {
		metrics.ConnectionRegisterTotal.WithLabelValues("reused").Inc()
		return nil
	}

	_, err, _ := r.sfg.Do(d.Alias, func() (any, error) {
		// Double-check after singleflight barrier.
		if r.reuse(d) {
			metrics.ConnectionRegisterTotal.WithLabelValues("reused").Inc()
			return nil, nil
		}

		db, err := r.opts.Opener(ctx, d)
		if err != nil {
			metrics.ConnectionRegisterTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("registry: open %s: %w", d.Alias, err)
		}

		ent := &entry{desc: d, db: db}
		ent.touch()

		r.mu.Lock()
		old := r.entries[d.Alias]
		r.entries[d.Alias] = ent
		r.mu.Unlock()

		if old != nil {
			_ = old.db.Close()
			metrics.ConnectionRegisterTotal.WithLabelValues("replaced").Inc()
			r.log.Info("connection replaced", zap.String(logger.FieldAlias, d.Alias))
			return nil, nil
		}
		metrics.ConnectionRegisterTotal.WithLabelValues("created").Inc()
		metrics.RegisteredConnections.Inc()
		r.log.Info("connection registered",
			zap.String(logger.FieldAlias, d.Alias),
			zap.String("host", d.Host),
			zap.String("database", d.Database),
		)
		return nil, nil
	})
	return err
}

// reuse reports whether an identical descriptor is already registered.
func (r *Registry) reuse(d Descriptor) bool {
	r.mu.RLock()
	ent, ok := r.entries[d.Alias]
	r.mu.RUnlock()
	if ok && ent.desc.Equal(d) {
		ent.touch()
		return true
	}
	return false
}

// DB returns the pool registered under alias.
func (r *Registry) DB(alias string) (*sqlx.DB, error) {
	if alias == ControlAlias {
		if c := r.Control(); c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
	}
	r.mu.RLock()
	ent, ok := r.entries[alias]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
	}
	ent.touch()
	return ent.db, nil
}

// Descriptor returns a copy of the descriptor registered under alias.
func (r *Registry) Descriptor(alias string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entries[alias]
	if !ok {
		return Descriptor{}, false
	}
	return ent.desc.WithSearchPath(ent.desc.SearchPath...), true
}

// Aliases lists registered tenant aliases, sorted.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of registered tenant pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Evict closes and removes the pool for alias.  It reports whether a pool
// was removed.
func (r *Registry) Evict(alias string) bool {
	return r.evict(alias, "manual")
}

func (r *Registry) evict(alias, reason string) bool {
	r.mu.Lock()
	ent, ok := r.entries[alias]
	if ok {
		delete(r.entries, alias)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	_ = ent.db.Close()
	metrics.ConnectionEvictTotal.WithLabelValues(reason).Inc()
	metrics.RegisteredConnections.Dec()
	r.log.Info("connection evicted",
		zap.String(logger.FieldAlias, alias),
		zap.String("reason", reason),
	)
	return true
}

// aliasLock is a weight-1 semaphore.  refs counts holders and waiters; the
// map entry goes away when it drops to zero.
type aliasLock struct {
	sem  *semaphore.Weighted
	refs int
}

func (r *Registry) ref(alias string) *aliasLock {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[alias]
	if !ok {
		l = &aliasLock{sem: semaphore.NewWeighted(1)}
		r.locks[alias] = l
	}
	l.refs++
	return l
}

func (r *Registry) unref(alias string, l *aliasLock) {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(r.locks, alias)
	}
}

func (r *Registry) releaser(alias string, l *aliasLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			r.unref(alias, l)
		})
	}
}

// Acquire waits for the provisioning lock of alias, or for ctx to end.
// The returned release func is safe to call more than once.
func (r *Registry) Acquire(ctx context.Context, alias string) (func(), error) {
	l := r.ref(alias)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		r.unref(alias, l)
		return nil, fmt.Errorf("registry: lock %s: %w", alias, err)
	}
	return r.releaser(alias, l), nil
}

// TryAcquire takes the provisioning lock of alias only if it is free.
func (r *Registry) TryAcquire(alias string) (func(), bool) {
	l := r.ref(alias)
	if !l.sem.TryAcquire(1) {
		r.unref(alias, l)
		return nil, false
	}
	return r.releaser(alias, l), true
}

// locked reports how many aliases have a holder or waiter.
func (r *Registry) locked() int {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	return len(r.locks)
}

// Close stops the evictor and closes every tenant pool.  The control pool
// belongs to the caller and stays open.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	for _, alias := range r.Aliases() {
		r.evict(alias, "shutdown")
	}
	return nil
}

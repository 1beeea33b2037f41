// internal/registry/registry_test.go
//
// Registry lifecycle tests with sqlmock-backed pools.
//
// Run: go test ./internal/registry -v

package registry

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// fakeOpener hands out sqlmock pools and records every descriptor it saw.
type fakeOpener struct {
	mu    sync.Mutex
	calls int32
	seen  []Descriptor
	mocks []sqlmock.Sqlmock
	dbs   []*sqlx.DB
	fail  error
	setup func(sqlmock.Sqlmock)
}

func (f *fakeOpener) open(_ context.Context, d Descriptor) (*sqlx.DB, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail != nil {
		return nil, f.fail
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	if f.setup != nil {
		f.setup(mock)
	}
	sx := sqlx.NewDb(db, "pgx")
	f.mu.Lock()
	f.seen = append(f.seen, d)
	f.mocks = append(f.mocks, mock)
	f.dbs = append(f.dbs, sx)
	f.mu.Unlock()
	return sx, nil
}

func newRegistry(t *testing.T, f *fakeOpener, opts Options) *Registry {
	t.Helper()
	opts.Opener = f.open
	opts.Logger = zap.NewNop()
	r := New(nil, opts)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func acme() *tenant.Tenant {
	return &tenant.Tenant{
		ID: 7, DBName: "acme", DBUser: "acme_user", DBPassword: "pw",
		DBHost: "db", DBPort: 5432,
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := &fakeOpener{}
	r := newRegistry(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, acme()))
	require.NoError(t, r.Register(ctx, acme()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
	assert.Equal(t, []string{"tenant_7"}, r.Aliases())

	db, err := r.DB("tenant_7")
	require.NoError(t, err)
	assert.Same(t, f.dbs[0], db)
}

func TestRegisterConcurrentFirstTouchOpensOnce(t *testing.T) {
	f := &fakeOpener{}
	r := newRegistry(t, f, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Register(context.Background(), acme()))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterCredentialChangeReplacesPool(t *testing.T) {
	f := &fakeOpener{setup: func(m sqlmock.Sqlmock) { m.ExpectClose() }}
	r := newRegistry(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, acme()))
	rotated := acme()
	rotated.DBPassword = "rotated"
	require.NoError(t, r.Register(ctx, rotated))

	require.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
	assert.NoError(t, f.mocks[0].ExpectationsWereMet(), "old pool must be closed")

	d, ok := r.Descriptor("tenant_7")
	require.True(t, ok)
	assert.Equal(t, "rotated", d.Password)
}

func TestRegisterOpenFailureLeavesNothing(t *testing.T) {
	f := &fakeOpener{fail: errors.New("boom")}
	r := newRegistry(t, f, Options{})

	err := r.Register(context.Background(), acme())
	require.Error(t, err)
	assert.Equal(t, 0, r.Len())

	_, err = r.DB("tenant_7")
	assert.ErrorIs(t, err, ErrUnknownAlias)
}

func TestRegisterRejectsControlAlias(t *testing.T) {
	r := newRegistry(t, &fakeOpener{}, Options{})
	err := r.RegisterDescriptor(context.Background(), Descriptor{Alias: ControlAlias})
	assert.Error(t, err)
}

func TestControlAlias(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	control := sqlx.NewDb(db, "pgx")

	r := New(control, Options{Logger: zap.NewNop()})
	got, err := r.DB(ControlAlias)
	require.NoError(t, err)
	assert.Same(t, control, got)
}

func TestApplyAndReleaseSchema(t *testing.T) {
	f := &fakeOpener{setup: func(m sqlmock.Sqlmock) {
		m.ExpectExec(regexp.QuoteMeta(`SET search_path TO "shop_a", public`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		m.ExpectExec(regexp.QuoteMeta(`RESET search_path`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}}
	r := newRegistry(t, f, Options{})
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, acme()))

	conn, err := r.ApplySchema(ctx, "tenant_7", "shop_a")
	require.NoError(t, err)
	r.ReleaseSchema(conn)

	assert.NoError(t, f.mocks[0].ExpectationsWereMet())
}

func TestApplySchemaRejectsUnsafeName(t *testing.T) {
	f := &fakeOpener{}
	r := newRegistry(t, f, Options{})
	require.NoError(t, r.Register(context.Background(), acme()))

	_, err := r.ApplySchema(context.Background(), "tenant_7", `x"; DROP TABLE t; --`)
	assert.ErrorIs(t, err, tenant.ErrSchemaName)
}

func TestApplySchemaUnknownAlias(t *testing.T) {
	r := newRegistry(t, &fakeOpener{}, Options{})
	_, err := r.ApplySchema(context.Background(), "tenant_99", "shop_a")
	assert.ErrorIs(t, err, ErrUnknownAlias)
}

func TestWithSearchPathRestoresDescriptorOnFailure(t *testing.T) {
	f := &fakeOpener{setup: func(m sqlmock.Sqlmock) { m.ExpectClose() }}
	r := newRegistry(t, f, Options{})
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, acme()))

	fnErr := errors.New("migration failed")
	err := r.WithSearchPath(ctx, "tenant_7", []string{"shop_b", "public"}, func(_ context.Context, db *sqlx.DB) error {
		assert.NotSame(t, f.dbs[0], db)
		return fnErr
	})
	assert.ErrorIs(t, err, fnErr)

	require.Len(t, f.seen, 2)
	scoped := f.seen[1]
	assert.Equal(t, []string{"shop_b", "public"}, scoped.SearchPath)
	assert.Equal(t, 1, scoped.MaxOpenConns)
	assert.Contains(t, scoped.DSN(), "search_path=")

	d, _ := r.Descriptor("tenant_7")
	assert.Empty(t, d.SearchPath)
	assert.NotContains(t, d.DSN(), "search_path")
}

func TestDescriptorCopyIsIndependent(t *testing.T) {
	r := newRegistry(t, &fakeOpener{}, Options{})
	d := FromTenant(acme(), Defaults{}).WithSearchPath("shop_a")
	require.NoError(t, r.RegisterDescriptor(context.Background(), d))

	got, _ := r.Descriptor("tenant_7")
	got.SearchPath[0] = "mutated"

	again, _ := r.Descriptor("tenant_7")
	assert.Equal(t, []string{"shop_a"}, again.SearchPath)
}

func TestEvictOnceIdleAndLRU(t *testing.T) {
	f := &fakeOpener{}
	r := newRegistry(t, f, Options{IdleTTL: time.Minute, MaxEntries: 1})
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		tn := acme()
		tn.ID = id
		require.NoError(t, r.Register(ctx, tn))
	}
	require.Equal(t, 3, r.Len())

	// tenant_1 idle, tenant_2 older than tenant_3.
	r.entries["tenant_1"].lastSeen = time.Now().Add(-2 * time.Minute).UnixNano()
	r.entries["tenant_2"].lastSeen = time.Now().Add(-30 * time.Second).UnixNano()

	r.evictOnce(time.Now())
	assert.Equal(t, []string{"tenant_3"}, r.Aliases())
}

func TestEvictSkipsLockedAlias(t *testing.T) {
	f := &fakeOpener{}
	r := newRegistry(t, f, Options{IdleTTL: time.Second})
	require.NoError(t, r.Register(context.Background(), acme()))
	r.entries["tenant_7"].lastSeen = 0

	release, err := r.Acquire(context.Background(), "tenant_7")
	require.NoError(t, err)
	r.evictOnce(time.Now())
	assert.Equal(t, 1, r.Len())
	release()

	r.evictOnce(time.Now())
	assert.Equal(t, 0, r.Len())
	assert.Zero(t, r.locked())
}

func TestAcquireHonoursContext(t *testing.T) {
	r := newRegistry(t, &fakeOpener{}, Options{})

	release, err := r.Acquire(context.Background(), "tenant_7")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, "tenant_7")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := r.TryAcquire("tenant_7")
	assert.False(t, ok)

	release()
	release()
	again, ok := r.TryAcquire("tenant_7")
	require.True(t, ok)
	again()
}

func TestLockEntriesDoNotAccumulate(t *testing.T) {
	r := newRegistry(t, &fakeOpener{}, Options{IdleTTL: time.Minute})
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, r.Register(context.Background(), &tenant.Tenant{ID: id, DBName: "d", DBHost: "h"}))
	}

	r.evictOnce(time.Now())
	assert.Zero(t, r.locked())

	for _, alias := range r.Aliases() {
		release, err := r.Acquire(context.Background(), alias)
		require.NoError(t, err)
		release()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release, err := r.Acquire(context.Background(), "tenant_1")
	require.NoError(t, err)
	_, err = r.Acquire(ctx, "tenant_1")
	require.Error(t, err)
	release()

	assert.Zero(t, r.locked())
}

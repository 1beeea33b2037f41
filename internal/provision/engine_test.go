// internal/provision/engine_test.go
//
// Provisioning tests with sqlmock pools behind a real Registry.
//
// Run: go test ./internal/provision -v

package provision

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/migrate"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/registry"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

//
// Fakes
//

type plainSealer struct{}

func (plainSealer) Seal(_ context.Context, pt string) (string, error) { return "s:" + pt, nil }
func (plainSealer) Open(_ context.Context, s string) (string, error) {
	return strings.TrimPrefix(s, "s:"), nil
}

// pools hands out sqlmock pools in order: the tenant pool first, then one
// per scoped override.
type pools struct {
	mu    sync.Mutex
	seen  []registry.Descriptor
	mocks []sqlmock.Sqlmock
	setup []func(sqlmock.Sqlmock)
	fail  error
}

func (p *pools) open(_ context.Context, d registry.Descriptor) (*sqlx.DB, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.mocks); n < len(p.setup) && p.setup[n] != nil {
		p.setup[n](mock)
	}
	p.seen = append(p.seen, d)
	p.mocks = append(p.mocks, mock)
	return sqlx.NewDb(db, "pgx"), nil
}

type fakeMigrator struct {
	prepared []string
	plans    []migrate.Plan
	tenants  []*tenant.Tenant
	states   []*tenantctx.State
	allow    map[string]bool
	runErr   error
	result   *migrate.Result
}

func (f *fakeMigrator) Prepare(_ context.Context, _ *sqlx.DB, schema string) error {
	f.prepared = append(f.prepared, schema)
	return nil
}

func (f *fakeMigrator) Run(ctx context.Context, _ *sqlx.DB, p migrate.Plan) (*migrate.Result, error) {
	f.plans = append(f.plans, p)
	f.tenants = append(f.tenants, tenantctx.Tenant(ctx))
	f.states = append(f.states, tenantctx.FromContext(ctx))
	f.allow = map[string]bool{}
	for _, m := range module.NewTable().Names() {
		f.allow[m] = p.Allow(m)
	}
	return f.result, f.runErr
}

type fakeCreator struct {
	created bool
	err     error
	names   []string
}

func (f *fakeCreator) CreateDatabase(_ context.Context, name string) (bool, error) {
	f.names = append(f.names, name)
	return f.created, f.err
}

type harness struct {
	engine  *Engine
	reg     *registry.Registry
	pools   *pools
	mig     *fakeMigrator
	creator *fakeCreator
	control sqlmock.Sqlmock
}

func newHarness(t *testing.T, p *pools) *harness {
	t.Helper()
	cdb, cmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { cdb.Close() })
	control := sqlx.NewDb(cdb, "pgx")

	reg := registry.New(control, registry.Options{Opener: p.open, Logger: zap.NewNop()})
	t.Cleanup(func() { _ = reg.Close() })

	h := &harness{
		reg:     reg,
		pools:   p,
		mig:     &fakeMigrator{result: &migrate.Result{Applied: []int64{1000, 2000, 3100}}},
		creator: &fakeCreator{created: true},
		control: cmock,
	}
	h.engine = New(Options{
		Store:    tenant.NewStore(control, plainSealer{}),
		Registry: reg,
		Migrator: h.mig,
		Creator:  h.creator,
		Tags:     module.NewTable(),
		Defaults: TenantDefaults{Host: "db", Port: 5432, User: "app", Password: "pw"},
		Logger:   zap.NewNop(),
	})
	return h
}

func acme() *tenant.Tenant {
	return &tenant.Tenant{ID: 7, Slug: "acme", DBName: "acme", DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: 5432}
}

func expectSchema(schema string) func(sqlmock.Sqlmock) {
	return func(m sqlmock.Sqlmock) {
		m.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

//
// Shop provisioning
//

func TestProvisionShopRestoresAfterMigrationFailure(t *testing.T) {
	p := &pools{setup: []func(sqlmock.Sqlmock){
		nil,
		func(m sqlmock.Sqlmock) {
			expectSchema("acme_downtown")(m)
			m.ExpectClose()
		},
	}}
	h := newHarness(t, p)
	h.mig.runErr = errors.New("relation already exists")

	ctx := context.Background()
	_, err := h.engine.ProvisionShop(ctx, acme(), &tenant.Shop{TenantID: 7, SchemaName: "acme_downtown"})

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepMigrate, se.Step)
	assert.ErrorIs(t, err, h.mig.runErr)

	// The scoped pool carried the override and was closed.
	require.Len(t, p.seen, 2)
	assert.Equal(t, []string{"acme_downtown", "public"}, p.seen[1].SearchPath)
	assert.NoError(t, p.mocks[1].ExpectationsWereMet())

	// The registered descriptor never saw it.
	d, ok := h.reg.Descriptor("tenant_7")
	require.True(t, ok)
	assert.Empty(t, d.SearchPath)
	assert.NotContains(t, d.DSN(), "search_path")

	// The lock is free again.
	release, ok := h.reg.TryAcquire("tenant_7")
	require.True(t, ok)
	release()

	// The scoped tenant context was cleared.
	require.Len(t, h.mig.states, 1)
	assert.Nil(t, h.mig.states[0].Tenant())
	assert.Empty(t, h.mig.states[0].ShopSchema())
	assert.Nil(t, tenantctx.FromContext(ctx))
	assert.NoError(t, p.mocks[0].ExpectationsWereMet())
}

func TestProvisionShopPlan(t *testing.T) {
	p := &pools{setup: []func(sqlmock.Sqlmock){
		nil,
		func(m sqlmock.Sqlmock) {
			expectSchema("acme_downtown")(m)
			m.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.tables`)).
				WithArgs("acme_downtown", migrate.VersionTable).
				WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
					AddRow("auth_group").AddRow("debtors_debtor"))
			m.ExpectClose()
		},
	}}
	h := newHarness(t, p)

	rep, err := h.engine.ProvisionShop(context.Background(), acme(), &tenant.Shop{SchemaName: "acme_downtown"})
	require.NoError(t, err)

	assert.Equal(t, []string{"acme_downtown"}, h.mig.prepared)
	require.Len(t, h.mig.plans, 1)
	assert.Equal(t, "acme_downtown", h.mig.plans[0].Schema)
	require.NotNil(t, h.mig.tenants[0])
	assert.EqualValues(t, 7, h.mig.tenants[0].ID)

	assert.True(t, h.mig.allow[module.Auth])
	assert.True(t, h.mig.allow[module.ShopUsers])
	assert.True(t, h.mig.allow[module.Debtors])
	assert.False(t, h.mig.allow[module.ShopCore], "tenant-wide tables live in public")
	assert.False(t, h.mig.allow[module.Tenancy])

	assert.Equal(t, []int64{1000, 2000, 3100}, rep.Applied)
	assert.Equal(t, []string{"auth_group", "debtors_debtor"}, rep.Tables)
	assert.NoError(t, p.mocks[1].ExpectationsWereMet())
}

func TestProvisionShopRejectsUnsafeSchema(t *testing.T) {
	h := newHarness(t, &pools{})
	_, err := h.engine.ProvisionShop(context.Background(), acme(), &tenant.Shop{SchemaName: "Bad-Name"})
	assert.ErrorIs(t, err, tenant.ErrSchemaName)
	assert.Empty(t, h.pools.seen)
}

func TestProvisionShopSerializedPerTenant(t *testing.T) {
	h := newHarness(t, &pools{})
	require.NoError(t, h.reg.Register(context.Background(), acme()))

	release, err := h.reg.Acquire(context.Background(), "tenant_7")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.engine.ProvisionShop(context.Background(), acme(), &tenant.Shop{SchemaName: "acme_x"})
	}()

	select {
	case <-done:
		t.Fatal("provisioning ran while the tenant lock was held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	<-done
}

func TestProvisionShopGivesUpWaitingForLock(t *testing.T) {
	h := newHarness(t, &pools{})
	require.NoError(t, h.reg.Register(context.Background(), acme()))

	release, err := h.reg.Acquire(context.Background(), "tenant_7")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.engine.ProvisionShop(ctx, acme(), &tenant.Shop{SchemaName: "acme_x"})

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.mig.plans)
}

func TestProvisionShopWhileRequestHoldsTenantConnection(t *testing.T) {
	p := &pools{setup: []func(sqlmock.Sqlmock){
		nil,
		func(m sqlmock.Sqlmock) {
			expectSchema("acme_x")(m)
			m.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.tables`)).
				WithArgs("acme_x", migrate.VersionTable).
				WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("debtors_debtor"))
			m.ExpectClose()
		},
	}}
	h := newHarness(t, p)
	require.NoError(t, h.reg.Register(context.Background(), acme()))

	// A scoped request owns the only connection of the tenant pool.
	shared, err := h.reg.DB("tenant_7")
	require.NoError(t, err)
	shared.SetMaxOpenConns(1)
	conn, err := shared.Connx(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rep, err := h.engine.ProvisionShop(ctx, acme(), &tenant.Shop{SchemaName: "acme_x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"debtors_debtor"}, rep.Tables)
	assert.NoError(t, p.mocks[1].ExpectationsWereMet())
}

//
// Tenant lifecycle
//

func TestCreateTenantRollsBackWhenDatabaseFails(t *testing.T) {
	h := newHarness(t, &pools{})
	h.creator.err = errors.New("permission denied to create database")

	h.control.ExpectQuery(regexp.QuoteMeta(`INSERT INTO tenancy_tenant`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(9, time.Now()))
	h.control.ExpectExec(regexp.QuoteMeta(`DELETE FROM tenancy_shop WHERE tenant_id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	h.control.ExpectExec(regexp.QuoteMeta(`DELETE FROM tenancy_tenant WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := h.engine.CreateTenant(context.Background(), TenantRequest{Name: "Acme Corp"})

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepCreateDatabase, se.Step)
	assert.Equal(t, []string{"acme_corp"}, h.creator.names)
	assert.NoError(t, h.control.ExpectationsWereMet())
	assert.Equal(t, 0, h.reg.Len())
}

func TestCreateTenantFallbackSlug(t *testing.T) {
	h := newHarness(t, &pools{})
	h.creator.err = errors.New("stop here")

	h.control.ExpectQuery(regexp.QuoteMeta(`INSERT INTO tenancy_tenant`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, time.Now()))
	h.control.ExpectExec(`DELETE FROM tenancy_shop`).WillReturnResult(sqlmock.NewResult(0, 0))
	h.control.ExpectExec(`DELETE FROM tenancy_tenant`).WillReturnResult(sqlmock.NewResult(0, 1))

	_, _ = h.engine.CreateTenant(context.Background(), TenantRequest{Name: "!!!"})

	require.Len(t, h.creator.names, 1)
	assert.Regexp(t, `^tenant_[0-9a-f]{8}$`, h.creator.names[0])
}

func TestHeadOfficeSchema(t *testing.T) {
	assert.Equal(t, "acme_corp_main", HeadOfficeSchema(&tenant.Tenant{ID: 1, Slug: "acme-corp"}))
	assert.Equal(t, "tenant_tenant_4_main", HeadOfficeSchema(&tenant.Tenant{ID: 4}))
	assert.Equal(t, "tenant_tenant_5_main", HeadOfficeSchema(&tenant.Tenant{ID: 5, Slug: "!!!"}))
	assert.NotEqual(t, HeadOfficeSchema(&tenant.Tenant{ID: 4}), HeadOfficeSchema(&tenant.Tenant{ID: 6}))
}

func TestCreateShopKeepsRecordWhenProvisioningFails(t *testing.T) {
	h := newHarness(t, &pools{fail: errors.New("connection refused")})

	h.control.ExpectBegin()
	h.control.ExpectQuery(regexp.QuoteMeta(`INSERT INTO tenancy_shop`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(12, time.Now()))
	h.control.ExpectCommit()

	sh, err := h.engine.CreateShop(context.Background(), acme(), ShopRequest{Name: "Downtown", Subdomain: "downtown"})
	require.NoError(t, err)
	assert.EqualValues(t, 12, sh.ID)
	assert.Equal(t, "acme_downtown", sh.SchemaName)
	assert.NoError(t, h.control.ExpectationsWereMet())
}

func TestBackfillSubdomainsDryRun(t *testing.T) {
	h := newHarness(t, &pools{})
	cols := []string{"id", "tenant_id", "name", "schema_name", "subdomain", "description", "is_head_office", "created_at"}

	h.control.ExpectQuery(regexp.QuoteMeta(`FROM tenancy_shop`)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(5, 7, "Downtown Store!!", "acme_downtown", "", "", false, time.Now()))
	h.control.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM tenancy_shop WHERE tenant_id = $1 AND subdomain = $2 AND id <> $3`)).
		WithArgs(int64(7), "downtown-store", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	got, err := h.engine.BackfillSubdomains(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "downtown-store", got[0].Subdomain)
	assert.False(t, got[0].Applied)
	assert.NoError(t, h.control.ExpectationsWereMet())
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Kind: "shop", Tenant: "acme", Schema: "acme_main", Step: StepCreateSchema, Err: errors.New("boom")}
	assert.Equal(t, "provision shop acme/acme_main: create schema: boom", err.Error())
}

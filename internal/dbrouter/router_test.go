package dbrouter

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/registry"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

type pools map[string]*sqlx.DB

func (p pools) DB(alias string) (*sqlx.DB, error) {
	if db, ok := p[alias]; ok {
		return db, nil
	}
	return nil, registry.ErrUnknownAlias
}

func withTenant(id int64) context.Context {
	ctx, _ := tenantctx.WithTenant(context.Background(), &tenant.Tenant{ID: id}, "")
	return ctx
}

func TestReadWriteRouting(t *testing.T) {
	r := New(nil, module.NewTable())
	bare := context.Background()
	acme := withTenant(7)

	cases := []struct {
		ctx  context.Context
		mod  string
		want string
	}{
		{acme, module.Debtors, "tenant_7"},
		{acme, module.ShopCore, "tenant_7"},
		{acme, module.Auth, "tenant_7"},
		{acme, module.Tenancy, registry.ControlAlias},
		{acme, "unregistered", registry.ControlAlias},
		{bare, module.Debtors, registry.ControlAlias},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, r.DBForRead(c.ctx, c.mod), "read %s", c.mod)
		assert.Equal(t, c.want, r.DBForWrite(c.ctx, c.mod), "write %s", c.mod)
	}
}

func TestAllowMigrate(t *testing.T) {
	r := New(nil, module.NewTable())
	acme := withTenant(7)
	bare := context.Background()

	cases := []struct {
		name string
		ctx  context.Context
		db   string
		mod  string
		want bool
	}{
		{"shop module on control", acme, registry.ControlAlias, module.Debtors, false},
		{"shop module on own tenant", acme, "tenant_7", module.Debtors, true},
		{"shop module on other tenant", acme, "tenant_8", module.Debtors, false},
		{"shop module without tenant", bare, "tenant_7", module.Debtors, false},
		{"tenant module on own tenant", acme, "tenant_7", module.ShopCore, true},
		{"control module on control", acme, registry.ControlAlias, module.Tenancy, true},
		{"control module on tenant", acme, "tenant_7", module.Sessions, false},
		{"cross-schema on control", bare, registry.ControlAlias, module.Auth, true},
		{"cross-schema on own tenant", acme, "tenant_7", module.ShopUsers, true},
		{"cross-schema on other tenant", acme, "tenant_8", module.ShopUsers, false},
		{"unknown module on tenant", acme, "tenant_7", "mystery", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, r.AllowMigrate(c.ctx, c.db, c.mod))
		})
	}
}

func TestQuerierPrefersBoundConn(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	control := sqlx.NewDb(mockDB, "pgx")

	tenantMock, _, err := sqlmock.New()
	require.NoError(t, err)
	defer tenantMock.Close()
	tenantDB := sqlx.NewDb(tenantMock, "pgx")

	r := New(pools{registry.ControlAlias: control, "tenant_7": tenantDB}, module.NewTable())

	ctx, st := tenantctx.WithTenant(context.Background(), &tenant.Tenant{ID: 7}, "shop_a")
	q, err := r.Querier(ctx, module.Debtors)
	require.NoError(t, err)
	assert.Same(t, tenantDB, q)

	conn, err := tenantDB.Connx(ctx)
	require.NoError(t, err)
	st.Bind(conn, func(c *sqlx.Conn) { _ = c.Close() })
	defer st.Clear()

	q, err = r.Querier(ctx, module.Debtors)
	require.NoError(t, err)
	assert.Same(t, conn, q)

	q, err = r.Querier(ctx, module.Tenancy)
	require.NoError(t, err)
	assert.Same(t, control, q)
}

func TestQuerierUnknownAlias(t *testing.T) {
	r := New(pools{}, module.NewTable())
	_, err := r.Querier(withTenant(9), module.Debtors)
	assert.True(t, errors.Is(err, registry.ErrUnknownAlias))
}

type rec struct{ Origin }

func TestRelationSafety(t *testing.T) {
	a, b, c, unknown := rec{}, rec{}, rec{}, rec{}
	a.From("tenant_1")
	b.From("tenant_1")
	c.From("tenant_2")

	assert.True(t, AllowRelation(a, b))
	assert.False(t, AllowRelation(a, c))
	assert.True(t, AllowRelation(a, unknown))
	assert.NoError(t, Relate(a, b))
	assert.ErrorIs(t, Relate(a, c), ErrCrossDatabaseRelation)
}

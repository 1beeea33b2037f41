package provision

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BootCodex/BlueOlive/internal/migrate"
)

var tenantCols = []string{
	"id", "name", "slug", "subdomain", "phone", "email", "db_name", "db_user",
	"db_password", "db_host", "db_port", "created_at", "tenant_control",
}

func TestProvisionAllCollectsFailures(t *testing.T) {
	h := newHarness(t, &pools{fail: errors.New("connection refused")})

	h.control.ExpectQuery(regexp.QuoteMeta(`FROM tenancy_tenant ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(
			7, "Acme", "acme", "acme", "", "", "acme", "u", "s:p", "db", 5432, time.Now(), true))

	sum, err := h.engine.ProvisionAll(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, Summary{Tenants: 1, Failed: 1}, sum)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepRegister, se.Step)
	assert.Equal(t, []string{"acme"}, h.creator.names)
	assert.NoError(t, h.control.ExpectationsWereMet())
}

var shopCols = []string{
	"id", "tenant_id", "name", "schema_name", "subdomain", "description", "is_head_office", "created_at",
}

func scopedShop(schema string) func(sqlmock.Sqlmock) {
	return func(m sqlmock.Sqlmock) {
		expectSchema(schema)(m)
		m.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.tables`)).
			WithArgs(schema, migrate.VersionTable).
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("sales_invoice"))
		m.ExpectClose()
	}
}

func TestProvisionAllMigratesHeadOfficeOnce(t *testing.T) {
	p := &pools{setup: []func(sqlmock.Sqlmock){nil, scopedShop("acme_main"), scopedShop("acme_east")}}
	h := newHarness(t, p)
	now := time.Now()

	h.control.ExpectQuery(regexp.QuoteMeta(`FROM tenancy_tenant ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(
			7, "Acme", "acme", "acme", "", "", "acme", "u", "s:p", "db", 5432, now, true))
	h.control.ExpectQuery(regexp.QuoteMeta(`WHERE tenant_id = $1 AND is_head_office = TRUE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(shopCols).
			AddRow(1, 7, "Main", "acme_main", "main", "", true, now))
	h.control.ExpectQuery(regexp.QuoteMeta(`ORDER BY is_head_office DESC, id`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(shopCols).
			AddRow(1, 7, "Main", "acme_main", "main", "", true, now).
			AddRow(2, 7, "East", "acme_east", "east", "", false, now))

	sum, err := h.engine.ProvisionAll(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Summary{Tenants: 1, Shops: 1}, sum)

	var schemas []string
	for _, pl := range h.mig.plans {
		schemas = append(schemas, pl.Schema)
	}
	assert.Equal(t, []string{"public", "acme_main", "acme_east"}, schemas)
	require.Len(t, p.mocks, 3)
	for _, m := range p.mocks {
		assert.NoError(t, m.ExpectationsWereMet())
	}
	assert.NoError(t, h.control.ExpectationsWereMet())
}

func TestProvisionAllListError(t *testing.T) {
	h := newHarness(t, &pools{})

	h.control.ExpectQuery(regexp.QuoteMeta(`FROM tenancy_tenant ORDER BY id`)).
		WillReturnError(errors.New("control down"))

	sum, err := h.engine.ProvisionAll(context.Background(), 0)
	require.Error(t, err)
	assert.Zero(t, sum)
}

package migrate

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/module"
)

var testSet = fstest.MapFS{
	"00001_tenancy_init.sql":   {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	"01000_auth_init.sql":      {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	"03000_shop_core_init.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
	"03100_debtors_init.sql":   {Data: []byte("-- +goose Up\nSELECT 1;\n")},
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func TestTable(t *testing.T) {
	assert.Equal(t, "goose_db_version", Table(""))
	assert.Equal(t, "shop_a.goose_db_version", Table("shop_a"))
}

func TestEnsureVersionTableCreatesAndSeeds(t *testing.T) {
	db, mock := newMock(t)
	store, err := database.NewStore(database.DialectPostgres, Table("shop_a"))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM pg_tables WHERE schemaname = 'shop_a' AND tablename = 'goose_db_version'`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE shop_a.goose_db_version`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO shop_a.goose_db_version (version_id, is_applied) VALUES ($1, $2)`)).
		WithArgs(int64(0), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, EnsureVersionTable(context.Background(), store, db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureVersionTableExisting(t *testing.T) {
	db, mock := newMock(t)
	store, err := database.NewStore(database.DialectPostgres, Table("shop_a"))
	require.NoError(t, err)

	mock.ExpectQuery(`FROM pg_tables`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, EnsureVersionTable(context.Background(), store, db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPremarkSkipsAllowedAndRecorded(t *testing.T) {
	r, err := NewRunner(testSet, database.DialectPostgres, module.NewTable(), zap.NewNop())
	require.NoError(t, err)

	db, mock := newMock(t)
	store, err := database.NewStore(database.DialectPostgres, Table("shop_a"))
	require.NoError(t, err)

	// Control version 1 is already recorded; shop_core 3000 must be marked.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version_id, is_applied from shop_a.goose_db_version`)).
		WillReturnRows(sqlmock.NewRows([]string{"version_id", "is_applied"}).
			AddRow(int64(1), true).
			AddRow(int64(0), true))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO shop_a.goose_db_version`)).
		WithArgs(int64(3000), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tags := module.NewTable()
	plan := Plan{Schema: "shop_a", Allow: func(mod string) bool {
		tag := tags.Tag(mod)
		return tag == module.Shop || tag == module.CrossSchema
	}}
	marked, err := r.premark(context.Background(), store, db, plan)
	require.NoError(t, err)
	assert.Equal(t, []int64{3000}, marked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTablesListsBaseTables(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.tables`)).
		WithArgs("shop_a", VersionTable).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("auth_group").
			AddRow("debtors_debtor"))

	got, err := Tables(context.Background(), db, "shop_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth_group", "debtors_debtor"}, got)
}

package database

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPasswordPgx(t *testing.T) {
	got, err := WithPassword(DriverPgx, "postgres://blue@db:5432/control?sslmode=disable", "p@ss/word")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	pw, _ := u.User.Password()
	assert.Equal(t, "blue", u.User.Username())
	assert.Equal(t, "p@ss/word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))

	_, err = WithPassword(DriverPgx, "host=db user=blue", "x")
	assert.Error(t, err)
}

func TestWithPasswordMySQL(t *testing.T) {
	got, err := WithPassword(DriverMySQL, "blue@tcp(127.0.0.1:3306)/control?parseTime=true", "secret")
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(got)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "control", cfg.DBName)
	assert.True(t, cfg.ParseTime)
}

func TestWithPasswordEmptyIsNoop(t *testing.T) {
	got, err := WithPassword("anything", "dsn", "")
	require.NoError(t, err)
	assert.Equal(t, "dsn", got)
}

func TestPostgresURL(t *testing.T) {
	dsn := PostgresURL("db", 5432, "acme", "acme_user", "pw", url.Values{"search_path": {`"acme_main",public`}})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/acme", u.Path)
	assert.Equal(t, `"acme_main",public`, u.Query().Get("search_path"))
}

func TestErrorClassification(t *testing.T) {
	dupDB := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "42P04"})
	assert.True(t, IsDuplicateDatabase(dupDB))
	assert.False(t, IsDuplicateSchema(dupDB))

	assert.True(t, IsDuplicateSchema(&pgconn.PgError{Code: "42P06"}))
	assert.True(t, IsUndefinedTable(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicateDatabase(&mysql.MySQLError{Number: 1007}))
	assert.False(t, IsUniqueViolation(fmt.Errorf("plain")))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsForeignKeyViolation(&mysql.MySQLError{Number: 1451}))
	assert.False(t, IsForeignKeyViolation(nil))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"acme_main"`, QuoteIdent("acme_main"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

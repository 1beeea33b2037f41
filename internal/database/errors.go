// internal/database/errors.go
//
// Driver error classification.  Provisioning treats "already exists" as
// success, and the directory maps unique violations to friendly errors, so
// the codes are checked in one place for both drivers.

package database

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes.
const (
	pgDuplicateDatabase = "42P04"
	pgDuplicateSchema   = "42P06"
	pgUndefinedTable    = "42P01"
	pgUniqueViolation   = "23505"
	pgForeignKey        = "23503"
)

// MySQL error numbers.
const (
	myDuplicateEntry    = 1062
	myDuplicateDatabase = 1007
	myRowIsReferenced   = 1451
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func myNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

// IsDuplicateDatabase reports a CREATE DATABASE on an existing name.
func IsDuplicateDatabase(err error) bool {
	return pgCode(err) == pgDuplicateDatabase || myNumber(err) == myDuplicateDatabase
}

// IsDuplicateSchema reports a CREATE SCHEMA on an existing name.
func IsDuplicateSchema(err error) bool {
	return pgCode(err) == pgDuplicateSchema
}

// IsUndefinedTable reports a reference to a missing relation.
func IsUndefinedTable(err error) bool {
	return pgCode(err) == pgUndefinedTable
}

// IsUniqueViolation reports a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation || myNumber(err) == myDuplicateEntry
}

// IsForeignKeyViolation reports a delete or update blocked by a reference.
func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == pgForeignKey || myNumber(err) == myRowIsReferenced
}

// QuoteIdent quotes a PostgreSQL identifier.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

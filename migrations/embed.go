// Package migrations embeds the goose SQL of every module.
//
// File names are <version>_<module>_<description>.sql.  Version bands keep
// dependency order across modules:
//
//	1-999      control modules (tenancy, sessions, admin, contenttypes)
//	1000-1999  auth
//	2000-2999  shop_users
//	3000-3099  shop_core
//	3100+      shop modules
//
// The mysql/ directory holds the control-plane set for a MySQL control
// database.  Tenant databases are always PostgreSQL.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql mysql/*.sql
var files embed.FS

// Postgres returns the PostgreSQL migration set.
func Postgres() fs.FS { return files }

// MySQL returns the MySQL control-plane migration set.
func MySQL() fs.FS {
	sub, err := fs.Sub(files, "mysql")
	if err != nil {
		panic(err)
	}
	return sub
}

// internal/registry/descriptor.go
//
// Connection descriptor: everything needed to open one tenant pool.
//
// A Descriptor is a value.  Copies never share the SearchPath slice, so
// a scoped override can never leak back into the registry's copy.

package registry

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// Defaults are stamped onto every descriptor built from a tenant.
type Defaults struct {
	Driver          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Descriptor describes one registered connection.
type Descriptor struct {
	Alias           string
	Driver          string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	SearchPath      []string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// FromTenant builds the descriptor for t.
func FromTenant(t *tenant.Tenant, def Defaults) Descriptor {
	driver := def.Driver
	if driver == "" {
		driver = database.DriverPgx
	}
	return Descriptor{
		Alias:           t.Alias(),
		Driver:          driver,
		Host:            t.DBHost,
		Port:            t.DBPort,
		Database:        t.DBName,
		User:            t.DBUser,
		Password:        t.DBPassword,
		SSLMode:         def.SSLMode,
		MaxOpenConns:    def.MaxOpenConns,
		MaxIdleConns:    def.MaxIdleConns,
		ConnMaxLifetime: def.ConnMaxLifetime,
	}
}

// DSN renders the pgx connection URL.  A non-empty SearchPath is sent as
// the search_path run-time parameter, so every connection of the pool
// starts with it.
func (d Descriptor) DSN() string {
	params := url.Values{}
	if d.SSLMode != "" {
		params.Set("sslmode", d.SSLMode)
	}
	if len(d.SearchPath) > 0 {
		params.Set("search_path", SearchPathValue(d.SearchPath...))
	}
	return database.PostgresURL(d.Host, d.Port, d.Database, d.User, d.Password, params)
}

// WithSearchPath returns a copy of d whose pool defaults to schemas.
func (d Descriptor) WithSearchPath(schemas ...string) Descriptor {
	d.SearchPath = slices.Clone(schemas)
	return d
}

// Equal reports whether d and o would open identical pools.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Alias == o.Alias &&
		d.Driver == o.Driver &&
		d.Host == o.Host &&
		d.Port == o.Port &&
		d.Database == o.Database &&
		d.User == o.User &&
		d.Password == o.Password &&
		d.SSLMode == o.SSLMode &&
		slices.Equal(d.SearchPath, o.SearchPath) &&
		d.MaxOpenConns == o.MaxOpenConns &&
		d.MaxIdleConns == o.MaxIdleConns &&
		d.ConnMaxLifetime == o.ConnMaxLifetime
}

// SearchPathValue renders schemas as a quoted search_path list.
func SearchPathValue(schemas ...string) string {
	q := make([]string, len(schemas))
	for i, s := range schemas {
		q[i] = database.QuoteIdent(s)
	}
	return strings.Join(q, ", ")
}

// Redacted returns d with the password masked, for logs.
func (d Descriptor) Redacted() Descriptor {
	if d.Password != "" {
		d.Password = "***"
	}
	return d
}

// internal/tenant/model.go
//
// Control-plane records: Tenant and Shop.
//
// Context
// -------
// A Tenant is one customer organisation with its own physical database.  A
// Shop is a sub-unit of a tenant whose data lives in one schema inside that
// database.  Both rows live only in the control database and are never
// tenant-routed themselves.
//
// Notes
// -----
//   - `Alias` derives from the immutable ID, never from name or subdomain,
//     so it is stable for the tenant's lifetime.
//   - DBPassword holds plaintext only in memory.  The Store seals it on
//     write and opens it on read.
package tenant

import (
	"errors"
	"strconv"
	"time"
)

// AliasPrefix prefixes every tenant connection alias.
const AliasPrefix = "tenant_"

var (
	// ErrNotFound is returned when no tenant or shop matches a lookup.
	ErrNotFound = errors.New("tenant: not found")
	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("tenant: duplicate name, slug, subdomain, or schema")
	// ErrSchemaName is returned for a schema name that is not a safe identifier.
	ErrSchemaName = errors.New("tenant: invalid schema name")
)

// Tenant is one row of tenancy_tenant.
type Tenant struct {
	ID         int64     `db:"id"             json:"id"`
	Name       string    `db:"name"           json:"name"`
	Slug       string    `db:"slug"           json:"slug"`
	Subdomain  string    `db:"subdomain"      json:"subdomain"`
	Phone      string    `db:"phone"          json:"phone"`
	Email      string    `db:"email"          json:"email"`
	DBName     string    `db:"db_name"        json:"db_name"`
	DBUser     string    `db:"db_user"        json:"-"`
	DBPassword string    `db:"db_password"    json:"-"`
	DBHost     string    `db:"db_host"        json:"-"`
	DBPort     int       `db:"db_port"        json:"-"`
	CreatedAt  time.Time `db:"created_at"     json:"created_at"`
	Control    bool      `db:"tenant_control" json:"-"`
}

// Alias is the connection-registry key for t.
func (t *Tenant) Alias() string { return AliasFor(t.ID) }

// AliasFor returns the alias for a tenant ID.
func AliasFor(id int64) string { return AliasPrefix + strconv.FormatInt(id, 10) }

// Shop is one row of tenancy_shop.
type Shop struct {
	ID           int64     `db:"id"             json:"id"`
	TenantID     int64     `db:"tenant_id"      json:"tenant_id"`
	Name         string    `db:"name"           json:"name"`
	SchemaName   string    `db:"schema_name"    json:"schema_name"`
	Subdomain    string    `db:"subdomain"      json:"subdomain"`
	Description  string    `db:"description"    json:"description"`
	IsHeadOffice bool      `db:"is_head_office" json:"is_head_office"`
	CreatedAt    time.Time `db:"created_at"     json:"created_at"`
}

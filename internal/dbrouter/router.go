// internal/dbrouter/router.go
//
// Database router: which database a module's data lives in.
//
// Context
// -------
// Business code never names a database.  It asks the router for a Querier
// for its module, and the router answers from two inputs: the module's tag
// (internal/module) and the tenant bound to the request context
// (internal/tenantctx).
//
// Rules
// -----
//   - Read/write: Control modules always go to the control alias.  Every
//     other module goes to the context tenant's alias, or to control when
//     no tenant is bound.
//   - Migrate:
//     Control      → control only
//     Tenant/Shop  → only the context tenant's alias, exact match
//     CrossSchema  → control, or the context tenant's alias
//   - Relations between records loaded from different aliases are refused.
//
// Notes
// -----
//   - AllowMigrate never consults the registry.  An alias that is not bound
//     to the context is refused even if it is registered.
package dbrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/registry"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

// ErrCrossDatabaseRelation is returned by Relate for records of two aliases.
var ErrCrossDatabaseRelation = errors.New("dbrouter: relation across databases")

// Querier is the query surface shared by *sqlx.DB and *sqlx.Conn.
type Querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(query string) string
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Pools resolves an alias to its pool.  *registry.Registry implements it.
type Pools interface {
	DB(alias string) (*sqlx.DB, error)
}

// Router is stateless apart from its collaborators and safe for
// concurrent use.
type Router struct {
	pools Pools
	tags  *module.Table
}

// New returns a Router.  A nil table means module.Default().
func New(pools Pools, tags *module.Table) *Router {
	if tags == nil {
		tags = module.Default()
	}
	return &Router{pools: pools, tags: tags}
}

// tenantAlias returns the alias of the tenant bound to ctx, or "".
func tenantAlias(ctx context.Context) string {
	if t := tenantctx.Tenant(ctx); t != nil {
		return t.Alias()
	}
	return ""
}

// DBForRead returns the alias module reads from.
func (r *Router) DBForRead(ctx context.Context, mod string) string {
	return r.route(ctx, mod)
}

// DBForWrite returns the alias module writes to.
func (r *Router) DBForWrite(ctx context.Context, mod string) string {
	return r.route(ctx, mod)
}

func (r *Router) route(ctx context.Context, mod string) string {
	if r.tags.Tag(mod) == module.Control {
		return registry.ControlAlias
	}
	if a := tenantAlias(ctx); a != "" {
		return a
	}
	return registry.ControlAlias
}

// AllowMigrate reports whether module's migrations may run against db.
func (r *Router) AllowMigrate(ctx context.Context, db, mod string) bool {
	current := tenantAlias(ctx)
	switch r.tags.Tag(mod) {
	case module.Tenant, module.Shop:
		return current != "" && db == current
	case module.CrossSchema:
		return db == registry.ControlAlias || (current != "" && db == current)
	default:
		return db == registry.ControlAlias
	}
}

// Querier returns where module's statements should run.  Tenant-routed
// modules use the request's schema-bound connection when one is bound.
func (r *Router) Querier(ctx context.Context, mod string) (Querier, error) {
	alias := r.route(ctx, mod)
	if alias != registry.ControlAlias {
		if c := tenantctx.Conn(ctx); c != nil {
			return c, nil
		}
	}
	db, err := r.pools.DB(alias)
	if err != nil {
		return nil, fmt.Errorf("dbrouter: %s: %w", mod, err)
	}
	return db, nil
}

// Control returns the control pool, whatever the context holds.
func (r *Router) Control() (Querier, error) {
	db, err := r.pools.DB(registry.ControlAlias)
	if err != nil {
		return nil, fmt.Errorf("dbrouter: control: %w", err)
	}
	return db, nil
}

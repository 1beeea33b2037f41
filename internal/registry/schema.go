// internal/registry/schema.go
//
// Search-path binding and scoped overrides.
//
// Context
// -------
// A search_path set with SET lives on one server session, and a pool hands
// out many sessions.  ApplySchema therefore checks out a dedicated
// connection, sets the path on it, and gives it to the caller for the rest
// of the request.  ReleaseSchema resets the path before the connection
// returns to the pool, and discards it when the reset fails, so a shop's
// path can never leak into another request.
//
// Provisioning needs every connection of a migration run to default to the
// new schema.  WithSearchPath builds a copy of the tenant's descriptor with
// the override, opens a one-connection pool for it, and closes the pool
// when the callback returns, whatever happened inside.  The registered
// descriptor is never touched.

package registry

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// PublicSchema is the shared fallback schema of every tenant database.
const PublicSchema = "public"

const releaseTimeout = 5 * time.Second

// SearchPathSQL returns the SET statement that prefers schema over public.
func SearchPathSQL(schema string) string {
	if schema == PublicSchema {
		return `SET search_path TO public`
	}
	return `SET search_path TO ` + database.QuoteIdent(schema) + `, public`
}

// ApplySchema checks out a connection from alias's pool and points its
// search_path at schema.  The caller must hand it back with ReleaseSchema.
func (r *Registry) ApplySchema(ctx context.Context, alias, schema string) (*sqlx.Conn, error) {
	if !tenant.ValidSchemaName(schema) {
		return nil, fmt.Errorf("%w: %q", tenant.ErrSchemaName, schema)
	}
	db, err := r.DB(alias)
	if err != nil {
		return nil, err
	}
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: checkout %s: %w", alias, err)
	}
	if _, err := conn.ExecContext(ctx, SearchPathSQL(schema)); err != nil {
		discard(conn)
		return nil, fmt.Errorf("registry: set search_path %s on %s: %w", schema, alias, err)
	}
	r.log.Debug("search_path applied",
		zap.String(logger.FieldAlias, alias),
		zap.String(logger.FieldSchema, schema),
	)
	return conn, nil
}

// ReleaseSchema resets conn's search_path and returns it to its pool.
func (r *Registry) ReleaseSchema(conn *sqlx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := conn.ExecContext(ctx, `RESET search_path`); err != nil {
		r.log.Warn("search_path reset failed, discarding connection", zap.Error(err))
		discard(conn)
		return
	}
	_ = conn.Close()
}

// discard closes conn's session instead of returning it to the pool.
func discard(conn *sqlx.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

// WithSearchPath runs fn against a dedicated pool for alias whose sessions
// default to schemas.  The pool is closed when fn returns.  Callers that
// provision should hold Acquire(ctx, alias) around the call.
func (r *Registry) WithSearchPath(ctx context.Context, alias string, schemas []string, fn func(context.Context, *sqlx.DB) error) (err error) {
	base, ok := r.Descriptor(alias)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
	}
	for _, s := range schemas {
		if !tenant.ValidSchemaName(s) {
			return fmt.Errorf("%w: %q", tenant.ErrSchemaName, s)
		}
	}

	scoped := base.WithSearchPath(schemas...)
	scoped.MaxOpenConns, scoped.MaxIdleConns = 1, 1

	db, err := r.opts.Opener(ctx, scoped)
	if err != nil {
		return fmt.Errorf("registry: open scoped %s: %w", alias, err)
	}
	defer func() {
		err = multierr.Append(err, db.Close())
		r.log.Debug("scoped search_path released",
			zap.String(logger.FieldAlias, alias),
			zap.Strings(logger.FieldSchema, schemas),
		)
	}()

	return fn(ctx, db)
}

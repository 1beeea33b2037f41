// internal/tenantctx/tenantctx.go
//
// Request-scoped tenant state.
//
// Context
// -------
// Every tenant-scoped request carries one *State in its context.Context.
// The middleware creates it, fills in the tenant and shop schema, binds a
// dedicated schema-scoped connection, and clears it in a defer once the
// handler returns.  Data-access code reads it through the package helpers:
//
//	t := tenantctx.Tenant(ctx)        // *tenant.Tenant or nil
//	s := tenantctx.ShopSchema(ctx)    // "" when unset
//	c := tenantctx.Conn(ctx)          // schema-bound *sqlx.Conn or nil
//
// Each request owns its State, so concurrent requests never observe each
// other.  The mutex covers handlers that fan work out to goroutines inside
// one request.
//
// Notes
// -----
//   - Clear releases the bound connection exactly once.
//   - A State is never reused after Clear.
package tenantctx

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// stateKey is unexported to avoid context-key collisions.
type stateKey struct{}

// State is the mutable tenant context of one request or job.
type State struct {
	mu      sync.RWMutex
	tenant  *tenant.Tenant
	schema  string
	conn    *sqlx.Conn
	release func(*sqlx.Conn)
}

// New attaches a fresh State to ctx.
func New(ctx context.Context) (context.Context, *State) {
	s := &State{}
	return context.WithValue(ctx, stateKey{}, s), s
}

// WithTenant attaches a fresh State already holding t and schema.  It is the
// scoped form used by provisioning and the admin CLI.
func WithTenant(ctx context.Context, t *tenant.Tenant, schema string) (context.Context, *State) {
	ctx, s := New(ctx)
	s.SetTenant(t)
	s.SetShopSchema(schema)
	return ctx, s
}

// FromContext returns the State attached to ctx, or nil.
func FromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}

// Tenant returns the current tenant, or nil.
func Tenant(ctx context.Context) *tenant.Tenant {
	if s := FromContext(ctx); s != nil {
		return s.Tenant()
	}
	return nil
}

// ShopSchema returns the current shop schema, or "".
func ShopSchema(ctx context.Context) string {
	if s := FromContext(ctx); s != nil {
		return s.ShopSchema()
	}
	return ""
}

// Conn returns the schema-bound connection, or nil.
func Conn(ctx context.Context) *sqlx.Conn {
	if s := FromContext(ctx); s != nil {
		return s.Conn()
	}
	return nil
}

// Tenant returns the tenant held by s.
func (s *State) Tenant() *tenant.Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant
}

// ShopSchema returns the shop schema held by s.
func (s *State) ShopSchema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// Conn returns the connection bound to s.
func (s *State) Conn() *sqlx.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// SetTenant stores t.
func (s *State) SetTenant(t *tenant.Tenant) {
	s.mu.Lock()
	s.tenant = t
	s.mu.Unlock()
}

// SetShopSchema stores schema.
func (s *State) SetShopSchema(schema string) {
	s.mu.Lock()
	s.schema = schema
	s.mu.Unlock()
}

// Bind attaches a schema-bound connection and the function that gives it
// back.  A previously bound connection is released first.
func (s *State) Bind(c *sqlx.Conn, release func(*sqlx.Conn)) {
	s.mu.Lock()
	prev, prevRelease := s.conn, s.release
	s.conn, s.release = c, release
	s.mu.Unlock()

	if prev != nil && prevRelease != nil {
		prevRelease(prev)
	}
}

// Clear drops tenant, schema, and connection, releasing the connection.
func (s *State) Clear() {
	s.mu.Lock()
	c, release := s.conn, s.release
	s.tenant, s.schema, s.conn, s.release = nil, "", nil, nil
	s.mu.Unlock()

	if c != nil && release != nil {
		release(c)
	}
}

// Empty reports whether s holds nothing.
func (s *State) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant == nil && s.schema == "" && s.conn == nil
}

// internal/middleware/tenant.go
//
// Request scoping: host → tenant → shop schema → bound connection.
//
// Context
// -------
// Every request that is not on a public path runs this state machine:
//
//  1. Public path (and not a login path)?  Serve with an empty state.
//  2. Resolve (tenant, shop) subdomains from Host.  The tenant header wins
//     over the host.
//  3. No tenant key → 403 "tenant not specified".
//  4. Directory lookup on the control database.  Miss → 403 "invalid tenant".
//  5. Store the tenant, make sure its pool is registered.  A signed-in
//     regular user of another tenant is dropped to anonymous; superusers
//     pass everywhere.
//  6. Pick the shop schema: principal's shop, shop header, shop subdomain,
//     head office, fallback.  A shop-subdomain miss is logged and falls
//     through.
//  7. Check out a connection with search_path set to the schema and bind it
//     to the request state.
//  8. Serve, then clear the state in a defer.
//
// Rejections happen before anything is stored, so a rejected request never
// leaves tenant context behind.
//
// Notes
// -----
//   - `/` is public only as an exact match.
//   - Login paths are always scoped, even under a public prefix.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/config"
	"github.com/BootCodex/BlueOlive/internal/host"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/metrics"
	"github.com/BootCodex/BlueOlive/internal/requestinfo"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

// Rejection reasons, written as the 403 body.
const (
	ReasonUnspecified = "tenant not specified"
	ReasonInvalid     = "invalid tenant"
)

// Shop schema sources, as counted in metrics.
const (
	SourcePrincipal  = "principal"
	SourceHeader     = "header"
	SourceSubdomain  = "subdomain"
	SourceHeadOffice = "head_office"
	SourceFallback   = "fallback"
)

// Directory is the control-plane lookup used by Scoper.  *tenant.Store
// implements it.
type Directory interface {
	Lookup(ctx context.Context, field, key string) (*tenant.Tenant, error)
	ShopBySubdomain(ctx context.Context, tenantID int64, subdomain string) (*tenant.Shop, error)
	HeadOffice(ctx context.Context, tenantID int64) (*tenant.Shop, error)
}

// Connections is the registry surface used by Scoper.  *registry.Registry
// implements it.
type Connections interface {
	Register(ctx context.Context, t *tenant.Tenant) error
	ApplySchema(ctx context.Context, alias, schema string) (*sqlx.Conn, error)
	ReleaseSchema(conn *sqlx.Conn)
}

// ScopeOptions configures a Scoper.
type ScopeOptions struct {
	DevMarker      string
	LookupField    string
	PublicPaths    []string
	LoginPaths     []string
	FallbackSchema string
	TenantHeader   string
	ShopHeader     string
	Logger         *zap.Logger
}

// ScopeOptionsFrom maps the tenancy config section.
func ScopeOptionsFrom(c config.Tenancy) ScopeOptions {
	return ScopeOptions{
		DevMarker:      c.DevMarker,
		LookupField:    c.LookupField,
		PublicPaths:    c.PublicPaths,
		LoginPaths:     c.LoginPaths,
		FallbackSchema: c.FallbackSchema,
		TenantHeader:   c.TenantHeader,
		ShopHeader:     c.ShopHeader,
	}
}

// Scoper is the request-scoping middleware.
type Scoper struct {
	dir  Directory
	regs Connections
	o    ScopeOptions
	log  *zap.Logger
}

// NewScoper returns a Scoper.  Blank options take the config defaults.
func NewScoper(dir Directory, regs Connections, o ScopeOptions) *Scoper {
	if o.LookupField == "" {
		o.LookupField = tenant.BySubdomain
	}
	if o.FallbackSchema == "" {
		o.FallbackSchema = "public"
	}
	if o.TenantHeader == "" {
		o.TenantHeader = "X-Tenant"
	}
	if o.ShopHeader == "" {
		o.ShopHeader = "X-Shop-Schema"
	}
	if o.PublicPaths == nil {
		o.PublicPaths = config.DefaultPublicPaths
	}
	if o.LoginPaths == nil {
		o.LoginPaths = config.DefaultLoginPaths
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return &Scoper{dir: dir, regs: regs, o: o, log: o.Logger.Named("scope")}
}

// Public reports whether path bypasses tenant scoping.
func (s *Scoper) Public(path string) bool {
	for _, p := range s.o.LoginPaths {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	if path == "/" {
		return true
	}
	for _, p := range s.o.PublicPaths {
		if p != "/" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Handler wraps next with request scoping.
func (s *Scoper) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, st := tenantctx.New(r.Context())
		defer st.Clear()
		r = r.WithContext(ctx)

		// 1. bypass
		if s.Public(r.URL.Path) {
			metrics.TenantResolutionTotal.WithLabelValues("public").Inc()
			next.ServeHTTP(w, r)
			return
		}

		// 2-3. tenant key
		tenantSub, shopSub := host.Resolve(r.Host, s.o.DevMarker)
		key := strings.ToLower(strings.TrimSpace(r.Header.Get(s.o.TenantHeader)))
		if key == "" {
			key = tenantSub
		}
		if key == "" {
			s.reject(w, r, http.StatusForbidden, "unspecified", ReasonUnspecified)
			return
		}

		// 4. directory
		t, err := s.dir.Lookup(ctx, s.o.LookupField, key)
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			s.reject(w, r, http.StatusForbidden, "unknown", ReasonInvalid, zap.String("key", key))
			return
		case err != nil:
			s.fail(w, r, "tenant lookup failed", err)
			return
		}
		log := s.log.With(zap.String(logger.FieldTenant, t.Slug), zap.String(logger.FieldPath, r.URL.Path))

		// 5. tenant + pool
		st.SetTenant(t)
		if err := s.regs.Register(ctx, t); err != nil {
			s.fail(w, r, "tenant connection unavailable", err)
			return
		}
		if p := auth.FromContext(ctx); p.Authenticated() && !p.IsSuperuser && p.TenantID != t.ID {
			log.Warn("principal of another tenant dropped",
				zap.Int64("user_id", p.UserID), zap.Int64("principal_tenant", p.TenantID))
			metrics.TenantResolutionTotal.WithLabelValues("foreign_principal").Inc()
			ctx = auth.WithPrincipal(ctx, nil)
			r = r.WithContext(ctx)
		}

		// 6. shop schema
		schema, source := s.shopSchema(r, t, shopSub, log)
		st.SetShopSchema(schema)
		metrics.ShopSchemaSourceTotal.WithLabelValues(source).Inc()

		// 7. bind
		conn, err := s.regs.ApplySchema(ctx, t.Alias(), schema)
		if err != nil {
			s.fail(w, r, "search_path not applied", err)
			return
		}
		st.Bind(conn, s.regs.ReleaseSchema)

		metrics.TenantResolutionTotal.WithLabelValues("resolved").Inc()
		log.Debug("request scoped", zap.String(logger.FieldSchema, schema), zap.String("source", source))

		// 8. serve; the deferred Clear releases the connection.
		next.ServeHTTP(w, r)
	})
}

// shopSchema applies the priority rules and names the rule that matched.
func (s *Scoper) shopSchema(r *http.Request, t *tenant.Tenant, shopSub string, log *zap.Logger) (string, string) {
	ctx := r.Context()

	if p := auth.FromContext(ctx); p.Authenticated() && p.ShopSchema != "" && p.TenantID == t.ID {
		return p.ShopSchema, SourcePrincipal
	}

	if h := strings.TrimSpace(r.Header.Get(s.o.ShopHeader)); h != "" {
		if tenant.ValidSchemaName(h) {
			return h, SourceHeader
		}
		log.Warn("ignoring unsafe shop schema header", zap.String("value", h))
	}

	if shopSub != "" {
		sh, err := s.dir.ShopBySubdomain(ctx, t.ID, shopSub)
		if err == nil {
			return sh.SchemaName, SourceSubdomain
		}
		log.Info("shop subdomain not resolved, using head office",
			zap.String(logger.FieldShop, shopSub), zap.Error(err))
	}

	if ho, err := s.dir.HeadOffice(ctx, t.ID); err == nil {
		return ho.SchemaName, SourceHeadOffice
	} else if !errors.Is(err, tenant.ErrNotFound) {
		log.Warn("head office lookup failed", zap.Error(err))
	}

	return s.o.FallbackSchema, SourceFallback
}

// reject writes a short client-visible reason.
func (s *Scoper) reject(w http.ResponseWriter, r *http.Request, status int, outcome, reason string, fields ...zap.Field) {
	metrics.TenantResolutionTotal.WithLabelValues(outcome).Inc()
	info := requestinfo.For(r)
	s.log.Info("request rejected", append([]zap.Field{
		zap.String("reason", reason),
		zap.String("host", r.Host),
		zap.String(logger.FieldPath, r.URL.Path),
		zap.Stringer("ip", info.Geo.IP),
		zap.Bool("bot", info.UA.IsBot),
	}, fields...)...)
	http.Error(w, reason, status)
}

// fail answers 503 for infrastructure errors after a successful lookup.
func (s *Scoper) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	metrics.TenantResolutionTotal.WithLabelValues("error").Inc()
	s.log.Error(msg,
		zap.String("host", r.Host),
		zap.String(logger.FieldPath, r.URL.Path),
		zap.Error(err),
	)
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

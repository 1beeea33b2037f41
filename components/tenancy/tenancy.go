// components/tenancy/tenancy.go
//
// Tenancy component – tenant directory and shop endpoints.
//
// Context
// -------
// Routes (all JSON):
//
//	GET  /api/tenants/         staff        list tenants
//	POST /api/tenants/         public       sign up: tenant + database + admin
//	GET  /api/tenants/{id}/    staff        one tenant
//	GET  /api/current_tenant/  public       tenant named by X-Tenant or host
//	GET  /api/tenant_shops/    scoped       id and name of the tenant's shops
//	GET  /api/shops/           scoped+auth  shops of the scoped tenant
//	POST /api/shops/           scoped+auth  create and provision a shop
//	GET  /api/shops/{id}/      scoped+auth  one shop of the scoped tenant
//
// Notes
// -----
//   - /api/tenants/ and /api/current_tenant/ sit under public paths, so no
//     tenant is bound there and the handlers read the control database only.
//   - Credentials never leave the server; Tenant's json tags hide them.
package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BootCodex/BlueOlive/internal/acl"
	"github.com/BootCodex/BlueOlive/internal/component"
	"github.com/BootCodex/BlueOlive/internal/config"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/provision"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// Compile-time assertions.
var (
	_ component.Component   = (*Component)(nil)
	_ component.Initializer = (*Component)(nil)
)

// Directory is the part of *tenant.Store the handlers read.
type Directory interface {
	Tenants(ctx context.Context) ([]*tenant.Tenant, error)
	TenantByID(ctx context.Context, id int64) (*tenant.Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	ShopByID(ctx context.Context, id int64) (*tenant.Shop, error)
	ShopByName(ctx context.Context, name string) (*tenant.Shop, error)
	ShopsByTenant(ctx context.Context, tenantID int64) ([]*tenant.Shop, error)
}

// Provisioner is the part of *provision.Engine the handlers drive.
type Provisioner interface {
	CreateTenant(ctx context.Context, req provision.TenantRequest) (*tenant.Tenant, error)
	CreateShop(ctx context.Context, t *tenant.Tenant, req provision.ShopRequest) (*tenant.Shop, error)
}

// Component serves the tenancy API.
type Component struct {
	dir          Directory
	prov         Provisioner
	devMarker    string
	tenantHeader string
}

// New is used by tests and by Init.
func New(dir Directory, prov Provisioner, t config.Tenancy) *Component {
	c := &Component{dir: dir, prov: prov, devMarker: t.DevMarker, tenantHeader: t.TenantHeader}
	if c.tenantHeader == "" {
		c.tenantHeader = "X-Tenant"
	}
	return c
}

/*────────────────── component.Component methods ───────────────────────────*/

// Name returns the canonical component key.
func (c *Component) Name() string { return "tenancy" }

// Modules declares the control-plane tables this component owns.
func (c *Component) Modules() map[string]module.Tag {
	return map[string]module.Tag{module.Tenancy: module.Control}
}

// Init wires the shared services.
func (c *Component) Init(d component.Deps) error {
	if d.Tenants == nil || d.Provision == nil {
		return errors.New("tenancy: directory and provisioning engine are required")
	}
	var t config.Tenancy
	if d.Config != nil {
		t = d.Config.Tenancy
	}
	*c = *New(d.Tenants, d.Provision, t)
	return nil
}

// Routes builds the component router.
func (c *Component) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(acl.RequireStaff).Get("/api/tenants/", c.listTenants)
	r.Post("/api/tenants/", c.createTenant)
	r.With(acl.RequireStaff).Get("/api/tenants/{id}/", c.getTenant)
	r.Get("/api/current_tenant/", c.currentTenant)
	r.Get("/api/tenant_shops/", c.tenantShops)
	r.With(acl.RequireAuth).Get("/api/shops/", c.listShops)
	r.With(acl.RequireAuth).Post("/api/shops/", c.createShop)
	r.With(acl.RequireAuth).Get("/api/shops/{id}/", c.getShop)
	return r
}

// Register component at program start.
func init() { component.Register(&Component{}) }

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// lower trims and lower-cases a header or subdomain key.
func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

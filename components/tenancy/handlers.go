package tenancy

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/core"
	"github.com/BootCodex/BlueOlive/internal/host"
	"github.com/BootCodex/BlueOlive/internal/provision"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// createdTenant is the sign-up response.
type createdTenant struct {
	*tenant.Tenant
	AdminUsername string   `json:"admin_username,omitempty"`
	TenantSlug    string   `json:"tenant_slug"`
	Warnings      []string `json:"warnings,omitempty"`
}

// shopRef is one entry of /api/tenant_shops/.
type shopRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

//
// Tenants
//

func (c *Component) listTenants(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	ts, err := c.dir.Tenants(r.Context())
	if err != nil {
		cx.Fail("list tenants", err)
		return
	}
	if ts == nil {
		ts = []*tenant.Tenant{}
	}
	cx.JSON(http.StatusOK, ts)
}

func (c *Component) getTenant(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	id, ok := pathID(r)
	if !ok {
		cx.Error(http.StatusNotFound, "Not found.")
		return
	}
	t, err := c.dir.TenantByID(r.Context(), id)
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		cx.Error(http.StatusNotFound, "Not found.")
	case err != nil:
		cx.Fail("get tenant", err)
	default:
		cx.JSON(http.StatusOK, t)
	}
}

func (c *Component) createTenant(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	var req provision.TenantRequest
	if err := cx.Decode(&req); err != nil {
		cx.Error(http.StatusBadRequest, err.Error())
		return
	}
	if req.AdminPassword == "" {
		cx.Error(http.StatusBadRequest, "password is required")
		return
	}

	t, err := c.prov.CreateTenant(r.Context(), req)
	resp := createdTenant{Tenant: t}

	var se *provision.StepError
	switch {
	case errors.Is(err, tenant.ErrDuplicate):
		cx.Error(http.StatusBadRequest, "a tenant with this name, slug, or subdomain already exists")
		return
	case t != nil && errors.As(err, &se) && se.Step == provision.StepAdmin:
		// The tenant is live; only its administrator is missing.
		resp.Warnings = append(resp.Warnings, "tenant admin not created")
	case errors.As(err, &se):
		zap.L().Error("tenant sign-up failed", zap.Error(err))
		cx.Error(http.StatusInternalServerError, "tenant provisioning failed at step: "+se.Step)
		return
	case err != nil:
		cx.Fail("create tenant", err)
		return
	default:
		resp.AdminUsername = req.Email
		if resp.AdminUsername == "" {
			resp.AdminUsername = t.Slug
		}
	}
	resp.TenantSlug = t.Slug
	cx.JSON(http.StatusCreated, resp)
}

// currentTenant names the tenant the caller addresses, by slug first and
// then by shop name.  An unknown key answers {"tenant": null}.
func (c *Component) currentTenant(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	ctx := r.Context()

	key := lower(r.Header.Get(c.tenantHeader))
	if key == "" {
		key, _ = host.Resolve(r.Host, c.devMarker)
	}

	if key != "" {
		t, err := c.dir.TenantBySlug(ctx, key)
		if errors.Is(err, tenant.ErrNotFound) {
			var sh *tenant.Shop
			if sh, err = c.dir.ShopByName(ctx, key); err == nil {
				t, err = c.dir.TenantByID(ctx, sh.TenantID)
			}
		}
		switch {
		case err == nil:
			cx.JSON(http.StatusOK, map[string]string{"name": t.Name, "slug": t.Slug})
			return
		case !errors.Is(err, tenant.ErrNotFound):
			cx.Fail("current tenant", err)
			return
		}
	}
	cx.JSON(http.StatusOK, map[string]any{"tenant": nil})
}

//
// Shops
//

func (c *Component) tenantShops(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	out := []shopRef{}
	if cx.Tenant != nil {
		shops, err := c.dir.ShopsByTenant(r.Context(), cx.Tenant.ID)
		if err != nil {
			cx.Fail("tenant shops", err)
			return
		}
		for _, sh := range shops {
			out = append(out, shopRef{ID: sh.ID, Name: sh.Name})
		}
	}
	cx.JSON(http.StatusOK, out)
}

func (c *Component) listShops(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	if cx.Tenant == nil {
		cx.JSON(http.StatusOK, []*tenant.Shop{})
		return
	}
	shops, err := c.dir.ShopsByTenant(r.Context(), cx.Tenant.ID)
	if err != nil {
		cx.Fail("list shops", err)
		return
	}
	if shops == nil {
		shops = []*tenant.Shop{}
	}
	cx.JSON(http.StatusOK, shops)
}

func (c *Component) getShop(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	id, ok := pathID(r)
	if !ok || cx.Tenant == nil {
		cx.Error(http.StatusNotFound, "Not found.")
		return
	}
	sh, err := c.dir.ShopByID(r.Context(), id)
	switch {
	case errors.Is(err, tenant.ErrNotFound) || (err == nil && sh.TenantID != cx.Tenant.ID):
		cx.Error(http.StatusNotFound, "Not found.")
	case err != nil:
		cx.Fail("get shop", err)
	default:
		cx.JSON(http.StatusOK, sh)
	}
}

// createShop derives the schema from the tenant slug and shop name; a
// client-supplied schema_name is ignored.
func (c *Component) createShop(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	if cx.Tenant == nil {
		cx.Error(http.StatusBadRequest, "No tenant context")
		return
	}
	var req provision.ShopRequest
	if err := cx.Decode(&req); err != nil {
		cx.Error(http.StatusBadRequest, err.Error())
		return
	}
	req.SchemaName = ""

	sh, err := c.prov.CreateShop(r.Context(), cx.Tenant, req)
	switch {
	case errors.Is(err, tenant.ErrDuplicate):
		cx.Error(http.StatusBadRequest, "Failed to create shop: a shop with this schema or subdomain already exists")
	case errors.Is(err, tenant.ErrSchemaName):
		cx.Error(http.StatusBadRequest, "Failed to create shop: name does not yield a valid schema")
	case err != nil:
		cx.Fail("create shop", err)
	default:
		cx.JSON(http.StatusCreated, sh)
	}
}

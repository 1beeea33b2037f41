// internal/provision/lifecycle.go
//
// Record lifecycle hooks.  Creating a tenant provisions its database;
// creating a shop provisions its schema.
//
// Failure policy
// --------------
//   - Tenant: a failure to create the database deletes the new record and
//     returns the error.  Later failures return the error and keep the
//     record, because ProvisionTenant is idempotent and can be retried.
//   - Shop: the record is kept and a provisioning failure is only logged.
package provision

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// AdminCreator creates the first administrator of a new tenant inside its
// head-office schema.
type AdminCreator interface {
	CreateTenantAdmin(ctx context.Context, t *tenant.Tenant, schema, username, email, password string) error
}

// TenantRequest is the input of CreateTenant.  Blank fields are derived.
type TenantRequest struct {
	Name       string `json:"name"        validate:"required,max=100"`
	Slug       string `json:"slug"        validate:"omitempty,max=100"`
	Subdomain  string `json:"subdomain"   validate:"omitempty,hostname_rfc1123,max=63"`
	Phone      string `json:"phone"       validate:"omitempty,max=20"`
	Email      string `json:"email"       validate:"omitempty,email"`
	DBName     string `json:"db_name"     validate:"omitempty,max=63"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port"     validate:"omitempty,gt=0,lt=65536"`

	// AdminPassword, when set, creates a tenant administrator named after
	// Email in the head-office schema.
	AdminPassword string `json:"password"   validate:"omitempty,min=8"`
}

// ShopRequest is the input of CreateShop.
type ShopRequest struct {
	Name         string `json:"name"           validate:"required,max=100"`
	SchemaName   string `json:"schema_name"    validate:"omitempty,sqlident"`
	Subdomain    string `json:"subdomain"      validate:"omitempty,hostname_rfc1123,max=63"`
	Description  string `json:"description"`
	IsHeadOffice bool   `json:"is_head_office"`
}

// fallbackSlug returns tenant-<8 hex>.
func fallbackSlug() string {
	return "tenant-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateTenant inserts a tenant derived from req and provisions it.
func (e *Engine) CreateTenant(ctx context.Context, req TenantRequest) (*tenant.Tenant, error) {
	slug := tenant.MakeSlug(req.Slug, tenant.MaxSlug)
	if slug == "" {
		slug = tenant.MakeSlug(req.Name, tenant.MaxSlug)
	}
	if slug == "" {
		slug = fallbackSlug()
	}

	sub := tenant.MakeSlug(req.Subdomain, tenant.MaxSubdomain)
	if sub == "" {
		sub = tenant.MakeSlug(slug, tenant.MaxSubdomain)
	}

	dbName := req.DBName
	if dbName == "" {
		dbName = tenant.SchemaName(slug)
	}

	t := &tenant.Tenant{
		Name:       req.Name,
		Slug:       slug,
		Subdomain:  sub,
		Phone:      req.Phone,
		Email:      req.Email,
		DBName:     dbName,
		DBUser:     or(req.DBUser, e.defaults.User),
		DBPassword: or(req.DBPassword, e.defaults.Password),
		DBHost:     or(req.DBHost, e.defaults.Host),
		DBPort:     req.DBPort,
		Control:    true,
	}
	if t.DBPort == 0 {
		t.DBPort = e.defaults.Port
	}

	if err := e.store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}
	log := e.log.With(zap.String(logger.FieldTenant, t.Slug), zap.Int64("tenant_id", t.ID))
	log.Info("tenant record created")

	if err := e.ProvisionTenant(ctx, t); err != nil {
		var se *StepError
		if errors.As(err, &se) && se.Step == StepCreateDatabase {
			if derr := e.store.DeleteTenant(ctx, t.ID); derr != nil {
				log.Error("tenant record rollback failed", zap.Error(derr))
			} else {
				log.Warn("tenant record rolled back")
			}
		}
		return nil, err
	}

	if req.AdminPassword != "" && e.admins != nil {
		username := or(req.Email, t.Slug)
		if err := e.admins.CreateTenantAdmin(ctx, t, HeadOfficeSchema(t), username, req.Email, req.AdminPassword); err != nil {
			log.Error("tenant admin not created", zap.Error(err))
			return t, &StepError{Kind: "tenant", Tenant: t.Slug, Step: StepAdmin, Err: err}
		}
		log.Info("tenant admin created", zap.String("username", username))
	}
	return t, nil
}

// CreateShop inserts a shop of t and provisions its schema.  A provisioning
// failure is logged and does not fail the call.
func (e *Engine) CreateShop(ctx context.Context, t *tenant.Tenant, req ShopRequest) (*tenant.Shop, error) {
	schema := req.SchemaName
	if schema == "" {
		schema = tenant.SchemaName(t.Slug, req.Name)
	}
	sh := &tenant.Shop{
		TenantID:     t.ID,
		Name:         req.Name,
		SchemaName:   schema,
		Subdomain:    tenant.MakeSlug(req.Subdomain, tenant.MaxSubdomain),
		Description:  req.Description,
		IsHeadOffice: req.IsHeadOffice,
	}
	if err := e.store.CreateShop(ctx, sh); err != nil {
		return nil, err
	}

	if _, err := e.ProvisionShop(ctx, t, sh); err != nil {
		e.log.Error("shop created without schema",
			zap.String(logger.FieldTenant, t.Slug),
			zap.String(logger.FieldShop, sh.Subdomain),
			zap.String(logger.FieldSchema, sh.SchemaName),
			zap.Error(err),
		)
	}
	return sh, nil
}

// Backfill is one shop subdomain assignment.
type Backfill struct {
	ShopID    int64
	TenantID  int64
	Name      string
	Subdomain string
	Applied   bool
}

// BackfillSubdomains derives a subdomain for every shop missing one.  With
// dryRun nothing is written.
func (e *Engine) BackfillSubdomains(ctx context.Context, dryRun bool) ([]Backfill, error) {
	shops, err := e.store.ShopsMissingSubdomain(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Backfill, 0, len(shops))
	for _, sh := range shops {
		sub, err := e.store.SuggestSubdomain(ctx, sh)
		if err != nil {
			return out, err
		}
		b := Backfill{ShopID: sh.ID, TenantID: sh.TenantID, Name: sh.Name, Subdomain: sub}
		if !dryRun {
			if err := e.store.SetShopSubdomain(ctx, sh.ID, sub); err != nil {
				return out, err
			}
			b.Applied = true
		}
		out = append(out, b)
	}
	return out, nil
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

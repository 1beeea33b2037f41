// internal/tenant/store.go
//
// Tenant directory backed by the control database.
//
// Context
// -------
// The Store answers every control-plane question the middleware, the
// provisioning engine, and the admin CLI ask: which tenant owns this
// subdomain, which shop owns this shop subdomain, which shop is the head
// office.  It always talks to the control pool handed to NewStore and is
// never routed through the tenant context.
//
// Queries are written with `?` placeholders and rebound for the driver, so
// the same code runs on PostgreSQL (pgx) and MySQL control databases.
//
// Workflow (CreateShop)
// ---------------------
//  1. BEGIN.
//  2. If the new shop is head office, clear the flag on its siblings.
//  3. If the subdomain is blank, derive one from the name with a numeric
//     suffix loop against the tenant's existing shops.
//  4. INSERT and COMMIT.
//
// Notes
// -----
//   - Credentials are sealed through secret.Sealer on every write and opened
//     on every read.
//   - sql.ErrNoRows is mapped to ErrNotFound; unique violations to
//     ErrDuplicate.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/secret"
)

// Lookup fields accepted by Store.Lookup.
const (
	BySubdomain = "subdomain"
	BySlug      = "slug"
)

const tenantCols = `id, name, slug, subdomain, phone, email, db_name, db_user,
       db_password, db_host, db_port, created_at, tenant_control`

const shopCols = `id, tenant_id, name, schema_name, subdomain,
       COALESCE(description, '') AS description, is_head_office, created_at`

// Store reads and writes tenancy_tenant and tenancy_shop.
type Store struct {
	db     *sqlx.DB
	sealer secret.Sealer
}

// NewStore returns a Store over the control pool.
func NewStore(control *sqlx.DB, sealer secret.Sealer) *Store {
	return &Store{db: control, sealer: sealer}
}

// DB exposes the control pool for callers that share its transaction scope.
func (s *Store) DB() *sqlx.DB { return s.db }

//
// Tenants
//

// Lookup finds a tenant by subdomain or slug, as field selects.
func (s *Store) Lookup(ctx context.Context, field, key string) (*Tenant, error) {
	switch field {
	case BySlug:
		return s.TenantBySlug(ctx, key)
	case BySubdomain, "":
		return s.TenantBySubdomain(ctx, key)
	default:
		return nil, fmt.Errorf("tenant: unknown lookup field %q", field)
	}
}

// TenantBySubdomain returns the tenant owning subdomain.
func (s *Store) TenantBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	return s.oneTenant(ctx, `SELECT `+tenantCols+` FROM tenancy_tenant WHERE subdomain = ?`, subdomain)
}

// TenantBySlug returns the tenant with slug.
func (s *Store) TenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.oneTenant(ctx, `SELECT `+tenantCols+` FROM tenancy_tenant WHERE slug = ?`, slug)
}

// TenantByID returns the tenant with id.
func (s *Store) TenantByID(ctx context.Context, id int64) (*Tenant, error) {
	return s.oneTenant(ctx, `SELECT `+tenantCols+` FROM tenancy_tenant WHERE id = ?`, id)
}

// Tenants lists every tenant ordered by id.
func (s *Store) Tenants(ctx context.Context) ([]*Tenant, error) {
	var out []*Tenant
	if err := s.db.SelectContext(ctx, &out,
		s.db.Rebind(`SELECT `+tenantCols+` FROM tenancy_tenant ORDER BY id`)); err != nil {
		return nil, fmt.Errorf("tenant: list: %w", err)
	}
	for _, t := range out {
		if err := s.open(ctx, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CreateTenant inserts t, sealing its password, and fills ID and CreatedAt.
func (s *Store) CreateTenant(ctx context.Context, t *Tenant) error {
	sealed, err := s.sealer.Seal(ctx, t.DBPassword)
	if err != nil {
		return fmt.Errorf("tenant: seal credentials: %w", err)
	}
	id, at, err := s.insert(ctx, s.db,
		`INSERT INTO tenancy_tenant
		        (name, slug, subdomain, phone, email, db_name, db_user,
		         db_password, db_host, db_port, tenant_control)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Slug, t.Subdomain, t.Phone, t.Email, t.DBName, t.DBUser,
		sealed, t.DBHost, t.DBPort, t.Control,
	)
	if err != nil {
		return fmt.Errorf("tenant: create %q: %w", t.Slug, classify(err))
	}
	t.ID, t.CreatedAt = id, at
	return nil
}

// DeleteTenant removes a tenant and, by cascade, its shops.
func (s *Store) DeleteTenant(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM tenancy_shop WHERE tenant_id = ?`), id); err != nil {
		return fmt.Errorf("tenant: delete shops of %d: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM tenancy_tenant WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("tenant: delete %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) oneTenant(ctx context.Context, q string, arg any) (*Tenant, error) {
	var t Tenant
	if err := s.db.GetContext(ctx, &t, s.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenant: lookup: %w", err)
	}
	if err := s.open(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) open(ctx context.Context, t *Tenant) error {
	if t.DBPassword == "" {
		return nil
	}
	pt, err := s.sealer.Open(ctx, t.DBPassword)
	if err != nil {
		return fmt.Errorf("tenant: open credentials of %d: %w", t.ID, err)
	}
	t.DBPassword = pt
	return nil
}

//
// Shops
//

// ShopByID returns one shop.
func (s *Store) ShopByID(ctx context.Context, id int64) (*Shop, error) {
	return s.oneShop(ctx, s.db, `SELECT `+shopCols+` FROM tenancy_shop WHERE id = ?`, id)
}

// ShopBySubdomain returns the shop of tenantID with subdomain.
func (s *Store) ShopBySubdomain(ctx context.Context, tenantID int64, subdomain string) (*Shop, error) {
	return s.oneShop(ctx, s.db,
		`SELECT `+shopCols+` FROM tenancy_shop WHERE tenant_id = ? AND subdomain = ?`,
		tenantID, subdomain)
}

// ShopBySchema returns the shop whose schema is name.
func (s *Store) ShopBySchema(ctx context.Context, name string) (*Shop, error) {
	return s.oneShop(ctx, s.db, `SELECT `+shopCols+` FROM tenancy_shop WHERE schema_name = ?`, name)
}

// ShopByName returns the first shop called name across all tenants.
func (s *Store) ShopByName(ctx context.Context, name string) (*Shop, error) {
	return s.oneShop(ctx, s.db,
		`SELECT `+shopCols+` FROM tenancy_shop WHERE name = ? ORDER BY id LIMIT 1`, name)
}

// HeadOffice returns the head-office shop of tenantID.
func (s *Store) HeadOffice(ctx context.Context, tenantID int64) (*Shop, error) {
	return s.oneShop(ctx, s.db,
		`SELECT `+shopCols+` FROM tenancy_shop WHERE tenant_id = ? AND is_head_office = TRUE`,
		tenantID)
}

// ShopsByTenant lists the shops of tenantID, head office first.
func (s *Store) ShopsByTenant(ctx context.Context, tenantID int64) ([]*Shop, error) {
	var out []*Shop
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT `+shopCols+` FROM tenancy_shop WHERE tenant_id = ?
		  ORDER BY is_head_office DESC, id`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant: list shops of %d: %w", tenantID, err)
	}
	return out, nil
}

// ShopsMissingSubdomain lists shops whose subdomain is blank.
func (s *Store) ShopsMissingSubdomain(ctx context.Context) ([]*Shop, error) {
	var out []*Shop
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT `+shopCols+` FROM tenancy_shop
		  WHERE subdomain IS NULL OR subdomain = '' ORDER BY tenant_id, id`))
	if err != nil {
		return nil, fmt.Errorf("tenant: list shops without subdomain: %w", err)
	}
	return out, nil
}

// SuggestSubdomain derives a free subdomain for sh from its name.
func (s *Store) SuggestSubdomain(ctx context.Context, sh *Shop) (string, error) {
	return nextSubdomain(ctx, s.db, sh)
}

// SetShopSubdomain stores subdomain on shop id.
func (s *Store) SetShopSubdomain(ctx context.Context, id int64, subdomain string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE tenancy_shop SET subdomain = ? WHERE id = ?`), subdomain, id)
	if err != nil {
		return fmt.Errorf("tenant: set subdomain of shop %d: %w", id, classify(err))
	}
	return nil
}

// CreateShop inserts sh in one transaction, flipping the previous head
// office and deriving a subdomain when blank.  ID, Subdomain, and CreatedAt
// are filled on success.
func (s *Store) CreateShop(ctx context.Context, sh *Shop) (err error) {
	if !ValidSchemaName(sh.SchemaName) {
		return fmt.Errorf("%w: %q", ErrSchemaName, sh.SchemaName)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tenant: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if sh.IsHeadOffice {
		if _, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE tenancy_shop SET is_head_office = FALSE
			  WHERE tenant_id = ? AND is_head_office = TRUE`), sh.TenantID); err != nil {
			return fmt.Errorf("tenant: clear head office of %d: %w", sh.TenantID, err)
		}
	}

	if sh.Subdomain == "" {
		if sh.Subdomain, err = nextSubdomain(ctx, tx, sh); err != nil {
			return err
		}
	}

	id, at, err := s.insert(ctx, tx,
		`INSERT INTO tenancy_shop
		        (tenant_id, name, schema_name, subdomain, description, is_head_office)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sh.TenantID, sh.Name, sh.SchemaName, sh.Subdomain, sh.Description, sh.IsHeadOffice,
	)
	if err != nil {
		return fmt.Errorf("tenant: create shop %q: %w", sh.Name, classify(err))
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("tenant: commit shop %q: %w", sh.Name, err)
	}
	sh.ID, sh.CreatedAt = id, at
	return nil
}

func (s *Store) oneShop(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*Shop, error) {
	var sh Shop
	if err := sqlx.GetContext(ctx, q, &sh, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenant: shop lookup: %w", err)
	}
	return &sh, nil
}

//
// Helpers
//

// nextSubdomain returns slug(name), or slug-1, slug-2, … until no other
// shop of the same tenant holds it.  An empty slug falls back to
// shop-<id>, or shop-new before the shop has an id.
func nextSubdomain(ctx context.Context, q sqlx.ExtContext, sh *Shop) (string, error) {
	base := MakeSlug(sh.Name, MaxSubdomain)
	if base == "" {
		if sh.ID > 0 {
			base = "shop-" + strconv.FormatInt(sh.ID, 10)
		} else {
			base = "shop-new"
		}
	}

	const exists = `SELECT 1 FROM tenancy_shop WHERE tenant_id = ? AND subdomain = ? AND id <> ?`
	candidate := base
	for n := 1; ; n++ {
		var one int
		err := q.QueryRowxContext(ctx, q.Rebind(exists), sh.TenantID, candidate, sh.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("tenant: subdomain lookup: %w", err)
		}
		candidate = withSuffix(base, n)
	}
}

// insert runs an INSERT and returns the new id and creation time.  pgx uses
// RETURNING; MySQL uses LastInsertId.
func (s *Store) insert(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, time.Time, error) {
	if q.DriverName() != database.DriverMySQL {
		var (
			id int64
			at time.Time
		)
		err := q.QueryRowxContext(ctx, q.Rebind(query+` RETURNING id, created_at`), args...).Scan(&id, &at)
		return id, at, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, time.Time{}, err
	}
	id, err := res.LastInsertId()
	return id, time.Now().UTC(), err
}

func classify(err error) error {
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

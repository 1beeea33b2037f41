// internal/provision/engine.go
//
// Provisioning engine: new tenant databases and new shop schemas.
//
// Context
// -------
// A tenant owns one physical database.  Its public schema carries the
// tenant-wide tables (shop_core) plus a baseline copy of everything the
// router allows on the tenant alias.  Each shop owns one schema inside that
// database with its own goose bookkeeping table.
//
// Workflow (shop)
// ---------------
//  1. Open a dedicated pool whose sessions default to "<schema>", public.
//  2. CREATE SCHEMA IF NOT EXISTS.
//  3. Create <schema>.goose_db_version.
//  4. Pre-mark control and tenant-wide migrations as applied.
//  5. Run auth, shop_users, then shop modules (version order).
//  6. List the schema's base tables and warn when none exist.
//  7. Close the dedicated pool and clear the scoped tenant context.
//
// Step 7 runs in defers, so it happens on every exit path.  The registered
// descriptor is never modified.
//
// Notes
// -----
//   - Runs for one tenant are serialized by the registry's per-alias lock.
//     Waiting for it gives up when the caller's context ends.
//   - Shop steps never touch the shared tenant pool, so a request that
//     holds a bound connection cannot starve its own provisioning run.
//   - "already exists" for databases and schemas is success.
package provision

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/metrics"
	"github.com/BootCodex/BlueOlive/internal/migrate"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/registry"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

// Migrator runs schema-scoped migrations.  *migrate.Runner implements it.
type Migrator interface {
	Prepare(ctx context.Context, db *sqlx.DB, schema string) error
	Run(ctx context.Context, db *sqlx.DB, p migrate.Plan) (*migrate.Result, error)
}

// TenantDefaults fill connection fields a tenant request leaves blank.
type TenantDefaults struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Options configures New.
type Options struct {
	Store    *tenant.Store
	Registry *registry.Registry
	Router   *dbrouter.Router
	Migrator Migrator
	Creator  DatabaseCreator
	Admins   AdminCreator // optional
	Tags     *module.Table
	Defaults TenantDefaults
	Logger   *zap.Logger
}

// Engine provisions tenants and shops.  Safe for concurrent use.
type Engine struct {
	store    *tenant.Store
	reg      *registry.Registry
	router   *dbrouter.Router
	mig      Migrator
	creator  DatabaseCreator
	admins   AdminCreator
	tags     *module.Table
	defaults TenantDefaults
	log      *zap.Logger
}

// New returns an Engine.
func New(o Options) *Engine {
	if o.Tags == nil {
		o.Tags = module.Default()
	}
	if o.Router == nil {
		o.Router = dbrouter.New(o.Registry, o.Tags)
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return &Engine{
		store:    o.Store,
		reg:      o.Registry,
		router:   o.Router,
		mig:      o.Migrator,
		creator:  o.Creator,
		admins:   o.Admins,
		tags:     o.Tags,
		defaults: o.Defaults,
		log:      o.Logger.Named("provision"),
	}
}

// ShopReport describes one shop provisioning run.
type ShopReport struct {
	Schema    string
	Applied   []int64
	PreMarked []int64
	Tables    []string
}

func observe(kind string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ProvisionTotal.WithLabelValues(kind, result).Inc()
	metrics.ProvisionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

//
// Tenant databases
//

// ProvisionTenant creates t's database, registers it, migrates the public
// schema, and ensures a provisioned head-office shop.  It is idempotent.
func (e *Engine) ProvisionTenant(ctx context.Context, t *tenant.Tenant) (err error) {
	start := time.Now()
	defer func() { observe("tenant", start, err) }()

	alias := t.Alias()
	log := e.log.With(zap.String(logger.FieldTenant, t.Slug), zap.String(logger.FieldAlias, alias))
	fail := func(step string, err error) error {
		log.Error("tenant provisioning failed", zap.String(logger.FieldStep, step), zap.Error(err))
		return &StepError{Kind: "tenant", Tenant: t.Slug, Step: step, Err: err}
	}

	// 1. database
	created, err := e.creator.CreateDatabase(ctx, t.DBName)
	if err != nil {
		return fail(StepCreateDatabase, err)
	}
	if created {
		log.Info("database created", zap.String("database", t.DBName))
	} else {
		log.Info("database already exists", zap.String("database", t.DBName))
	}

	// 2. connection
	if err := e.reg.Register(ctx, t); err != nil {
		return fail(StepRegister, err)
	}

	// 3. baseline
	if err := e.migrateBaseline(ctx, t); err != nil {
		return fail(StepMigrate, err)
	}

	// 4. head office
	ho, err := e.store.HeadOffice(ctx, t.ID)
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		if _, err := e.CreateShop(ctx, t, ShopRequest{
			Name:         "Main",
			SchemaName:   HeadOfficeSchema(t),
			IsHeadOffice: true,
		}); err != nil {
			return fail(StepHeadOffice, err)
		}
	case err != nil:
		return fail(StepHeadOffice, err)
	default:
		if _, err := e.ProvisionShop(ctx, t, ho); err != nil {
			log.Warn("head office schema not provisioned", zap.Error(err))
		}
	}

	log.Info("tenant provisioned", zap.Duration("took", time.Since(start)))
	return nil
}

func (e *Engine) migrateBaseline(ctx context.Context, t *tenant.Tenant) error {
	alias := t.Alias()
	release, err := e.reg.Acquire(ctx, alias)
	if err != nil {
		return err
	}
	defer release()

	tctx, st := tenantctx.WithTenant(ctx, t, "")
	defer st.Clear()

	db, err := e.reg.DB(alias)
	if err != nil {
		return err
	}
	if err := e.mig.Prepare(tctx, db, registry.PublicSchema); err != nil {
		return err
	}
	_, err = e.mig.Run(tctx, db, migrate.Plan{
		Schema: registry.PublicSchema,
		Allow:  func(mod string) bool { return e.router.AllowMigrate(tctx, alias, mod) },
	})
	return err
}

// HeadOfficeSchema returns the schema of t's default shop.
func HeadOfficeSchema(t *tenant.Tenant) string {
	if tenant.SchemaName(t.Slug) != "" {
		return tenant.SchemaName(t.Slug, "main")
	}
	return tenant.SchemaName("tenant", t.Alias(), "main")
}

//
// Shop schemas
//

// shopAllow admits the modules that live in every shop schema and that the
// router permits on alias.
func (e *Engine) shopAllow(ctx context.Context, alias string) func(string) bool {
	return func(mod string) bool {
		switch e.tags.Tag(mod) {
		case module.Shop, module.CrossSchema:
			return e.router.AllowMigrate(ctx, alias, mod)
		default:
			return false
		}
	}
}

// ProvisionShop creates sh's schema inside t's database and migrates it.
func (e *Engine) ProvisionShop(ctx context.Context, t *tenant.Tenant, sh *tenant.Shop) (rep *ShopReport, err error) {
	start := time.Now()
	defer func() { observe("shop", start, err) }()

	alias, schema := t.Alias(), sh.SchemaName
	log := e.log.With(
		zap.String(logger.FieldTenant, t.Slug),
		zap.String(logger.FieldAlias, alias),
		zap.String(logger.FieldSchema, schema),
	)
	fail := func(step string, err error) error {
		log.Error("shop provisioning failed", zap.String(logger.FieldStep, step), zap.Error(err))
		return &StepError{Kind: "shop", Tenant: t.Slug, Schema: schema, Step: step, Err: err}
	}

	if !tenant.ValidSchemaName(schema) {
		return nil, fail(StepCreateSchema, tenant.ErrSchemaName)
	}
	if err := e.reg.Register(ctx, t); err != nil {
		return nil, fail(StepRegister, err)
	}

	release, err := e.reg.Acquire(ctx, alias)
	if err != nil {
		return nil, fail(StepRegister, err)
	}
	defer release()

	tctx, st := tenantctx.WithTenant(ctx, t, schema)
	defer st.Clear()

	// Every step runs on the dedicated override pool, never on the shared
	// tenant pool a scoped request may be holding a connection from.
	rep = &ShopReport{Schema: schema}
	step := StepCreateSchema
	err = e.reg.WithSearchPath(tctx, alias, []string{schema, registry.PublicSchema},
		func(ctx context.Context, sdb *sqlx.DB) error {
			// 1. schema
			if _, err := sdb.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+database.QuoteIdent(schema)); err != nil &&
				!database.IsDuplicateSchema(err) {
				return err
			}

			// 2. bookkeeping
			step = StepVersionTable
			if err := e.mig.Prepare(ctx, sdb, schema); err != nil {
				return err
			}

			// 3-5. pre-mark, migrate
			step = StepMigrate
			res, err := e.mig.Run(ctx, sdb, migrate.Plan{Schema: schema, Allow: e.shopAllow(ctx, alias)})
			if res != nil {
				rep.Applied, rep.PreMarked = res.Applied, res.PreMarked
			}
			if err != nil {
				return err
			}

			// 6. verify
			tables, err := migrate.Tables(ctx, sdb, schema)
			if err != nil {
				log.Warn("table listing failed", zap.Error(err))
			} else if len(tables) == 0 {
				log.Warn("no tables created in schema")
			}
			rep.Tables = tables
			return nil
		})
	log.Debug("search_path override released")
	if err != nil {
		return rep, fail(step, err)
	}

	log.Info("shop provisioned",
		zap.Int("applied", len(rep.Applied)),
		zap.Int("premarked", len(rep.PreMarked)),
		zap.Int("tables", len(rep.Tables)),
		zap.Duration("took", time.Since(start)),
	)
	return rep, nil
}

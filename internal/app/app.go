// internal/app/app.go
//
// Process bootstrap shared by cmd/web and cmd/tenancyctl.
//
// Workflow
// --------
//  1. Dial Vault when the config references it or the transit sealer is
//     selected.
//  2. Load and validate configuration.
//  3. Start the zap logger and install it globally.
//  4. Open the control database and wrap it in the connection registry.
//  5. Build the credential sealer, tenant directory, router, migration
//     runners, shop-user store, session manager, and provisioning engine.
//
// Close releases everything in reverse order.
//
// Notes
// -----
//   - The tenant migration set is always PostgreSQL.  The control set
//     follows database.driver.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	goosedb "github.com/pressly/goose/v3/database"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/config"
	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/migrate"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/provision"
	"github.com/BootCodex/BlueOlive/internal/registry"
	"github.com/BootCodex/BlueOlive/internal/secret"
	"github.com/BootCodex/BlueOlive/internal/session"
	"github.com/BootCodex/BlueOlive/internal/shopuser"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
	"github.com/BootCodex/BlueOlive/internal/vault"
	"github.com/BootCodex/BlueOlive/migrations"
)

// App holds the long-lived services of one process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Vault    *vault.Client // nil when Vault is not used
	Control  *sqlx.DB
	Registry *registry.Registry
	Router   *dbrouter.Router
	Modules  *module.Table
	Tenants  *tenant.Store
	Sealer   secret.Sealer
	Engine   *provision.Engine
	Users    *shopuser.Store
	Sessions *session.Manager

	TenantMigrations  *migrate.Runner
	ControlMigrations *migrate.Runner
}

// Options tweaks Build for the calling binary.
type Options struct {
	Tee bool // mirror logs to stdout
}

// Build wires an App.  On error everything opened so far is closed.
func Build(ctx context.Context, o Options) (a *App, err error) {
	a = &App{Modules: module.Default()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	// 1. vault
	if config.UsesVault("") {
		if a.Vault, err = vault.New(ctx, zap.S().Infof); err != nil {
			return a, fmt.Errorf("vault: %w", err)
		}
	}

	// 2. config
	var res config.Resolver
	if a.Vault != nil {
		res = a.Vault
	}
	if a.Config, err = config.Load(ctx, res); err != nil {
		return a, fmt.Errorf("config: %w", err)
	}
	c := a.Config

	// 3. logger
	if a.Logger, err = logger.New(logger.Options{Dir: c.Log.Dir, Level: c.Log.Level, Tee: o.Tee || c.Log.Tee}); err != nil {
		return a, fmt.Errorf("logger: %w", err)
	}

	// 4. control database + registry
	dsn, err := database.WithPassword(c.Database.Driver, c.Database.ControlDSN, c.Database.ControlPassword)
	if err != nil {
		return a, err
	}
	opts := database.DefaultOptions()
	if c.Database.MaxOpenConns > 0 {
		opts.MaxOpenConns = c.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns > 0 {
		opts.MaxIdleConns = c.Database.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime > 0 {
		opts.ConnMaxLifetime = c.Database.ConnMaxLifetime
	}
	if a.Control, err = database.Open(ctx, c.Database.Driver, dsn, opts); err != nil {
		return a, err
	}
	a.Registry = registry.New(a.Control, registry.Options{
		Defaults: registry.Defaults{
			Driver:       database.DriverPgx,
			SSLMode:      c.Tenancy.SSLMode,
			MaxOpenConns: c.Tenancy.PoolMaxOpen,
			MaxIdleConns: c.Tenancy.PoolMaxIdle,
		},
		IdleTTL:       c.Tenancy.IdleTTL,
		MaxEntries:    c.Tenancy.MaxEntries,
		EvictInterval: c.Tenancy.EvictInterval,
		Logger:        a.Logger,
	})
	a.Router = dbrouter.New(a.Registry, a.Modules)

	// 5. services
	if a.Sealer, err = a.sealer(ctx); err != nil {
		return a, err
	}
	a.Tenants = tenant.NewStore(a.Control, a.Sealer)

	if a.TenantMigrations, err = migrate.NewRunner(migrations.Postgres(), goosedb.DialectPostgres, a.Modules, a.Logger); err != nil {
		return a, err
	}
	controlSet, dialect := migrations.Postgres(), goosedb.DialectPostgres
	if c.Database.Driver == database.DriverMySQL {
		controlSet, dialect = migrations.MySQL(), goosedb.DialectMySQL
	}
	if a.ControlMigrations, err = migrate.NewRunner(controlSet, dialect, a.Modules, a.Logger); err != nil {
		return a, err
	}

	a.Users = shopuser.NewStore(a.Router, a.Registry, shopuser.Options{Logger: a.Logger})

	sessionKey, err := secret.ParseKey(c.Secrets.SessionKey)
	if err != nil {
		return a, fmt.Errorf("session key: %w", err)
	}
	box, err := secret.NewBox(sessionKey)
	if err != nil {
		return a, err
	}
	a.Sessions = session.New(box, session.DefaultTTL, c.HTTP.ForceHTTPS)

	a.Engine = provision.New(provision.Options{
		Store:    a.Tenants,
		Registry: a.Registry,
		Router:   a.Router,
		Migrator: a.TenantMigrations,
		Creator: provision.NewPostgresCreator(provision.Superuser{
			Host:          c.Provisioning.SuperuserHost,
			Port:          c.Provisioning.SuperuserPort,
			User:          c.Provisioning.SuperuserUser,
			Password:      c.Provisioning.SuperuserPassword,
			MaintenanceDB: c.Provisioning.MaintenanceDB,
		}),
		Admins: a.Users,
		Tags:   a.Modules,
		Defaults: provision.TenantDefaults{
			Host:     c.Provisioning.TenantDBHost,
			Port:     c.Provisioning.TenantDBPort,
			User:     c.Provisioning.TenantDBUser,
			Password: c.Provisioning.TenantDBPassword,
		},
		Logger: a.Logger,
	})
	return a, nil
}

// sealer picks the credential sealer named by secrets.sealer.
func (a *App) sealer(ctx context.Context) (secret.Sealer, error) {
	s := a.Config.Secrets
	switch s.Sealer {
	case "transit":
		if a.Vault == nil {
			var err error
			if a.Vault, err = vault.New(ctx, zap.S().Infof); err != nil {
				return nil, fmt.Errorf("vault: %w", err)
			}
		}
		return secret.NewTransit(a.Vault, s.TransitKey), nil
	default:
		key, err := secret.ParseKey(s.BoxKey)
		if err != nil {
			return nil, fmt.Errorf("box key: %w", err)
		}
		return secret.NewBox(key)
	}
}

// MigrateControl brings the control database up to date: control modules
// plus the cross-schema auth and shop_users tables for superusers.
func (a *App) MigrateControl(ctx context.Context) (*migrate.Result, error) {
	schema := registry.PublicSchema
	if a.Config.Database.Driver == database.DriverMySQL {
		schema = ""
	}
	ctx, st := tenantctx.New(ctx)
	defer st.Clear()

	if err := a.ControlMigrations.Prepare(ctx, a.Control, schema); err != nil {
		return nil, err
	}
	return a.ControlMigrations.Run(ctx, a.Control, migrate.Plan{
		Schema: schema,
		Allow:  func(mod string) bool { return a.Router.AllowMigrate(ctx, registry.ControlAlias, mod) },
	})
}

// Close releases pools.  Safe on a partially built App.
func (a *App) Close() error {
	var err error
	if a.Registry != nil {
		err = multierr.Append(err, a.Registry.Close())
	}
	if a.Control != nil {
		err = multierr.Append(err, a.Control.Close())
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// internal/migrate/runner.go
//
// Schema-scoped goose runs.
//
// Workflow
// --------
//  1. Ensure <schema>.goose_db_version exists (version 0 seeded).
//  2. Pre-mark every catalogued version whose module the plan does not
//     allow, so goose treats it as applied and never creates those tables
//     in this schema.
//  3. Run a goose Provider over the same files.  Out-of-order is allowed
//     because a module added later may carry a lower version than one
//     already applied.
//
// Notes
// -----
//   - Statements are unqualified.  The caller provides a pool whose
//     search_path starts with the target schema.
//   - Pre-marking is idempotent: versions already recorded are skipped.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/metrics"
	"github.com/BootCodex/BlueOlive/internal/module"
)

// VersionTable is the goose bookkeeping table name.
const VersionTable = "goose_db_version"

// Plan selects the target schema and the modules that run there.
type Plan struct {
	// Schema is "" for the connection's default (MySQL control database).
	Schema string
	// Allow reports whether a module's migrations run.  Nil allows all.
	Allow func(mod string) bool
}

func (p Plan) allows(mod string) bool { return p.Allow == nil || p.Allow(mod) }

// Result summarises one Run.
type Result struct {
	Applied   []int64
	PreMarked []int64
	Duration  time.Duration
}

// Runner runs one embedded migration set.
type Runner struct {
	fsys    fs.FS
	dialect database.Dialect
	cat     *Catalogue
	log     *zap.Logger
}

// NewRunner catalogues fsys for dialect.
func NewRunner(fsys fs.FS, dialect database.Dialect, tags *module.Table, log *zap.Logger) (*Runner, error) {
	cat, err := Load(fsys, tags)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.L()
	}
	return &Runner{fsys: fsys, dialect: dialect, cat: cat, log: log.Named("migrate")}, nil
}

// Catalogue returns the runner's catalogue.
func (r *Runner) Catalogue() *Catalogue { return r.cat }

// Table returns the qualified version table for schema.
func Table(schema string) string {
	if schema == "" {
		return VersionTable
	}
	return schema + "." + VersionTable
}

// Run applies plan p against db.
func (r *Runner) Run(ctx context.Context, db *sqlx.DB, p Plan) (*Result, error) {
	start := time.Now()
	table := Table(p.Schema)
	log := r.log.With(zap.String(logger.FieldSchema, p.Schema))

	store, err := database.NewStore(r.dialect, table)
	if err != nil {
		return nil, fmt.Errorf("migrate: store: %w", err)
	}
	if err := EnsureVersionTable(ctx, store, db); err != nil {
		return nil, err
	}
	marked, err := r.premark(ctx, store, db, p)
	if err != nil {
		return nil, err
	}

	prov, err := goose.NewProvider(r.dialect, db.DB, r.fsys,
		goose.WithTableName(table),
		goose.WithAllowOutofOrder(true),
		goose.WithDisableGlobalRegistry(true),
		goose.WithLogger(gooseLogger{log.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("migrate: provider: %w", err)
	}
	defer prov.Close()

	results, err := prov.Up(ctx)
	res := &Result{PreMarked: marked, Duration: time.Since(start)}
	for _, mr := range results {
		if mr.Error == nil && mr.Source != nil {
			res.Applied = append(res.Applied, mr.Source.Version)
		}
	}
	metrics.MigrationsAppliedTotal.Add(float64(len(res.Applied)))
	if err != nil {
		return res, fmt.Errorf("migrate: up %s: %w", table, err)
	}

	log.Info("migrations applied",
		zap.Int("applied", len(res.Applied)),
		zap.Int("premarked", len(res.PreMarked)),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

// Prepare creates schema's version table when missing.
func (r *Runner) Prepare(ctx context.Context, db *sqlx.DB, schema string) error {
	store, err := database.NewStore(r.dialect, Table(schema))
	if err != nil {
		return fmt.Errorf("migrate: store: %w", err)
	}
	return EnsureVersionTable(ctx, store, db)
}

// EnsureVersionTable creates the store's table, seeded with version 0, when
// it is missing.
func EnsureVersionTable(ctx context.Context, store database.Store, db database.DBTxConn) error {
	exists, err := tableExists(ctx, store, db)
	if err != nil {
		return fmt.Errorf("migrate: check %s: %w", store.Tablename(), err)
	}
	if exists {
		return nil
	}
	if err := store.CreateVersionTable(ctx, db); err != nil {
		return fmt.Errorf("migrate: create %s: %w", store.Tablename(), err)
	}
	if err := store.Insert(ctx, db, database.InsertRequest{Version: 0}); err != nil {
		return fmt.Errorf("migrate: seed %s: %w", store.Tablename(), err)
	}
	return nil
}

func tableExists(ctx context.Context, store database.Store, db database.DBTxConn) (bool, error) {
	if ext, ok := store.(database.StoreExtender); ok {
		exists, err := ext.TableExists(ctx, db)
		if !errors.Is(err, errors.ErrUnsupported) {
			return exists, err
		}
	}
	// Fallback: a failing read means the table is missing.
	if _, err := store.ListMigrations(ctx, db); err != nil {
		return false, nil
	}
	return true, nil
}

// premark records disallowed versions as applied.
func (r *Runner) premark(ctx context.Context, store database.Store, db database.DBTxConn, p Plan) ([]int64, error) {
	recorded, err := store.ListMigrations(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("migrate: list %s: %w", store.Tablename(), err)
	}
	have := make(map[int64]bool, len(recorded))
	for _, m := range recorded {
		have[m.Version] = m.IsApplied
	}

	var marked []int64
	for _, m := range r.cat.list {
		if p.allows(m.Module) || have[m.Version] {
			continue
		}
		if err := store.Insert(ctx, db, database.InsertRequest{Version: m.Version}); err != nil {
			return marked, fmt.Errorf("migrate: premark %d (%s): %w", m.Version, m.Module, err)
		}
		marked = append(marked, m.Version)
	}
	return marked, nil
}

// Queryer is satisfied by *sqlx.DB, *sqlx.Conn and *sqlx.Tx.
type Queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// Tables lists the base tables of schema, excluding goose bookkeeping.
func Tables(ctx context.Context, db Queryer, schema string) ([]string, error) {
	var out []string
	q := db.Rebind(`SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE' AND table_name <> ?
		ORDER BY table_name`)
	if err := sqlx.SelectContext(ctx, db, &out, q, schema, VersionTable); err != nil {
		return nil, fmt.Errorf("migrate: tables %s: %w", schema, err)
	}
	return out, nil
}

// gooseLogger adapts zap to goose.Logger.
type gooseLogger struct{ s *zap.SugaredLogger }

func (g gooseLogger) Printf(format string, v ...any) { g.s.Infof(format, v...) }
func (g gooseLogger) Fatalf(format string, v ...any) { g.s.Errorf(format, v...) }

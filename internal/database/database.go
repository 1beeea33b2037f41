// Package database centralises sqlx connection helpers for the control
// database and for per-tenant pools.
//
// Two drivers are registered:
//
//	pgx    – jackc/pgx/v5 stdlib, used for every tenant database and, by
//	         default, the control database.
//	mysql  – go-sql-driver/mysql, an alternative control-plane backend.
//
// Public entry points:
//
//	Open(ctx, driver, dsn, opts)  – open, tune, and (optionally) ping with retry.
//	WithPassword(driver, dsn, pw) – inject a Vault-resolved password into a DSN.
//
// Callers should Close() the returned *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Driver names accepted by Open.
const (
	DriverPgx   = "pgx"
	DriverMySQL = "mysql"
)

// Options tunes one pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Ping            bool
	Retries         int
	RetryBackoff    time.Duration
}

// DefaultOptions suit a process-wide control pool: 15 max open, 5 idle,
// 30-minute lifetime, ping with two retries.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Ping:            true,
		Retries:         2,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// Open returns a tuned *sqlx.DB.  When opts.Ping is set it pings up to
// opts.Retries+1 times, sleeping RetryBackoff between attempts, so callers
// can fail fast during bootstrap.
func Open(ctx context.Context, driver, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	if !opts.Ping {
		return db, nil
	}

	for attempt := 0; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if attempt >= opts.Retries {
			break
		}
		t := time.NewTimer(opts.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = db.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("database: ping %s: %w", driver, err)
}

// WithPassword returns dsn with its password replaced by pw.  An empty pw
// leaves dsn unchanged.  pgx DSNs must use the URL form.
func WithPassword(driver, dsn, pw string) (string, error) {
	if pw == "" {
		return dsn, nil
	}
	switch driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database: parse mysql dsn: %w", err)
		}
		cfg.Passwd = pw
		return cfg.FormatDSN(), nil
	case DriverPgx:
		u, err := url.Parse(dsn)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return "", fmt.Errorf("database: pgx dsn must be a postgres:// URL")
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		u.User = url.UserPassword(user, pw)
		return u.String(), nil
	default:
		return "", fmt.Errorf("database: unknown driver %q", driver)
	}
}

// PostgresURL builds a pgx DSN from discrete fields.  params become query
// parameters; unknown keys are sent by pgx as run-time parameters, which is
// how search_path overrides reach the server.
func PostgresURL(host string, port int, dbname, user, pw string, params url.Values) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + dbname,
		RawQuery: params.Encode(),
	}
	if pw != "" {
		u.User = url.UserPassword(user, pw)
	} else if user != "" {
		u.User = url.User(user)
	}
	return u.String()
}

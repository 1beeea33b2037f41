package provision

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/BootCodex/BlueOlive/internal/database"
)

// Superuser holds the credentials used to create tenant databases.
type Superuser struct {
	Host          string
	Port          int
	User          string
	Password      string
	MaintenanceDB string
}

// DatabaseCreator creates a physical database.  created is false when the
// database already existed.
type DatabaseCreator interface {
	CreateDatabase(ctx context.Context, name string) (created bool, err error)
}

// PostgresCreator issues CREATE DATABASE over a short-lived superuser
// connection to the maintenance database.  CREATE DATABASE cannot run
// inside a transaction, so it uses a plain pgx connection rather than a
// pool.
type PostgresCreator struct {
	su Superuser
}

// NewPostgresCreator returns a PostgresCreator for su.
func NewPostgresCreator(su Superuser) *PostgresCreator {
	if su.MaintenanceDB == "" {
		su.MaintenanceDB = "postgres"
	}
	return &PostgresCreator{su: su}
}

// CreateDatabase implements DatabaseCreator.
func (c *PostgresCreator) CreateDatabase(ctx context.Context, name string) (bool, error) {
	dsn := database.PostgresURL(c.su.Host, c.su.Port, c.su.MaintenanceDB, c.su.User, c.su.Password, nil)
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return false, fmt.Errorf("connect %s as %s: %w", c.su.MaintenanceDB, c.su.User, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up database %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	if _, err := conn.Exec(ctx, `CREATE DATABASE `+database.QuoteIdent(name)); err != nil {
		// Lost a race with another creator.
		if database.IsDuplicateDatabase(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

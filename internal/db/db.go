package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

// Database is the preference store connection.
type Database struct {
	DB     *sqlx.DB
	Driver string

	cfg    config.Database
	logger *zap.Logger
}

// Open connects using the driver named in cfg.
func Open(cfg config.Database, logger *zap.Logger) (*Database, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg, logger)
	case "sqlite":
		return NewSQLite(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// Migrate brings the schema up to date.
func (d *Database) Migrate() error {
	var err error
	switch d.Driver {
	case "postgres":
		err = d.migratePostgres()
	default:
		err = d.migrateSQLite()
	}
	if err != nil {
		return err
	}
	d.logger.Info("database migrations completed", zap.String("driver", d.Driver))
	return nil
}

// HealthCheck performs a database health check
func (d *Database) HealthCheck(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

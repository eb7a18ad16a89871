package db

import (
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pizza-nz/print-agent/internal/config"
)

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

// NewSQLite opens (creating if needed) the database file at cfg.Path.
func NewSQLite(cfg config.Database, logger *zap.Logger) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	return &Database{DB: db, Driver: "sqlite", cfg: cfg, logger: logger}, nil
}

func (d *Database) migrateSQLite() error {
	if _, err := d.DB.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

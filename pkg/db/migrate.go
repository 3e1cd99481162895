package db

import (
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations runs all pending migrations using goose
func (db *DB) RunMigrations() error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	// Log current version before migrating
	version, err := goose.GetDBVersion(db.conn)
	if err != nil {
		db.logger.Info("no existing migration version", "error", err)
	} else {
		db.logger.Info("current migration version", "version", version)
	}

	return goose.Up(db.conn, "migrations")
}

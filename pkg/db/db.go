package db

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hoonetorg/btrfs-defrag-core/pkg/config"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/fx"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

// DB wraps the sqlite connection holding long-term, query-friendly state:
// the set of tracked filesystems and their cost-achievement history.
// Short-lived per-filesystem state (recent set, scan checkpoint) lives in
// pkg/store instead.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

func New(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*DB, error) {
	logger = logger.With("component", "db")

	dbDir := filepath.Dir(cfg.DBPath())
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", cfg.DBPath())
	if err != nil {
		return nil, err
	}

	db := &DB{
		conn:   conn,
		logger: logger,
	}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("database initialized", "path", cfg.DBPath())

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing database")
			return db.Close()
		},
	})

	return db, nil
}

func (db *DB) init() error {
	db.logger.Debug("initializing database with migrations")

	if _, err := db.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	return db.RunMigrations()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

// TrackedFilesystem is a Btrfs filesystem the daemon has seen and is
// recording cost history for.
type TrackedFilesystem struct {
	ID        int64
	UUID      string
	Path      string
	Label     string
	CreatedAt int64
	UpdatedAt int64
}

// AddFilesystem adds a new filesystem to track, identified by its Btrfs
// UUID (stable across remounts under a different mountpoint).
func (db *DB) AddFilesystem(uuid, path, label string) (*TrackedFilesystem, error) {
	result, err := db.conn.Exec(
		"INSERT INTO tracked_filesystems (uuid, path, label) VALUES (?, ?, ?)",
		uuid, path, label,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetFilesystem(id)
}

// GetFilesystemByUUID gets a filesystem by its Btrfs UUID.
func (db *DB) GetFilesystemByUUID(uuid string) (*TrackedFilesystem, error) {
	row := db.conn.QueryRow(
		"SELECT id, uuid, path, label, created_at, updated_at FROM tracked_filesystems WHERE uuid = ?",
		uuid,
	)
	return scanTrackedFilesystem(row)
}

// GetFilesystem gets a filesystem by ID.
func (db *DB) GetFilesystem(id int64) (*TrackedFilesystem, error) {
	row := db.conn.QueryRow(
		"SELECT id, uuid, path, label, created_at, updated_at FROM tracked_filesystems WHERE id = ?",
		id,
	)
	return scanTrackedFilesystem(row)
}

func scanTrackedFilesystem(row *sql.Row) (*TrackedFilesystem, error) {
	fs := &TrackedFilesystem{}
	var label sql.NullString
	if err := row.Scan(&fs.ID, &fs.UUID, &fs.Path, &label, &fs.CreatedAt, &fs.UpdatedAt); err != nil {
		return nil, err
	}
	if label.Valid {
		fs.Label = label.String
	}
	return fs, nil
}

// ListFilesystems returns every tracked filesystem, oldest first.
func (db *DB) ListFilesystems() ([]*TrackedFilesystem, error) {
	rows, err := db.conn.Query(
		"SELECT id, uuid, path, label, created_at, updated_at FROM tracked_filesystems ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filesystems []*TrackedFilesystem
	for rows.Next() {
		fs := &TrackedFilesystem{}
		var label sql.NullString
		if err := rows.Scan(&fs.ID, &fs.UUID, &fs.Path, &label, &fs.CreatedAt, &fs.UpdatedAt); err != nil {
			return nil, err
		}
		if label.Valid {
			fs.Label = label.String
		}
		filesystems = append(filesystems, fs)
	}
	return filesystems, rows.Err()
}

// UpdateFilesystemPath updates a tracked filesystem's current mountpoint,
// called when the supervisor re-detects a filesystem at a new path.
func (db *DB) UpdateFilesystemPath(id int64, path string) error {
	_, err := db.conn.Exec(
		"UPDATE tracked_filesystems SET path = ?, updated_at = strftime('%s', 'now') WHERE id = ?",
		path, id,
	)
	return err
}

// RemoveFilesystem removes a tracked filesystem by ID.
func (db *DB) RemoveFilesystem(id int64) error {
	_, err := db.conn.Exec("DELETE FROM tracked_filesystems WHERE id = ?", id)
	return err
}

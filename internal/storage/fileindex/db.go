// Package fileindex keeps a sqlite record of every CSV file a
// RotatingCsvSink has opened, so operators can see what was written
// without re-scanning the output directory (spec §6.3).
package fileindex

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sqlite connection holding the rotated-file index.
type DB struct {
	*sql.DB
	path string
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("fileindex: exec %q: %w", p, err)
		}
	}
	return nil
}

// Open opens (creating if necessary) the sqlite index at path and applies
// any pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("fileindex: open %s: %w", path, err)
	}

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrateUp() error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("fileindex: sub migrations fs: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("fileindex: iofs source: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("fileindex: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("fileindex: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("fileindex: migrate up: %w", err)
	}
	return nil
}

// RotatedFile is one row of the index.
type RotatedFile struct {
	FileID   int64
	Path     string
	OpenedAt time.Time
	ClosedAt sql.NullTime
	RowCount int
}

// RecordOpen inserts a new row for a file that was just opened, or updates
// opened_at if path is already indexed, and returns the driver's last
// insert id. RecordClose finds the row by path, not by this id.
func (db *DB) RecordOpen(path string, openedAt time.Time) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO rotated_files (path, opened_at, row_count) VALUES (?, ?, 0)
		 ON CONFLICT(path) DO UPDATE SET opened_at = excluded.opened_at`,
		path, openedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("fileindex: record open %s: %w", path, err)
	}
	return res.LastInsertId()
}

// RecordClose marks a file closed with its final row count.
func (db *DB) RecordClose(path string, closedAt time.Time, rowCount int) error {
	_, err := db.Exec(
		`UPDATE rotated_files SET closed_at = ?, row_count = ? WHERE path = ?`,
		closedAt, rowCount, path,
	)
	if err != nil {
		return fmt.Errorf("fileindex: record close %s: %w", path, err)
	}
	return nil
}

// ListFiles returns up to limit indexed files (100 if limit <= 0) ordered
// by opened_at descending.
func (db *DB) ListFiles(limit int) ([]RotatedFile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT file_id, path, opened_at, closed_at, row_count
		 FROM rotated_files ORDER BY opened_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fileindex: list files: %w", err)
	}
	defer rows.Close()

	var out []RotatedFile
	for rows.Next() {
		var f RotatedFile
		if err := rows.Scan(&f.FileID, &f.Path, &f.OpenedAt, &f.ClosedAt, &f.RowCount); err != nil {
			return nil, fmt.Errorf("fileindex: scan row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TotalRowCount sums row_count across every indexed file.
func (db *DB) TotalRowCount() (int64, error) {
	var total sql.NullInt64
	if err := db.QueryRow(`SELECT SUM(row_count) FROM rotated_files`).Scan(&total); err != nil {
		return 0, fmt.Errorf("fileindex: total row count: %w", err)
	}
	return total.Int64, nil
}

// AttachAdminRoutes mounts a tailSQL live-debugging console plus a
// VACUUM-backup-download endpoint under mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("fileindex: failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "HWT905 file index",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("fileindex-stats", "Rotated-file index summary (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		files, err := db.ListFiles(1000)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		total, err := db.TotalRowCount()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"files":         files,
			"total_rows":    total,
			"indexed_count": len(files),
		})
	}))

	debug.Handle("fileindex-backup", "Create and download a backup of the file index now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("fileindex-backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		http.ServeFile(w, r, backupPath)
	}))
}

// Package store provides storage backends for hapticd.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/haptickit/hapticd/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddVibration(rec models.Record) error {
	_, err := s.db.Exec(
		`INSERT INTO vibrations (id, token, uid, package, usage, status, duration_ms, created_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Token, rec.UID, rec.Package, string(rec.Usage), string(rec.Status),
		rec.DurationMs, rec.CreatedAt, rec.EndedAt)
	if err != nil {
		slog.Error("SQLiteStore AddVibration failed", "error", err, "vibration", rec.ID)
		return fmt.Errorf("failed to insert vibration %d: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore AddVibration succeeded", "vibration", rec.ID, "status", rec.Status)
	return nil
}

func (s *SQLiteStore) ListVibrations(limit int) ([]models.Record, error) {
	query := `SELECT id, token, uid, package, usage, status, duration_ms, created_at, ended_at
			  FROM vibrations ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		slog.Error("SQLiteStore ListVibrations query failed", "error", err)
		return nil, fmt.Errorf("failed to query vibrations: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			slog.Error("SQLiteStore ListVibrations scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListVibrations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate vibration rows: %w", err)
	}
	slog.Debug("SQLiteStore ListVibrations succeeded", "count", len(records))
	return records, nil
}

func (s *SQLiteStore) PruneVibrations(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM vibrations WHERE ended_at < ?`, before)
	if err != nil {
		slog.Error("SQLiteStore PruneVibrations failed", "error", err)
		return 0, fmt.Errorf("failed to prune vibrations: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("SQLiteStore PruneVibrations succeeded", "pruned", pruned)
	return pruned, nil
}

func (s *SQLiteStore) SaveIntensity(usage models.Usage, intensity models.Intensity) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO intensity_settings (usage, intensity) VALUES (?, ?)`,
		string(usage), int(intensity))
	if err != nil {
		slog.Error("SQLiteStore SaveIntensity failed", "error", err, "usage", usage)
		return fmt.Errorf("failed to save intensity for %s: %w", usage, err)
	}
	slog.Debug("SQLiteStore SaveIntensity succeeded", "usage", usage, "intensity", intensity)
	return nil
}

func (s *SQLiteStore) GetIntensities() (map[models.Usage]models.Intensity, error) {
	rows, err := s.db.Query(`SELECT usage, intensity FROM intensity_settings`)
	if err != nil {
		slog.Error("SQLiteStore GetIntensities query failed", "error", err)
		return nil, fmt.Errorf("failed to query intensity settings: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Usage]models.Intensity)
	for rows.Next() {
		var usage string
		var intensity int
		if err := rows.Scan(&usage, &intensity); err != nil {
			slog.Error("SQLiteStore GetIntensities scan failed", "error", err)
			return nil, err
		}
		out[models.Usage(usage)] = models.Intensity(intensity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore GetIntensities succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) DeleteIntensity(usage models.Usage) error {
	_, err := s.db.Exec(`DELETE FROM intensity_settings WHERE usage = ?`, string(usage))
	if err != nil {
		slog.Error("SQLiteStore DeleteIntensity failed", "error", err, "usage", usage)
		return err
	}
	slog.Debug("SQLiteStore DeleteIntensity succeeded", "usage", usage)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

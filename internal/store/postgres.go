// Package store provides storage backends for hapticd.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/haptickit/hapticd/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddVibration(rec models.Record) error {
	_, err := s.db.Exec(
		`INSERT INTO vibrations (id, token, uid, package, usage, status, duration_ms, created_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Token, rec.UID, rec.Package, string(rec.Usage), string(rec.Status),
		rec.DurationMs, rec.CreatedAt, rec.EndedAt)
	if err != nil {
		slog.Error("PostgresStore AddVibration failed", "error", err, "vibration", rec.ID)
		return fmt.Errorf("failed to insert vibration %d: %w", rec.ID, err)
	}
	slog.Debug("PostgresStore AddVibration succeeded", "vibration", rec.ID, "status", rec.Status)
	return nil
}

func (s *PostgresStore) ListVibrations(limit int) ([]models.Record, error) {
	query := `SELECT id, token, uid, package, usage, status, duration_ms, created_at, ended_at
			  FROM vibrations ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		slog.Error("PostgresStore ListVibrations query failed", "error", err)
		return nil, fmt.Errorf("failed to query vibrations: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			slog.Error("PostgresStore ListVibrations scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListVibrations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate vibration rows: %w", err)
	}
	slog.Debug("PostgresStore ListVibrations succeeded", "count", len(records))
	return records, nil
}

func (s *PostgresStore) PruneVibrations(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM vibrations WHERE ended_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PruneVibrations failed", "error", err)
		return 0, fmt.Errorf("failed to prune vibrations: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("PostgresStore PruneVibrations succeeded", "pruned", pruned)
	return pruned, nil
}

func (s *PostgresStore) SaveIntensity(usage models.Usage, intensity models.Intensity) error {
	_, err := s.db.Exec(
		`INSERT INTO intensity_settings (usage, intensity) VALUES ($1, $2)
		 ON CONFLICT (usage) DO UPDATE SET intensity = EXCLUDED.intensity`,
		string(usage), int(intensity))
	if err != nil {
		slog.Error("PostgresStore SaveIntensity failed", "error", err, "usage", usage)
		return fmt.Errorf("failed to save intensity for %s: %w", usage, err)
	}
	slog.Debug("PostgresStore SaveIntensity succeeded", "usage", usage, "intensity", intensity)
	return nil
}

func (s *PostgresStore) GetIntensities() (map[models.Usage]models.Intensity, error) {
	rows, err := s.db.Query(`SELECT usage, intensity FROM intensity_settings`)
	if err != nil {
		slog.Error("PostgresStore GetIntensities query failed", "error", err)
		return nil, fmt.Errorf("failed to query intensity settings: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Usage]models.Intensity)
	for rows.Next() {
		var usage string
		var intensity int
		if err := rows.Scan(&usage, &intensity); err != nil {
			slog.Error("PostgresStore GetIntensities scan failed", "error", err)
			return nil, err
		}
		out[models.Usage(usage)] = models.Intensity(intensity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore GetIntensities succeeded", "count", len(out))
	return out, nil
}

func (s *PostgresStore) DeleteIntensity(usage models.Usage) error {
	_, err := s.db.Exec(`DELETE FROM intensity_settings WHERE usage = $1`, string(usage))
	if err != nil {
		slog.Error("PostgresStore DeleteIntensity failed", "error", err, "usage", usage)
		return err
	}
	slog.Debug("PostgresStore DeleteIntensity succeeded", "usage", usage)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

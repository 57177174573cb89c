package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/haptickit/hapticd/internal/models"
)

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths are
// assumed to be SQLite databases.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// scanRecord scans a vibration Record from sql.Rows.
func scanRecord(rows *sql.Rows) (models.Record, error) {
	var rec models.Record
	var usage, status string
	err := rows.Scan(
		&rec.ID, &rec.Token, &rec.UID, &rec.Package, &usage, &status,
		&rec.DurationMs, &rec.CreatedAt, &rec.EndedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan vibration record failed: %w", err)
	}
	rec.Usage = models.Usage(usage)
	rec.Status = models.Status(status)
	return rec, nil
}

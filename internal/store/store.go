// Package store provides storage backends for hapticd.
//
// It persists two things: the per-usage intensity settings, so a restart
// restores the user's configuration, and summary records of finished
// vibrations for inspection and pruning. An in-memory backend backs tests
// and ephemeral deployments; SQLite and PostgreSQL back real ones.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/haptickit/hapticd/internal/models"
)

// Store is the persistence surface the manager and API depend on.
type Store interface {
	// AddVibration saves the summary record of an ended vibration.
	AddVibration(rec models.Record) error
	// ListVibrations returns the most recent records, newest first.
	// limit <= 0 means no limit.
	ListVibrations(limit int) ([]models.Record, error)
	// PruneVibrations deletes records that ended before the cutoff and
	// reports how many were removed.
	PruneVibrations(before time.Time) (int64, error)

	// SaveIntensity persists the user intensity for one usage.
	SaveIntensity(usage models.Usage, intensity models.Intensity) error
	// GetIntensities returns all persisted per-usage intensities.
	GetIntensities() (map[models.Usage]models.Intensity, error)
	// DeleteIntensity removes the persisted intensity for one usage,
	// reverting it to the built-in default.
	DeleteIntensity(usage models.Usage) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string. For SQLite this is the
// database file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu          sync.Mutex
	vibrations  []models.Record
	intensities map[models.Usage]models.Intensity
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{intensities: make(map[models.Usage]models.Intensity)}
}

func (s *InMemoryStore) AddVibration(rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vibrations = append(s.vibrations, rec)
	return nil
}

func (s *InMemoryStore) ListVibrations(limit int) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.vibrations))
	copy(out, s.vibrations)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) PruneVibrations(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.vibrations[:0]
	var pruned int64
	for _, rec := range s.vibrations {
		if rec.EndedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	s.vibrations = kept
	return pruned, nil
}

func (s *InMemoryStore) SaveIntensity(usage models.Usage, intensity models.Intensity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intensities[usage] = intensity
	return nil
}

func (s *InMemoryStore) GetIntensities() (map[models.Usage]models.Intensity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.Usage]models.Intensity, len(s.intensities))
	for usage, intensity := range s.intensities {
		out[usage] = intensity
	}
	return out, nil
}

func (s *InMemoryStore) DeleteIntensity(usage models.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intensities, usage)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

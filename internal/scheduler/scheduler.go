// Package scheduler provides maintenance scheduling for hapticd.
//
// It runs recurring jobs (such as pruning old vibration records) using
// cron expressions.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultHistoryRetention is how long vibration records are kept before
// the prune job removes them.
const DefaultHistoryRetention = 30 * 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleHistoryPrune runs the prune function on the given cron
// expression with the given retention window.
func (s *Scheduler) ScheduleHistoryPrune(expr string, retention time.Duration, prune func(retention time.Duration) (int64, error)) error {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return s.AddJob(expr, func() {
		pruned, err := prune(retention)
		if err != nil {
			slog.Error("History prune failed", "error", err)
			return
		}
		slog.Debug("History prune completed", "pruned", pruned, "retention", retention)
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

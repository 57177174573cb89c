package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobInvalidExpr(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error adding job with invalid expression")
	}
}

func TestScheduleHistoryPrune(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	err := s.ScheduleHistoryPrune("0 3 * * *", 0, func(retention time.Duration) (int64, error) {
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Expected no error scheduling prune, got %v", err)
	}
}

func TestScheduleHistoryPruneInvalidExpr(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	err := s.ScheduleHistoryPrune("bogus", DefaultHistoryRetention, func(time.Duration) (int64, error) { return 0, nil })
	if err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haptickit/hapticd/internal/conductor"
	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
)

func newConductor(t *testing.T, id int64, seq *models.EffectSequence) (*conductor.Conductor, *hal.FakeDevice) {
	t.Helper()
	dev := hal.NewFakeDevice(hal.DefaultFakeInfo(0))
	ctrl := hal.NewController(0, dev)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	caller := models.CallerInfo{UID: 1000, Package: "test.app", Usage: models.UsageTouch}
	vib := models.NewVibration(id, "tok", caller, nil)
	c := conductor.New(vib, []conductor.TrackEffect{{Controller: ctrl, Sequence: seq}}, nil, conductor.Config{})
	return c, dev
}

func oneShot(d time.Duration) *models.EffectSequence {
	return &models.EffectSequence{
		Segments:    []models.Segment{models.StepSegment{Amplitude: 0.5, Duration: d}},
		RepeatIndex: models.NoRepeat,
	}
}

func repeating(d time.Duration) *models.EffectSequence {
	return &models.EffectSequence{
		Segments:    []models.Segment{models.StepSegment{Amplitude: 0.5, Duration: d}},
		RepeatIndex: 0,
	}
}

func TestThreadConductsToCompletion(t *testing.T) {
	released := make(chan *conductor.Conductor, 1)
	th := NewThread(WithReleaseFunc(func(c *conductor.Conductor) { released <- c }))
	th.Start(context.Background())
	defer th.Stop()

	c, dev := newConductor(t, 1, oneShot(10*time.Millisecond))
	if err := th.Conduct(c); err != nil {
		t.Fatalf("Conduct failed: %v", err)
	}

	select {
	case got := <-released:
		if got != c {
			t.Error("Release callback delivered a different conductor")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for release")
	}
	if got := c.Vibration().Status(); got != models.StatusFinished {
		t.Errorf("Status = %v, want finished", got)
	}
	if th.Current() != nil {
		t.Error("Expected thread to be idle after release")
	}
	_, offCalls, _ := dev.Snapshot()
	if offCalls != 1 {
		t.Errorf("Off calls = %d, want 1", offCalls)
	}
}

func TestThreadRejectsSecondConductor(t *testing.T) {
	released := make(chan struct{}, 1)
	th := NewThread(WithReleaseFunc(func(*conductor.Conductor) { released <- struct{}{} }))
	th.Start(context.Background())
	defer th.Stop()

	first, _ := newConductor(t, 1, repeating(5*time.Millisecond))
	if err := th.Conduct(first); err != nil {
		t.Fatalf("Conduct failed: %v", err)
	}
	second, _ := newConductor(t, 2, oneShot(5*time.Millisecond))
	if err := th.Conduct(second); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}

	// Cancelling the current vibration frees the thread for the next one.
	if err := first.Cancel(context.Background(), models.CancelSuperseded, false); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for cancelled vibration to release")
	}
	if err := th.Conduct(second); err != nil {
		t.Fatalf("Conduct after release failed: %v", err)
	}
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for second vibration")
	}
	if got := second.Vibration().Status(); got != models.StatusFinished {
		t.Errorf("Second status = %v, want finished", got)
	}
}

func TestThreadStopCancelsCurrent(t *testing.T) {
	th := NewThread()
	th.Start(context.Background())

	c, _ := newConductor(t, 1, repeating(5*time.Millisecond))
	if err := th.Conduct(c); err != nil {
		t.Fatalf("Conduct failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	th.Stop()

	if got := c.Vibration().Status(); got != models.StatusCancelledByManager {
		t.Errorf("Status = %v, want cancelled_by_manager", got)
	}
	if err := th.Conduct(c); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

func TestThreadStopIsIdempotent(t *testing.T) {
	th := NewThread()
	th.Start(context.Background())
	th.Stop()
	th.Stop()
}

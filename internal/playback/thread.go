// Package playback runs vibrations on a single dedicated goroutine.
//
// All hardware calls for a conductor happen on this goroutine, in due-time
// order, with one conductor playing at a time. External goroutines hand
// work over through Conduct and interrupt sleeps through the conductor's
// wake channel; they never touch the hardware directly (immediate
// cancellation's off call is the documented exception, handled by the
// conductor itself).
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haptickit/hapticd/internal/conductor"
	"github.com/haptickit/hapticd/internal/models"
)

// ErrBusy is returned by Conduct when a vibration is still playing.
// Callers are expected to cancel the current vibration first and wait for
// the release callback.
var ErrBusy = errors.New("playback thread busy")

// ErrStopped is returned by Conduct after Stop.
var ErrStopped = errors.New("playback thread stopped")

// Option configures a Thread.
type Option func(*Thread)

// WithReleaseFunc registers a callback invoked on the playback goroutine
// after a conductor fully drains, including its cleanup steps. The thread
// is free for the next vibration once it fires.
func WithReleaseFunc(fn func(*conductor.Conductor)) Option {
	return func(t *Thread) { t.onRelease = fn }
}

// Thread owns the playback goroutine.
type Thread struct {
	work      chan *conductor.Conductor
	stop      chan struct{}
	wg        sync.WaitGroup
	onRelease func(*conductor.Conductor)

	mu      sync.Mutex
	current *conductor.Conductor
	stopped bool
}

// NewThread creates a playback thread. Start must be called before
// Conduct.
func NewThread(opts ...Option) *Thread {
	t := &Thread{
		work: make(chan *conductor.Conductor, 1),
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the playback goroutine.
func (t *Thread) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.loop(ctx)
	slog.Info("Playback thread started")
}

// Stop cancels any playing vibration and waits for the goroutine to exit.
func (t *Thread) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	c := t.current
	t.mu.Unlock()
	close(t.stop)
	if c != nil {
		if err := c.Cancel(context.Background(), models.CancelByManager, true); err != nil {
			slog.Warn("Stop cancel failed", "error", err)
		}
	}
	t.wg.Wait()
	slog.Info("Playback thread stopped")
}

// Conduct hands a ready conductor to the playback goroutine. It does not
// wait for playback; ErrBusy means the previous vibration has not released
// the thread yet.
func (t *Thread) Conduct(c *conductor.Conductor) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	if t.current != nil {
		t.mu.Unlock()
		return ErrBusy
	}
	t.current = c
	t.mu.Unlock()

	select {
	case t.work <- c:
		return nil
	case <-t.stop:
		t.mu.Lock()
		t.current = nil
		t.mu.Unlock()
		return ErrStopped
	}
}

// Current returns the conductor holding the thread, nil when idle.
func (t *Thread) Current() *conductor.Conductor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Thread) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case c := <-t.work:
			t.play(ctx, c)
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// play drives one conductor to completion: run every due step, then sleep
// until the next one, waking early for callbacks and cancellations.
func (t *Thread) play(ctx context.Context, c *conductor.Conductor) {
	slog.Debug("Playback thread conducting vibration", "vibration", c.Vibration().ID)
	c.Start(ctx)
	for !c.Done() {
		for c.RunNext(ctx) {
		}
		if c.Done() {
			break
		}
		due, ok := c.NextDue()
		if !ok {
			break
		}
		if wait := time.Until(due); wait > 0 {
			t.sleep(ctx, c, wait)
		}
	}
	c.Finalize()

	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()
	slog.Debug("Playback thread released", "vibration", c.Vibration().ID)
	if t.onRelease != nil {
		t.onRelease(c)
	}
}

func (t *Thread) sleep(ctx context.Context, c *conductor.Conductor, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.Wake():
	case <-t.stop:
	case <-ctx.Done():
	}
}

// Package conductor turns an adapted, scaled combined vibration into a
// live execution plan of discrete hardware steps.
//
// A Conductor owns a time-ordered min-heap of steps. The playback thread
// drains it; external goroutines interact only through NotifyCallback and
// Cancel, which mutate the heap under the conductor's lock and wake the
// playback thread through a channel. The conductor never holds a
// reference into playback internals.
package conductor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
)

// State is the conductor lifecycle.
type State int

const (
	StateBuilding State = iota
	StateReady
	StateRunning
	StateFinished
	StateCancelling
	StateCancelled
)

// Default timing constants.
const (
	// DefaultRepeatingOnWindow is the minimum hardware on-duration
	// requested for indefinitely repeating waveforms, so the actuator is
	// not re-triggered on every loop.
	DefaultRepeatingOnWindow = 5 * time.Second
	// DefaultCallbackGrace is how long past an effect's nominal duration
	// the conductor waits for a completion callback before treating the
	// step as complete.
	DefaultCallbackGrace = 1 * time.Second
	// DefaultRampStepDuration spaces the amplitude updates used to play
	// ramps without envelope hardware and to play the ramp-down tail.
	DefaultRampStepDuration = 5 * time.Millisecond
)

// Config tunes conductor behavior.
type Config struct {
	// RampDownDuration is the synthetic decreasing-amplitude tail appended
	// after natural completion of amplitude-controlled vibrations. Zero
	// disables the tail.
	RampDownDuration time.Duration
	// RampStepDuration overrides DefaultRampStepDuration.
	RampStepDuration time.Duration
	// RepeatingOnWindow overrides DefaultRepeatingOnWindow.
	RepeatingOnWindow time.Duration
	// CallbackGrace overrides DefaultCallbackGrace.
	CallbackGrace time.Duration
	// StrictDispatch aborts the whole vibration on any hardware dispatch
	// failure. The legacy behavior logs and stops progressing amplitude
	// changes without marking the vibration failed.
	StrictDispatch bool
}

func (c Config) rampStep() time.Duration {
	if c.RampStepDuration > 0 {
		return c.RampStepDuration
	}
	return DefaultRampStepDuration
}

func (c Config) repeatingWindow() time.Duration {
	if c.RepeatingOnWindow > 0 {
		return c.RepeatingOnWindow
	}
	return DefaultRepeatingOnWindow
}

func (c Config) callbackGrace() time.Duration {
	if c.CallbackGrace > 0 {
		return c.CallbackGrace
	}
	return DefaultCallbackGrace
}

// TrackEffect pairs a controller with the sequence it should play, already
// adapted to that actuator.
type TrackEffect struct {
	Controller *hal.Controller
	Sequence   *models.EffectSequence
	StartDelay time.Duration
}

// runContext carries per-run state into step execution. Hardware calls
// happen outside the conductor lock.
type runContext struct {
	ctx context.Context
	c   *Conductor
	now time.Time
}

// Conductor drives one vibration across its participating actuators.
type Conductor struct {
	vib  *models.Vibration
	cfg  Config
	sync hal.SyncCoordinator

	// OnEnded, when set, is invoked exactly once after the vibration's
	// terminal status is committed.
	OnEnded func(v *models.Vibration)

	mu              sync.Mutex
	state           State
	queue           stepHeap
	tracks          []*track
	liveTracks      int
	nextStepID      int64
	cancelImmediate bool
	cancelStatus    models.Status
	syncActive      bool
	syncPending     int
	wake            chan struct{}
	ended           bool
}

// New builds the conductor for one vibration. Adaptation and scaling have
// already happened; effects with nil sequences are skipped.
func New(vib *models.Vibration, effects []TrackEffect, sync hal.SyncCoordinator, cfg Config) *Conductor {
	c := &Conductor{
		vib:  vib,
		cfg:  cfg,
		sync: sync,
		wake: make(chan struct{}, 1),
	}
	for _, eff := range effects {
		if eff.Sequence == nil || len(eff.Sequence.Segments) == 0 {
			continue
		}
		c.tracks = append(c.tracks, newTrack(c, eff))
	}
	c.liveTracks = len(c.tracks)
	c.state = StateReady
	return c
}

// Vibration returns the vibration being conducted.
func (c *Conductor) Vibration() *models.Vibration { return c.vib }

// Wake returns the channel signaled whenever a callback or cancellation
// adds work; the playback thread selects on it while sleeping.
func (c *Conductor) Wake() <-chan struct{} { return c.wake }

func (c *Conductor) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conductor) stepID() int64 {
	c.nextStepID++
	return c.nextStepID
}

// Start schedules each track's first step and stages the synchronized
// commit when more than one actuator participates.
func (c *Conductor) Start(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	c.state = StateRunning
	c.vib.MarkRunning()

	if c.sync != nil && len(c.tracks) > 1 && c.allImmediateStart() {
		ids := make([]int, len(c.tracks))
		var required hal.Capability
		for i, t := range c.tracks {
			ids[i] = t.ctrl.ID()
			required |= t.firstCallCapability()
		}
		if err := c.sync.PrepareSynced(ctx, required, ids); err != nil {
			slog.Debug("Conductor synced prepare failed, running unsynchronized",
				"vibration", c.vib.ID, "error", err)
		} else {
			c.syncActive = true
			c.syncPending = len(c.tracks)
			slog.Debug("Conductor synced start prepared", "vibration", c.vib.ID, "actuators", ids)
		}
	}

	for _, t := range c.tracks {
		c.queue.push(&dispatchStep{t: t, at: now.Add(t.startDelay)})
	}
	if len(c.tracks) == 0 {
		// Nothing playable; ended by the playback loop at first drain.
		c.liveTracks = 0
	}
}

func (c *Conductor) allImmediateStart() bool {
	for _, t := range c.tracks {
		if t.startDelay > 0 {
			return false
		}
	}
	return true
}

// trackFirstDispatched records a track's first hardware call and commits
// the synchronized group once every participant has queued one. A failed
// trigger cancels the group and playback continues unsynchronized.
func (c *Conductor) trackFirstDispatched(rc *runContext) {
	c.mu.Lock()
	if !c.syncActive {
		c.mu.Unlock()
		return
	}
	c.syncPending--
	pending := c.syncPending
	c.mu.Unlock()
	if pending > 0 {
		return
	}
	if err := c.sync.TriggerSynced(rc.ctx, c.vib.ID); err != nil {
		slog.Warn("Conductor synced trigger failed, cancelling group",
			"vibration", c.vib.ID, "error", err)
		if cancelErr := c.sync.CancelSynced(rc.ctx); cancelErr != nil {
			slog.Warn("Conductor synced cancel failed", "vibration", c.vib.ID, "error", cancelErr)
		}
	}
	c.mu.Lock()
	c.syncActive = false
	c.mu.Unlock()
}

// NextDue returns the earliest scheduled step time. ok is false when the
// queue is empty, which means the conductor is done.
func (c *Conductor) NextDue() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.queue.peek()
	if !ok {
		return time.Time{}, false
	}
	return s.due(), true
}

// RunNext pops and executes the earliest step if it is due. It returns
// true when a step ran.
func (c *Conductor) RunNext(ctx context.Context) bool {
	now := time.Now()
	c.mu.Lock()
	if c.cancelImmediate {
		// Immediate cancellation drains everything; off was already
		// issued by Cancel.
		c.queue.clear()
		c.state = StateCancelled
		c.mu.Unlock()
		return false
	}
	graceful := c.cancelStatus != ""
	s, ok := c.queue.peek()
	if !ok || (s.due().After(now) && !(graceful && runsEarlyOnCancel(s))) {
		c.mu.Unlock()
		return false
	}
	c.queue.pop()
	c.mu.Unlock()

	s.run(&runContext{ctx: ctx, c: c, now: now})
	return true
}

// runsEarlyOnCancel reports whether a pending step runs immediately once a
// graceful cancel is raised, instead of at its scheduled time. Dispatch
// steps run early so every track observes the flag and moves to cleanup
// without waiting out segment durations. In-flight hardware waits and the
// ramp-down tail keep their timing.
func runsEarlyOnCancel(s step) bool {
	switch st := s.(type) {
	case *timeoutStep, *offStep:
		return false
	case *amplitudeStep:
		return !st.cleanup
	default:
		return true
	}
}

// Done reports whether all steps have drained. Finalize must be called
// once it returns true.
func (c *Conductor) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelImmediate {
		return true
	}
	return c.queue.Len() == 0
}

// Finalize commits the terminal state after the queue drained. It is
// idempotent.
func (c *Conductor) Finalize() {
	c.mu.Lock()
	status := models.StatusFinished
	if c.cancelStatus != "" {
		status = c.cancelStatus
		c.state = StateCancelled
	} else if c.state == StateRunning || c.state == StateReady {
		c.state = StateFinished
	}
	c.mu.Unlock()
	c.end(status)
}

// end commits a terminal status once and fires OnEnded for the winning
// caller.
func (c *Conductor) end(status models.Status) {
	if !c.vib.End(status) {
		return
	}
	c.mu.Lock()
	alreadyNotified := c.ended
	c.ended = true
	c.mu.Unlock()
	if alreadyNotified {
		return
	}
	slog.Info("Vibration ended", "vibration", c.vib.ID, "status", status)
	if c.OnEnded != nil {
		c.OnEnded(c.vib)
	}
}

// endNominal marks natural completion. It fires listener callbacks at the
// vibration's original end time; ramp-down and off cleanup continue
// afterwards before the thread is released.
func (c *Conductor) endNominal() {
	c.mu.Lock()
	cancelled := c.cancelStatus != ""
	c.mu.Unlock()
	if cancelled {
		return
	}
	c.end(models.StatusFinished)
}

// failDispatch aborts the vibration after a hardware failure in strict
// mode: remaining steps are dropped and cleanup off steps are scheduled.
func (c *Conductor) failDispatch(rc *runContext) {
	c.mu.Lock()
	c.queue.clear()
	tracks := c.tracks
	c.mu.Unlock()
	c.end(models.StatusIgnoredErrorDispatching)
	for _, t := range tracks {
		t.forceOff(rc)
	}
	c.signal()
}

// cancelRequested reports whether a cancellation is pending, for steps to
// observe at their next safe point.
func (c *Conductor) cancelRequested() (models.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelStatus, c.cancelStatus != ""
}

// Cancel requests cancellation from any goroutine. Immediate cancellation
// synchronously issues off to every participating actuator and commits the
// terminal status before returning; it never waits for in-flight hardware
// calls or for the playback thread. Graceful cancellation only raises the
// flag: already-dispatched steps finish naturally, remaining steps are
// skipped, and the ramp-down tail still plays.
func (c *Conductor) Cancel(ctx context.Context, reason models.CancelReason, immediate bool) error {
	status, err := reason.Status()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == StateFinished || c.state == StateCancelled || c.cancelStatus != "" {
		c.mu.Unlock()
		return nil
	}
	c.state = StateCancelling
	c.cancelStatus = status
	c.cancelImmediate = immediate
	tracks := c.tracks
	c.mu.Unlock()

	slog.Info("Vibration cancel requested", "vibration", c.vib.ID, "reason", reason, "immediate", immediate)
	if immediate {
		c.end(status)
		for _, t := range tracks {
			if err := t.ctrl.Off(ctx); err != nil {
				slog.Warn("Cancel off failed", "vibration", c.vib.ID, "actuator", t.ctrl.ID(), "error", err)
			}
		}
	}
	c.signal()
	return nil
}

// NotifyCallback delivers a hardware completion callback. Callbacks for a
// step the track is no longer waiting on are stale and discarded.
func (c *Conductor) NotifyCallback(actuatorID int, vibrationID, stepID int64) {
	if vibrationID != c.vib.ID {
		slog.Debug("Discarding stale completion callback", "vibration", vibrationID, "step", stepID)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracks {
		if t.ctrl.ID() != actuatorID {
			continue
		}
		if t.waitID != stepID {
			slog.Debug("Discarding stale completion callback",
				"actuator", actuatorID, "vibration", vibrationID, "step", stepID, "awaiting", t.waitID)
			return
		}
		c.queue.push(&callbackStep{t: t, stepID: stepID, at: time.Now()})
		c.signal()
		return
	}
}

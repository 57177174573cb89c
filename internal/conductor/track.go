package conductor

import (
	"log/slog"
	"time"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
)

// track is one actuator's share of a vibration: its controller, its
// adapted sequence, and the playback cursor. All mutation happens on the
// playback thread, except waitID which is guarded by the conductor lock so
// completion callbacks can match against it.
type track struct {
	c          *Conductor
	ctrl       *hal.Controller
	seq        *models.EffectSequence
	startDelay time.Duration

	pos            int
	amplitude      float64
	onUntil        time.Time
	usedOn         bool
	envelopeOffset time.Duration
	ampHalted      bool
	halted         bool
	finished       bool
	firstDone      bool

	// waitID is the step id of the in-flight asynchronous hardware call,
	// zero when none. Guarded by c.mu.
	waitID int64
}

func newTrack(c *Conductor, eff TrackEffect) *track {
	return &track{
		c:          c,
		ctrl:       eff.Controller,
		seq:        elideZeroDurationSteps(eff.Sequence),
		startDelay: eff.StartDelay,
	}
}

// elideZeroDurationSteps drops zero-duration steps before hardware calls
// are built. A dropped step's amplitude is not lost: it becomes the
// effective start amplitude of an immediately following ramp.
func elideZeroDurationSteps(seq *models.EffectSequence) *models.EffectSequence {
	out := &models.EffectSequence{RepeatIndex: models.NoRepeat}
	carry := -1.0
	hasCarry := false
	for i, seg := range seq.Segments {
		if i == seq.RepeatIndex {
			out.RepeatIndex = len(out.Segments)
		}
		if st, isStep := seg.(models.StepSegment); isStep && st.Duration == 0 {
			carry = st.Amplitude
			hasCarry = true
			continue
		}
		if hasCarry {
			if r, isRamp := seg.(models.RampSegment); isRamp && carry >= 0 {
				r.StartAmplitude = carry
				seg = r
			}
			hasCarry = false
		}
		out.Segments = append(out.Segments, seg)
	}
	if out.RepeatIndex >= len(out.Segments) {
		out.RepeatIndex = models.NoRepeat
	}
	return out
}

// firstCallCapability returns the capability bit the track's first
// hardware call relies on, for the synchronized prepare.
func (t *track) firstCallCapability() hal.Capability {
	if len(t.seq.Segments) == 0 {
		return 0
	}
	switch t.seq.Segments[0].(type) {
	case models.StepSegment:
		return hal.CapAmplitudeControl & t.ctrl.Info().Capabilities
	case models.RampSegment:
		return hal.CapComposePwle & t.ctrl.Info().Capabilities
	case models.PrimitiveSegment:
		return hal.CapComposeEffects
	case models.PwlePointSegment:
		return hal.CapComposePwleV2
	case models.VendorSegment:
		return hal.CapPerformVendorEffects
	default:
		return 0
	}
}

// advance moves the cursor, wrapping at the repeat index for repeating
// sequences.
func (t *track) advance(n int) {
	t.pos += n
	if t.pos >= len(t.seq.Segments) && t.seq.Repeating() {
		t.pos = t.seq.RepeatIndex
		t.envelopeOffset = 0
	}
}

// dispatch issues the hardware call for the segment at the cursor and
// schedules whatever follows it.
func (t *track) dispatch(rc *runContext, at time.Time) {
	if t.finished || t.halted {
		return
	}
	if _, cancelled := rc.c.cancelRequested(); cancelled {
		// Graceful cancel: skip remaining segments, keep completion
		// handling (including ramp-down). Cleanup is anchored at the
		// current time, not the step's original schedule.
		t.complete(rc, rc.now)
		return
	}
	if t.pos >= len(t.seq.Segments) {
		t.complete(rc, at)
		return
	}

	switch seg := t.seq.Segments[t.pos].(type) {
	case models.StepSegment:
		t.dispatchWaveformStep(rc, at, seg)
	case models.RampSegment:
		if t.ctrl.Info().Capabilities.Has(hal.CapComposePwle) {
			t.dispatchPwle(rc, at)
		} else {
			t.dispatchRampAsSteps(rc, at, seg)
		}
	case models.PrebakedSegment:
		t.dispatchPrebaked(rc, at, seg)
	case models.PrimitiveSegment:
		t.dispatchPrimitives(rc, at)
	case models.PwlePointSegment:
		t.dispatchEnvelope(rc, at)
	case models.VendorSegment:
		t.dispatchVendor(rc, at, seg)
	default:
		slog.Error("Track cannot dispatch segment kind, halting actuator track",
			"vibration", t.c.vib.ID, "actuator", t.ctrl.ID())
		t.complete(rc, at)
	}
}

// dispatchWaveformStep plays one fixed-amplitude step: make sure the
// actuator is on for long enough, set the amplitude, and schedule the next
// segment at this step's end.
func (t *track) dispatchWaveformStep(rc *runContext, at time.Time, seg models.StepSegment) {
	if !t.ensureOn(rc, at, seg.Duration) {
		return
	}
	t.setAmplitude(rc, seg.Amplitude)
	t.advance(1)
	t.c.mu.Lock()
	t.c.queue.push(&dispatchStep{t: t, at: at.Add(seg.Duration)})
	t.c.mu.Unlock()
	t.markFirstDispatched(rc)
}

// dispatchRampAsSteps approximates a ramp on amplitude-only hardware with
// small amplitude updates across the ramp's duration.
func (t *track) dispatchRampAsSteps(rc *runContext, at time.Time, seg models.RampSegment) {
	if !t.ensureOn(rc, at, seg.Duration) {
		return
	}
	t.setAmplitude(rc, seg.StartAmplitude)
	dt := t.c.cfg.rampStep()
	t.c.mu.Lock()
	for elapsed := dt; elapsed < seg.Duration; elapsed += dt {
		frac := float64(elapsed) / float64(seg.Duration)
		amp := seg.StartAmplitude + (seg.EndAmplitude-seg.StartAmplitude)*frac
		t.c.queue.push(&amplitudeStep{t: t, amplitude: amp, at: at.Add(elapsed)})
	}
	t.c.mu.Unlock()
	t.advance(1)
	t.c.mu.Lock()
	t.c.queue.push(&dispatchStep{t: t, at: at.Add(seg.Duration)})
	t.c.mu.Unlock()
	t.markFirstDispatched(rc)
}

// dispatchPwle composes a run of adjacent ramps into one envelope call, up
// to the device's envelope size limit, cutting at the lowest amplitude.
func (t *track) dispatchPwle(rc *runContext, at time.Time) {
	run := collectRun[models.RampSegment](t.seq.Segments, t.pos)
	maxSize := t.ctrl.Info().PwleSizeMax
	boundary := chunkBoundary(rampEndAmplitudes(run), maxSize)
	chunk := run[:boundary]
	t.dispatchAsync(rc, at, len(chunk), func(stepID int64) (time.Duration, error) {
		return t.ctrl.ComposePwle(rc.ctx, t.c.vib.ID, stepID, chunk)
	})
}

// dispatchPrimitives composes a run of primitives, splitting oversized
// compositions at the lowest-scale boundary.
func (t *track) dispatchPrimitives(rc *runContext, at time.Time) {
	run := collectRun[models.PrimitiveSegment](t.seq.Segments, t.pos)
	maxSize := t.ctrl.Info().CompositionSizeMax
	boundary := chunkBoundary(primitiveAmplitudes(run), maxSize)
	chunk := run[:boundary]
	t.dispatchAsync(rc, at, len(chunk), func(stepID int64) (time.Duration, error) {
		return t.ctrl.ComposePrimitives(rc.ctx, t.c.vib.ID, stepID, chunk)
	})
}

// dispatchEnvelope composes a run of envelope points, rebasing their
// absolute times after a split.
func (t *track) dispatchEnvelope(rc *runContext, at time.Time) {
	run := collectRun[models.PwlePointSegment](t.seq.Segments, t.pos)
	maxSize := t.ctrl.Info().PwleSizeMax
	if env := t.ctrl.Info().Envelope; env != nil && env.MaxPoints > 0 {
		maxSize = env.MaxPoints
	}
	boundary := chunkBoundary(pwleAmplitudes(run), maxSize)
	chunk := make([]models.PwlePointSegment, boundary)
	for i, p := range run[:boundary] {
		p.Time -= t.envelopeOffset
		chunk[i] = p
	}
	t.envelopeOffset += chunk[len(chunk)-1].Time
	t.dispatchAsync(rc, at, boundary, func(stepID int64) (time.Duration, error) {
		return t.ctrl.ComposePwleV2(rc.ctx, t.c.vib.ID, stepID, chunk)
	})
}

func (t *track) dispatchPrebaked(rc *runContext, at time.Time, seg models.PrebakedSegment) {
	t.dispatchAsync(rc, at, 1, func(stepID int64) (time.Duration, error) {
		return t.ctrl.PerformPrebaked(rc.ctx, t.c.vib.ID, stepID, seg)
	})
}

func (t *track) dispatchVendor(rc *runContext, at time.Time, seg models.VendorSegment) {
	t.dispatchAsync(rc, at, 1, func(stepID int64) (time.Duration, error) {
		return t.ctrl.PerformVendorEffect(rc.ctx, t.c.vib.ID, stepID, seg)
	})
}

// dispatchAsync issues one asynchronous hardware call: it registers the
// awaited step id, advances the cursor past the dispatched chunk, and arms
// the callback grace timeout. Stepping for this track is suspended until
// the completion callback or the timeout fires; other tracks continue.
func (t *track) dispatchAsync(rc *runContext, at time.Time, chunkLen int, call func(stepID int64) (time.Duration, error)) {
	t.c.mu.Lock()
	stepID := t.c.stepID()
	t.waitID = stepID
	t.c.mu.Unlock()

	duration, err := call(stepID)
	if err != nil {
		t.c.mu.Lock()
		t.waitID = 0
		t.c.mu.Unlock()
		t.handleFailure(rc, at, err, false)
		return
	}
	t.advance(chunkLen)
	t.c.mu.Lock()
	t.c.queue.push(&timeoutStep{t: t, stepID: stepID, at: rc.now.Add(duration + t.c.cfg.callbackGrace())})
	t.c.mu.Unlock()
	t.markFirstDispatched(rc)
}

// resume continues stepping after a completion callback or a grace
// timeout. The stepID must still be the one awaited; anything else is
// stale and ignored.
func (t *track) resume(rc *runContext, stepID int64, timedOut bool) {
	t.c.mu.Lock()
	if t.waitID != stepID {
		t.c.mu.Unlock()
		return
	}
	t.waitID = 0
	t.c.mu.Unlock()
	if timedOut {
		slog.Warn("Completion callback never arrived, treating step as complete",
			"vibration", t.c.vib.ID, "actuator", t.ctrl.ID(), "step", stepID)
	}
	t.dispatch(rc, rc.now)
}

// ensureOn re-triggers the hardware on call only when playback is about to
// run past the previously requested window. Repeating waveforms get a
// fixed window plus any accumulated deficit instead of an on call per
// loop.
func (t *track) ensureOn(rc *runContext, at time.Time, need time.Duration) bool {
	until := at.Add(need)
	if t.usedOn && !t.onUntil.Before(until) {
		return true
	}
	var window time.Duration
	if t.seq.Repeating() {
		window = t.c.cfg.repeatingWindow()
		if t.usedOn {
			if deficit := until.Sub(t.onUntil); deficit > 0 {
				window += deficit
			}
		}
	} else {
		window = t.remainingWaveformDuration()
	}
	t.c.mu.Lock()
	stepID := t.c.stepID()
	t.c.mu.Unlock()
	actual, err := t.ctrl.On(rc.ctx, t.c.vib.Caller.UID, t.c.vib.ID, stepID, window)
	if err != nil {
		t.handleFailure(rc, at, err, false)
		return false
	}
	t.onUntil = at.Add(actual)
	t.usedOn = true
	return true
}

// remainingWaveformDuration sums the timed segments from the cursor to the
// end of the sequence, so one on call covers the rest of the waveform.
func (t *track) remainingWaveformDuration() time.Duration {
	var total time.Duration
	for _, seg := range t.seq.Segments[t.pos:] {
		switch s := seg.(type) {
		case models.StepSegment:
			total += s.Duration
		case models.RampSegment:
			total += s.Duration
		default:
			return total
		}
	}
	return total
}

// setAmplitude pushes a new amplitude, honoring the amplitude-halt from a
// prior legacy-mode failure and skipping devices without amplitude
// control.
func (t *track) setAmplitude(rc *runContext, amplitude float64) {
	if t.ampHalted || !t.ctrl.Info().Capabilities.Has(hal.CapAmplitudeControl) {
		return
	}
	if amplitude == models.DefaultAmplitude {
		amplitude = 1
	}
	if err := t.ctrl.SetAmplitude(rc.ctx, amplitude); err != nil {
		t.handleFailure(rc, rc.now, err, true)
		return
	}
	t.amplitude = amplitude
}

// handleFailure routes a hardware dispatch failure: strict mode aborts the
// whole vibration; legacy mode logs, stops progressing amplitude changes,
// and otherwise lets the vibration run out.
func (t *track) handleFailure(rc *runContext, at time.Time, err error, amplitudeOnly bool) {
	slog.Error("Hardware dispatch failed",
		"vibration", t.c.vib.ID, "actuator", t.ctrl.ID(), "amplitude_only", amplitudeOnly, "error", err)
	if t.c.cfg.StrictDispatch {
		rc.c.failDispatch(rc)
		return
	}
	if amplitudeOnly {
		t.ampHalted = true
		return
	}
	t.halted = true
	t.complete(rc, at)
}

// markFirstDispatched feeds the synchronized-commit protocol.
func (t *track) markFirstDispatched(rc *runContext) {
	if t.firstDone {
		return
	}
	t.firstDone = true
	t.c.trackFirstDispatched(rc)
}

// complete marks the track's nominal end and schedules cleanup: the
// ramp-down tail when the device can play it, then the off call. Listener
// callbacks fire at the nominal end (via endNominal), not after cleanup.
func (t *track) complete(rc *runContext, at time.Time) {
	if t.finished {
		return
	}
	t.finished = true
	t.c.mu.Lock()
	t.c.liveTracks--
	last := t.c.liveTracks == 0
	t.c.mu.Unlock()
	if last {
		t.c.endNominal()
	}
	t.scheduleCleanup(rc, at)
}

func (t *track) scheduleCleanup(rc *runContext, at time.Time) {
	if !t.usedOn {
		// Composition and prebaked effects stop on their own.
		return
	}
	cfg := t.c.cfg
	rampDown := cfg.RampDownDuration
	canRamp := rampDown > 0 && !t.ampHalted && t.amplitude > 0 &&
		t.ctrl.Info().Capabilities.Has(hal.CapAmplitudeControl)
	if !canRamp {
		t.c.mu.Lock()
		t.c.queue.push(&offStep{t: t, at: at})
		t.c.mu.Unlock()
		return
	}

	// Keep the hardware on through the tail.
	if t.onUntil.Before(at.Add(rampDown)) {
		t.c.mu.Lock()
		stepID := t.c.stepID()
		t.c.mu.Unlock()
		if actual, err := t.ctrl.On(rc.ctx, t.c.vib.Caller.UID, t.c.vib.ID, stepID, rampDown); err == nil {
			t.onUntil = at.Add(actual)
		}
	}
	dt := cfg.rampStep()
	steps := int(rampDown / dt)
	if steps < 1 {
		steps = 1
	}
	start := t.amplitude
	t.c.mu.Lock()
	for i := 1; i < steps; i++ {
		amp := start * (1 - float64(i)/float64(steps))
		t.c.queue.push(&amplitudeStep{t: t, amplitude: amp, at: at.Add(time.Duration(i) * dt), cleanup: true})
	}
	t.c.queue.push(&offStep{t: t, at: at.Add(rampDown)})
	t.c.mu.Unlock()
}

// forceOff turns the actuator off immediately, for strict-mode aborts.
func (t *track) forceOff(rc *runContext) {
	t.finished = true
	if err := t.ctrl.Off(rc.ctx); err != nil {
		slog.Warn("Force off failed", "vibration", t.c.vib.ID, "actuator", t.ctrl.ID(), "error", err)
	}
}

// collectRun gathers the maximal run of same-kind segments starting at
// pos.
func collectRun[T models.Segment](segs []models.Segment, pos int) []T {
	var run []T
	for _, seg := range segs[pos:] {
		s, ok := seg.(T)
		if !ok {
			break
		}
		run = append(run, s)
	}
	return run
}

// Step implementations.

type dispatchStep struct {
	t  *track
	at time.Time
}

func (s *dispatchStep) due() time.Time     { return s.at }
func (s *dispatchStep) run(rc *runContext) { s.t.dispatch(rc, s.at) }

type callbackStep struct {
	t      *track
	stepID int64
	at     time.Time
}

func (s *callbackStep) due() time.Time     { return s.at }
func (s *callbackStep) run(rc *runContext) { s.t.resume(rc, s.stepID, false) }

type timeoutStep struct {
	t      *track
	stepID int64
	at     time.Time
}

func (s *timeoutStep) due() time.Time     { return s.at }
func (s *timeoutStep) run(rc *runContext) { s.t.resume(rc, s.stepID, true) }

// amplitudeStep changes the live amplitude mid-ramp or during the
// ramp-down tail. Cleanup steps still play under a graceful cancel; mid
// effect steps do not.
type amplitudeStep struct {
	t         *track
	amplitude float64
	at        time.Time
	cleanup   bool
}

func (s *amplitudeStep) due() time.Time { return s.at }

func (s *amplitudeStep) run(rc *runContext) {
	if !s.cleanup {
		if _, cancelled := rc.c.cancelRequested(); cancelled {
			return
		}
	}
	s.t.setAmplitude(rc, s.amplitude)
}

type offStep struct {
	t  *track
	at time.Time
}

func (s *offStep) due() time.Time { return s.at }

func (s *offStep) run(rc *runContext) {
	if err := s.t.ctrl.Off(rc.ctx); err != nil {
		slog.Warn("Off failed", "vibration", s.t.c.vib.ID, "actuator", s.t.ctrl.ID(), "error", err)
	}
}

// Package adapter converts requested segment sequences into sequences a
// specific actuator can execute.
//
// Adapt is a pure transformation pipeline: the same (sequence, descriptor,
// config) input always yields the same output, and no device state is
// touched. A sequence the device cannot faithfully render yields ok=false,
// which callers treat as "ignore this vibration on this actuator", never
// as a software fault.
package adapter

import (
	"time"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
)

// DefaultRampStepDuration is the sampling interval used when ramps must be
// approximated by fixed-amplitude steps.
const DefaultRampStepDuration = 5 * time.Millisecond

// Config carries the device-independent adaptation inputs.
type Config struct {
	// RampStepDuration overrides the ramp sampling interval.
	RampStepDuration time.Duration

	// Fallbacks maps prebaked effect ids to software fallback sequences
	// spliced in when a device does not implement the effect.
	Fallbacks map[models.EffectID]*models.EffectSequence

	// EnableEnvelopeV2 gates the normalized envelope conversion pass.
	EnableEnvelopeV2 bool
}

func (c Config) rampStep() time.Duration {
	if c.RampStepDuration > 0 {
		return c.RampStepDuration
	}
	return DefaultRampStepDuration
}

// Adapt transforms a sequence for the given actuator. It returns the
// adapted sequence and true, or (nil, false) when the device cannot
// faithfully render the request. The input sequence is never mutated.
func Adapt(seq *models.EffectSequence, info *hal.Info, cfg Config) (*models.EffectSequence, bool) {
	if seq == nil || len(seq.Segments) == 0 || info == nil {
		return nil, false
	}

	// Pass 1: a single vendor effect passes through untouched when the
	// device can perform it; it cannot be decomposed otherwise.
	if len(seq.Segments) == 1 {
		if _, ok := seq.Segments[0].(models.VendorSegment); ok {
			if !info.Capabilities.Has(hal.CapPerformVendorEffects) {
				return nil, false
			}
			return cloneSequence(seq), true
		}
	}

	out := cloneSequence(seq)

	// Pass 2: splice registered fallbacks over unsupported prebaked
	// effects.
	out, ok := substitutePrebakedFallbacks(out, info, cfg.Fallbacks)
	if !ok {
		return nil, false
	}

	// Pass 3: normalize relative-start-offset primitive delays to pauses.
	out, ok = normalizePrimitiveDelays(out, info)
	if !ok {
		return nil, false
	}

	// Pass 4: primitives have no pass-through fallback; vendor effects are
	// only legal as a whole-sequence request handled in pass 1.
	if !checkComposableSupport(out, info) {
		return nil, false
	}

	// Pass 5: re-express steps and ramps for the device's waveform
	// capabilities.
	out, ok = convertWaveform(out, info, cfg.rampStep())
	if !ok {
		return nil, false
	}

	// Pass 6: normalized envelope conversion.
	if cfg.EnableEnvelopeV2 && info.Capabilities.Has(hal.CapComposePwleV2) {
		out, ok = convertEnvelope(out, info)
		if !ok {
			return nil, false
		}
	} else if containsEnvelopePoints(out) {
		// Envelope points cannot be rendered without the v2 path.
		return nil, false
	}

	if out.RepeatIndex != models.NoRepeat && (out.RepeatIndex < 0 || out.RepeatIndex >= len(out.Segments)) {
		// A transform broke the repeat invariant; refuse rather than loop
		// out of bounds.
		return nil, false
	}
	return out, true
}

func cloneSequence(seq *models.EffectSequence) *models.EffectSequence {
	return &models.EffectSequence{
		Segments:    append([]models.Segment(nil), seq.Segments...),
		RepeatIndex: seq.RepeatIndex,
	}
}

// spliceAt replaces the segment at index i with replacement, shifting the
// repeat index by len(replacement)-1 when it pointed at or after i.
func spliceAt(seq *models.EffectSequence, i int, replacement []models.Segment) {
	grown := len(replacement) - 1
	segs := make([]models.Segment, 0, len(seq.Segments)+grown)
	segs = append(segs, seq.Segments[:i]...)
	segs = append(segs, replacement...)
	segs = append(segs, seq.Segments[i+1:]...)
	seq.Segments = segs
	if seq.RepeatIndex != models.NoRepeat && seq.RepeatIndex >= i {
		seq.RepeatIndex += grown
	}
}

func containsEnvelopePoints(seq *models.EffectSequence) bool {
	for _, seg := range seq.Segments {
		switch seg.(type) {
		case models.PwlePointSegment, models.BasicPwlePointSegment:
			return true
		}
	}
	return false
}

// substitutePrebakedFallbacks replaces unsupported prebaked segments with
// registered fallback sequences. A single unsupported prebaked effect with
// no usable fallback makes the whole sequence unsupported.
func substitutePrebakedFallbacks(seq *models.EffectSequence, info *hal.Info, fallbacks map[models.EffectID]*models.EffectSequence) (*models.EffectSequence, bool) {
	for i := 0; i < len(seq.Segments); i++ {
		pb, isPrebaked := seq.Segments[i].(models.PrebakedSegment)
		if !isPrebaked || info.SupportsEffect(pb.EffectID) {
			continue
		}
		if !pb.Fallback {
			return nil, false
		}
		fb, registered := fallbacks[pb.EffectID]
		if !registered || len(fb.Segments) == 0 {
			return nil, false
		}
		spliceAt(seq, i, fb.Segments)
		i += len(fb.Segments) - 1
	}
	return seq, true
}

// normalizePrimitiveDelays converts relative-start-offset delays into
// pauses: pause = max(0, requestedOffset - elapsed since the previous
// primitive's start). Every primitive must have a known fixed duration on
// this device for the conversion to be meaningful.
func normalizePrimitiveDelays(seq *models.EffectSequence, info *hal.Info) (*models.EffectSequence, bool) {
	needed := false
	for _, seg := range seq.Segments {
		if p, ok := seg.(models.PrimitiveSegment); ok && p.DelayType == models.DelayRelativeStartOffset {
			needed = true
			break
		}
	}
	if !needed {
		return seq, true
	}

	var sincePrevStart time.Duration
	for i, seg := range seq.Segments {
		switch s := seg.(type) {
		case models.PrimitiveSegment:
			dur, known := info.PrimitiveDuration(s.PrimitiveID)
			if !known {
				return nil, false
			}
			if s.DelayType == models.DelayRelativeStartOffset {
				pause := s.Delay - sincePrevStart
				if pause < 0 {
					pause = 0
				}
				s.Delay = pause
				s.DelayType = models.DelayPause
				seq.Segments[i] = s
			}
			// The next offset is measured from this primitive's start.
			sincePrevStart = dur
		case models.StepSegment:
			sincePrevStart += s.Duration
		case models.RampSegment:
			sincePrevStart += s.Duration
		}
	}
	return seq, true
}

// checkComposableSupport verifies primitives and stray vendor segments
// against the device capabilities.
func checkComposableSupport(seq *models.EffectSequence, info *hal.Info) bool {
	for _, seg := range seq.Segments {
		switch s := seg.(type) {
		case models.PrimitiveSegment:
			if !info.Capabilities.Has(hal.CapComposeEffects) {
				return false
			}
			if _, known := info.PrimitiveDuration(s.PrimitiveID); !known {
				return false
			}
		case models.VendorSegment:
			return false
		}
	}
	return true
}

// Package models defines the core data structures for hapticd.
//
// It includes the segment tagged union shared by the adapter, scaler and
// conductor, the combined-vibration request type, and the vibration
// lifecycle status values.
package models

import (
	"errors"
	"time"
)

// DefaultAmplitude marks a step that should play at the device default
// amplitude instead of an explicit value.
const DefaultAmplitude = -1.0

// NoRepeat is the repeat index of a sequence that plays exactly once.
const NoRepeat = -1

// Validation error variables shared across modules.
var (
	ErrAmplitudeOutOfRange = errors.New("amplitude must be in [0, 1] or the default sentinel")
	ErrNegativeDuration    = errors.New("duration cannot be negative")
	ErrNegativeFrequency   = errors.New("frequency cannot be negative")
	ErrScaleOutOfRange     = errors.New("scale must be in [0, 1]")
	ErrRepeatOutOfRange    = errors.New("repeat index out of sequence bounds")
	ErrEmptySequence       = errors.New("segment sequence cannot be empty")
	ErrEmptyVendorData     = errors.New("vendor effect data cannot be empty")
)

// Segment is one playable unit of a vibration effect. It is a closed sum
// type: the concrete variants below are the only implementations, and
// consumers are expected to type-switch over all of them.
type Segment interface {
	// Validate checks the segment's fields against their documented ranges.
	Validate() error

	sealed()
}

// StepSegment plays a fixed amplitude at a fixed frequency for a duration.
type StepSegment struct {
	// Amplitude is in [0, 1], or DefaultAmplitude for the device default.
	Amplitude   float64
	FrequencyHz float64
	Duration    time.Duration
}

// RampSegment linearly interpolates amplitude and frequency over a duration.
type RampSegment struct {
	StartAmplitude   float64
	EndAmplitude     float64
	StartFrequencyHz float64
	EndFrequencyHz   float64
	Duration         time.Duration
}

// EffectStrength is the requested intensity of a prebaked or vendor effect.
type EffectStrength int

const (
	StrengthLight  EffectStrength = 0
	StrengthMedium EffectStrength = 1
	StrengthStrong EffectStrength = 2
)

// PrebakedSegment plays a device-implemented named effect.
type PrebakedSegment struct {
	EffectID EffectID
	// Fallback allows substituting a registered software fallback when the
	// device does not implement the effect.
	Fallback bool
	Strength EffectStrength
}

// DelayType selects how a primitive's delay is interpreted.
type DelayType int

const (
	// DelayPause inserts a pause after the previous primitive ends.
	DelayPause DelayType = iota
	// DelayRelativeStartOffset positions the primitive's start relative to
	// the previous primitive's start.
	DelayRelativeStartOffset
)

// PrimitiveSegment composes a hardware-predefined micro-effect.
type PrimitiveSegment struct {
	PrimitiveID PrimitiveID
	Scale       float64
	Delay       time.Duration
	DelayType   DelayType
}

// PwlePointSegment is one control point of a piecewise-linear envelope.
// Time is absolute from the start of the envelope; consecutive points form
// linear amplitude/frequency segments.
type PwlePointSegment struct {
	Amplitude   float64
	FrequencyHz float64
	Time        time.Duration
}

// BasicPwlePointSegment is a device-independent envelope control point.
// Intensity and sharpness are normalized to [0, 1]; the adapter maps them
// to concrete (amplitude, frequency) pairs using the device's acceleration
// curve.
type BasicPwlePointSegment struct {
	Intensity float64
	Sharpness float64
	Time      time.Duration
}

// VendorSegment carries an opaque vendor-defined effect payload.
type VendorSegment struct {
	Data          []byte
	Strength      EffectStrength
	Scale         float64
	AdaptiveScale float64
}

func (StepSegment) sealed()           {}
func (RampSegment) sealed()           {}
func (PrebakedSegment) sealed()       {}
func (PrimitiveSegment) sealed()      {}
func (PwlePointSegment) sealed()      {}
func (BasicPwlePointSegment) sealed() {}
func (VendorSegment) sealed()         {}

// Validate checks amplitude, frequency and duration ranges.
func (s StepSegment) Validate() error {
	if s.Amplitude != DefaultAmplitude && (s.Amplitude < 0 || s.Amplitude > 1) {
		return ErrAmplitudeOutOfRange
	}
	if s.FrequencyHz < 0 {
		return ErrNegativeFrequency
	}
	if s.Duration < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Validate checks amplitude, frequency and duration ranges.
func (r RampSegment) Validate() error {
	for _, a := range []float64{r.StartAmplitude, r.EndAmplitude} {
		if a < 0 || a > 1 {
			return ErrAmplitudeOutOfRange
		}
	}
	if r.StartFrequencyHz < 0 || r.EndFrequencyHz < 0 {
		return ErrNegativeFrequency
	}
	if r.Duration < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Validate checks the strength value.
func (p PrebakedSegment) Validate() error {
	if p.Strength < StrengthLight || p.Strength > StrengthStrong {
		return errors.New("invalid effect strength")
	}
	return nil
}

// Validate checks scale and delay ranges.
func (p PrimitiveSegment) Validate() error {
	if p.Scale < 0 || p.Scale > 1 {
		return ErrScaleOutOfRange
	}
	if p.Delay < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Validate checks amplitude, frequency and time ranges.
func (p PwlePointSegment) Validate() error {
	if p.Amplitude < 0 || p.Amplitude > 1 {
		return ErrAmplitudeOutOfRange
	}
	if p.FrequencyHz < 0 {
		return ErrNegativeFrequency
	}
	if p.Time < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Validate checks intensity, sharpness and time ranges.
func (p BasicPwlePointSegment) Validate() error {
	if p.Intensity < 0 || p.Intensity > 1 || p.Sharpness < 0 || p.Sharpness > 1 {
		return ErrScaleOutOfRange
	}
	if p.Time < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Validate checks payload presence and scale ranges.
func (v VendorSegment) Validate() error {
	if len(v.Data) == 0 {
		return ErrEmptyVendorData
	}
	if v.Scale < 0 || v.AdaptiveScale < 0 {
		return ErrScaleOutOfRange
	}
	return nil
}

// EffectSequence is an ordered list of segments with a single repeat index.
// RepeatIndex is NoRepeat for one-shot sequences, otherwise the index
// playback loops back to after the last segment.
type EffectSequence struct {
	Segments    []Segment
	RepeatIndex int
}

// Validate checks every segment and the repeat-index invariant.
func (e *EffectSequence) Validate() error {
	if len(e.Segments) == 0 {
		return ErrEmptySequence
	}
	if e.RepeatIndex != NoRepeat && (e.RepeatIndex < 0 || e.RepeatIndex >= len(e.Segments)) {
		return ErrRepeatOutOfRange
	}
	for _, seg := range e.Segments {
		if err := seg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Repeating reports whether the sequence loops indefinitely.
func (e *EffectSequence) Repeating() bool {
	return e.RepeatIndex != NoRepeat
}

// NominalDuration sums the durations of timed segments for one pass of the
// sequence. Prebaked and vendor segments have device-defined durations and
// contribute zero; PWLE points contribute their absolute end time.
func (e *EffectSequence) NominalDuration() time.Duration {
	var total time.Duration
	var pwleEnd time.Duration
	for _, seg := range e.Segments {
		switch s := seg.(type) {
		case StepSegment:
			total += s.Duration
		case RampSegment:
			total += s.Duration
		case PrimitiveSegment:
			total += s.Delay
		case PwlePointSegment:
			if s.Time > pwleEnd {
				pwleEnd = s.Time
			}
		case BasicPwlePointSegment:
			if s.Time > pwleEnd {
				pwleEnd = s.Time
			}
		}
	}
	return total + pwleEnd
}

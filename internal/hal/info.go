package hal

import (
	"time"

	"github.com/haptickit/hapticd/internal/models"
)

// CurvePoint is one sample of a frequency-indexed hardware curve.
type CurvePoint struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Value       float64 `json:"value"`
}

// EnvelopeInfo holds the envelope v2 constraints of an actuator: the
// supported frequency range, the output-acceleration curve used to map
// normalized intensity to frequency, and the control point limits.
type EnvelopeInfo struct {
	MinFrequencyHz    float64       `json:"min_frequency_hz"`
	MaxFrequencyHz    float64       `json:"max_frequency_hz"`
	AccelerationCurve []CurvePoint  `json:"acceleration_curve"`
	MinPoints         int           `json:"min_points"`
	MaxPoints         int           `json:"max_points"`
	MinPointDuration  time.Duration `json:"min_point_duration"`
	MaxPointDuration  time.Duration `json:"max_point_duration"`
}

// Info is the immutable capability descriptor of one actuator. It is
// loaded once at connect time and reloaded only by an explicit re-sync
// while no vibration is active.
type Info struct {
	ActuatorID   int        `json:"actuator_id"`
	Capabilities Capability `json:"capabilities"`

	SupportedEffects    map[models.EffectID]bool             `json:"supported_effects"`
	SupportedPrimitives map[models.PrimitiveID]time.Duration `json:"supported_primitives"`

	ResonantFrequencyHz   float64 `json:"resonant_frequency_hz"`
	MinFrequencyHz        float64 `json:"min_frequency_hz"`
	FrequencyResolutionHz float64 `json:"frequency_resolution_hz"`

	// MaxAmplitudes samples the maximum achievable amplitude per frequency
	// bin, starting at MinFrequencyHz and spaced FrequencyResolutionHz
	// apart. Empty when the device reports no frequency profile.
	MaxAmplitudes []float64 `json:"max_amplitudes"`

	CompositionSizeMax int `json:"composition_size_max"`
	PwleSizeMax        int `json:"pwle_size_max"`

	Envelope *EnvelopeInfo `json:"envelope,omitempty"`
}

// SupportsEffect reports whether the device implements the prebaked effect.
func (i *Info) SupportsEffect(id models.EffectID) bool {
	return i.SupportedEffects[id]
}

// PrimitiveDuration returns the fixed duration of a supported primitive.
func (i *Info) PrimitiveDuration(id models.PrimitiveID) (time.Duration, bool) {
	d, ok := i.SupportedPrimitives[id]
	return d, ok
}

// HasFrequencyProfile reports whether the amplitude-vs-frequency curve is
// usable for frequency mapping.
func (i *Info) HasFrequencyProfile() bool {
	return len(i.MaxAmplitudes) > 0 && i.FrequencyResolutionHz > 0
}

// MaxFrequencyHz returns the highest frequency covered by the curve, or
// zero when the profile is degenerate.
func (i *Info) MaxFrequencyHz() float64 {
	if !i.HasFrequencyProfile() {
		return 0
	}
	return i.MinFrequencyHz + i.FrequencyResolutionHz*float64(len(i.MaxAmplitudes)-1)
}

// MaxAmplitudeAt linearly interpolates the maximum achievable amplitude at
// the given frequency, clamping to the curve bounds.
func (i *Info) MaxAmplitudeAt(frequencyHz float64) float64 {
	if !i.HasFrequencyProfile() {
		return 1
	}
	pos := (frequencyHz - i.MinFrequencyHz) / i.FrequencyResolutionHz
	if pos <= 0 {
		return i.MaxAmplitudes[0]
	}
	last := len(i.MaxAmplitudes) - 1
	if pos >= float64(last) {
		return i.MaxAmplitudes[last]
	}
	lo := int(pos)
	frac := pos - float64(lo)
	return i.MaxAmplitudes[lo] + (i.MaxAmplitudes[lo+1]-i.MaxAmplitudes[lo])*frac
}

// FrequencyForIntensity solves the envelope acceleration curve for the
// frequency whose normalized output acceleration matches the intensity.
// The second return is false when the curve cannot produce the intensity
// within the supported frequency range.
func (e *EnvelopeInfo) FrequencyForIntensity(intensity float64) (float64, bool) {
	if len(e.AccelerationCurve) == 0 {
		return 0, false
	}
	curve := e.AccelerationCurve
	if intensity <= curve[0].Value {
		return curve[0].FrequencyHz, intensity >= 0
	}
	for idx := 1; idx < len(curve); idx++ {
		prev, next := curve[idx-1], curve[idx]
		if intensity > next.Value {
			continue
		}
		span := next.Value - prev.Value
		if span <= 0 {
			return prev.FrequencyHz, true
		}
		frac := (intensity - prev.Value) / span
		return prev.FrequencyHz + (next.FrequencyHz-prev.FrequencyHz)*frac, true
	}
	return 0, false
}

package adapter

import (
	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
)

// convertEnvelope validates and normalizes envelope control points for
// PWLE v2 playback. Frequency excursions outside the device's supported
// range make the sequence unsupported; points are never clamped into
// range. Basic (intensity/sharpness) points are mapped to concrete
// (amplitude, frequency) pairs via the device's acceleration curve.
func convertEnvelope(seq *models.EffectSequence, info *hal.Info) (*models.EffectSequence, bool) {
	if !containsEnvelopePoints(seq) {
		return seq, true
	}
	env := info.Envelope
	if env == nil {
		return nil, false
	}

	for i, seg := range seq.Segments {
		switch s := seg.(type) {
		case models.PwlePointSegment:
			if s.FrequencyHz < env.MinFrequencyHz || s.FrequencyHz > env.MaxFrequencyHz {
				return nil, false
			}
		case models.BasicPwlePointSegment:
			frequencyHz, ok := env.FrequencyForIntensity(s.Intensity)
			if !ok {
				return nil, false
			}
			if frequencyHz < env.MinFrequencyHz || frequencyHz > env.MaxFrequencyHz {
				return nil, false
			}
			seq.Segments[i] = models.PwlePointSegment{
				Amplitude:   s.Intensity,
				FrequencyHz: frequencyHz,
				Time:        s.Time,
			}
		default:
			// Envelope points do not mix with other segment kinds in a
			// single hardware envelope.
			return nil, false
		}
	}
	return seq, true
}

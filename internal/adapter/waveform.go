package adapter

import (
	"time"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
)

// convertWaveform re-expresses step and ramp segments for the device's
// waveform capabilities. The branch taken depends on the capability
// combination:
//
//   - PWLE v1: steps become flat ramps so the conductor can compose them
//     into envelope calls, with amplitudes scaled by the frequency curve.
//   - frequency control without PWLE: amplitudes are scaled by the
//     frequency curve; without native amplitude control, adjacent step
//     pairs merge into ramps so the frequency hardware does the work.
//   - neither: ramps are sampled into fixed-amplitude steps.
func convertWaveform(seq *models.EffectSequence, info *hal.Info, rampStep time.Duration) (*models.EffectSequence, bool) {
	switch {
	case info.Capabilities.Has(hal.CapComposePwle):
		return scaleAndRampify(seq, info), true
	case info.Capabilities.Has(hal.CapFrequencyControl):
		return convertForFrequencyControl(seq, info), true
	default:
		return sampleRampsToSteps(seq, rampStep), true
	}
}

// rampValueAt linearly interpolates a ramp's amplitude at time t.
func rampValueAt(r models.RampSegment, t time.Duration) float64 {
	if r.Duration <= 0 {
		return r.EndAmplitude
	}
	frac := float64(t) / float64(r.Duration)
	if frac > 1 {
		frac = 1
	}
	return r.StartAmplitude + (r.EndAmplitude-r.StartAmplitude)*frac
}

// sampleRampsToSteps replaces every ramp with fixed-amplitude steps taken
// at the sampling interval. The first sample holds the start amplitude and
// later samples hold the amplitude at each sample's end; the final sample
// absorbs any remainder so the total duration is preserved exactly.
func sampleRampsToSteps(seq *models.EffectSequence, dt time.Duration) *models.EffectSequence {
	for i := 0; i < len(seq.Segments); i++ {
		r, isRamp := seq.Segments[i].(models.RampSegment)
		if !isRamp {
			continue
		}
		samples := rampSamples(r, dt)
		spliceAt(seq, i, samples)
		i += len(samples) - 1
	}
	return seq
}

func rampSamples(r models.RampSegment, dt time.Duration) []models.Segment {
	if r.Duration <= dt {
		return []models.Segment{models.StepSegment{Amplitude: r.StartAmplitude, Duration: r.Duration}}
	}
	n := int(r.Duration / dt)
	rem := r.Duration - time.Duration(n)*dt
	out := make([]models.Segment, 0, n)
	for i := 0; i < n; i++ {
		stepDur := dt
		end := time.Duration(i+1) * dt
		if i == n-1 {
			stepDur += rem
			end = r.Duration
		}
		amp := rampValueAt(r, end)
		if i == 0 {
			amp = r.StartAmplitude
		}
		out = append(out, models.StepSegment{Amplitude: amp, Duration: stepDur})
	}
	return out
}

// scaleAndRampify prepares a sequence for PWLE v1 playback: amplitudes are
// scaled by the frequency-dependent maximum and steps become flat ramps.
func scaleAndRampify(seq *models.EffectSequence, info *hal.Info) *models.EffectSequence {
	for i, seg := range seq.Segments {
		switch s := seg.(type) {
		case models.StepSegment:
			amp := s.Amplitude
			if amp == models.DefaultAmplitude {
				amp = 1
			}
			freq := resolveFrequency(s.FrequencyHz, info)
			amp = clampAmplitude(amp * info.MaxAmplitudeAt(freq))
			seq.Segments[i] = models.RampSegment{
				StartAmplitude:   amp,
				EndAmplitude:     amp,
				StartFrequencyHz: freq,
				EndFrequencyHz:   freq,
				Duration:         s.Duration,
			}
		case models.RampSegment:
			s.StartFrequencyHz = resolveFrequency(s.StartFrequencyHz, info)
			s.EndFrequencyHz = resolveFrequency(s.EndFrequencyHz, info)
			s.StartAmplitude = clampAmplitude(s.StartAmplitude * info.MaxAmplitudeAt(s.StartFrequencyHz))
			s.EndAmplitude = clampAmplitude(s.EndAmplitude * info.MaxAmplitudeAt(s.EndFrequencyHz))
			seq.Segments[i] = s
		}
	}
	return seq
}

// convertForFrequencyControl handles devices with frequency control but no
// PWLE support. With a degenerate frequency profile the device can only
// run at its default frequency, so resonant steps are re-expressed at
// 0 Hz. With a usable profile, amplitudes are scaled by the curve and,
// absent native amplitude control, adjacent step pairs merge into ramps.
func convertForFrequencyControl(seq *models.EffectSequence, info *hal.Info) *models.EffectSequence {
	if !info.HasFrequencyProfile() {
		for i, seg := range seq.Segments {
			if s, isStep := seg.(models.StepSegment); isStep && s.FrequencyHz == info.ResonantFrequencyHz {
				s.FrequencyHz = 0
				seq.Segments[i] = s
			}
		}
		return seq
	}

	for i, seg := range seq.Segments {
		switch s := seg.(type) {
		case models.StepSegment:
			if s.Amplitude != models.DefaultAmplitude {
				s.Amplitude = clampAmplitude(s.Amplitude * info.MaxAmplitudeAt(resolveFrequency(s.FrequencyHz, info)))
			}
			seq.Segments[i] = s
		case models.RampSegment:
			s.StartAmplitude = clampAmplitude(s.StartAmplitude * info.MaxAmplitudeAt(resolveFrequency(s.StartFrequencyHz, info)))
			s.EndAmplitude = clampAmplitude(s.EndAmplitude * info.MaxAmplitudeAt(resolveFrequency(s.EndFrequencyHz, info)))
			seq.Segments[i] = s
		}
	}

	if !info.Capabilities.Has(hal.CapAmplitudeControl) {
		mergeStepPairs(seq, info)
	}
	return seq
}

// mergeStepPairs merges adjacent step pairs into single ramps. Merging
// never crosses the repeat index so the loop boundary stays addressable.
func mergeStepPairs(seq *models.EffectSequence, info *hal.Info) {
	for i := 0; i < len(seq.Segments)-1; i++ {
		if seq.RepeatIndex != models.NoRepeat && i < seq.RepeatIndex && i+1 >= seq.RepeatIndex {
			continue
		}
		first, ok1 := seq.Segments[i].(models.StepSegment)
		second, ok2 := seq.Segments[i+1].(models.StepSegment)
		if !ok1 || !ok2 || first.Amplitude == models.DefaultAmplitude || second.Amplitude == models.DefaultAmplitude {
			continue
		}
		merged := models.RampSegment{
			StartAmplitude:   first.Amplitude,
			EndAmplitude:     second.Amplitude,
			StartFrequencyHz: resolveFrequency(first.FrequencyHz, info),
			EndFrequencyHz:   resolveFrequency(second.FrequencyHz, info),
			Duration:         first.Duration + second.Duration,
		}
		segs := make([]models.Segment, 0, len(seq.Segments)-1)
		segs = append(segs, seq.Segments[:i]...)
		segs = append(segs, merged)
		segs = append(segs, seq.Segments[i+2:]...)
		seq.Segments = segs
		if seq.RepeatIndex != models.NoRepeat && seq.RepeatIndex > i+1 {
			seq.RepeatIndex--
		}
	}
}

func resolveFrequency(frequencyHz float64, info *hal.Info) float64 {
	if frequencyHz <= 0 {
		return info.ResonantFrequencyHz
	}
	return frequencyHz
}

func clampAmplitude(a float64) float64 {
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

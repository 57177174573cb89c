// Package scale computes amplitude gains for vibrations from the user's
// intensity settings.
//
// The scaler works off an immutable settings snapshot captured when a
// vibration starts: settings changes only affect vibrations submitted
// after the change. Scaling never alters segment timing or count, only
// amplitude and strength fields, and is idempotent for a given snapshot.
package scale

import (
	"log/slog"
	"math"
	"sync"

	"github.com/haptickit/hapticd/internal/models"
)

// DefaultLevelGain is the per-level gain of the gain-based scale model.
// With the default, one level up scales by 1.4, two levels by ~1.96, and
// two levels down by ~0.51.
const DefaultLevelGain = 1.4

// Snapshot is an immutable view of the vibration settings used to scale
// one vibration.
type Snapshot struct {
	// UserIntensity is the per-usage user setting.
	UserIntensity map[models.Usage]models.Intensity
	// DefaultIntensity is the per-usage system default, used when there is
	// no user setting and when the user setting is off.
	DefaultIntensity map[models.Usage]models.Intensity

	// IntensityScaleTable, when it has an entry for the resolved
	// intensity, supplies the scale factor directly and the level-based
	// models are skipped entirely.
	IntensityScaleTable map[models.Intensity]float64
	// ExternalScaleTable is the variant consulted for external-control
	// streams.
	ExternalScaleTable map[models.Intensity]float64

	// UseGainModel selects the gain-based curve over the legacy linear
	// steps of ±0.2 per level.
	UseGainModel bool
	// LevelGain overrides DefaultLevelGain when positive.
	LevelGain float64

	// DefaultAmplitude resolves steps requesting the device default
	// amplitude. Zero means full scale.
	DefaultAmplitude float64
}

func (s Snapshot) levelGain() float64 {
	if s.LevelGain > 0 {
		return s.LevelGain
	}
	return DefaultLevelGain
}

func (s Snapshot) defaultAmplitude() float64 {
	if s.DefaultAmplitude > 0 {
		return s.DefaultAmplitude
	}
	return 1
}

// ResolveIntensity returns the effective intensity for a usage: the user
// setting unless it is off, in which case the usage default applies.
func (s Snapshot) ResolveIntensity(usage models.Usage) models.Intensity {
	def, hasDefault := s.DefaultIntensity[usage]
	if !hasDefault {
		def = models.IntensityMedium
	}
	user, hasUser := s.UserIntensity[usage]
	if !hasUser || user == models.IntensityOff {
		return def
	}
	return user
}

func (s Snapshot) defaultFor(usage models.Usage) models.Intensity {
	if def, ok := s.DefaultIntensity[usage]; ok {
		return def
	}
	return models.IntensityMedium
}

// level is the signed distance between resolved and default intensity.
func (s Snapshot) level(usage models.Usage) int {
	return int(s.ResolveIntensity(usage)) - int(s.defaultFor(usage))
}

// SettingsFactor computes the scale factor for a usage from the snapshot
// alone, without any adaptive contribution.
func (s Snapshot) SettingsFactor(usage models.Usage) float64 {
	resolved := s.ResolveIntensity(usage)
	if factor, ok := s.IntensityScaleTable[resolved]; ok {
		return factor
	}
	level := s.level(usage)
	if s.UseGainModel {
		return math.Pow(s.levelGain(), float64(level))
	}
	return 1 + 0.2*float64(level)
}

// ExternalFactor computes the factor for external-control streams,
// preferring the external table and falling back to the regular factor.
func (s Snapshot) ExternalFactor(usage models.Usage) float64 {
	if factor, ok := s.ExternalScaleTable[s.ResolveIntensity(usage)]; ok {
		return factor
	}
	return s.SettingsFactor(usage)
}

// Scaler applies intensity-derived gains and adaptive haptics scales to
// segments. The snapshot is replaced atomically on settings changes; the
// adaptive scales are runtime-only and tracked independently.
type Scaler struct {
	mu       sync.RWMutex
	snapshot Snapshot
	adaptive map[models.Usage]float64
}

// New creates a scaler over the initial settings snapshot.
func New(snapshot Snapshot) *Scaler {
	return &Scaler{snapshot: snapshot, adaptive: make(map[models.Usage]float64)}
}

// Update replaces the settings snapshot. In-flight vibrations keep the
// snapshot they started with.
func (s *Scaler) Update(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	slog.Debug("Scaler settings snapshot updated")
}

// Current returns the active settings snapshot.
func (s *Scaler) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SetAdaptiveScale sets the adaptive haptics multiplier for a usage.
func (s *Scaler) SetAdaptiveScale(usage models.Usage, factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adaptive[usage] = factor
	slog.Debug("Scaler adaptive scale set", "usage", usage, "factor", factor)
}

// RemoveAdaptiveScale clears the adaptive multiplier for one usage.
func (s *Scaler) RemoveAdaptiveScale(usage models.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adaptive, usage)
}

// ClearAdaptiveScales resets all adaptive multipliers at once.
func (s *Scaler) ClearAdaptiveScales() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adaptive = make(map[models.Usage]float64)
	slog.Debug("Scaler adaptive scales cleared")
}

// AdaptiveScale returns the adaptive multiplier for a usage, 1 when unset.
func (s *Scaler) AdaptiveScale(usage models.Usage) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.adaptive[usage]; ok {
		return f
	}
	return 1
}

// Gain is the scaling decision for one vibration, captured once at start.
type Gain struct {
	// Factor multiplies amplitude-bearing fields.
	Factor float64
	// Adaptive is the independent adaptive haptics multiplier.
	Adaptive float64
	// StrengthDelta shifts prebaked effect strengths by whole levels.
	StrengthDelta int
	// DefaultAmplitude resolves the default-amplitude sentinel.
	DefaultAmplitude float64
}

// Capture computes the gain for a usage under the current snapshot.
func (s *Scaler) Capture(usage models.Usage) Gain {
	s.mu.RLock()
	snapshot := s.snapshot
	adaptive, hasAdaptive := s.adaptive[usage]
	s.mu.RUnlock()
	if !hasAdaptive {
		adaptive = 1
	}
	return Gain{
		Factor:           snapshot.SettingsFactor(usage),
		Adaptive:         adaptive,
		StrengthDelta:    snapshot.level(usage),
		DefaultAmplitude: snapshot.defaultAmplitude(),
	}
}

// Apply scales one segment. Timing fields are never touched.
func (g Gain) Apply(seg models.Segment) models.Segment {
	factor := g.Factor * g.Adaptive
	switch s := seg.(type) {
	case models.StepSegment:
		amp := s.Amplitude
		if amp == models.DefaultAmplitude {
			amp = g.DefaultAmplitude
		}
		s.Amplitude = clamp01(amp * factor)
		return s
	case models.RampSegment:
		s.StartAmplitude = clamp01(s.StartAmplitude * factor)
		s.EndAmplitude = clamp01(s.EndAmplitude * factor)
		return s
	case models.PrebakedSegment:
		s.Strength = shiftStrength(s.Strength, g.StrengthDelta)
		return s
	case models.PrimitiveSegment:
		s.Scale = clamp01(s.Scale * factor)
		return s
	case models.PwlePointSegment:
		s.Amplitude = clamp01(s.Amplitude * factor)
		return s
	case models.BasicPwlePointSegment:
		s.Intensity = clamp01(s.Intensity * factor)
		return s
	case models.VendorSegment:
		s.Strength = shiftStrength(s.Strength, g.StrengthDelta)
		s.Scale *= g.Factor
		s.AdaptiveScale *= g.Adaptive
		return s
	default:
		return seg
	}
}

// ApplySequence scales every segment of a sequence, returning a new
// sequence with identical timing and count.
func (g Gain) ApplySequence(seq *models.EffectSequence) *models.EffectSequence {
	out := &models.EffectSequence{
		Segments:    make([]models.Segment, len(seq.Segments)),
		RepeatIndex: seq.RepeatIndex,
	}
	for i, seg := range seq.Segments {
		out.Segments[i] = g.Apply(seg)
	}
	return out
}

func shiftStrength(strength models.EffectStrength, delta int) models.EffectStrength {
	shifted := int(strength) + delta
	if shifted < int(models.StrengthLight) {
		return models.StrengthLight
	}
	if shifted > int(models.StrengthStrong) {
		return models.StrengthStrong
	}
	return models.EffectStrength(shifted)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

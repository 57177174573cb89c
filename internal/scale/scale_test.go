package scale

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haptickit/hapticd/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestResolveIntensity(t *testing.T) {
	s := Snapshot{
		UserIntensity: map[models.Usage]models.Intensity{
			models.UsageTouch: models.IntensityHigh,
			models.UsageAlarm: models.IntensityOff,
		},
		DefaultIntensity: map[models.Usage]models.Intensity{
			models.UsageTouch: models.IntensityLow,
			models.UsageAlarm: models.IntensityHigh,
		},
	}
	if got := s.ResolveIntensity(models.UsageTouch); got != models.IntensityHigh {
		t.Errorf("Expected user setting to win, got %v", got)
	}
	// Off falls back to the default so bypass usages still scale sanely.
	if got := s.ResolveIntensity(models.UsageAlarm); got != models.IntensityHigh {
		t.Errorf("Expected off setting to resolve to the default, got %v", got)
	}
	// No setting and no default resolves to medium.
	if got := s.ResolveIntensity(models.UsageNotification); got != models.IntensityMedium {
		t.Errorf("Expected unset usage to resolve to medium, got %v", got)
	}
}

func TestSettingsFactorGainModel(t *testing.T) {
	s := Snapshot{
		UserIntensity:    map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityHigh},
		DefaultIntensity: map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityMedium},
		UseGainModel:     true,
	}
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 1.4) {
		t.Errorf("One level up = %v, want 1.4", got)
	}

	s.DefaultIntensity[models.UsageTouch] = models.IntensityLow
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 1.96) {
		t.Errorf("Two levels up = %v, want 1.96", got)
	}

	s.UserIntensity[models.UsageTouch] = models.IntensityLow
	s.DefaultIntensity[models.UsageTouch] = models.IntensityHigh
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 1/1.96) {
		t.Errorf("Two levels down = %v, want %v", got, 1/1.96)
	}
}

func TestSettingsFactorLegacyModel(t *testing.T) {
	s := Snapshot{
		UserIntensity:    map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityHigh},
		DefaultIntensity: map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityMedium},
	}
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 1.2) {
		t.Errorf("One level up = %v, want 1.2", got)
	}
	s.UserIntensity[models.UsageTouch] = models.IntensityLow
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 0.8) {
		t.Errorf("One level down = %v, want 0.8", got)
	}
}

func TestSettingsFactorTableOverride(t *testing.T) {
	s := Snapshot{
		UserIntensity:       map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityHigh},
		IntensityScaleTable: map[models.Intensity]float64{models.IntensityHigh: 0.77},
		UseGainModel:        true,
	}
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 0.77) {
		t.Errorf("Expected table override 0.77, got %v", got)
	}
}

func TestExternalFactorPrefersExternalTable(t *testing.T) {
	s := Snapshot{
		UserIntensity:       map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityHigh},
		IntensityScaleTable: map[models.Intensity]float64{models.IntensityHigh: 0.5},
		ExternalScaleTable:  map[models.Intensity]float64{models.IntensityHigh: 0.9},
	}
	if got := s.ExternalFactor(models.UsageTouch); !almostEqual(got, 0.9) {
		t.Errorf("Expected external table 0.9, got %v", got)
	}
	s.ExternalScaleTable = nil
	if got := s.ExternalFactor(models.UsageTouch); !almostEqual(got, 0.5) {
		t.Errorf("Expected regular table fallback 0.5, got %v", got)
	}
}

func TestCustomLevelGain(t *testing.T) {
	s := Snapshot{
		UserIntensity:    map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityHigh},
		DefaultIntensity: map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityMedium},
		UseGainModel:     true,
		LevelGain:        2,
	}
	if got := s.SettingsFactor(models.UsageTouch); !almostEqual(got, 2) {
		t.Errorf("Expected custom gain 2, got %v", got)
	}
}

func TestCaptureIncludesAdaptiveScale(t *testing.T) {
	sc := New(Snapshot{UseGainModel: true})
	sc.SetAdaptiveScale(models.UsageMedia, 0.5)

	gain := sc.Capture(models.UsageMedia)
	if !almostEqual(gain.Adaptive, 0.5) {
		t.Errorf("Expected adaptive 0.5, got %v", gain.Adaptive)
	}
	if !almostEqual(gain.Factor, 1) {
		t.Errorf("Expected neutral settings factor, got %v", gain.Factor)
	}

	sc.RemoveAdaptiveScale(models.UsageMedia)
	if gain := sc.Capture(models.UsageMedia); !almostEqual(gain.Adaptive, 1) {
		t.Errorf("Expected adaptive to reset to 1, got %v", gain.Adaptive)
	}
}

func TestClearAdaptiveScales(t *testing.T) {
	sc := New(Snapshot{UseGainModel: true})
	sc.SetAdaptiveScale(models.UsageMedia, 0.5)
	sc.SetAdaptiveScale(models.UsageTouch, 0.25)

	sc.ClearAdaptiveScales()
	for _, usage := range []models.Usage{models.UsageMedia, models.UsageTouch} {
		if gain := sc.Capture(usage); !almostEqual(gain.Adaptive, 1) {
			t.Errorf("Expected %s adaptive to reset to 1, got %v", usage, gain.Adaptive)
		}
	}
}

func TestCapturedGainSurvivesUpdate(t *testing.T) {
	sc := New(Snapshot{
		UserIntensity:    map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityHigh},
		DefaultIntensity: map[models.Usage]models.Intensity{models.UsageTouch: models.IntensityMedium},
		UseGainModel:     true,
	})
	before := sc.Capture(models.UsageTouch)
	sc.Update(Snapshot{UseGainModel: true})
	after := sc.Capture(models.UsageTouch)
	if !almostEqual(before.Factor, 1.4) {
		t.Errorf("Captured factor = %v, want 1.4", before.Factor)
	}
	if !almostEqual(after.Factor, 1) {
		t.Errorf("Post-update factor = %v, want 1", after.Factor)
	}
}

func TestGainApplyScalesAmplitudes(t *testing.T) {
	g := Gain{Factor: 1.4, Adaptive: 0.5, DefaultAmplitude: 0.8}

	step := g.Apply(models.StepSegment{Amplitude: 0.5, Duration: 10 * time.Millisecond}).(models.StepSegment)
	if !almostEqual(step.Amplitude, 0.35) {
		t.Errorf("Step amplitude = %v, want 0.35", step.Amplitude)
	}
	if step.Duration != 10*time.Millisecond {
		t.Errorf("Step duration changed to %v", step.Duration)
	}

	def := g.Apply(models.StepSegment{Amplitude: models.DefaultAmplitude}).(models.StepSegment)
	if !almostEqual(def.Amplitude, 0.8*0.7) {
		t.Errorf("Default-amplitude step = %v, want %v", def.Amplitude, 0.8*0.7)
	}

	ramp := g.Apply(models.RampSegment{StartAmplitude: 0.2, EndAmplitude: 1}).(models.RampSegment)
	if !almostEqual(ramp.StartAmplitude, 0.14) || !almostEqual(ramp.EndAmplitude, 0.7) {
		t.Errorf("Ramp amplitudes = (%v, %v), want (0.14, 0.7)", ramp.StartAmplitude, ramp.EndAmplitude)
	}

	prim := g.Apply(models.PrimitiveSegment{PrimitiveID: models.PrimitiveClick, Scale: 1}).(models.PrimitiveSegment)
	if !almostEqual(prim.Scale, 0.7) {
		t.Errorf("Primitive scale = %v, want 0.7", prim.Scale)
	}
}

func TestGainApplyClampsToUnit(t *testing.T) {
	g := Gain{Factor: 3, Adaptive: 1, DefaultAmplitude: 1}
	step := g.Apply(models.StepSegment{Amplitude: 0.6}).(models.StepSegment)
	if step.Amplitude != 1 {
		t.Errorf("Expected amplitude to clamp to 1, got %v", step.Amplitude)
	}
}

func TestGainApplyShiftsPrebakedStrength(t *testing.T) {
	up := Gain{Factor: 1, Adaptive: 1, StrengthDelta: 1, DefaultAmplitude: 1}
	seg := up.Apply(models.PrebakedSegment{EffectID: models.EffectClick, Strength: models.StrengthMedium}).(models.PrebakedSegment)
	if seg.Strength != models.StrengthStrong {
		t.Errorf("Expected strength to shift to strong, got %v", seg.Strength)
	}

	// Shifts clamp at the ends of the strength range.
	way := Gain{Factor: 1, Adaptive: 1, StrengthDelta: -5, DefaultAmplitude: 1}
	seg = way.Apply(models.PrebakedSegment{EffectID: models.EffectClick, Strength: models.StrengthMedium}).(models.PrebakedSegment)
	if seg.Strength != models.StrengthLight {
		t.Errorf("Expected strength to clamp at light, got %v", seg.Strength)
	}
}

func TestGainApplyVendorKeepsFactorsSeparate(t *testing.T) {
	g := Gain{Factor: 1.4, Adaptive: 0.5, StrengthDelta: 1, DefaultAmplitude: 1}
	seg := g.Apply(models.VendorSegment{
		Data:          []byte{1},
		Strength:      models.StrengthLight,
		Scale:         1,
		AdaptiveScale: 1,
	}).(models.VendorSegment)
	if !almostEqual(seg.Scale, 1.4) {
		t.Errorf("Vendor scale = %v, want 1.4", seg.Scale)
	}
	if !almostEqual(seg.AdaptiveScale, 0.5) {
		t.Errorf("Vendor adaptive scale = %v, want 0.5", seg.AdaptiveScale)
	}
	if seg.Strength != models.StrengthMedium {
		t.Errorf("Vendor strength = %v, want medium", seg.Strength)
	}
}

func TestApplySequencePreservesTimingAndRepeat(t *testing.T) {
	g := Gain{Factor: 0.5, Adaptive: 1, DefaultAmplitude: 1}
	in := &models.EffectSequence{
		Segments: []models.Segment{
			models.StepSegment{Amplitude: 1, Duration: 10 * time.Millisecond},
			models.StepSegment{Amplitude: 0.4, Duration: 30 * time.Millisecond},
		},
		RepeatIndex: 1,
	}
	out := g.ApplySequence(in)
	want := &models.EffectSequence{
		Segments: []models.Segment{
			models.StepSegment{Amplitude: 0.5, Duration: 10 * time.Millisecond},
			models.StepSegment{Amplitude: 0.2, Duration: 30 * time.Millisecond},
		},
		RepeatIndex: 1,
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Scaled sequence mismatch (-want +out):\n%s", diff)
	}
	// The input is untouched.
	if in.Segments[0].(models.StepSegment).Amplitude != 1 {
		t.Error("Expected input sequence to be unmodified")
	}
}

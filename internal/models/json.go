package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Segment kind tags used on the wire.
const (
	segmentKindStep      = "step"
	segmentKindRamp      = "ramp"
	segmentKindPrebaked  = "prebaked"
	segmentKindPrimitive = "primitive"
	segmentKindPwlePoint = "pwle_point"
	segmentKindBasicPwle = "basic_pwle_point"
	segmentKindVendor    = "vendor"
)

// segmentJSON is the wire envelope for the Segment tagged union. Durations
// and times travel as integer milliseconds.
type segmentJSON struct {
	Kind string `json:"kind"`

	Amplitude   *float64 `json:"amplitude,omitempty"`
	FrequencyHz *float64 `json:"frequency_hz,omitempty"`
	DurationMs  *int64   `json:"duration_ms,omitempty"`

	StartAmplitude   *float64 `json:"start_amplitude,omitempty"`
	EndAmplitude     *float64 `json:"end_amplitude,omitempty"`
	StartFrequencyHz *float64 `json:"start_frequency_hz,omitempty"`
	EndFrequencyHz   *float64 `json:"end_frequency_hz,omitempty"`

	EffectID *EffectID       `json:"effect_id,omitempty"`
	Fallback *bool           `json:"fallback,omitempty"`
	Strength *EffectStrength `json:"strength,omitempty"`

	PrimitiveID *PrimitiveID `json:"primitive_id,omitempty"`
	Scale       *float64     `json:"scale,omitempty"`
	DelayMs     *int64       `json:"delay_ms,omitempty"`
	DelayType   *string      `json:"delay_type,omitempty"`

	TimeMs *int64 `json:"time_ms,omitempty"`

	Intensity *float64 `json:"intensity,omitempty"`
	Sharpness *float64 `json:"sharpness,omitempty"`

	Data          string   `json:"data,omitempty"`
	AdaptiveScale *float64 `json:"adaptive_scale,omitempty"`
}

const (
	delayTypePause       = "pause"
	delayTypeStartOffset = "relative_start_offset"
)

func f64p(v float64) *float64 { return &v }
func i64p(v int64) *int64     { return &v }

func msToDuration(p *int64) time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(*p) * time.Millisecond
}

// encodeSegment converts a segment to its wire envelope.
func encodeSegment(seg Segment) (segmentJSON, error) {
	switch s := seg.(type) {
	case StepSegment:
		return segmentJSON{
			Kind:        segmentKindStep,
			Amplitude:   f64p(s.Amplitude),
			FrequencyHz: f64p(s.FrequencyHz),
			DurationMs:  i64p(s.Duration.Milliseconds()),
		}, nil
	case RampSegment:
		return segmentJSON{
			Kind:             segmentKindRamp,
			StartAmplitude:   f64p(s.StartAmplitude),
			EndAmplitude:     f64p(s.EndAmplitude),
			StartFrequencyHz: f64p(s.StartFrequencyHz),
			EndFrequencyHz:   f64p(s.EndFrequencyHz),
			DurationMs:       i64p(s.Duration.Milliseconds()),
		}, nil
	case PrebakedSegment:
		effect, fallback, strength := s.EffectID, s.Fallback, s.Strength
		return segmentJSON{
			Kind:     segmentKindPrebaked,
			EffectID: &effect,
			Fallback: &fallback,
			Strength: &strength,
		}, nil
	case PrimitiveSegment:
		primitive, delayType := s.PrimitiveID, delayTypePause
		if s.DelayType == DelayRelativeStartOffset {
			delayType = delayTypeStartOffset
		}
		return segmentJSON{
			Kind:        segmentKindPrimitive,
			PrimitiveID: &primitive,
			Scale:       f64p(s.Scale),
			DelayMs:     i64p(s.Delay.Milliseconds()),
			DelayType:   &delayType,
		}, nil
	case PwlePointSegment:
		return segmentJSON{
			Kind:        segmentKindPwlePoint,
			Amplitude:   f64p(s.Amplitude),
			FrequencyHz: f64p(s.FrequencyHz),
			TimeMs:      i64p(s.Time.Milliseconds()),
		}, nil
	case BasicPwlePointSegment:
		return segmentJSON{
			Kind:      segmentKindBasicPwle,
			Intensity: f64p(s.Intensity),
			Sharpness: f64p(s.Sharpness),
			TimeMs:    i64p(s.Time.Milliseconds()),
		}, nil
	case VendorSegment:
		strength := s.Strength
		return segmentJSON{
			Kind:          segmentKindVendor,
			Data:          base64.StdEncoding.EncodeToString(s.Data),
			Strength:      &strength,
			Scale:         f64p(s.Scale),
			AdaptiveScale: f64p(s.AdaptiveScale),
		}, nil
	default:
		return segmentJSON{}, fmt.Errorf("unknown segment type %T", seg)
	}
}

// decodeSegment converts a wire envelope back into a segment.
func decodeSegment(sj segmentJSON) (Segment, error) {
	switch sj.Kind {
	case segmentKindStep:
		seg := StepSegment{Amplitude: DefaultAmplitude, Duration: msToDuration(sj.DurationMs)}
		if sj.Amplitude != nil {
			seg.Amplitude = *sj.Amplitude
		}
		if sj.FrequencyHz != nil {
			seg.FrequencyHz = *sj.FrequencyHz
		}
		return seg, nil
	case segmentKindRamp:
		seg := RampSegment{Duration: msToDuration(sj.DurationMs)}
		if sj.StartAmplitude != nil {
			seg.StartAmplitude = *sj.StartAmplitude
		}
		if sj.EndAmplitude != nil {
			seg.EndAmplitude = *sj.EndAmplitude
		}
		if sj.StartFrequencyHz != nil {
			seg.StartFrequencyHz = *sj.StartFrequencyHz
		}
		if sj.EndFrequencyHz != nil {
			seg.EndFrequencyHz = *sj.EndFrequencyHz
		}
		return seg, nil
	case segmentKindPrebaked:
		if sj.EffectID == nil {
			return nil, fmt.Errorf("prebaked segment missing effect_id")
		}
		seg := PrebakedSegment{EffectID: *sj.EffectID, Strength: StrengthMedium}
		if sj.Fallback != nil {
			seg.Fallback = *sj.Fallback
		}
		if sj.Strength != nil {
			seg.Strength = *sj.Strength
		}
		return seg, nil
	case segmentKindPrimitive:
		if sj.PrimitiveID == nil {
			return nil, fmt.Errorf("primitive segment missing primitive_id")
		}
		seg := PrimitiveSegment{PrimitiveID: *sj.PrimitiveID, Scale: 1, Delay: msToDuration(sj.DelayMs)}
		if sj.Scale != nil {
			seg.Scale = *sj.Scale
		}
		if sj.DelayType != nil {
			switch *sj.DelayType {
			case delayTypePause:
				seg.DelayType = DelayPause
			case delayTypeStartOffset:
				seg.DelayType = DelayRelativeStartOffset
			default:
				return nil, fmt.Errorf("unknown delay type %q", *sj.DelayType)
			}
		}
		return seg, nil
	case segmentKindPwlePoint:
		seg := PwlePointSegment{Time: msToDuration(sj.TimeMs)}
		if sj.Amplitude != nil {
			seg.Amplitude = *sj.Amplitude
		}
		if sj.FrequencyHz != nil {
			seg.FrequencyHz = *sj.FrequencyHz
		}
		return seg, nil
	case segmentKindBasicPwle:
		seg := BasicPwlePointSegment{Time: msToDuration(sj.TimeMs)}
		if sj.Intensity != nil {
			seg.Intensity = *sj.Intensity
		}
		if sj.Sharpness != nil {
			seg.Sharpness = *sj.Sharpness
		}
		return seg, nil
	case segmentKindVendor:
		data, err := base64.StdEncoding.DecodeString(sj.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid vendor effect data: %w", err)
		}
		seg := VendorSegment{Data: data, Strength: StrengthMedium, Scale: 1, AdaptiveScale: 1}
		if sj.Strength != nil {
			seg.Strength = *sj.Strength
		}
		if sj.Scale != nil {
			seg.Scale = *sj.Scale
		}
		if sj.AdaptiveScale != nil {
			seg.AdaptiveScale = *sj.AdaptiveScale
		}
		return seg, nil
	default:
		return nil, fmt.Errorf("unknown segment kind %q", sj.Kind)
	}
}

// effectSequenceJSON is the wire form of EffectSequence.
type effectSequenceJSON struct {
	Segments    []segmentJSON `json:"segments"`
	RepeatIndex int           `json:"repeat_index"`
}

// MarshalJSON encodes the sequence using the tagged segment envelope.
func (e EffectSequence) MarshalJSON() ([]byte, error) {
	out := effectSequenceJSON{RepeatIndex: e.RepeatIndex, Segments: make([]segmentJSON, 0, len(e.Segments))}
	for _, seg := range e.Segments {
		sj, err := encodeSegment(seg)
		if err != nil {
			return nil, err
		}
		out.Segments = append(out.Segments, sj)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged segment envelope. A missing
// repeat_index means one-shot, not repeat-from-zero.
func (e *EffectSequence) UnmarshalJSON(data []byte) error {
	in := effectSequenceJSON{RepeatIndex: NoRepeat}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	e.RepeatIndex = in.RepeatIndex
	e.Segments = make([]Segment, 0, len(in.Segments))
	for _, sj := range in.Segments {
		seg, err := decodeSegment(sj)
		if err != nil {
			return err
		}
		e.Segments = append(e.Segments, seg)
	}
	return nil
}

// combinedVibrationJSON is the wire form of CombinedVibration.
type combinedVibrationJSON struct {
	Uniform *EffectSequence            `json:"uniform,omitempty"`
	Targets map[int]actuatorEffectJSON `json:"targets,omitempty"`
}

type actuatorEffectJSON struct {
	Sequence     *EffectSequence `json:"sequence"`
	StartDelayMs int64           `json:"start_delay_ms,omitempty"`
}

// MarshalJSON encodes the combined vibration.
func (c CombinedVibration) MarshalJSON() ([]byte, error) {
	out := combinedVibrationJSON{Uniform: c.Uniform}
	if len(c.Targets) > 0 {
		out.Targets = make(map[int]actuatorEffectJSON, len(c.Targets))
		for id, eff := range c.Targets {
			out.Targets[id] = actuatorEffectJSON{Sequence: eff.Sequence, StartDelayMs: eff.StartDelay.Milliseconds()}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the combined vibration.
func (c *CombinedVibration) UnmarshalJSON(data []byte) error {
	var in combinedVibrationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.Uniform = in.Uniform
	c.Targets = nil
	if len(in.Targets) > 0 {
		c.Targets = make(map[int]ActuatorEffect, len(in.Targets))
		for id, eff := range in.Targets {
			c.Targets[id] = ActuatorEffect{Sequence: eff.Sequence, StartDelay: time.Duration(eff.StartDelayMs) * time.Millisecond}
		}
	}
	return nil
}

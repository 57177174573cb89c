package models

// EffectID identifies a prebaked, device-implemented effect.
type EffectID int

const (
	EffectClick       EffectID = 0
	EffectDoubleClick EffectID = 1
	EffectTick        EffectID = 2
	EffectThud        EffectID = 3
	EffectPop         EffectID = 4
	EffectHeavyClick  EffectID = 5
	EffectTextureTick EffectID = 21
)

// PrimitiveID identifies a composable hardware primitive.
type PrimitiveID int

const (
	PrimitiveNoop      PrimitiveID = 0
	PrimitiveClick     PrimitiveID = 1
	PrimitiveThud      PrimitiveID = 2
	PrimitiveSpin      PrimitiveID = 3
	PrimitiveQuickRise PrimitiveID = 4
	PrimitiveSlowRise  PrimitiveID = 5
	PrimitiveQuickFall PrimitiveID = 6
	PrimitiveTick      PrimitiveID = 7
	PrimitiveLowTick   PrimitiveID = 8
)

// Usage classifies what a vibration is for. It selects the intensity
// setting, the default intensity, and any adaptive scale applied to it.
type Usage string

const (
	UsageUnknown           Usage = "unknown"
	UsageAlarm             Usage = "alarm"
	UsageRingtone          Usage = "ringtone"
	UsageNotification      Usage = "notification"
	UsageTouch             Usage = "touch"
	UsageMedia             Usage = "media"
	UsageAccessibility     Usage = "accessibility"
	UsageHardwareFeedback  Usage = "hardware_feedback"
	UsagePhysicalEmulation Usage = "physical_emulation"
)

// IsValidUsage checks if the given usage is supported.
func IsValidUsage(u Usage) bool {
	switch u {
	case UsageUnknown, UsageAlarm, UsageRingtone, UsageNotification, UsageTouch,
		UsageMedia, UsageAccessibility, UsageHardwareFeedback, UsagePhysicalEmulation:
		return true
	default:
		return false
	}
}

// Intensity is a user-facing vibration strength setting for one usage.
type Intensity int

const (
	IntensityOff    Intensity = 0
	IntensityLow    Intensity = 1
	IntensityMedium Intensity = 2
	IntensityHigh   Intensity = 3
)

// IsValidIntensity checks if the given intensity is a defined level.
func IsValidIntensity(i Intensity) bool {
	return i >= IntensityOff && i <= IntensityHigh
}

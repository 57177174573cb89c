// Package hal defines the hardware abstraction layer for vibration
// actuators.
//
// It exposes the command surface the playback thread drives (on, off,
// amplitude, composition and envelope calls), the per-actuator capability
// descriptor loaded at connect time, and a fake in-memory device used by
// tests and by the daemon's demo mode.
package hal

import (
	"context"
	"errors"
	"time"

	"github.com/haptickit/hapticd/internal/models"
)

// Capability is a bitmask of actuator hardware features.
type Capability uint32

const (
	// CapAmplitudeControl allows changing amplitude while vibrating.
	CapAmplitudeControl Capability = 1 << iota
	// CapFrequencyControl allows driving the actuator off-resonance.
	CapFrequencyControl
	// CapComposeEffects allows composing primitive micro-effects.
	CapComposeEffects
	// CapComposePwle allows piecewise-linear envelope playback (v1).
	CapComposePwle
	// CapComposePwleV2 allows normalized envelope playback (v2).
	CapComposePwleV2
	// CapExternalControl allows handing the actuator to an external stream.
	CapExternalControl
	// CapPerformVendorEffects allows opaque vendor effect payloads.
	CapPerformVendorEffects
	// CapGetResonantFrequency means the descriptor's resonant frequency is
	// measured rather than defaulted.
	CapGetResonantFrequency
)

// Has reports whether every bit in want is present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// ErrUnsupported is returned by device calls the hardware cannot execute.
var ErrUnsupported = errors.New("hal: operation not supported by device")

// CompletionFunc is invoked by a device when an asynchronous hardware call
// finishes. Callbacks may arrive on any goroutine; consumers are expected
// to marshal them onto their own control structures.
type CompletionFunc func(actuatorID int, vibrationID int64, stepID int64)

// Device is one physical actuator's command surface. All calls are issued
// from the playback thread, with one exception: Off may be called
// concurrently from a cancelling goroutine while another call is still in
// flight, and implementations must tolerate that.
type Device interface {
	// Connect establishes the hardware session.
	Connect(ctx context.Context) error

	// LoadInfo reads the static capability descriptor.
	LoadInfo(ctx context.Context) (*Info, error)

	// OnComplete registers the completion callback for asynchronous calls.
	OnComplete(fn CompletionFunc)

	// On turns the actuator on for the given duration and returns the
	// duration the hardware actually committed to.
	On(ctx context.Context, uid int, vibrationID, stepID int64, duration time.Duration) (time.Duration, error)

	// Off turns the actuator off immediately.
	Off(ctx context.Context) error

	// SetAmplitude changes the amplitude of an already-on actuator.
	SetAmplitude(ctx context.Context, amplitude float64) error

	// PerformPrebaked plays a device-implemented effect and returns its
	// duration.
	PerformPrebaked(ctx context.Context, vibrationID, stepID int64, seg models.PrebakedSegment) (time.Duration, error)

	// ComposePrimitives plays a primitive composition and returns its
	// total duration.
	ComposePrimitives(ctx context.Context, vibrationID, stepID int64, segs []models.PrimitiveSegment) (time.Duration, error)

	// ComposePwle plays a piecewise-linear envelope built from ramps.
	ComposePwle(ctx context.Context, vibrationID, stepID int64, ramps []models.RampSegment) (time.Duration, error)

	// ComposePwleV2 plays an envelope of absolute-time control points.
	ComposePwleV2(ctx context.Context, vibrationID, stepID int64, points []models.PwlePointSegment) (time.Duration, error)

	// PerformVendorEffect plays an opaque vendor payload.
	PerformVendorEffect(ctx context.Context, vibrationID, stepID int64, seg models.VendorSegment) (time.Duration, error)

	// SetExternalControl hands the actuator to (or reclaims it from) an
	// external audio-coupled stream.
	SetExternalControl(ctx context.Context, enabled bool) error
}

// SyncCoordinator is the manager-level prepare/trigger/cancel protocol for
// vibrations that must start in lock-step across actuators. A nil or
// failing coordinator degrades the vibration to unsynchronized playback;
// it is never fatal.
type SyncCoordinator interface {
	// PrepareSynced stages a synchronized start across the listed
	// actuators, declaring the capabilities the commit will need.
	PrepareSynced(ctx context.Context, required Capability, actuatorIDs []int) error

	// TriggerSynced atomically commits all prepared actuators.
	TriggerSynced(ctx context.Context, vibrationID int64) error

	// CancelSynced abandons a prepared-but-untriggered synchronized start.
	CancelSynced(ctx context.Context) error
}

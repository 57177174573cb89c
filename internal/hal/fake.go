package hal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haptickit/hapticd/internal/models"
)

// Op names a fake device operation for latency and failure injection.
type Op string

const (
	OpConnect            Op = "connect"
	OpOn                 Op = "on"
	OpOff                Op = "off"
	OpSetAmplitude       Op = "set_amplitude"
	OpPerformPrebaked    Op = "perform_prebaked"
	OpComposePrimitives  Op = "compose_primitives"
	OpComposePwle        Op = "compose_pwle"
	OpComposePwleV2      Op = "compose_pwle_v2"
	OpPerformVendor      Op = "perform_vendor"
	OpSetExternalControl Op = "set_external_control"
)

// OnCall records one On invocation.
type OnCall struct {
	UID         int
	VibrationID int64
	StepID      int64
	Duration    time.Duration
}

// FakeDevice is an in-memory Device used by tests and by the daemon's demo
// mode. It records every hardware call, supports per-operation latency and
// failure injection, and fires completion callbacks after the nominal
// duration of asynchronous effects.
type FakeDevice struct {
	info Info

	mu         sync.Mutex
	completion CompletionFunc
	latencies  map[Op]time.Duration
	failures   map[Op]error
	autoNotify bool
	connected  bool

	OnCalls         []OnCall
	OffCalls        int
	Amplitudes      []float64
	PrebakedCalls   []models.PrebakedSegment
	PrimitiveCalls  [][]models.PrimitiveSegment
	PwleCalls       [][]models.RampSegment
	PwleV2Calls     [][]models.PwlePointSegment
	VendorCalls     []models.VendorSegment
	ExternalControl []bool
}

// NewFakeDevice creates a fake actuator with the given descriptor.
// Completion callbacks fire automatically after each effect's duration.
func NewFakeDevice(info Info) *FakeDevice {
	return &FakeDevice{
		info:       info,
		latencies:  make(map[Op]time.Duration),
		failures:   make(map[Op]error),
		autoNotify: true,
	}
}

// DefaultFakeInfo returns a descriptor for a capable fake actuator used by
// the daemon's demo mode.
func DefaultFakeInfo(actuatorID int) Info {
	return Info{
		ActuatorID:   actuatorID,
		Capabilities: CapAmplitudeControl | CapComposeEffects | CapGetResonantFrequency,
		SupportedEffects: map[models.EffectID]bool{
			models.EffectClick: true,
			models.EffectTick:  true,
		},
		SupportedPrimitives: map[models.PrimitiveID]time.Duration{
			models.PrimitiveClick:     12 * time.Millisecond,
			models.PrimitiveTick:      5 * time.Millisecond,
			models.PrimitiveQuickRise: 150 * time.Millisecond,
			models.PrimitiveSlowRise:  500 * time.Millisecond,
			models.PrimitiveQuickFall: 100 * time.Millisecond,
		},
		ResonantFrequencyHz: 150,
		CompositionSizeMax:  100,
	}
}

// SetLatency injects a fixed delay before the given operation returns.
func (f *FakeDevice) SetLatency(op Op, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies[op] = d
}

// FailWith makes the given operation return err until cleared with nil.
func (f *FakeDevice) FailWith(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// SetAutoNotify toggles automatic completion callbacks. With auto notify
// off, tests drive completions through Complete.
func (f *FakeDevice) SetAutoNotify(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoNotify = enabled
}

// Complete fires the completion callback for a step, as the hardware
// notifier would.
func (f *FakeDevice) Complete(vibrationID, stepID int64) {
	f.mu.Lock()
	fn := f.completion
	f.mu.Unlock()
	if fn != nil {
		fn(f.info.ActuatorID, vibrationID, stepID)
	}
}

func (f *FakeDevice) begin(op Op) error {
	f.mu.Lock()
	latency := f.latencies[op]
	err := f.failures[op]
	f.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
	return err
}

func (f *FakeDevice) scheduleCompletion(vibrationID, stepID int64, after time.Duration) {
	f.mu.Lock()
	auto := f.autoNotify
	f.mu.Unlock()
	if !auto {
		return
	}
	time.AfterFunc(after, func() { f.Complete(vibrationID, stepID) })
}

// Connect establishes the fake session.
func (f *FakeDevice) Connect(ctx context.Context) error {
	if err := f.begin(OpConnect); err != nil {
		return err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

// LoadInfo returns a copy of the configured descriptor.
func (f *FakeDevice) LoadInfo(ctx context.Context) (*Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, fmt.Errorf("fake actuator %d not connected", f.info.ActuatorID)
	}
	info := f.info
	return &info, nil
}

// OnComplete registers the completion callback.
func (f *FakeDevice) OnComplete(fn CompletionFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completion = fn
}

// On records the call and commits to the requested duration.
func (f *FakeDevice) On(ctx context.Context, uid int, vibrationID, stepID int64, duration time.Duration) (time.Duration, error) {
	if err := f.begin(OpOn); err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.OnCalls = append(f.OnCalls, OnCall{UID: uid, VibrationID: vibrationID, StepID: stepID, Duration: duration})
	f.mu.Unlock()
	slog.Debug("FakeDevice on", "actuator", f.info.ActuatorID, "vibration", vibrationID, "duration", duration)
	return duration, nil
}

// Off records the call.
func (f *FakeDevice) Off(ctx context.Context) error {
	if err := f.begin(OpOff); err != nil {
		return err
	}
	f.mu.Lock()
	f.OffCalls++
	f.mu.Unlock()
	slog.Debug("FakeDevice off", "actuator", f.info.ActuatorID)
	return nil
}

// SetAmplitude records the amplitude value.
func (f *FakeDevice) SetAmplitude(ctx context.Context, amplitude float64) error {
	if err := f.begin(OpSetAmplitude); err != nil {
		return err
	}
	if !f.info.Capabilities.Has(CapAmplitudeControl) {
		return ErrUnsupported
	}
	f.mu.Lock()
	f.Amplitudes = append(f.Amplitudes, amplitude)
	f.mu.Unlock()
	return nil
}

// PerformPrebaked plays a supported prebaked effect with a fixed 20ms
// nominal duration.
func (f *FakeDevice) PerformPrebaked(ctx context.Context, vibrationID, stepID int64, seg models.PrebakedSegment) (time.Duration, error) {
	if err := f.begin(OpPerformPrebaked); err != nil {
		return 0, err
	}
	if !f.info.SupportedEffects[seg.EffectID] {
		return 0, ErrUnsupported
	}
	f.mu.Lock()
	f.PrebakedCalls = append(f.PrebakedCalls, seg)
	f.mu.Unlock()
	const nominal = 20 * time.Millisecond
	f.scheduleCompletion(vibrationID, stepID, nominal)
	return nominal, nil
}

// ComposePrimitives plays a primitive composition, summing the fixed
// primitive durations plus requested delays.
func (f *FakeDevice) ComposePrimitives(ctx context.Context, vibrationID, stepID int64, segs []models.PrimitiveSegment) (time.Duration, error) {
	if err := f.begin(OpComposePrimitives); err != nil {
		return 0, err
	}
	if !f.info.Capabilities.Has(CapComposeEffects) {
		return 0, ErrUnsupported
	}
	if f.info.CompositionSizeMax > 0 && len(segs) > f.info.CompositionSizeMax {
		return 0, fmt.Errorf("composition of %d exceeds max %d: %w", len(segs), f.info.CompositionSizeMax, ErrUnsupported)
	}
	var total time.Duration
	for _, seg := range segs {
		d, ok := f.info.SupportedPrimitives[seg.PrimitiveID]
		if !ok {
			return 0, ErrUnsupported
		}
		total += seg.Delay + d
	}
	f.mu.Lock()
	f.PrimitiveCalls = append(f.PrimitiveCalls, append([]models.PrimitiveSegment(nil), segs...))
	f.mu.Unlock()
	f.scheduleCompletion(vibrationID, stepID, total)
	return total, nil
}

// ComposePwle plays a v1 envelope, summing ramp durations.
func (f *FakeDevice) ComposePwle(ctx context.Context, vibrationID, stepID int64, ramps []models.RampSegment) (time.Duration, error) {
	if err := f.begin(OpComposePwle); err != nil {
		return 0, err
	}
	if !f.info.Capabilities.Has(CapComposePwle) {
		return 0, ErrUnsupported
	}
	var total time.Duration
	for _, r := range ramps {
		total += r.Duration
	}
	f.mu.Lock()
	f.PwleCalls = append(f.PwleCalls, append([]models.RampSegment(nil), ramps...))
	f.mu.Unlock()
	f.scheduleCompletion(vibrationID, stepID, total)
	return total, nil
}

// ComposePwleV2 plays a v2 envelope, lasting until its final point.
func (f *FakeDevice) ComposePwleV2(ctx context.Context, vibrationID, stepID int64, points []models.PwlePointSegment) (time.Duration, error) {
	if err := f.begin(OpComposePwleV2); err != nil {
		return 0, err
	}
	if !f.info.Capabilities.Has(CapComposePwleV2) {
		return 0, ErrUnsupported
	}
	var total time.Duration
	for _, p := range points {
		if p.Time > total {
			total = p.Time
		}
	}
	f.mu.Lock()
	f.PwleV2Calls = append(f.PwleV2Calls, append([]models.PwlePointSegment(nil), points...))
	f.mu.Unlock()
	f.scheduleCompletion(vibrationID, stepID, total)
	return total, nil
}

// PerformVendorEffect plays an opaque vendor payload with a fixed 50ms
// nominal duration.
func (f *FakeDevice) PerformVendorEffect(ctx context.Context, vibrationID, stepID int64, seg models.VendorSegment) (time.Duration, error) {
	if err := f.begin(OpPerformVendor); err != nil {
		return 0, err
	}
	if !f.info.Capabilities.Has(CapPerformVendorEffects) {
		return 0, ErrUnsupported
	}
	f.mu.Lock()
	f.VendorCalls = append(f.VendorCalls, seg)
	f.mu.Unlock()
	const nominal = 50 * time.Millisecond
	f.scheduleCompletion(vibrationID, stepID, nominal)
	return nominal, nil
}

// SetExternalControl records the toggle.
func (f *FakeDevice) SetExternalControl(ctx context.Context, enabled bool) error {
	if err := f.begin(OpSetExternalControl); err != nil {
		return err
	}
	if !f.info.Capabilities.Has(CapExternalControl) {
		return ErrUnsupported
	}
	f.mu.Lock()
	f.ExternalControl = append(f.ExternalControl, enabled)
	f.mu.Unlock()
	return nil
}

// Snapshot returns copies of the recorded call lists for assertions that
// race with live playback.
func (f *FakeDevice) Snapshot() (onCalls []OnCall, offCalls int, amplitudes []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OnCall(nil), f.OnCalls...), f.OffCalls, append([]float64(nil), f.Amplitudes...)
}

// FakeSyncCoordinator implements the synchronized-commit protocol in
// memory, recording prepare/trigger/cancel calls.
type FakeSyncCoordinator struct {
	mu          sync.Mutex
	prepared    []int
	failPrepare error
	failTrigger error

	PrepareCalls [][]int
	TriggerCalls []int64
	CancelCalls  int
}

// NewFakeSyncCoordinator creates a coordinator that succeeds by default.
func NewFakeSyncCoordinator() *FakeSyncCoordinator {
	return &FakeSyncCoordinator{}
}

// FailPrepare makes PrepareSynced return err.
func (f *FakeSyncCoordinator) FailPrepare(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPrepare = err
}

// FailTrigger makes TriggerSynced return err.
func (f *FakeSyncCoordinator) FailTrigger(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTrigger = err
}

// PrepareSynced stages the listed actuators. Only successful calls are
// recorded, like the fake device's recorders.
func (f *FakeSyncCoordinator) PrepareSynced(ctx context.Context, required Capability, actuatorIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrepare != nil {
		return f.failPrepare
	}
	f.PrepareCalls = append(f.PrepareCalls, append([]int(nil), actuatorIDs...))
	f.prepared = append([]int(nil), actuatorIDs...)
	return nil
}

// TriggerSynced commits a staged start.
func (f *FakeSyncCoordinator) TriggerSynced(ctx context.Context, vibrationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTrigger != nil {
		return f.failTrigger
	}
	if f.prepared == nil {
		return fmt.Errorf("trigger without prepare")
	}
	f.TriggerCalls = append(f.TriggerCalls, vibrationID)
	f.prepared = nil
	return nil
}

// CancelSynced abandons a staged start.
func (f *FakeSyncCoordinator) CancelSynced(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelCalls++
	f.prepared = nil
	return nil
}

package hal

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/haptickit/hapticd/internal/models"
)

func connectedController(t *testing.T, info Info) (*Controller, *FakeDevice) {
	t.Helper()
	dev := NewFakeDevice(info)
	dev.SetAutoNotify(false)
	ctrl := NewController(info.ActuatorID, dev)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return ctrl, dev
}

func TestCapabilityHas(t *testing.T) {
	caps := CapAmplitudeControl | CapComposeEffects
	if !caps.Has(CapAmplitudeControl) {
		t.Error("Expected amplitude control capability")
	}
	if caps.Has(CapComposePwle) {
		t.Error("Did not expect envelope capability")
	}
	if !caps.Has(CapAmplitudeControl | CapComposeEffects) {
		t.Error("Expected combined capability check to pass")
	}
	if caps.Has(CapAmplitudeControl | CapComposePwle) {
		t.Error("Expected combined check to fail when one bit missing")
	}
}

func TestMaxAmplitudeAtInterpolates(t *testing.T) {
	info := Info{
		MinFrequencyHz:        100,
		FrequencyResolutionHz: 50,
		MaxAmplitudes:         []float64{0.2, 1.0, 0.6},
	}
	cases := []struct {
		freq float64
		want float64
	}{
		{50, 0.2},  // below range clamps to first bin
		{100, 0.2}, // exact first bin
		{125, 0.6}, // halfway between 0.2 and 1.0
		{150, 1.0}, // exact middle bin
		{175, 0.8}, // halfway between 1.0 and 0.6
		{200, 0.6}, // last bin
		{999, 0.6}, // above range clamps to last bin
	}
	for _, tc := range cases {
		if got := info.MaxAmplitudeAt(tc.freq); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("MaxAmplitudeAt(%v) = %v, want %v", tc.freq, got, tc.want)
		}
	}
}

func TestMaxAmplitudeAtWithoutProfile(t *testing.T) {
	info := Info{}
	if got := info.MaxAmplitudeAt(123); got != 1 {
		t.Errorf("Expected full amplitude without profile, got %v", got)
	}
}

func TestMaxFrequencyHz(t *testing.T) {
	info := Info{MinFrequencyHz: 100, FrequencyResolutionHz: 25, MaxAmplitudes: []float64{0.1, 0.5, 1, 0.5}}
	if got := info.MaxFrequencyHz(); got != 175 {
		t.Errorf("MaxFrequencyHz() = %v, want 175", got)
	}
}

func TestFrequencyForIntensity(t *testing.T) {
	env := &EnvelopeInfo{
		MinFrequencyHz: 50,
		MaxFrequencyHz: 300,
		AccelerationCurve: []CurvePoint{
			{FrequencyHz: 50, Value: 0.1},
			{FrequencyHz: 150, Value: 0.5},
			{FrequencyHz: 300, Value: 1.0},
		},
	}
	freq, ok := env.FrequencyForIntensity(0.3)
	if !ok {
		t.Fatal("Expected solvable intensity")
	}
	if math.Abs(freq-100) > 1e-9 {
		t.Errorf("FrequencyForIntensity(0.3) = %v, want 100", freq)
	}
	if freq, ok := env.FrequencyForIntensity(0.05); !ok || freq != 50 {
		t.Errorf("Expected low intensity to clamp to first point, got %v ok=%v", freq, ok)
	}
	if _, ok := env.FrequencyForIntensity(1.5); ok {
		t.Error("Expected unsolvable intensity above curve maximum")
	}
}

func TestControllerReloadRefusesWhileVibrating(t *testing.T) {
	ctrl, _ := connectedController(t, DefaultFakeInfo(0))
	ctx := context.Background()

	if _, err := ctrl.On(ctx, 100, 1, 1, 20*time.Millisecond); err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if !ctrl.Vibrating() {
		t.Fatal("Expected controller to report vibrating after On")
	}
	if err := ctrl.Reload(ctx); err == nil {
		t.Error("Expected Reload to refuse while vibrating")
	}
	if err := ctrl.Off(ctx); err != nil {
		t.Fatalf("Off failed: %v", err)
	}
	if ctrl.Vibrating() {
		t.Error("Expected vibrating flag cleared after Off")
	}
	if err := ctrl.Reload(ctx); err != nil {
		t.Errorf("Expected Reload to succeed while idle, got %v", err)
	}
}

func TestFakeDeviceFailureInjection(t *testing.T) {
	ctrl, dev := connectedController(t, DefaultFakeInfo(0))
	ctx := context.Background()

	boom := errors.New("hardware fault")
	dev.FailWith(OpSetAmplitude, boom)
	if err := ctrl.SetAmplitude(ctx, 0.5); !errors.Is(err, boom) {
		t.Errorf("Expected injected failure, got %v", err)
	}
	dev.FailWith(OpSetAmplitude, nil)
	if err := ctrl.SetAmplitude(ctx, 0.5); err != nil {
		t.Errorf("Expected cleared failure, got %v", err)
	}
}

func TestFakeDeviceUnsupportedOperations(t *testing.T) {
	info := DefaultFakeInfo(0)
	info.Capabilities = CapAmplitudeControl // no compose, no pwle, no vendor
	ctrl, _ := connectedController(t, info)
	ctx := context.Background()

	if _, err := ctrl.ComposePwle(ctx, 1, 1, []models.RampSegment{{Duration: 10 * time.Millisecond}}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for pwle, got %v", err)
	}
	if _, err := ctrl.PerformVendorEffect(ctx, 1, 1, models.VendorSegment{Data: []byte{1}, Scale: 1, AdaptiveScale: 1}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for vendor effect, got %v", err)
	}
	if err := ctrl.SetExternalControl(ctx, true); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for external control, got %v", err)
	}
}

func TestFakeDeviceCompositionSizeLimit(t *testing.T) {
	info := DefaultFakeInfo(0)
	info.CompositionSizeMax = 2
	ctrl, _ := connectedController(t, info)
	ctx := context.Background()

	segs := []models.PrimitiveSegment{
		{PrimitiveID: models.PrimitiveClick, Scale: 1},
		{PrimitiveID: models.PrimitiveTick, Scale: 1},
		{PrimitiveID: models.PrimitiveClick, Scale: 1},
	}
	if _, err := ctrl.ComposePrimitives(ctx, 1, 1, segs); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected oversized composition to be unsupported, got %v", err)
	}
	if _, err := ctrl.ComposePrimitives(ctx, 1, 2, segs[:2]); err != nil {
		t.Errorf("Expected composition within limit to succeed, got %v", err)
	}
}

func TestFakeDeviceCompletionCallback(t *testing.T) {
	dev := NewFakeDevice(DefaultFakeInfo(3))
	dev.SetAutoNotify(false)
	ctrl := NewController(3, dev)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	type callback struct {
		actuator  int
		vib, step int64
	}
	got := make(chan callback, 1)
	ctrl.OnComplete(func(actuatorID int, vibrationID, stepID int64) {
		got <- callback{actuator: actuatorID, vib: vibrationID, step: stepID}
	})

	dev.Complete(7, 42)
	select {
	case cb := <-got:
		if cb.actuator != 3 || cb.vib != 7 || cb.step != 42 {
			t.Errorf("Unexpected callback %+v", cb)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for completion callback")
	}
}

func TestFakeSyncCoordinatorProtocol(t *testing.T) {
	sc := NewFakeSyncCoordinator()
	ctx := context.Background()

	if err := sc.TriggerSynced(ctx, 1); err == nil {
		t.Error("Expected trigger without prepare to fail")
	}
	if err := sc.PrepareSynced(ctx, CapAmplitudeControl, []int{0, 1}); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := sc.TriggerSynced(ctx, 1); err != nil {
		t.Errorf("Trigger after prepare failed: %v", err)
	}
	if len(sc.PrepareCalls) != 1 || len(sc.TriggerCalls) != 1 {
		t.Errorf("Expected one prepare and one trigger, got %d/%d", len(sc.PrepareCalls), len(sc.TriggerCalls))
	}
}

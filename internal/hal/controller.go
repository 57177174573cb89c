package hal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haptickit/hapticd/internal/models"
)

// Controller owns the runtime state of one actuator: the connected device,
// its capability descriptor, and the "is currently vibrating" flag. The
// descriptor is written only at connect time or by an explicit Reload
// gated to run while no vibration is active.
type Controller struct {
	id  int
	dev Device

	mu        sync.RWMutex
	info      *Info
	vibrating atomic.Bool
}

// NewController wraps a device. Connect must be called before use.
func NewController(id int, dev Device) *Controller {
	return &Controller{id: id, dev: dev}
}

// ID returns the actuator id.
func (c *Controller) ID() int { return c.id }

// Connect establishes the hardware session and loads the capability
// descriptor.
func (c *Controller) Connect(ctx context.Context) error {
	slog.Debug("Controller connecting", "actuator", c.id)
	if err := c.dev.Connect(ctx); err != nil {
		slog.Error("Controller connect failed", "actuator", c.id, "error", err)
		return fmt.Errorf("actuator %d connect: %w", c.id, err)
	}
	info, err := c.dev.LoadInfo(ctx)
	if err != nil {
		slog.Error("Controller capability load failed", "actuator", c.id, "error", err)
		return fmt.Errorf("actuator %d load info: %w", c.id, err)
	}
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
	slog.Info("Controller connected", "actuator", c.id, "capabilities", info.Capabilities)
	return nil
}

// Reload re-reads the capability descriptor. Callers must ensure no
// vibration is active; Reload refuses otherwise.
func (c *Controller) Reload(ctx context.Context) error {
	if c.vibrating.Load() {
		return fmt.Errorf("actuator %d busy, cannot reload capabilities", c.id)
	}
	info, err := c.dev.LoadInfo(ctx)
	if err != nil {
		return fmt.Errorf("actuator %d reload info: %w", c.id, err)
	}
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
	slog.Info("Controller capabilities reloaded", "actuator", c.id)
	return nil
}

// Info returns the current capability descriptor, nil before Connect.
func (c *Controller) Info() *Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Vibrating reports whether the actuator is currently on.
func (c *Controller) Vibrating() bool {
	return c.vibrating.Load()
}

// OnComplete registers the completion callback with the device.
func (c *Controller) OnComplete(fn CompletionFunc) {
	c.dev.OnComplete(fn)
}

// On turns the actuator on for the duration.
func (c *Controller) On(ctx context.Context, uid int, vibrationID, stepID int64, duration time.Duration) (time.Duration, error) {
	slog.Debug("Controller on", "actuator", c.id, "vibration", vibrationID, "step", stepID, "duration", duration)
	actual, err := c.dev.On(ctx, uid, vibrationID, stepID, duration)
	if err == nil {
		c.vibrating.Store(true)
	}
	return actual, err
}

// Off turns the actuator off. Safe to call from a cancelling goroutine
// while another device call is in flight.
func (c *Controller) Off(ctx context.Context) error {
	slog.Debug("Controller off", "actuator", c.id)
	err := c.dev.Off(ctx)
	if err == nil {
		c.vibrating.Store(false)
	}
	return err
}

// SetAmplitude changes the live amplitude.
func (c *Controller) SetAmplitude(ctx context.Context, amplitude float64) error {
	return c.dev.SetAmplitude(ctx, amplitude)
}

// PerformPrebaked plays a prebaked effect.
func (c *Controller) PerformPrebaked(ctx context.Context, vibrationID, stepID int64, seg models.PrebakedSegment) (time.Duration, error) {
	d, err := c.dev.PerformPrebaked(ctx, vibrationID, stepID, seg)
	if err == nil {
		c.vibrating.Store(true)
	}
	return d, err
}

// ComposePrimitives plays a primitive composition.
func (c *Controller) ComposePrimitives(ctx context.Context, vibrationID, stepID int64, segs []models.PrimitiveSegment) (time.Duration, error) {
	d, err := c.dev.ComposePrimitives(ctx, vibrationID, stepID, segs)
	if err == nil {
		c.vibrating.Store(true)
	}
	return d, err
}

// ComposePwle plays a v1 envelope.
func (c *Controller) ComposePwle(ctx context.Context, vibrationID, stepID int64, ramps []models.RampSegment) (time.Duration, error) {
	d, err := c.dev.ComposePwle(ctx, vibrationID, stepID, ramps)
	if err == nil {
		c.vibrating.Store(true)
	}
	return d, err
}

// ComposePwleV2 plays a v2 envelope.
func (c *Controller) ComposePwleV2(ctx context.Context, vibrationID, stepID int64, points []models.PwlePointSegment) (time.Duration, error) {
	d, err := c.dev.ComposePwleV2(ctx, vibrationID, stepID, points)
	if err == nil {
		c.vibrating.Store(true)
	}
	return d, err
}

// PerformVendorEffect plays an opaque vendor payload.
func (c *Controller) PerformVendorEffect(ctx context.Context, vibrationID, stepID int64, seg models.VendorSegment) (time.Duration, error) {
	d, err := c.dev.PerformVendorEffect(ctx, vibrationID, stepID, seg)
	if err == nil {
		c.vibrating.Store(true)
	}
	return d, err
}

// SetExternalControl toggles external control.
func (c *Controller) SetExternalControl(ctx context.Context, enabled bool) error {
	return c.dev.SetExternalControl(ctx, enabled)
}

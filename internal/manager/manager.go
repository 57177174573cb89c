// Package manager is the service core of hapticd: it owns the actuator
// controllers, the user settings, and the single playback thread, and it
// turns submitted combined vibrations into conducted playback.
//
// Submission is the pipeline described by the rest of the tree: validate,
// apply the settings policy, capture an immutable gain, scale, adapt per
// actuator, then conduct. One vibration plays at a time; a new submission
// supersedes the current one and waits for the playback thread to be
// released before starting.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haptickit/hapticd/internal/adapter"
	"github.com/haptickit/hapticd/internal/conductor"
	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/models"
	"github.com/haptickit/hapticd/internal/playback"
	"github.com/haptickit/hapticd/internal/scale"
	"github.com/haptickit/hapticd/internal/store"
)

// DefaultSupersedeTimeout bounds how long a submission waits for the
// superseded vibration to release the playback thread.
const DefaultSupersedeTimeout = 2 * time.Second

// ErrNoActuators is returned when Submit runs before any device was
// registered.
var ErrNoActuators = errors.New("no actuators registered")

// ErrNotVibrating is returned by Cancel when nothing is playing.
var ErrNotVibrating = errors.New("no vibration playing")

// Listener observes vibration lifecycle transitions. Listeners are invoked
// from manager goroutines and must not block.
type Listener func(v *models.Vibration)

// DefaultScaleSnapshot returns the scaling configuration used when no
// deployment-specific snapshot is supplied: gain-model scaling with
// medium defaults, a lighter default for touch feedback, and a stronger
// one for alarms.
func DefaultScaleSnapshot() scale.Snapshot {
	return scale.Snapshot{
		DefaultIntensity: map[models.Usage]models.Intensity{
			models.UsageAlarm: models.IntensityHigh,
			models.UsageTouch: models.IntensityLow,
		},
		UseGainModel: true,
	}
}

// Opts holds configuration options for the manager.
type Opts struct {
	AdapterConfig    adapter.Config
	ConductorConfig  conductor.Config
	Sync             hal.SyncCoordinator
	Snapshot         scale.Snapshot
	SupersedeTimeout time.Duration
}

// Option defines a configuration option for the manager.
type Option func(*Opts)

// WithAdapterConfig sets the device adaptation configuration.
func WithAdapterConfig(cfg adapter.Config) Option {
	return func(o *Opts) { o.AdapterConfig = cfg }
}

// WithConductorConfig sets playback timing and failure-mode configuration.
func WithConductorConfig(cfg conductor.Config) Option {
	return func(o *Opts) { o.ConductorConfig = cfg }
}

// WithSyncCoordinator enables synchronized multi-actuator starts.
func WithSyncCoordinator(sc hal.SyncCoordinator) Option {
	return func(o *Opts) { o.Sync = sc }
}

// WithScaleSnapshot seeds the initial scaling configuration.
func WithScaleSnapshot(s scale.Snapshot) Option {
	return func(o *Opts) { o.Snapshot = s }
}

// WithSupersedeTimeout overrides DefaultSupersedeTimeout.
func WithSupersedeTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SupersedeTimeout = d }
}

// Manager coordinates devices, settings, and playback.
type Manager struct {
	st     store.Store
	scaler *scale.Scaler
	thread *playback.Thread
	opts   Opts

	mu          sync.Mutex
	controllers map[int]*hal.Controller
	current     *conductor.Conductor
	listeners   []Listener
	nextID      int64
	released    chan struct{}
}

// New creates a manager backed by the given store. Start must be called
// before Submit.
func New(st store.Store, opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SupersedeTimeout <= 0 {
		cfg.SupersedeTimeout = DefaultSupersedeTimeout
	}
	m := &Manager{
		st:          st,
		scaler:      scale.New(cfg.Snapshot),
		opts:        cfg,
		controllers: make(map[int]*hal.Controller),
		released:    make(chan struct{}, 1),
	}
	m.thread = playback.NewThread(playback.WithReleaseFunc(m.onRelease))
	return m
}

// Start loads persisted settings and launches the playback thread.
func (m *Manager) Start(ctx context.Context) error {
	intensities, err := m.st.GetIntensities()
	if err != nil {
		return fmt.Errorf("failed to load intensity settings: %w", err)
	}
	if len(intensities) > 0 {
		snapshot := m.scaler.Current()
		if snapshot.UserIntensity == nil {
			snapshot.UserIntensity = make(map[models.Usage]models.Intensity)
		}
		for usage, intensity := range intensities {
			snapshot.UserIntensity[usage] = intensity
		}
		m.scaler.Update(snapshot)
		slog.Debug("Manager restored intensity settings", "count", len(intensities))
	}
	m.thread.Start(ctx)
	slog.Info("Vibration manager started", "actuators", len(m.controllers))
	return nil
}

// Stop cancels any playing vibration and shuts the playback thread down.
func (m *Manager) Stop() {
	m.thread.Stop()
	slog.Info("Vibration manager stopped")
}

// AddDevice connects a device, loads its descriptor, and registers its
// completion callbacks.
func (m *Manager) AddDevice(ctx context.Context, id int, dev hal.Device) error {
	ctrl := hal.NewController(id, dev)
	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect actuator %d: %w", id, err)
	}
	ctrl.OnComplete(m.handleCompletion)
	m.mu.Lock()
	m.controllers[id] = ctrl
	m.mu.Unlock()
	slog.Info("Actuator registered", "actuator", id, "capabilities", ctrl.Info().Capabilities)
	return nil
}

// Controllers returns the registered controllers keyed by actuator id.
func (m *Manager) Controllers() map[int]*hal.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*hal.Controller, len(m.controllers))
	for id, ctrl := range m.controllers {
		out[id] = ctrl
	}
	return out
}

// AddListener registers a lifecycle listener.
func (m *Manager) AddListener(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) notify(v *models.Vibration) {
	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}

// handleCompletion routes hardware completion callbacks to the conductor
// that is currently playing. Callbacks for anything else are stale.
func (m *Manager) handleCompletion(actuatorID int, vibrationID, stepID int64) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		slog.Debug("Discarding completion callback with no active vibration",
			"actuator", actuatorID, "vibration", vibrationID, "step", stepID)
		return
	}
	cur.NotifyCallback(actuatorID, vibrationID, stepID)
}

// settingsBypass lists the usages that still vibrate when the user setting
// is off.
func settingsBypass(usage models.Usage) bool {
	return usage == models.UsageAlarm || usage == models.UsageAccessibility
}

// Submit validates and conducts one combined vibration. The returned
// vibration already reflects an ignore decision when playback never
// starts.
func (m *Manager) Submit(ctx context.Context, caller models.CallerInfo, effect *models.CombinedVibration) (*models.Vibration, error) {
	if effect == nil {
		return nil, models.ErrEmptySequence
	}
	if err := effect.Validate(); err != nil {
		return nil, fmt.Errorf("invalid effect: %w", err)
	}
	if !models.IsValidUsage(caller.Usage) {
		caller.Usage = models.UsageUnknown
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	controllers := make(map[int]*hal.Controller, len(m.controllers))
	for cid, ctrl := range m.controllers {
		controllers[cid] = ctrl
	}
	m.mu.Unlock()
	if len(controllers) == 0 {
		return nil, ErrNoActuators
	}

	vib := models.NewVibration(id, uuid.NewString(), caller, effect)
	slog.Debug("Vibration submitted", "vibration", id, "uid", caller.UID, "usage", caller.Usage)

	// Settings policy: a usage the user turned off is ignored before any
	// hardware work, except the bypass usages. Bypass usages still play
	// and are scaled at the usage default, which ResolveIntensity handles.
	snapshot := m.scaler.Current()
	if user, ok := snapshot.UserIntensity[caller.Usage]; ok && user == models.IntensityOff && !settingsBypass(caller.Usage) {
		m.finish(vib, models.StatusIgnoredForSettings)
		return vib, nil
	}

	// The gain is captured once per vibration; later settings changes do
	// not affect a vibration already being scaled.
	gain := m.scaler.Capture(caller.Usage)

	tracks, _ := m.buildTracks(effect, controllers, gain)
	if len(tracks) == 0 {
		m.finish(vib, models.StatusIgnoredUnsupported)
		return vib, nil
	}

	cond := conductor.New(vib, tracks, m.opts.Sync, m.opts.ConductorConfig)
	cond.OnEnded = m.handleEnded

	if err := m.conduct(ctx, cond); err != nil {
		m.finish(vib, models.StatusIgnoredErrorDispatching)
		return vib, err
	}
	m.notify(vib)
	return vib, nil
}

// buildTracks scales and adapts the effect for every actuator it targets.
func (m *Manager) buildTracks(effect *models.CombinedVibration, controllers map[int]*hal.Controller, gain scale.Gain) ([]conductor.TrackEffect, bool) {
	var tracks []conductor.TrackEffect
	anyUnsupported := false
	for id, ctrl := range controllers {
		seq, startDelay := effect.SequenceFor(id)
		if seq == nil {
			continue
		}
		scaled := gain.ApplySequence(seq)
		adapted, ok := adapter.Adapt(scaled, ctrl.Info(), m.opts.AdapterConfig)
		if !ok {
			slog.Debug("Effect unsupported on actuator", "actuator", id)
			anyUnsupported = true
			continue
		}
		tracks = append(tracks, conductor.TrackEffect{
			Controller: ctrl,
			Sequence:   adapted,
			StartDelay: startDelay,
		})
	}
	return tracks, anyUnsupported
}

// conduct hands the conductor to the playback thread, superseding whatever
// plays right now.
func (m *Manager) conduct(ctx context.Context, cond *conductor.Conductor) error {
	deadline := time.NewTimer(m.opts.SupersedeTimeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		cur := m.current
		if cur == nil {
			m.current = cond
			m.mu.Unlock()
			if err := m.thread.Conduct(cond); err != nil {
				m.mu.Lock()
				m.current = nil
				m.mu.Unlock()
				return err
			}
			return nil
		}
		m.mu.Unlock()

		if err := cur.Cancel(ctx, models.CancelSuperseded, false); err != nil {
			return err
		}
		select {
		case <-m.released:
		case <-deadline.C:
			return fmt.Errorf("superseded vibration %d did not release playback in time", cur.Vibration().ID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// onRelease runs on the playback goroutine after a conductor fully drains.
func (m *Manager) onRelease(cond *conductor.Conductor) {
	m.mu.Lock()
	if m.current == cond {
		m.current = nil
	}
	m.mu.Unlock()
	select {
	case m.released <- struct{}{}:
	default:
	}
}

// handleEnded persists the record and notifies listeners once a vibration
// reaches its terminal status.
func (m *Manager) handleEnded(v *models.Vibration) {
	m.record(v)
	m.notify(v)
}

// finish commits a terminal status for a vibration that never played.
func (m *Manager) finish(v *models.Vibration, status models.Status) {
	v.End(status)
	slog.Info("Vibration ended before playback", "vibration", v.ID, "status", status)
	m.record(v)
	m.notify(v)
}

func (m *Manager) record(v *models.Vibration) {
	rec := models.Record{
		ID:        v.ID,
		Token:     v.Token,
		UID:       v.Caller.UID,
		Package:   v.Caller.Package,
		Usage:     v.Caller.Usage,
		Status:    v.Status(),
		CreatedAt: v.CreatedAt,
		EndedAt:   v.EndedAt(),
	}
	if !rec.EndedAt.IsZero() {
		rec.DurationMs = rec.EndedAt.Sub(rec.CreatedAt).Milliseconds()
	}
	if err := m.st.AddVibration(rec); err != nil {
		slog.Error("Failed to record vibration", "vibration", v.ID, "error", err)
	}
}

// Cancel cancels the playing vibration with the given reason.
func (m *Manager) Cancel(ctx context.Context, reason models.CancelReason, immediate bool) error {
	return m.CancelUsage(ctx, "", reason, immediate)
}

// CancelUsage cancels the playing vibration only when its usage matches.
// An empty usage matches any vibration.
func (m *Manager) CancelUsage(ctx context.Context, usage models.Usage, reason models.CancelReason, immediate bool) error {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		return ErrNotVibrating
	}
	if usage != "" && cur.Vibration().Caller.Usage != usage {
		return ErrNotVibrating
	}
	return cur.Cancel(ctx, reason, immediate)
}

// IsVibrating reports whether a vibration currently holds the playback
// thread.
func (m *Manager) IsVibrating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns the vibration holding the playback thread, nil when
// idle.
func (m *Manager) Current() *models.Vibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.Vibration()
}

// SetIntensity persists and applies the user intensity for one usage.
// The playing vibration, if any, is cancelled: its gain was captured under
// the old settings.
func (m *Manager) SetIntensity(ctx context.Context, usage models.Usage, intensity models.Intensity) error {
	if !models.IsValidUsage(usage) {
		return fmt.Errorf("unknown usage %q", usage)
	}
	if !models.IsValidIntensity(intensity) {
		return fmt.Errorf("intensity %d out of range", intensity)
	}
	if err := m.st.SaveIntensity(usage, intensity); err != nil {
		return err
	}
	snapshot := m.scaler.Current()
	if snapshot.UserIntensity == nil {
		snapshot.UserIntensity = make(map[models.Usage]models.Intensity)
	}
	snapshot.UserIntensity[usage] = intensity
	m.scaler.Update(snapshot)
	slog.Info("Intensity setting updated", "usage", usage, "intensity", intensity)

	if err := m.Cancel(ctx, models.CancelBySettingsUpdate, false); err != nil && !errors.Is(err, ErrNotVibrating) {
		return err
	}
	return nil
}

// RemoveIntensity reverts one usage to its default intensity, dropping the
// persisted user setting. Like SetIntensity it cancels a playing
// vibration, since the effective scale changes.
func (m *Manager) RemoveIntensity(ctx context.Context, usage models.Usage) error {
	if !models.IsValidUsage(usage) {
		return fmt.Errorf("unknown usage %q", usage)
	}
	if err := m.st.DeleteIntensity(usage); err != nil {
		return err
	}
	snapshot := m.scaler.Current()
	if snapshot.UserIntensity != nil {
		delete(snapshot.UserIntensity, usage)
		m.scaler.Update(snapshot)
	}
	slog.Info("Intensity setting reverted to default", "usage", usage)

	if err := m.Cancel(ctx, models.CancelBySettingsUpdate, false); err != nil && !errors.Is(err, ErrNotVibrating) {
		return err
	}
	return nil
}

// Intensities returns the effective per-usage intensities: every known
// usage resolved against the current snapshot.
func (m *Manager) Intensities() map[models.Usage]models.Intensity {
	snapshot := m.scaler.Current()
	out := make(map[models.Usage]models.Intensity)
	for _, usage := range []models.Usage{
		models.UsageUnknown, models.UsageAlarm, models.UsageRingtone,
		models.UsageNotification, models.UsageTouch, models.UsageMedia,
		models.UsageAccessibility, models.UsageHardwareFeedback, models.UsagePhysicalEmulation,
	} {
		intensity := models.IntensityMedium
		if snapshot.UserIntensity != nil {
			if v, ok := snapshot.UserIntensity[usage]; ok {
				intensity = v
			}
		}
		out[usage] = intensity
	}
	return out
}

// SetAdaptiveScale installs a per-usage adaptive haptics multiplier.
func (m *Manager) SetAdaptiveScale(usage models.Usage, factor float64) error {
	if !models.IsValidUsage(usage) {
		return fmt.Errorf("unknown usage %q", usage)
	}
	if factor < 0 {
		return fmt.Errorf("adaptive scale %v out of range", factor)
	}
	m.scaler.SetAdaptiveScale(usage, factor)
	slog.Debug("Adaptive scale set", "usage", usage, "factor", factor)
	return nil
}

// RemoveAdaptiveScale clears the adaptive multiplier for one usage.
func (m *Manager) RemoveAdaptiveScale(usage models.Usage) {
	m.scaler.RemoveAdaptiveScale(usage)
	slog.Debug("Adaptive scale removed", "usage", usage)
}

// ClearAdaptiveScales removes the adaptive multipliers for every usage.
func (m *Manager) ClearAdaptiveScales() {
	m.scaler.ClearAdaptiveScales()
	slog.Debug("All adaptive scales cleared")
}

// Scaler exposes the scaling engine, mainly for tests and the API layer.
func (m *Manager) Scaler() *scale.Scaler { return m.scaler }

// SetExternalControl toggles external control on one actuator. It refuses
// while a vibration is playing.
func (m *Manager) SetExternalControl(ctx context.Context, actuatorID int, enabled bool) error {
	m.mu.Lock()
	ctrl, ok := m.controllers[actuatorID]
	playing := m.current != nil
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown actuator %d", actuatorID)
	}
	if playing && enabled {
		return errors.New("cannot enter external control while vibrating")
	}
	if !ctrl.Info().Capabilities.Has(hal.CapExternalControl) {
		return hal.ErrUnsupported
	}
	return ctrl.SetExternalControl(ctx, enabled)
}

// PruneHistory removes vibration records older than the retention window.
func (m *Manager) PruneHistory(retention time.Duration) (int64, error) {
	return m.st.PruneVibrations(time.Now().Add(-retention))
}

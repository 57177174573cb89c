package models

import (
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a vibration. Terminal statuses are set
// exactly once; observers are notified at that point and never before.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"

	StatusCancelledByUser           Status = "cancelled_by_user"
	StatusCancelledByScreenOff      Status = "cancelled_by_screen_off"
	StatusCancelledSuperseded       Status = "cancelled_superseded"
	StatusCancelledBySettingsUpdate Status = "cancelled_by_settings_update"
	StatusCancelledCallerDied       Status = "cancelled_caller_died"
	StatusCancelledByManager        Status = "cancelled_by_manager"

	StatusIgnoredUnsupported      Status = "ignored_unsupported"
	StatusIgnoredErrorDispatching Status = "ignored_error_dispatching"
	StatusIgnoredForSettings      Status = "ignored_for_settings"
)

// Terminal reports whether the status ends a vibration's lifecycle.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusRunning
}

// Cancelled reports whether the status is an externally requested stop.
func (s Status) Cancelled() bool {
	switch s {
	case StatusCancelledByUser, StatusCancelledByScreenOff, StatusCancelledSuperseded,
		StatusCancelledBySettingsUpdate, StatusCancelledCallerDied, StatusCancelledByManager:
		return true
	default:
		return false
	}
}

// CancelReason maps external cancellation requests to a terminal status.
type CancelReason string

const (
	CancelByUser           CancelReason = "user"
	CancelByScreenOff      CancelReason = "screen_off"
	CancelSuperseded       CancelReason = "superseded"
	CancelBySettingsUpdate CancelReason = "settings_update"
	CancelCallerDied       CancelReason = "caller_died"
	CancelByManager        CancelReason = "manager"
)

// ErrInvalidCancelReason is returned for unknown cancel reason codes.
var ErrInvalidCancelReason = errors.New("invalid cancel reason")

// Status returns the terminal status for the cancellation reason.
func (r CancelReason) Status() (Status, error) {
	switch r {
	case CancelByUser:
		return StatusCancelledByUser, nil
	case CancelByScreenOff:
		return StatusCancelledByScreenOff, nil
	case CancelSuperseded:
		return StatusCancelledSuperseded, nil
	case CancelBySettingsUpdate:
		return StatusCancelledBySettingsUpdate, nil
	case CancelCallerDied:
		return StatusCancelledCallerDied, nil
	case CancelByManager:
		return StatusCancelledByManager, nil
	default:
		return "", ErrInvalidCancelReason
	}
}

// CallerInfo attributes a vibration to its requester.
type CallerInfo struct {
	UID     int    `json:"uid"`
	Package string `json:"package"`
	Usage   Usage  `json:"usage"`
}

// ActuatorEffect is one actuator's share of a combined vibration. StartDelay
// offsets the actuator's first step, which is how sequential compositions
// are expressed.
type ActuatorEffect struct {
	Sequence   *EffectSequence
	StartDelay time.Duration
}

// CombinedVibration is a request spanning one or more actuators. Either
// Uniform is set (every known actuator plays the same sequence) or Targets
// maps actuator ids to their effects.
type CombinedVibration struct {
	Uniform *EffectSequence
	Targets map[int]ActuatorEffect
}

// Validate checks that exactly one of Uniform/Targets is populated and that
// every sequence is valid.
func (c *CombinedVibration) Validate() error {
	if c.Uniform != nil {
		if len(c.Targets) > 0 {
			return errors.New("combined vibration cannot set both uniform and targets")
		}
		return c.Uniform.Validate()
	}
	if len(c.Targets) == 0 {
		return errors.New("combined vibration has no effects")
	}
	for id, eff := range c.Targets {
		if id < 0 {
			return errors.New("negative actuator id")
		}
		if eff.Sequence == nil {
			return errors.New("actuator effect has no sequence")
		}
		if eff.StartDelay < 0 {
			return ErrNegativeDuration
		}
		if err := eff.Sequence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SequenceFor returns the sequence targeting the given actuator, or nil if
// the vibration does not address it.
func (c *CombinedVibration) SequenceFor(actuatorID int) (*EffectSequence, time.Duration) {
	if c.Uniform != nil {
		return c.Uniform, 0
	}
	if eff, ok := c.Targets[actuatorID]; ok {
		return eff.Sequence, eff.StartDelay
	}
	return nil, 0
}

// Vibration is the runtime record of one submitted combined vibration. The
// playback thread owns it once started; the terminal status transition
// happens exactly once regardless of how many goroutines race to end it.
type Vibration struct {
	ID     int64
	Token  string
	Caller CallerInfo
	Effect *CombinedVibration

	CreatedAt time.Time

	mu      sync.Mutex
	status  Status
	endedAt time.Time
	done    chan struct{}
}

// NewVibration creates a pending vibration record.
func NewVibration(id int64, token string, caller CallerInfo, effect *CombinedVibration) *Vibration {
	return &Vibration{
		ID:        id,
		Token:     token,
		Caller:    caller,
		Effect:    effect,
		CreatedAt: time.Now(),
		status:    StatusPending,
		done:      make(chan struct{}),
	}
}

// Status returns the current lifecycle status.
func (v *Vibration) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// MarkRunning moves the vibration from pending to running. It is a no-op if
// the vibration already ended.
func (v *Vibration) MarkRunning() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == StatusPending {
		v.status = StatusRunning
	}
}

// End sets the terminal status. Only the first call wins; it reports
// whether this call performed the transition.
func (v *Vibration) End(status Status) bool {
	if !status.Terminal() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status.Terminal() {
		return false
	}
	v.status = status
	v.endedAt = time.Now()
	close(v.done)
	return true
}

// Done returns a channel closed when the vibration reaches a terminal
// status.
func (v *Vibration) Done() <-chan struct{} {
	return v.done
}

// EndedAt returns when the terminal status was set, zero if still live.
func (v *Vibration) EndedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.endedAt
}

// Record is the persisted summary of a finished vibration, stored for
// inspection and pruned by the maintenance scheduler.
type Record struct {
	ID         int64     `json:"id"`
	Token      string    `json:"token"`
	UID        int       `json:"uid"`
	Package    string    `json:"package"`
	Usage      Usage     `json:"usage"`
	Status     Status    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	EndedAt    time.Time `json:"ended_at"`
}

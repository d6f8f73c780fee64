package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/domain/color"
	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// Errors
var (
	ErrInvalidState  = errors.New("invalid session state")
	ErrEmptySchedule = errors.New("schedule has no phases")
	ErrClosed        = errors.New("controller closed")
)

// MaxPollInterval bounds how late a pause or stop may be observed by a waiting phase.
const MaxPollInterval = 100 * time.Millisecond

// Submitter accepts lighting commands without blocking.
type Submitter interface {
	Submit(cmd effector.Command) (bool, error)
}

// Config holds controller configuration.
type Config struct {
	PollInterval time.Duration    // Phase wait granularity; capped at MaxPollInterval
	MaxLux       float64          // Illuminance mapped to full brightness
	OnComplete   func(Reason)     // Called exactly once per session, outside the lock
	Clock        func() time.Time // Defaults to the wall clock
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State      State
	PhaseIndex int // -1 before the first phase
	PhaseCount int
	Phase      schedule.Phase
	Remaining  time.Duration // Remaining time of the current phase
	Elapsed    time.Duration // Played time, pauses excluded
	Total      time.Duration
	Reason     Reason
}

// Controller plays a schedule phase by phase.
// State is owned by the controller and only changes through its methods.
type Controller struct {
	mu sync.Mutex

	submitter Submitter
	config    Config

	// Session state
	state      State
	sched      schedule.Schedule
	gen        uint64 // Incremented on every Start; stale loops exit
	phaseIndex int
	phase      schedule.Phase
	inPhase    bool
	phaseSent  bool          // The current phase's color has been submitted
	played     time.Duration // Sum of finished (or stopped) phase time
	deadline   time.Time     // End of the current phase while running
	remaining  time.Duration // Frozen remaining time while paused
	reason     Reason

	wake chan struct{}
	wg   sync.WaitGroup

	// Events
	eventCh chan Event
	closed  bool

	// Context
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a new session controller.
func NewController(submitter Submitter, config Config) *Controller {
	if config.PollInterval <= 0 || config.PollInterval > MaxPollInterval {
		config.PollInterval = MaxPollInterval
	}
	if config.MaxLux <= 0 {
		config.MaxLux = color.DefaultMaxIlluminance
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return toWallTime(time.Now()) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		submitter:  submitter,
		config:     config,
		state:      StateIdle,
		phaseIndex: -1,
		wake:       make(chan struct{}, 1),
		eventCh:    make(chan Event, 16),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Start begins playing sched. Only valid from Idle.
func (c *Controller) Start(sched schedule.Schedule) error {
	if sched.Len() == 0 {
		return ErrEmptySchedule
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return errors.Wrapf(ErrInvalidState, "cannot start from %s", c.state)
	}

	c.gen++
	c.sched = sched
	c.state = StateRunning
	c.phaseIndex = -1
	c.phase = schedule.Phase{}
	c.inPhase = false
	c.phaseSent = false
	c.played = 0
	c.remaining = 0
	c.reason = ReasonNone

	zlog.Info().Msgf("playback: session started: phases=%d total=%v", sched.Len(), sched.Total())
	c.sendEventLocked(Event{Type: EventStateChanged, State: c.state, PhaseIndex: -1})

	c.wg.Add(1)
	go c.playbackLoop(c.gen)
	return nil
}

// Pause freezes the remaining time of the current phase. No command is re-submitted.
// A phase that begins while paused has its color submitted on Resume.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return errors.Wrapf(ErrInvalidState, "cannot pause from %s", c.state)
	}

	c.remaining = c.remainingLocked()
	c.state = StatePaused

	zlog.Debug().Msgf("playback: paused: phase=%d remaining=%v", c.phaseIndex, c.remaining)
	c.sendEventLocked(Event{Type: EventStateChanged, State: c.state, PhaseIndex: c.phaseIndex, Phase: c.phase})
	return nil
}

// Resume continues the frozen wait of the current phase.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot resume from %s", state)
	}

	c.deadline = c.now().Add(c.remaining)
	c.state = StateRunning
	pending := c.inPhase && !c.phaseSent
	if pending {
		c.phaseSent = true
	}
	phase := c.phase

	zlog.Debug().Msgf("playback: resumed: phase=%d remaining=%v", c.phaseIndex, c.remaining)
	c.sendEventLocked(Event{Type: EventStateChanged, State: c.state, PhaseIndex: c.phaseIndex, Phase: c.phase})
	c.mu.Unlock()

	if pending {
		c.submitPhase(phase)
	}
	c.signal()
	return nil
}

// Stop aborts the current wait, skips the remaining phases and completes the session.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.state.Active() {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot stop from %s", state)
	}
	c.completeLocked(ReasonStopped)
	c.mu.Unlock()

	c.signal()
	c.notifyComplete(ReasonStopped)
	return nil
}

// Reset returns a completed controller to Idle. Valid from Idle or Completed.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		return errors.Wrapf(ErrInvalidState, "cannot reset from %s", c.state)
	}

	c.state = StateIdle
	c.sched = schedule.Schedule{}
	c.phaseIndex = -1
	c.phase = schedule.Phase{}
	c.inPhase = false
	c.played = 0
	c.remaining = 0
	c.reason = ReasonNone
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state with phase timing.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:      c.state,
		PhaseIndex: c.phaseIndex,
		PhaseCount: c.sched.Len(),
		Elapsed:    c.played,
		Total:      c.sched.Total(),
		Reason:     c.reason,
	}
	if c.inPhase {
		s.Phase = c.phase
		s.Remaining = c.remainingLocked()
		s.Elapsed += c.phase.Duration - s.Remaining
	}
	return s
}

// Close stops the playback loop and closes the event channel.
// The completion callback is not invoked.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	close(c.eventCh)
	c.mu.Unlock()
}

// playbackLoop plays every phase of the session identified by gen.
func (c *Controller) playbackLoop(gen uint64) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: playback loop panicked: %v", r)
			c.abort(gen)
		}
	}()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for index := 0; ; index++ {
		phase, submit, ok := c.beginPhase(gen, index)
		if !ok {
			return
		}
		if submit {
			c.submitPhase(phase)
		}
		if !c.waitPhase(gen, ticker) {
			return
		}
	}
}

// beginPhase makes phase index current. It completes the session when no phase is left.
// submit reports whether the phase color should be sent now; a phase begun while
// paused is sent by Resume instead.
func (c *Controller) beginPhase(gen uint64, index int) (phase schedule.Phase, submit, ok bool) {
	c.mu.Lock()
	if gen != c.gen || !c.state.Active() {
		c.mu.Unlock()
		return schedule.Phase{}, false, false
	}

	phase, ok = c.sched.Phase(index)
	if !ok {
		c.completeLocked(ReasonFinished)
		c.mu.Unlock()
		c.notifyComplete(ReasonFinished)
		return schedule.Phase{}, false, false
	}

	c.phaseIndex = index
	c.phase = phase
	c.inPhase = true
	c.remaining = phase.Duration
	submit = c.state == StateRunning
	c.phaseSent = submit
	if submit {
		c.deadline = c.now().Add(phase.Duration)
	}
	c.sendEventLocked(Event{Type: EventPhaseStarted, State: c.state, PhaseIndex: index, Phase: phase})
	c.mu.Unlock()

	zlog.Info().Msgf("playback: phase started: index=%d name=%s duration=%v cct=%dK lux=%.0f",
		index, phase.Name, phase.Duration, phase.ColorTemperatureK, phase.IlluminanceLux)
	return phase, submit, true
}

// waitPhase blocks until the current phase has run for its full duration,
// checking for pause and stop every poll interval.
func (c *Controller) waitPhase(gen uint64, ticker *time.Ticker) bool {
	for {
		c.mu.Lock()
		if gen != c.gen || !c.state.Active() {
			c.mu.Unlock()
			return false
		}
		if c.state == StateRunning && !c.now().Before(c.deadline) {
			c.played += c.phase.Duration
			c.inPhase = false
			c.remaining = 0
			c.mu.Unlock()
			return true
		}
		c.mu.Unlock()

		select {
		case <-c.ctx.Done():
			return false
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

func (c *Controller) submitPhase(phase schedule.Phase) {
	rgb := color.FromTarget(phase.ColorTemperatureK, phase.IlluminanceLux, c.config.MaxLux)
	won, err := c.submitter.Submit(effector.Solid(rgb, effector.PriorityNormal))
	if err != nil {
		zlog.Warn().Msgf("playback: failed to submit phase color: phase=%s color=%s err=%v", phase.Name, rgb, err)
		return
	}
	if !won {
		zlog.Debug().Msgf("playback: phase color lost arbitration: phase=%s color=%s", phase.Name, rgb)
	}
}

// abort completes a session whose loop died unexpectedly.
func (c *Controller) abort(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.state.Active() {
		c.mu.Unlock()
		return
	}
	c.completeLocked(ReasonStopped)
	c.mu.Unlock()
	c.notifyComplete(ReasonStopped)
}

// completeLocked transitions to Completed. The transition is the once-guard
// for the completion callback: callers notify only after a successful call.
// Must be called with lock held.
func (c *Controller) completeLocked(reason Reason) {
	if c.inPhase {
		c.played += c.phase.Duration - c.remainingLocked()
		c.inPhase = false
	}
	c.remaining = 0
	c.state = StateCompleted
	c.reason = reason

	zlog.Info().Msgf("playback: session completed: reason=%s played=%v", reason, c.played)
	c.sendEventLocked(Event{Type: EventCompleted, State: c.state, PhaseIndex: c.phaseIndex, Reason: reason})
}

func (c *Controller) notifyComplete(reason Reason) {
	if c.config.OnComplete != nil {
		c.config.OnComplete(reason)
	}
}

// remainingLocked returns the remaining time of the current phase.
// Must be called with lock held.
func (c *Controller) remainingLocked() time.Duration {
	if c.state != StateRunning {
		return c.remaining
	}
	remaining := c.deadline.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) now() time.Time {
	return c.config.Clock()
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		zlog.Debug().Msgf("playback: event channel full, dropping event: type=%s", e.Type)
	}
}

// toWallTime returns the time with monotonic clock stripped.
// This ensures that time differences are calculated using wall clock time,
// avoiding issues where the system monotonic clock runs faster/slower than real time.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}

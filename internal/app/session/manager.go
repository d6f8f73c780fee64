// Package session provides the session manager.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/app/notification"
	"github.com/osa030/focuslamp/internal/app/playback"
	"github.com/osa030/focuslamp/internal/app/reactive"
	"github.com/osa030/focuslamp/internal/app/session/state"
	"github.com/osa030/focuslamp/internal/domain/action"
	"github.com/osa030/focuslamp/internal/domain/color"
	"github.com/osa030/focuslamp/internal/domain/rating"
	"github.com/osa030/focuslamp/internal/domain/schedule"
	"github.com/osa030/focuslamp/internal/infra/config"
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("session manager closed")

// idleFlushTimeout bounds how long completion waits for the last phase
// command to reach the strip before the idle light is submitted.
const idleFlushTimeout = time.Second

// History records session starts and ends. Optional.
type History interface {
	RecordStart(ctx context.Context, id string, params schedule.Params, phases []schedule.Phase, at time.Time) error
	RecordEnd(ctx context.Context, id, reason string, at time.Time) error
}

// Dependencies are the collaborators the manager drives.
type Dependencies struct {
	Strip   effector.Effector
	Motion  action.Motion
	Source  rating.Source
	Library reactive.Library
	History History // nil disables history
}

// Ack is the result of a control operation.
type Ack struct {
	SessionID string
	Message   string
	Updated   []string
}

// run tracks one session's goroutines.
type run struct {
	id       string
	cancel   context.CancelFunc
	sampling chan struct{} // Closed when the interrupter stops sampling
	ended    chan struct{} // Closed once completion has been handled
}

// Manager manages focus sessions.
type Manager struct {
	mu sync.Mutex // Serializes control operations

	// Configuration
	config *config.Config

	// Components
	stateMgr     *state.Manager
	dispatcher   *effector.Dispatcher
	playback     *playback.Controller
	interrupter  *reactive.Interrupter
	notification *notification.Manager
	library      reactive.Library
	history      History

	runMu   sync.Mutex
	current *run

	started   bool
	closed    bool
	closeOnce sync.Once

	// Channels
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, deps Dependencies) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	idle := state.IdleLight{
		ColorTemperatureK: cfg.Idle.ColorTemperatureK,
		IlluminanceLux:    cfg.Idle.IlluminanceLux,
	}

	m := &Manager{
		config:       cfg,
		stateMgr:     state.New(cfg.SessionParams(), idle),
		dispatcher:   effector.NewDispatcher(deps.Strip, effector.Config{LEDCount: cfg.Lamp.LEDCount}),
		notification: notification.NewManager(),
		library:      deps.Library,
		history:      deps.History,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	m.playback = playback.NewController(m.dispatcher, playback.Config{
		MaxLux:     cfg.Lamp.MaxLux,
		OnComplete: m.onComplete,
	})
	m.interrupter = reactive.NewInterrupter(
		m.playback,
		deps.Source,
		deps.Library,
		reactive.NewPlayer(deps.Motion, cfg.Lamp.FPS),
		reactive.Config{Period: cfg.SamplingPeriod()},
	)

	return m
}

// Run starts the event loop, shows the idle light and performs the beginning gesture.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("session manager already running")
	}
	m.started = true
	m.mu.Unlock()

	go m.playbackLoop()

	m.dispatchIdle()
	m.perform(ctx, m.config.Actions.Beginning)
	return nil
}

// Start starts a session with params, or with the configured params when nil.
func (m *Manager) Start(ctx context.Context, params *schedule.Params) (*Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	p := m.stateMgr.GetParams()
	if params != nil {
		p = *params
	}
	sched, err := schedule.Compute(p)
	if err != nil {
		return nil, err
	}

	switch st := m.playback.State(); st {
	case playback.StateRunning, playback.StatePaused:
		return nil, errors.Wrapf(playback.ErrInvalidState, "session %s is %s", m.stateMgr.GetSessionID(), st)
	case playback.StateCompleted:
		if err := m.finishRun(ctx); err != nil {
			return nil, err
		}
		if err := m.playback.Reset(); err != nil {
			return nil, err
		}
	}

	sessionID := uuid.New().String()
	startedAt := time.Now()
	runCtx, cancel := context.WithCancel(m.ctx)
	r := &run{
		id:       sessionID,
		cancel:   cancel,
		sampling: make(chan struct{}),
		ended:    make(chan struct{}),
	}

	m.stateMgr.SetSession(sessionID, startedAt)
	m.setRun(r)

	if err := m.playback.Start(sched); err != nil {
		cancel()
		close(r.sampling)
		close(r.ended)
		return nil, err
	}

	zlog.Info().Msgf("session: started: session_id=%s phases=%d total=%v params=%+v",
		sessionID, sched.Len(), sched.Total(), p)

	if m.history != nil {
		if err := m.history.RecordStart(ctx, sessionID, p, sched.Phases(), startedAt); err != nil {
			zlog.Warn().Msgf("session: failed to record session start: session_id=%s err=%v", sessionID, err)
		}
	}

	go func() {
		defer close(r.sampling)
		m.interrupter.Run(runCtx, p.TotalDuration())
	}()

	m.notification.Broadcast(&notification.Notification{
		Type:       notification.TypeSessionStarted,
		SessionID:  sessionID,
		State:      playback.StateRunning.String(),
		PhaseIndex: -1,
		Time:       startedAt,
	})

	return &Ack{
		SessionID: sessionID,
		Message:   fmt.Sprintf("session started: %d phases, %v", sched.Len(), sched.Total()),
	}, nil
}

// Stop stops the running session.
func (m *Manager) Stop(ctx context.Context) (*Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if err := m.playback.Stop(); err != nil {
		return nil, err
	}
	if r := m.getRun(); r != nil {
		r.cancel()
	}

	sessionID := m.stateMgr.GetSessionID()
	zlog.Info().Msgf("session: stop requested: session_id=%s", sessionID)
	return &Ack{SessionID: sessionID, Message: "session stopped"}, nil
}

// Configure applies a partial update of the session params and idle light.
func (m *Manager) Configure(ctx context.Context, u state.Update) (*Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	before := m.stateMgr.GetIdleLight()
	keys, err := m.stateMgr.Apply(u)
	if err != nil {
		return nil, err
	}

	if len(keys) > 0 {
		zlog.Info().Msgf("session: configured: updated=%v", keys)
		if m.stateMgr.GetIdleLight() != before && !m.playback.State().Active() {
			m.dispatchIdle()
		}
		m.notification.Broadcast(&notification.Notification{
			Type:      notification.TypeConfigured,
			SessionID: m.stateMgr.GetSessionID(),
			Updated:   keys,
		})
	}

	return &Ack{
		SessionID: m.stateMgr.GetSessionID(),
		Message:   fmt.Sprintf("%d parameters updated", len(keys)),
		Updated:   keys,
	}, nil
}

// Perform plays a named action outside the rating loop, pausing a running session around it.
func (m *Manager) Perform(ctx context.Context, name string) error {
	if !m.library.Has(name) {
		return errors.Mark(errors.Newf("recording %s not found", name), action.ErrActionFailed)
	}
	return m.interrupter.Perform(ctx, name)
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Done returns a channel closed when the manager starts closing.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Close stops any session, performs the ending gesture, clears the strip and
// stops all workers.
func (m *Manager) Close(ctx context.Context) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		if m.playback.State().Active() {
			if err := m.playback.Stop(); err != nil {
				zlog.Warn().Msgf("session: failed to stop session on close: err=%v", err)
			}
		}
		if err := m.finishRun(ctx); err != nil {
			zlog.Warn().Msgf("session: session did not wind down: err=%v", err)
		}
		started := m.started
		m.mu.Unlock()

		m.interrupter.Wait()
		if started {
			m.perform(ctx, m.config.Actions.Ending)
		}

		if _, err := m.dispatcher.Submit(effector.Clear(effector.PriorityCritical)); err != nil {
			zlog.Warn().Msgf("session: failed to submit clear: err=%v", err)
		}
		if err := m.dispatcher.Flush(ctx); err != nil {
			zlog.Warn().Msgf("session: strip not cleared: err=%v", err)
		}

		m.cancel()
		m.playback.Close()
		if started {
			<-m.done
		}
		m.dispatcher.Close()
		m.notification.Close()
		zlog.Info().Msg("session: manager closed")
	})
}

// finishRun cancels the current run and waits until its sampling loop has
// exited and its completion has been handled. Must be called with mu held.
func (m *Manager) finishRun(ctx context.Context) error {
	r := m.getRun()
	if r == nil {
		return nil
	}
	r.cancel()
	for _, ch := range []chan struct{}{r.sampling, r.ended} {
		select {
		case <-ch:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for previous session")
		}
	}
	return nil
}

// onComplete is the controller's completion callback. It may run on the
// playback goroutine, the interrupter or a Stop caller.
func (m *Manager) onComplete(reason playback.Reason) {
	r := m.getRun()
	sessionID := m.stateMgr.GetSessionID()
	endedAt := time.Now()

	zlog.Info().Msgf("session: ended: session_id=%s reason=%s", sessionID, reason)

	flushCtx, cancel := context.WithTimeout(context.Background(), idleFlushTimeout)
	if err := m.dispatcher.Flush(flushCtx); err != nil {
		zlog.Debug().Msgf("session: last phase command still pending: err=%v", err)
	}
	cancel()
	m.dispatchIdle()

	if m.history != nil {
		if err := m.history.RecordEnd(context.Background(), sessionID, reason.String(), endedAt); err != nil {
			zlog.Warn().Msgf("session: failed to record session end: session_id=%s err=%v", sessionID, err)
		}
	}

	m.notification.Broadcast(&notification.Notification{
		Type:       notification.TypeSessionEnded,
		SessionID:  sessionID,
		State:      playback.StateCompleted.String(),
		PhaseIndex: -1,
		Reason:     reason.String(),
		Time:       endedAt,
	})

	if r != nil {
		r.cancel()
		close(r.ended)
	}
}

// dispatchIdle submits the idle light at low priority, scaled down.
func (m *Manager) dispatchIdle() {
	idle := m.stateMgr.GetIdleLight()
	rgb := color.ApplyBrightness(
		color.FromTarget(idle.ColorTemperatureK, idle.IlluminanceLux, m.config.Lamp.MaxLux),
		m.config.Idle.Scale,
	)

	won, err := m.dispatcher.Submit(effector.Solid(rgb, effector.PriorityLow))
	switch {
	case err != nil:
		zlog.Error().Msgf("session: failed to submit idle light: err=%v", err)
	case !won:
		zlog.Debug().Msgf("session: idle light lost arbitration: color=%s", rgb)
	default:
		zlog.Debug().Msgf("session: idle light submitted: cct_k=%d lux=%.0f color=%s",
			idle.ColorTemperatureK, idle.IlluminanceLux, rgb)
	}
}

// perform plays a boot or shutdown gesture when its recording exists.
func (m *Manager) perform(ctx context.Context, name string) {
	if name == "" || !m.library.Has(name) {
		zlog.Debug().Msgf("session: gesture not available: action=%s", name)
		return
	}
	if err := m.interrupter.Perform(ctx, name); err != nil {
		zlog.Warn().Msgf("session: gesture failed: action=%s err=%v", name, err)
	}
}

func (m *Manager) getRun() *run {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.current
}

func (m *Manager) setRun(r *run) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.current = r
}

// playbackLoop forwards controller events to subscribers.
func (m *Manager) playbackLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: playback loop panicked: %v", r)
			// Restart loop to keep notifications flowing
			zlog.Info().Msg("session: restarting playback loop")
			go m.playbackLoop()
			return
		}
		close(m.done)
	}()

	events := m.playback.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	zlog.Debug().Msgf("session: playback event: type=%s state=%s phase=%d", event.Type, event.State, event.PhaseIndex)

	switch event.Type {
	case playback.EventPhaseStarted:
		m.notification.Broadcast(&notification.Notification{
			Type:       notification.TypePhaseStarted,
			SessionID:  m.stateMgr.GetSessionID(),
			State:      event.State.String(),
			PhaseIndex: event.PhaseIndex,
			Phase:      event.Phase.Name,
		})

	case playback.EventStateChanged:
		m.notification.Broadcast(&notification.Notification{
			Type:       notification.TypeStateChanged,
			SessionID:  m.stateMgr.GetSessionID(),
			State:      event.State.String(),
			PhaseIndex: event.PhaseIndex,
			Phase:      event.Phase.Name,
		})

	case playback.EventCompleted:
		// Broadcast by onComplete
	}
}

package session

import (
	"time"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/app/playback"
	"github.com/osa030/focuslamp/internal/app/session/state"
	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// Status represents the current session status with all information.
type Status struct {
	SessionID string
	StartedAt *time.Time
	Playback  playback.Snapshot

	// Lighting parameters
	Params schedule.Params
	Idle   state.IdleLight

	// Reactive loop
	Rating         int
	HasRating      bool
	ActionInFlight bool

	// Effector
	Current          *effector.Command
	Applied          *effector.Command
	DispatchFailures int
	LastDispatchErr  error
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() *Status {
	s := &Status{
		SessionID:      m.stateMgr.GetSessionID(),
		StartedAt:      m.stateMgr.GetStartedAt(),
		Playback:       m.playback.Snapshot(),
		Params:         m.stateMgr.GetParams(),
		Idle:           m.stateMgr.GetIdleLight(),
		ActionInFlight: m.interrupter.InFlight(),
	}
	s.Rating, s.HasRating = m.interrupter.LastRating()

	if cmd, ok := m.dispatcher.Current(); ok {
		s.Current = &cmd
	}
	if cmd, ok := m.dispatcher.Applied(); ok {
		s.Applied = &cmd
	}
	s.DispatchFailures, s.LastDispatchErr = m.dispatcher.Failures()
	return s
}

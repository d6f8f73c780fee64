package state

import (
	"sync"
	"time"

	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// Manager manages lighting parameters with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	// Session identity
	sessionID string
	startedAt *time.Time

	// Lighting parameters
	params schedule.Params
	idle   IdleLight
}

// New creates a new state manager.
func New(params schedule.Params, idle IdleLight) *Manager {
	return &Manager{
		params: params,
		idle:   idle,
	}
}

// GetSessionID returns the ID of the current or last session.
func (m *Manager) GetSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// GetStartedAt returns when the current or last session started.
func (m *Manager) GetStartedAt() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startedAt
}

// SetSession records the session identity.
func (m *Manager) SetSession(id string, startedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
	m.startedAt = &startedAt
}

// GetParams returns the configured session parameters.
func (m *Manager) GetParams() schedule.Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// GetIdleLight returns the idle light.
func (m *Manager) GetIdleLight() IdleLight {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idle
}

// Apply merges u into the stored parameters. The merged parameters are
// validated first and nothing is stored when they are rejected.
// It returns the keys that were updated.
func (m *Manager) Apply(u Update) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	params := m.params
	idle := m.idle
	var keys []string

	setInt := func(dst *int, src *int, key string) {
		if src != nil {
			*dst = *src
			keys = append(keys, key)
		}
	}
	setInt(&params.StartHour, u.StartHour, KeyStartHour)
	setInt(&params.StartMinute, u.StartMinute, KeyStartMinute)
	setInt(&params.TotalDurationMinutes, u.TotalDurationMinutes, KeyTotalDuration)
	setInt(&params.FatigueLevel, u.FatigueLevel, KeyFatigueLevel)
	setInt(&params.FocusMode, u.FocusMode, KeyFocusMode)
	setInt(&idle.ColorTemperatureK, u.IdleCCTK, KeyIdleCCTK)
	if u.IdleLux != nil {
		idle.IlluminanceLux = *u.IdleLux
		keys = append(keys, KeyIdleLux)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := idle.Validate(); err != nil {
		return nil, err
	}

	m.params = params
	m.idle = idle
	return keys, nil
}

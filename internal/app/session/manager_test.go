package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/app/notification"
	"github.com/osa030/focuslamp/internal/app/playback"
	"github.com/osa030/focuslamp/internal/app/session/state"
	"github.com/osa030/focuslamp/internal/domain/action"
	"github.com/osa030/focuslamp/internal/domain/schedule"
	"github.com/osa030/focuslamp/internal/infra/config"
)

// Mock strip for testing
type mockStrip struct {
	mu       sync.Mutex
	commands []effector.Command
}

func (m *mockStrip) Apply(ctx context.Context, cmd effector.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	return nil
}

func (m *mockStrip) last() (effector.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.commands) == 0 {
		return effector.Command{}, false
	}
	return m.commands[len(m.commands)-1], true
}

type mockMotion struct {
	mu     sync.Mutex
	frames int
}

func (m *mockMotion) Apply(ctx context.Context, positions map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
	return nil
}

func (m *mockMotion) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

type silentSource struct{}

func (silentSource) Latest(ctx context.Context) (int, bool, error) { return 0, false, nil }

type mockLibrary map[string]action.Recording

func (m mockLibrary) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m mockLibrary) Load(name string) (action.Recording, error) {
	rec, ok := m[name]
	if !ok {
		return action.Recording{}, errors.Mark(errors.Newf("recording %s not found", name), action.ErrActionFailed)
	}
	return rec, nil
}

func gesture(name string) action.Recording {
	return action.Recording{Name: name, Frames: []action.Frame{
		{Positions: map[string]float64{"base_yaw.pos": 0}},
		{Positions: map[string]float64{"base_yaw.pos": 1}},
	}}
}

type historyEntry struct {
	id     string
	reason string
	ended  bool
}

type mockHistory struct {
	mu      sync.Mutex
	entries map[string]*historyEntry
}

func (m *mockHistory) RecordStart(ctx context.Context, id string, params schedule.Params, phases []schedule.Phase, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = &historyEntry{id: id}
	return nil
}

func (m *mockHistory) RecordEnd(ctx context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return errors.Newf("unknown session %s", id)
	}
	e.reason = reason
	e.ended = true
	return nil
}

func (m *mockHistory) get(id string) (historyEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return historyEntry{}, false
	}
	return *e, true
}

func (m *mockHistory) all() []historyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]historyEntry, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, *e)
	}
	return result
}

// recordingStream collects notification types.
type recordingStream struct {
	mu    sync.Mutex
	types []notification.Type
}

func (r *recordingStream) Send(n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, n.Type)
	return nil
}

func (r *recordingStream) received() []notification.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Type(nil), r.types...)
}

type fixture struct {
	manager *Manager
	strip   *mockStrip
	motion  *mockMotion
	history *mockHistory
}

func newFixture(t *testing.T, library mockLibrary) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte("lamp:\n  fps: 240\n"))
	require.NoError(t, err)

	f := &fixture{
		strip:   &mockStrip{},
		motion:  &mockMotion{},
		history: &mockHistory{entries: map[string]*historyEntry{}},
	}
	if library == nil {
		library = mockLibrary{}
	}
	f.manager = NewManager(cfg, Dependencies{
		Strip:   f.strip,
		Motion:  f.motion,
		Source:  silentSource{},
		Library: library,
		History: f.history,
	})
	t.Cleanup(func() { f.manager.Close(context.Background()) })
	return f
}

func TestManager_StartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Run(ctx))

	ack, err := f.manager.Start(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, ack.SessionID)

	status := f.manager.GetStatus()
	assert.Equal(t, ack.SessionID, status.SessionID)
	assert.Equal(t, playback.StateRunning, status.Playback.State)
	require.NotNil(t, status.StartedAt)

	require.Eventually(t, func() bool {
		cmd, ok := f.strip.last()
		return ok && cmd.Priority == effector.PriorityNormal
	}, time.Second, 5*time.Millisecond)

	stopAck, err := f.manager.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, ack.SessionID, stopAck.SessionID)
	assert.Equal(t, playback.StateCompleted, f.manager.GetStatus().Playback.State)
	assert.Equal(t, playback.ReasonStopped, f.manager.GetStatus().Playback.Reason)

	entry, ok := f.history.get(ack.SessionID)
	require.True(t, ok)
	assert.True(t, entry.ended)
	assert.Equal(t, "stopped", entry.reason)

	// Idle light follows the session at low priority
	require.Eventually(t, func() bool {
		cmd, ok := f.strip.last()
		return ok && cmd.Priority == effector.PriorityLow && cmd.Kind == effector.KindSolid
	}, time.Second, 5*time.Millisecond)

	_, err = f.manager.Stop(ctx)
	assert.True(t, errors.Is(err, playback.ErrInvalidState))
}

func TestManager_StartRejectsInvalidParams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.manager.Start(ctx, &schedule.Params{TotalDurationMinutes: 0, FatigueLevel: 3})
	assert.True(t, errors.Is(err, schedule.ErrInvalidParams))
	assert.Equal(t, playback.StateIdle, f.manager.GetStatus().Playback.State)
	assert.Empty(t, f.manager.GetStatus().SessionID)
}

func TestManager_StartWhileRunning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.manager.Start(ctx, nil)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, nil)
	assert.True(t, errors.Is(err, playback.ErrInvalidState))
	assert.Equal(t, first.SessionID, f.manager.GetStatus().SessionID)
}

func TestManager_RestartAfterStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.manager.Start(ctx, nil)
	require.NoError(t, err)
	_, err = f.manager.Stop(ctx)
	require.NoError(t, err)

	params := schedule.Params{StartHour: 18, TotalDurationMinutes: 30, FatigueLevel: 2, FocusMode: schedule.FocusConvergent}
	second, err := f.manager.Start(ctx, &params)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	status := f.manager.GetStatus()
	assert.Equal(t, playback.StateRunning, status.Playback.State)
	assert.Equal(t, 30*time.Minute, status.Playback.Total)

	// Explicit params are not stored
	assert.Equal(t, 60, status.Params.TotalDurationMinutes)
}

func TestManager_Configure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Run(ctx))

	fatigue, duration := 5, 45
	ack, err := f.manager.Configure(ctx, state.Update{FatigueLevel: &fatigue, TotalDurationMinutes: &duration})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{state.KeyFatigueLevel, state.KeyTotalDuration}, ack.Updated)

	params := f.manager.GetStatus().Params
	assert.Equal(t, 5, params.FatigueLevel)
	assert.Equal(t, 45, params.TotalDurationMinutes)

	bad := 9
	_, err = f.manager.Configure(ctx, state.Update{FatigueLevel: &bad, TotalDurationMinutes: &duration})
	assert.True(t, errors.Is(err, schedule.ErrInvalidParams))
	assert.Equal(t, 5, f.manager.GetStatus().Params.FatigueLevel)

	ack, err = f.manager.Configure(ctx, state.Update{})
	require.NoError(t, err)
	assert.Empty(t, ack.Updated)
}

func TestManager_ConfigureIdleRedispatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Run(ctx))

	require.Eventually(t, func() bool {
		_, ok := f.strip.last()
		return ok
	}, time.Second, 5*time.Millisecond)
	before, _ := f.strip.last()

	cct, lux := 2700, 600.0
	ack, err := f.manager.Configure(ctx, state.Update{IdleCCTK: &cct, IdleLux: &lux})
	require.NoError(t, err)
	assert.Equal(t, []string{state.KeyIdleCCTK, state.KeyIdleLux}, ack.Updated)

	require.Eventually(t, func() bool {
		cmd, ok := f.strip.last()
		return ok && cmd.Priority == effector.PriorityLow && cmd.Colors[0] != before.Colors[0]
	}, time.Second, 5*time.Millisecond)

	tooCold := 9000
	_, err = f.manager.Configure(ctx, state.Update{IdleCCTK: &tooCold})
	assert.True(t, errors.Is(err, schedule.ErrInvalidParams))
	assert.Equal(t, 2700, f.manager.GetStatus().Idle.ColorTemperatureK)
}

func TestManager_Notifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Run(ctx))

	stream := &recordingStream{}
	f.manager.GetNotificationManager().Subscribe(stream)

	_, err := f.manager.Start(ctx, nil)
	require.NoError(t, err)
	_, err = f.manager.Stop(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		types := stream.received()
		return contains(types, notification.TypeSessionStarted) &&
			contains(types, notification.TypePhaseStarted) &&
			contains(types, notification.TypeSessionEnded)
	}, time.Second, 5*time.Millisecond)
}

func contains(types []notification.Type, want notification.Type) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func TestManager_Gestures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mockLibrary{
		"0_beginning": gesture("0_beginning"),
		"0_ending":    gesture("0_ending"),
	})

	require.NoError(t, f.manager.Run(ctx))
	assert.Equal(t, 2, f.motion.count())

	_, err := f.manager.Start(ctx, nil)
	require.NoError(t, err)

	f.manager.Close(ctx)
	assert.Equal(t, 4, f.motion.count())

	cmd, ok := f.strip.last()
	require.True(t, ok)
	assert.Equal(t, effector.KindClear, cmd.Kind)
	assert.Equal(t, effector.PriorityCritical, cmd.Priority)

	entries := f.history.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ended)
	assert.Equal(t, "stopped", entries[0].reason)
}

func TestManager_Perform(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mockLibrary{"30_nod1": gesture("30_nod1")})

	_, err := f.manager.Start(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, f.manager.Perform(ctx, "30_nod1"))
	assert.Equal(t, 2, f.motion.count())
	assert.Equal(t, playback.StateRunning, f.manager.GetStatus().Playback.State)

	err = f.manager.Perform(ctx, "missing")
	assert.True(t, errors.Is(err, action.ErrActionFailed))
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.manager.Close(ctx)

	_, err := f.manager.Start(ctx, nil)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = f.manager.Stop(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = f.manager.Configure(ctx, state.Update{})
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(f.manager.Run(ctx), ErrClosed))
}

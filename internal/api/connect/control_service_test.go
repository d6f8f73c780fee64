package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/app/notification"
	"github.com/osa030/focuslamp/internal/app/playback"
	"github.com/osa030/focuslamp/internal/app/reactive"
	"github.com/osa030/focuslamp/internal/app/session"
	"github.com/osa030/focuslamp/internal/app/session/state"
	"github.com/osa030/focuslamp/internal/domain/color"
	"github.com/osa030/focuslamp/internal/domain/schedule"
	"github.com/osa030/focuslamp/internal/infra/config"
)

// Mock controller for testing
type fakeController struct {
	mu sync.Mutex

	status session.Status
	err    error

	started    bool
	startWith  *schedule.Params
	stopped    bool
	lastUpdate state.Update
	performed  []string

	notif *notification.Manager
	done  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		status: session.Status{
			SessionID: "s-1",
			Params:    schedule.Params{StartHour: 9, TotalDurationMinutes: 60, FatigueLevel: 3},
			Idle:      state.IdleLight{ColorTemperatureK: 4500, IlluminanceLux: 300},
		},
		notif: notification.NewManager(),
		done:  make(chan struct{}),
	}
}

func (f *fakeController) Start(ctx context.Context, params *schedule.Params) (*session.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.started = true
	f.startWith = params
	return &session.Ack{SessionID: "s-2", Message: "session started"}, nil
}

func (f *fakeController) Stop(ctx context.Context) (*session.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.stopped = true
	return &session.Ack{SessionID: "s-1", Message: "session stopped"}, nil
}

func (f *fakeController) Configure(ctx context.Context, u state.Update) (*session.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastUpdate = u
	var keys []string
	if u.FatigueLevel != nil {
		keys = append(keys, state.KeyFatigueLevel)
	}
	if u.IdleLux != nil {
		keys = append(keys, state.KeyIdleLux)
	}
	return &session.Ack{SessionID: "s-1", Updated: keys}, nil
}

func (f *fakeController) Perform(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.performed = append(f.performed, name)
	return nil
}

func (f *fakeController) GetStatus() *session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	return &st
}

func (f *fakeController) GetNotificationManager() *notification.Manager { return f.notif }

func (f *fakeController) Done() <-chan struct{} { return f.done }

func (f *fakeController) startParams() *schedule.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startWith
}

func (f *fakeController) update() state.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate
}

func (f *fakeController) performedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.performed...)
}

func (f *fakeController) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeController) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestServer(t *testing.T, ctrl Controller, token string) *ControlClient {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.ControlToken = token

	mux := http.NewServeMux()
	path, handler := NewControlServiceHandler(
		NewControlService(ctrl),
		connect.WithInterceptors(NewControlAuthInterceptor(cfg)),
	)
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewControlClient(srv.Client(), srv.URL, token)
}

func TestControlService_Start(t *testing.T) {
	ctx := context.Background()
	ctrl := newFakeController()
	client := newTestServer(t, ctrl, "")

	resp, err := client.Start(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "s-2", resp["session_id"])
	assert.Nil(t, ctrl.startParams())

	_, err = client.Start(ctx, map[string]any{"fatigue_level": 5, "focus_mode": -1})
	require.NoError(t, err)
	params := ctrl.startParams()
	require.NotNil(t, params)
	assert.Equal(t, schedule.Params{
		StartHour:            9,
		TotalDurationMinutes: 60,
		FatigueLevel:         5,
		FocusMode:            -1,
	}, *params)
}

func TestControlService_StartRejectsBadFields(t *testing.T) {
	ctx := context.Background()
	client := newTestServer(t, newFakeController(), "")

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{name: "unknown key", fields: map[string]any{"volume": 3}},
		{name: "fractional value", fields: map[string]any{"fatigue_level": 2.5}},
		{name: "wrong type", fields: map[string]any{"start_hour": "nine"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Start(ctx, tt.fields)
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		})
	}
}

func TestControlService_ErrorCodes(t *testing.T) {
	ctx := context.Background()
	ctrl := newFakeController()
	client := newTestServer(t, ctrl, "")

	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{name: "invalid params", err: errors.Wrap(schedule.ErrInvalidParams, "fatigue"), want: connect.CodeInvalidArgument},
		{name: "invalid command", err: effector.ErrInvalidCommand, want: connect.CodeInvalidArgument},
		{name: "invalid state", err: errors.Wrap(playback.ErrInvalidState, "running"), want: connect.CodeFailedPrecondition},
		{name: "busy", err: reactive.ErrBusy, want: connect.CodeFailedPrecondition},
		{name: "closed", err: session.ErrClosed, want: connect.CodeUnavailable},
		{name: "other", err: errors.New("boom"), want: connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl.setErr(tt.err)
			_, err := client.Stop(ctx)
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestControlService_Configure(t *testing.T) {
	ctx := context.Background()
	ctrl := newFakeController()
	client := newTestServer(t, ctrl, "")

	resp, err := client.Configure(ctx, map[string]any{"fatigue_level": 4, "idle_lux": 120.5})
	require.NoError(t, err)
	assert.Equal(t, []any{state.KeyFatigueLevel, state.KeyIdleLux}, resp["updated"])

	u := ctrl.update()
	require.NotNil(t, u.FatigueLevel)
	assert.Equal(t, 4, *u.FatigueLevel)
	require.NotNil(t, u.IdleLux)
	assert.Equal(t, 120.5, *u.IdleLux)
	assert.Nil(t, u.StartHour)

	_, err = client.Configure(ctx, map[string]any{"brightness": 1})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestControlService_Status(t *testing.T) {
	ctx := context.Background()
	ctrl := newFakeController()
	started := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	cmd := effector.Solid(color.RGB{R: 255, G: 180, B: 107}, effector.PriorityNormal)
	ctrl.status.StartedAt = &started
	ctrl.status.Playback = playback.Snapshot{
		State:      playback.StatePaused,
		PhaseIndex: 1,
		PhaseCount: 3,
		Phase:      schedule.Phase{Name: schedule.PhaseModerate},
		Remaining:  90 * time.Second,
		Elapsed:    30 * time.Minute,
		Total:      time.Hour,
	}
	ctrl.status.Rating = 31
	ctrl.status.HasRating = true
	ctrl.status.ActionInFlight = true
	ctrl.status.Current = &cmd
	client := newTestServer(t, ctrl, "")

	resp, err := client.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, "s-1", resp["session_id"])
	assert.Equal(t, "paused", resp["state"])
	assert.Equal(t, float64(1), resp["phase_index"])
	assert.Equal(t, float64(3), resp["phase_count"])
	assert.Equal(t, schedule.PhaseModerate, resp["phase"])
	assert.Equal(t, float64(90), resp["phase_remaining_sec"])
	assert.Equal(t, float64(3600), resp["total_sec"])
	assert.Equal(t, float64(31), resp["rating"])
	assert.Equal(t, true, resp["action_in_flight"])
	assert.Equal(t, "2026-10-18T09:00:00Z", resp["started_at"])
	assert.Nil(t, resp["applied_command"])

	current, ok := resp["current_command"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "solid", current["kind"])
	assert.Equal(t, "normal", current["priority"])
	assert.Equal(t, []any{[]any{float64(255), float64(180), float64(107)}}, current["colors"])

	params, ok := resp["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(60), params["total_duration_min"])
}

func TestControlService_Perform(t *testing.T) {
	ctx := context.Background()
	ctrl := newFakeController()
	client := newTestServer(t, ctrl, "")

	_, err := client.Perform(ctx, "30_nod1")
	require.NoError(t, err)
	assert.Equal(t, []string{"30_nod1"}, ctrl.performedNames())

	_, err = client.Perform(ctx, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	ctrl.setErr(reactive.ErrBusy)
	_, err = client.Perform(ctx, "30_nod1")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestControlService_Subscribe(t *testing.T) {
	ctrl := newFakeController()
	client := newTestServer(t, ctrl, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for ctrl.notif.SubscriberCount() == 0 {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		ctrl.notif.Broadcast(&notification.Notification{
			Type:       notification.TypePhaseStarted,
			SessionID:  "s-1",
			State:      "running",
			PhaseIndex: 0,
			Phase:      schedule.PhaseWake,
		})
	}()

	errDone := errors.New("done")
	var received []map[string]any
	err := client.Subscribe(ctx, func(msg map[string]any) error {
		received = append(received, msg)
		if len(received) == 2 {
			return errDone
		}
		return nil
	})
	require.ErrorIs(t, err, errDone)

	assert.Equal(t, "initial_state", received[0]["type"])
	assert.Equal(t, "s-1", received[0]["session_id"])
	assert.Equal(t, "phase_started", received[1]["type"])
	assert.Equal(t, schedule.PhaseWake, received[1]["phase"])
	assert.Equal(t, float64(1), received[1]["sequence_no"])
}

func TestControlService_SubscribeConcurrentBroadcasts(t *testing.T) {
	ctrl := newFakeController()
	client := newTestServer(t, ctrl, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const broadcasts = 8
	go func() {
		for ctrl.notif.SubscriberCount() == 0 {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		var wg sync.WaitGroup
		for i := 0; i < broadcasts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ctrl.notif.Broadcast(&notification.Notification{
					Type:       notification.TypeStateChanged,
					SessionID:  "s-1",
					PhaseIndex: i,
				})
			}(i)
		}
		wg.Wait()
	}()

	errDone := errors.New("done")
	var received []map[string]any
	err := client.Subscribe(ctx, func(msg map[string]any) error {
		received = append(received, msg)
		if len(received) == broadcasts+1 {
			return errDone
		}
		return nil
	})
	require.ErrorIs(t, err, errDone)

	assert.Equal(t, "initial_state", received[0]["type"])
	seen := make(map[float64]bool)
	for _, msg := range received[1:] {
		assert.Equal(t, "state_changed", msg["type"])
		seen[msg["sequence_no"].(float64)] = true
	}
	assert.Len(t, seen, broadcasts)
}

func TestNotificationStreamAdapter_RefusesAfterClose(t *testing.T) {
	adapter := &notificationStreamAdapter{}
	adapter.close()

	err := adapter.Send(&notification.Notification{Type: notification.TypeConfigured})
	assert.ErrorIs(t, err, errStreamClosed)
}

func TestControlAuthInterceptor(t *testing.T) {
	ctx := context.Background()
	ctrl := newFakeController()
	authed := newTestServer(t, ctrl, "secret")

	_, err := authed.Status(ctx)
	require.NoError(t, err)

	// Same server, wrong or missing token
	wrong := *authed
	wrong.token = "guess"
	_, err = wrong.Status(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	missing := *authed
	missing.token = ""
	_, err = missing.Stop(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	assert.False(t, ctrl.wasStopped())

	err = missing.Subscribe(ctx, func(map[string]any) error { return nil })
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

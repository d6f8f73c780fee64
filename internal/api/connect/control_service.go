package connect

import (
	"context"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/focuslamp/internal/app/notification"
	"github.com/osa030/focuslamp/internal/app/session"
	"github.com/osa030/focuslamp/internal/app/session/state"
	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// Controller is the control surface served over RPC.
type Controller interface {
	Start(ctx context.Context, params *schedule.Params) (*session.Ack, error)
	Stop(ctx context.Context) (*session.Ack, error)
	Configure(ctx context.Context, u state.Update) (*session.Ack, error)
	Perform(ctx context.Context, name string) error
	GetStatus() *session.Status
	GetNotificationManager() *notification.Manager
	Done() <-chan struct{}
}

// ControlService implements the ControlService RPC.
type ControlService struct {
	session Controller
}

// NewControlService creates a new ControlService.
func NewControlService(session Controller) *ControlService {
	return &ControlService{session: session}
}

// Start starts a session. Request fields override the configured params for
// this session only; an empty request uses them as is.
func (s *ControlService) Start(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var params *schedule.Params
	if fields := req.Msg.AsMap(); len(fields) > 0 {
		p := s.session.GetStatus().Params
		if err := decode(fields, &p); err != nil {
			return nil, err
		}
		params = &p
	}

	ack, err := s.session.Start(ctx, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	return ackResponse(ack)
}

// Stop stops the session.
func (s *ControlService) Stop(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	ack, err := s.session.Stop(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return ackResponse(ack)
}

// Configure updates the stored session params and idle light.
func (s *ControlService) Configure(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var u state.Update
	if err := decode(req.Msg.AsMap(), &u); err != nil {
		return nil, err
	}

	ack, err := s.session.Configure(ctx, u)
	if err != nil {
		return nil, toConnectError(err)
	}
	return ackResponse(ack)
}

// Status returns the current session status.
func (s *ControlService) Status(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(statusFields(s.session.GetStatus()))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Perform plays a named action, pausing a running session around it.
func (s *ControlService) Perform(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var r struct {
		Name string `mapstructure:"name"`
	}
	if err := decode(req.Msg.AsMap(), &r); err != nil {
		return nil, err
	}
	if r.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingName)
	}

	if err := s.session.Perform(ctx, r.Name); err != nil {
		return nil, toConnectError(err)
	}
	return ackResponse(&session.Ack{
		SessionID: s.session.GetStatus().SessionID,
		Message:   "action performed: " + r.Name,
	})
}

// Subscribe streams the current status followed by every notification.
func (s *ControlService) Subscribe(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	notifManager := s.session.GetNotificationManager()
	adapter := &notificationStreamAdapter{stream: stream}
	defer adapter.close()

	// Subscribe before reading the status so nothing broadcast in between is
	// lost; holding the adapter lock keeps initial_state first on the stream.
	adapter.mu.Lock()
	subscriptionID := notifManager.Subscribe(adapter)
	defer notifManager.Unsubscribe(subscriptionID)

	initial := statusFields(s.session.GetStatus())
	initial["type"] = "initial_state"
	err := adapter.sendLocked(initial)
	adapter.mu.Unlock()
	if err != nil {
		return err
	}
	zlog.Debug().Msgf("connect: subscribed: subscription=%s", subscriptionID)

	// Wait for context cancellation or manager shutdown
	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

// errStreamClosed is returned by sends after Subscribe has returned.
var errStreamClosed = errors.New("subscription stream closed")

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Broadcasts arrive from several goroutines; sends are serialized and refused
// once the handler has returned.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
	closed bool
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	fields, err := notificationFields(n)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendLocked(fields)
}

// sendLocked writes one message. Must be called with lock held.
func (a *notificationStreamAdapter) sendLocked(fields map[string]any) error {
	if a.closed {
		return errStreamClosed
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	return a.stream.Send(msg)
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

func ackResponse(ack *session.Ack) (*connect.Response[structpb.Struct], error) {
	updated := make([]any, len(ack.Updated))
	for i, key := range ack.Updated {
		updated[i] = key
	}
	msg, err := structpb.NewStruct(map[string]any{
		"success":    true,
		"message":    ack.Message,
		"session_id": ack.SessionID,
		"updated":    updated,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Package ws serves the JSON websocket protocol spoken by existing lamp
// front ends. Each message may carry config fields and a start_focus flag;
// every message gets one ack, and the connection also receives session
// notifications.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/osa030/focuslamp/internal/app/notification"
	"github.com/osa030/focuslamp/internal/app/session"
	"github.com/osa030/focuslamp/internal/app/session/state"
	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// Controller is the control surface driven by the bridge.
type Controller interface {
	Start(ctx context.Context, params *schedule.Params) (*session.Ack, error)
	Stop(ctx context.Context) (*session.Ack, error)
	Configure(ctx context.Context, u state.Update) (*session.Ack, error)
	GetStatus() *session.Status
	GetNotificationManager() *notification.Manager
}

// Ack is the reply to every message.
type Ack struct {
	Ack        bool     `json:"ack"`
	StartFocus *bool    `json:"start_focus,omitempty"`
	Updated    []string `json:"updated,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewHandler returns the websocket endpoint.
func NewHandler(ctrl Controller) http.Handler {
	b := &bridge{ctrl: ctrl}
	wsHandler := websocket.Handler(b.serve)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}

type bridge struct {
	ctrl Controller
}

// peer serializes writes from the reader loop and notification broadcasts.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, v)
}

// Send implements notification.Stream.
func (p *peer) Send(n *notification.Notification) error {
	return p.send(n)
}

func (b *bridge) serve(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	p := &peer{conn: conn}
	notifications := b.ctrl.GetNotificationManager()
	subID := notifications.Subscribe(p)
	defer notifications.Unsubscribe(subID)

	remote := conn.Request().RemoteAddr
	zlog.Info().Msgf("ws: client connected: remote=%s", remote)
	defer zlog.Info().Msgf("ws: client disconnected: remote=%s", remote)

	ctx := conn.Request().Context()
	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if !errors.Is(err, io.EOF) {
				zlog.Debug().Msgf("ws: receive failed: remote=%s err=%v", remote, err)
			}
			return
		}

		ack := b.handle(ctx, raw)
		if err := p.send(ack); err != nil {
			zlog.Warn().Msgf("ws: failed to send ack: remote=%s err=%v", remote, err)
			return
		}
	}
}

// handle applies one message and builds its ack.
func (b *bridge) handle(ctx context.Context, raw string) *Ack {
	msg, err := parseMessage(raw, b.ctrl.GetStatus().Params.TotalDurationMinutes)
	if err != nil {
		zlog.Warn().Msgf("ws: invalid message: raw=%q err=%v", raw, err)
		return &Ack{Error: err.Error()}
	}

	ack := &Ack{Ack: true}
	if !msg.update.Empty() {
		res, err := b.ctrl.Configure(ctx, msg.update)
		if err != nil {
			return &Ack{Error: err.Error()}
		}
		ack.Updated = res.Updated
	}

	if msg.startFocus != nil {
		if err := b.setFocus(ctx, *msg.startFocus); err != nil {
			return &Ack{Error: err.Error()}
		}
		ack.StartFocus = msg.startFocus
	}
	return ack
}

// setFocus starts or stops a session. Asking for the current state is a no-op.
func (b *bridge) setFocus(ctx context.Context, on bool) error {
	active := b.ctrl.GetStatus().Playback.State.Active()
	switch {
	case on && !active:
		ack, err := b.ctrl.Start(ctx, nil)
		if err != nil {
			return err
		}
		zlog.Info().Msgf("ws: session started: session_id=%s", ack.SessionID)
	case !on && active:
		ack, err := b.ctrl.Stop(ctx)
		if err != nil {
			return err
		}
		zlog.Info().Msgf("ws: session stopped: session_id=%s", ack.SessionID)
	}
	return nil
}

type message struct {
	startFocus *bool
	update     state.Update
}

var errUnparsable = errors.New("invalid message")

// parseMessage reads a JSON object or a plain-text true/false.
// currentTotal is used to fill the half of focus_hour/focus_min that is absent.
func parseMessage(raw string, currentTotal int) (message, error) {
	var msg message

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err == nil && fields != nil {
		if v, ok := fields["start_focus"]; ok && v != nil {
			on := truthy(v)
			msg.startFocus = &on
		}
		msg.update = legacyUpdate(fields, currentTotal)
	}

	if msg.startFocus == nil {
		text := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case strings.Contains(text, "true"):
			on := true
			msg.startFocus = &on
		case strings.Contains(text, "false"):
			on := false
			msg.startFocus = &on
		}
	}

	if msg.startFocus == nil && msg.update.Empty() {
		return message{}, errors.Wrapf(errUnparsable, "%.64s", raw)
	}
	return msg, nil
}

// legacyUpdate maps and clamps the legacy field names. Values that are not
// numbers are ignored.
func legacyUpdate(fields map[string]any, currentTotal int) state.Update {
	var u state.Update

	if v, ok := intField(fields, "start_hour"); ok {
		v = clamp(v, 0, 23)
		u.StartHour = &v
	}
	if v, ok := intField(fields, "start_min"); ok {
		v = clamp(v, 0, 59)
		u.StartMinute = &v
	}

	h, hasHours := intField(fields, "focus_hour")
	m, hasMinutes := intField(fields, "focus_min")
	if hasHours || hasMinutes {
		if !hasHours {
			h = currentTotal / 60
		}
		if !hasMinutes {
			m = currentTotal % 60
		}
		total := max(h, 0)*60 + clamp(m, 0, 59)
		u.TotalDurationMinutes = &total
	}

	if v, ok := intField(fields, "exhaustion_level"); ok {
		v = clamp(v, 1, 5)
		u.FatigueLevel = &v
	}
	if v, ok := intField(fields, "focus_pattern"); ok {
		switch v {
		case 0:
			mode := -1
			u.FocusMode = &mode
		case 1:
			mode := 1
			u.FocusMode = &mode
		}
	}
	if v, ok := intField(fields, "cct_k"); ok {
		v = clamp(v, 1000, 6500)
		u.IdleCCTK = &v
	}
	if v, ok := intField(fields, "lux"); ok {
		lux := float64(clamp(v, 0, 1000))
		u.IdleLux = &lux
	}
	return u
}

// intField converts a JSON number, numeric string or bool to int, truncating.
func intField(fields map[string]any, key string) (int, bool) {
	switch v := fields[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

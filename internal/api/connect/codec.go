package connect

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/app/notification"
	"github.com/osa030/focuslamp/internal/app/session"
)

var errMissingName = errors.New("name is required")

// decode decodes Struct fields into out. Unknown keys and fractional values
// for integer fields are rejected.
func decode(fields map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.DecodeHookFuncType(rejectFractions),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := decoder.Decode(fields); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, errors.Wrap(err, "invalid request"))
	}
	return nil
}

func rejectFractions(from, to reflect.Type, data any) (any, error) {
	f, ok := data.(float64)
	if !ok || to.Kind() != reflect.Int {
		return data, nil
	}
	if f != math.Trunc(f) {
		return nil, errors.Newf("%v is not an integer", f)
	}
	return data, nil
}

// statusFields flattens a status into Struct-compatible values.
func statusFields(st *session.Status) map[string]any {
	snap := st.Playback
	fields := map[string]any{
		"session_id":          st.SessionID,
		"state":               snap.State.String(),
		"phase_index":         snap.PhaseIndex,
		"phase_count":         snap.PhaseCount,
		"phase":               snap.Phase.Name,
		"phase_remaining_sec": snap.Remaining.Seconds(),
		"elapsed_sec":         snap.Elapsed.Seconds(),
		"total_sec":           snap.Total.Seconds(),
		"reason":              snap.Reason.String(),
		"params": map[string]any{
			"start_hour":         st.Params.StartHour,
			"start_minute":       st.Params.StartMinute,
			"total_duration_min": st.Params.TotalDurationMinutes,
			"fatigue_level":      st.Params.FatigueLevel,
			"focus_mode":         st.Params.FocusMode,
		},
		"idle": map[string]any{
			"cct_k": st.Idle.ColorTemperatureK,
			"lux":   st.Idle.IlluminanceLux,
		},
		"rating":            nil,
		"action_in_flight":  st.ActionInFlight,
		"current_command":   commandFields(st.Current),
		"applied_command":   commandFields(st.Applied),
		"dispatch_failures": st.DispatchFailures,
	}
	if st.HasRating {
		fields["rating"] = st.Rating
	}
	if st.StartedAt != nil {
		fields["started_at"] = st.StartedAt.Format(time.RFC3339)
	}
	if st.LastDispatchErr != nil {
		fields["last_dispatch_error"] = st.LastDispatchErr.Error()
	}
	return fields
}

func commandFields(cmd *effector.Command) any {
	if cmd == nil {
		return nil
	}
	colors := make([]any, len(cmd.Colors))
	for i, c := range cmd.Colors {
		ints := c.Ints()
		colors[i] = []any{ints[0], ints[1], ints[2]}
	}
	return map[string]any{
		"kind":     cmd.Kind.String(),
		"priority": cmd.Priority.String(),
		"seq":      int64(cmd.Seq),
		"colors":   colors,
	}
}

// notificationFields converts a notification through its JSON form.
func notificationFields(n *notification.Notification) (map[string]any, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode notification")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to decode notification")
	}
	return fields, nil
}

package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/app/playback"
	"github.com/osa030/focuslamp/internal/app/reactive"
	"github.com/osa030/focuslamp/internal/app/session"
	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// toConnectError maps domain errors to connect codes.
func toConnectError(err error) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, schedule.ErrInvalidParams), errors.Is(err, effector.ErrInvalidCommand):
		code = connect.CodeInvalidArgument
	case errors.Is(err, playback.ErrInvalidState), errors.Is(err, reactive.ErrBusy):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, session.ErrClosed):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}

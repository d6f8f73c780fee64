// Package reactive samples the concentration rating during a session and
// interrupts playback with corrective gestures.
package reactive

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/focuslamp/internal/domain/action"
)

// DefaultFPS is the frame rate recordings are played at.
const DefaultFPS = 30

// Player replays recordings on the motion collaborator at a fixed frame rate.
type Player struct {
	motion action.Motion
	period time.Duration
}

// NewPlayer creates a player. fps <= 0 selects DefaultFPS.
func NewPlayer(motion action.Motion, fps int) *Player {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Player{
		motion: motion,
		period: time.Second / time.Duration(fps),
	}
}

// Play applies every frame in order, waiting max(0, period-elapsed) after each.
// Overrun frames are followed immediately by the next one; nothing is skipped.
func (p *Player) Play(ctx context.Context, rec action.Recording) error {
	started := time.Now()

	for i, frame := range rec.Frames {
		t0 := time.Now()

		if err := p.motion.Apply(ctx, frame.Positions); err != nil {
			return errors.Mark(errors.Wrapf(err, "action %s: frame %d/%d", rec.Name, i+1, rec.Len()), action.ErrActionFailed)
		}

		wait := p.period - time.Since(t0)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Mark(errors.Wrapf(ctx.Err(), "action %s interrupted at frame %d", rec.Name, i+1), action.ErrActionFailed)
		case <-timer.C:
		}
	}

	zlog.Debug().Msgf("reactive: action played: name=%s frames=%d elapsed=%v", rec.Name, rec.Len(), time.Since(started))
	return nil
}

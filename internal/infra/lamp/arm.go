package lamp

import (
	"context"
	"maps"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/focuslamp/internal/domain/action"
)

// Arm is a simulated robotic arm.
type Arm struct {
	mu        sync.Mutex
	positions map[string]float64
	frames    int
}

// NewArm creates an arm with no known joint positions.
func NewArm() *Arm {
	return &Arm{positions: make(map[string]float64)}
}

// Apply implements action.Motion.
func (a *Arm) Apply(ctx context.Context, positions map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return errors.Mark(err, action.ErrActionFailed)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	maps.Copy(a.positions, positions)
	a.frames++
	zlog.Debug().Msgf("lamp: arm frame: joints=%d frames=%d", len(positions), a.frames)
	return nil
}

// Home moves every known joint to 0.
func (a *Arm) Home(ctx context.Context) error {
	a.mu.Lock()
	home := make(map[string]float64, len(a.positions))
	for joint := range a.positions {
		home[joint] = 0
	}
	a.mu.Unlock()

	if err := a.Apply(ctx, home); err != nil {
		return err
	}
	zlog.Info().Msgf("lamp: arm homed: joints=%d", len(home))
	return nil
}

// Positions returns a copy of the last commanded joint positions.
func (a *Arm) Positions() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.positions)
}

// Frames returns how many frames have been applied.
func (a *Arm) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

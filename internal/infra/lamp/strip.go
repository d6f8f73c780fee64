// Package lamp provides simulated drivers for the lamp's LED strip and arm.
// They log what real hardware would receive and keep the last state for inspection.
package lamp

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/focuslamp/internal/app/effector"
	"github.com/osa030/focuslamp/internal/domain/color"
)

// Strip is a simulated LED strip.
type Strip struct {
	mu       sync.Mutex
	ledCount int
	pixels   []color.RGB
	applied  int
}

// NewStrip creates a strip with ledCount pixels, all off.
func NewStrip(ledCount int) *Strip {
	return &Strip{
		ledCount: ledCount,
		pixels:   make([]color.RGB, ledCount),
	}
}

// Apply implements effector.Effector.
func (s *Strip) Apply(ctx context.Context, cmd effector.Command) error {
	if err := ctx.Err(); err != nil {
		return errors.Mark(err, effector.ErrEffectorUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Kind {
	case effector.KindSolid:
		for i := range s.pixels {
			s.pixels[i] = cmd.Colors[0]
		}
		zlog.Info().Msgf("lamp: strip solid: color=%s priority=%s", cmd.Colors[0], cmd.Priority)
	case effector.KindPaint:
		for i := range s.pixels {
			if i < len(cmd.Colors) {
				s.pixels[i] = cmd.Colors[i]
			} else {
				s.pixels[i] = color.RGB{}
			}
		}
		zlog.Info().Msgf("lamp: strip paint: pixels=%d priority=%s", len(cmd.Colors), cmd.Priority)
	case effector.KindClear:
		for i := range s.pixels {
			s.pixels[i] = color.RGB{}
		}
		zlog.Info().Msgf("lamp: strip cleared: priority=%s", cmd.Priority)
	default:
		return errors.Mark(errors.Newf("unsupported command kind %s", cmd.Kind), effector.ErrEffectorUnavailable)
	}
	s.applied++
	return nil
}

// Pixels returns a copy of the current pixel colors.
func (s *Strip) Pixels() []color.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]color.RGB, len(s.pixels))
	copy(result, s.pixels)
	return result
}

// Applied returns how many commands have been applied.
func (s *Strip) Applied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Package effector arbitrates lighting commands by priority and applies the
// winner to the LED strip.
package effector

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/focuslamp/internal/domain/color"
)

// Errors
var (
	ErrInvalidCommand      = errors.New("invalid effector command")
	ErrEffectorUnavailable = errors.New("effector unavailable")
)

// Effector applies a command to the physical lamp.
type Effector interface {
	Apply(ctx context.Context, cmd Command) error
}

// Kind represents the command kind.
type Kind int

const (
	KindSolid Kind = iota // Fill the strip with one color
	KindPaint             // Set individual pixel colors
	KindClear             // Turn all LEDs off
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSolid:
		return "solid"
	case KindPaint:
		return "paint"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Priority orders commands; a lower value outranks a higher one.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Outranks reports whether p is strictly higher priority than other.
func (p Priority) Outranks(other Priority) bool {
	return p < other
}

// Command is an instruction to the lamp.
type Command struct {
	Kind     Kind
	Colors   []color.RGB
	Priority Priority
	Seq      uint64 // Assigned by the dispatcher
}

// Solid returns a single-color command.
func Solid(c color.RGB, p Priority) Command {
	return Command{Kind: KindSolid, Colors: []color.RGB{c}, Priority: p}
}

// Paint returns a per-pixel command.
func Paint(colors []color.RGB, p Priority) Command {
	return Command{Kind: KindPaint, Colors: colors, Priority: p}
}

// Clear returns a command turning the strip off.
func Clear(p Priority) Command {
	return Command{Kind: KindClear, Priority: p}
}

// Validate checks the command payload against a strip of ledCount pixels.
func (c Command) Validate(ledCount int) error {
	if c.Priority < PriorityCritical || c.Priority > PriorityLow {
		return errors.Wrapf(ErrInvalidCommand, "unknown priority %d", int(c.Priority))
	}
	switch c.Kind {
	case KindSolid:
		if len(c.Colors) != 1 {
			return errors.Wrapf(ErrInvalidCommand, "solid expects 1 color, got %d", len(c.Colors))
		}
	case KindPaint:
		if len(c.Colors) == 0 {
			return errors.Wrap(ErrInvalidCommand, "paint expects at least 1 color")
		}
		if ledCount > 0 && len(c.Colors) > ledCount {
			return errors.Wrapf(ErrInvalidCommand, "paint has %d colors for %d pixels", len(c.Colors), ledCount)
		}
	case KindClear:
		if len(c.Colors) != 0 {
			return errors.Wrapf(ErrInvalidCommand, "clear expects no colors, got %d", len(c.Colors))
		}
	default:
		return errors.Wrapf(ErrInvalidCommand, "unknown kind %d", int(c.Kind))
	}
	return nil
}

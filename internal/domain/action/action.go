// Package action provides the recorded-gesture domain types.
package action

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrActionFailed marks any failure while loading or playing an action.
var ErrActionFailed = errors.New("action failed")

// Motion applies joint positions to the robotic arm. Apply blocks until the
// positions have been sent.
type Motion interface {
	Apply(ctx context.Context, positions map[string]float64) error
}

// Frame is one sample of a recording: joint name to target position.
type Frame struct {
	Positions map[string]float64
}

// Joints returns the joint names of the frame in sorted order.
func (f Frame) Joints() []string {
	names := make([]string, 0, len(f.Positions))
	for name := range f.Positions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recording is a named, ordered sequence of frames.
type Recording struct {
	Name   string
	Frames []Frame
}

// Len returns the number of frames.
func (r Recording) Len() int {
	return len(r.Frames)
}

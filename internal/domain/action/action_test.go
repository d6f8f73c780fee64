package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecording_Len(t *testing.T) {
	r := Recording{Name: "nod", Frames: []Frame{{}, {}, {}}}
	assert.Equal(t, 3, r.Len())
}

func TestFrame_Joints(t *testing.T) {
	f := Frame{Positions: map[string]float64{"wrist_roll.pos": 1, "base_yaw.pos": 2, "elbow_pitch.pos": 3}}
	assert.Equal(t, []string{"base_yaw.pos", "elbow_pitch.pos", "wrist_roll.pos"}, f.Joints())
}

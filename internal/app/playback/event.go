package playback

import "github.com/osa030/focuslamp/internal/domain/schedule"

// EventType represents a playback event type.
type EventType int

const (
	EventPhaseStarted EventType = iota // A phase began playing
	EventStateChanged                  // Running/paused transition
	EventCompleted                     // Session completed (see Reason)
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventPhaseStarted:
		return "phase_started"
	case EventStateChanged:
		return "state_changed"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type       EventType
	State      State
	PhaseIndex int            // -1 before the first phase
	Phase      schedule.Phase // Zero value when no phase is current
	Reason     Reason         // Set for EventCompleted
}

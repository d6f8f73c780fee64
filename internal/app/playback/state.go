// Package playback provides the session controller: a pausable, stoppable
// state machine that plays a lighting schedule phase by phase.
package playback

// State represents the session state.
type State int

const (
	StateIdle      State = iota // No session loaded
	StateRunning                // Phases are being played
	StatePaused                 // Remaining time of the current phase is frozen
	StateCompleted              // Finished or stopped; Reset returns to Idle
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Active reports whether a session is loaded and not yet completed.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// Reason tells why a session completed.
type Reason int

const (
	ReasonNone     Reason = iota
	ReasonFinished        // Every phase was played
	ReasonStopped         // Stop was requested
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonFinished:
		return "finished"
	case ReasonStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

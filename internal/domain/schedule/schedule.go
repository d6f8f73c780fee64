// Package schedule turns session parameters into the lighting timeline of a
// focus session.
package schedule

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidParams is returned when session parameters are rejected.
var ErrInvalidParams = errors.New("invalid session params")

// Phase names.
const (
	PhaseWake     = "wake"
	PhaseModerate = "moderate"
	PhaseLow      = "low"
)

// Minutes since midnight after which no wake light is scheduled (17:00).
const eveningCutoff = 17 * 60

// Focus modes.
const (
	FocusDivergent  = -1
	FocusNeutral    = 0
	FocusConvergent = 1
)

// Params represents the parameters of one focus session.
type Params struct {
	StartHour            int `yaml:"start_hour" json:"start_hour" mapstructure:"start_hour"`
	StartMinute          int `yaml:"start_minute" json:"start_minute" mapstructure:"start_minute"`
	TotalDurationMinutes int `yaml:"total_duration_min" json:"total_duration_min" mapstructure:"total_duration_min"`
	FatigueLevel         int `yaml:"fatigue_level" json:"fatigue_level" mapstructure:"fatigue_level"`
	FocusMode            int `yaml:"focus_mode" json:"focus_mode" mapstructure:"focus_mode"`
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.StartHour < 0 || p.StartHour > 23 {
		return errors.Wrapf(ErrInvalidParams, "start hour %d out of range [0,23]", p.StartHour)
	}
	if p.StartMinute < 0 || p.StartMinute > 59 {
		return errors.Wrapf(ErrInvalidParams, "start minute %d out of range [0,59]", p.StartMinute)
	}
	if p.TotalDurationMinutes <= 0 {
		return errors.Wrapf(ErrInvalidParams, "total duration must be positive, got %d", p.TotalDurationMinutes)
	}
	if p.FatigueLevel < 1 || p.FatigueLevel > 5 {
		return errors.Wrapf(ErrInvalidParams, "fatigue level %d out of range [1,5]", p.FatigueLevel)
	}
	switch p.FocusMode {
	case FocusDivergent, FocusNeutral, FocusConvergent:
	default:
		return errors.Wrapf(ErrInvalidParams, "focus mode %d not in {-1,0,1}", p.FocusMode)
	}
	return nil
}

// TotalDuration returns the session length.
func (p Params) TotalDuration() time.Duration {
	return time.Duration(p.TotalDurationMinutes) * time.Minute
}

// Phase represents one step of the lighting timeline.
type Phase struct {
	Name              string
	Duration          time.Duration
	ColorTemperatureK int
	IlluminanceLux    float64
}

// Schedule is an immutable ordered sequence of phases.
type Schedule struct {
	phases []Phase
}

// Phases returns a copy of the phases.
func (s Schedule) Phases() []Phase {
	result := make([]Phase, len(s.phases))
	copy(result, s.phases)
	return result
}

// Len returns the number of phases.
func (s Schedule) Len() int {
	return len(s.phases)
}

// Phase returns the phase at index i.
func (s Schedule) Phase(i int) (Phase, bool) {
	if i < 0 || i >= len(s.phases) {
		return Phase{}, false
	}
	return s.phases[i], true
}

// Total returns the sum of all phase durations.
func (s Schedule) Total() time.Duration {
	var total time.Duration
	for _, p := range s.phases {
		total += p.Duration
	}
	return total
}

// New builds a schedule from phases, dropping phases without a positive duration.
func New(phases ...Phase) Schedule {
	kept := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if p.Duration > 0 {
			kept = append(kept, p)
		}
	}
	return Schedule{phases: kept}
}

// Compute calculates the three-phase schedule (wake, moderate, low) for the
// given parameters. It is a pure function of p.
func Compute(p Params) (Schedule, error) {
	if err := p.Validate(); err != nil {
		return Schedule{}, err
	}

	c := float64(p.StartHour*60 + p.StartMinute)
	t := float64(p.TotalDurationMinutes)
	tBefore17 := clamp(math.Min(c+t, eveningCutoff)-c, 0, t)

	wakeMin := clamp(wakeMinutes(p, c, tBefore17), 0, tBefore17)

	share := 0.75*float64(p.FocusMode) + 0.25*(tBefore17/t)
	moderateMin := clamp(t*math.Max(0, share), 0, t-wakeMin)

	total := p.TotalDuration()
	wake := minutes(wakeMin)
	moderate := minutes(moderateMin)
	if wake+moderate > total {
		moderate = total - wake
	}
	low := total - wake - moderate
	if low < 0 {
		low = 0
	}

	moderatePhase := Phase{Name: PhaseModerate, Duration: moderate, ColorTemperatureK: 4500, IlluminanceLux: 450}
	if moderate > 90*time.Minute {
		moderatePhase.ColorTemperatureK = 3000
		moderatePhase.IlluminanceLux = 750
	}

	return New(
		Phase{Name: PhaseWake, Duration: wake, ColorTemperatureK: 5800, IlluminanceLux: 750},
		moderatePhase,
		Phase{Name: PhaseLow, Duration: low, ColorTemperatureK: 3000, IlluminanceLux: 250},
	), nil
}

// wakeMinutes returns the unclipped wake phase length in minutes.
func wakeMinutes(p Params, c, tBefore17 float64) float64 {
	switch {
	case c >= eveningCutoff:
		return 0
	case p.StartHour >= 12:
		switch p.FatigueLevel {
		case 5:
			return 0.20 * tBefore17
		case 4:
			return 0.15 * tBefore17
		default:
			return 0
		}
	default:
		// Morning: scaled by fatigue, shrinking the later the session starts after 08:00.
		fatigue := 0.7 + 0.1*float64(p.FatigueLevel)
		lateness := 30 - 0.0833*math.Max(c-480, 0)
		return math.Max(0, tBefore17*fatigue*lateness/100)
	}
}

// minutes converts fractional minutes to a duration rounded to the millisecond.
func minutes(m float64) time.Duration {
	return time.Duration(math.Round(m*60*1000)) * time.Millisecond
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

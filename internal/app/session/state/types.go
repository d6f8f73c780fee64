// Package state holds the lighting parameters shared between the control
// surface and the session: configured session params and the idle light.
package state

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/focuslamp/internal/domain/color"
	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// IdleLight is the light shown while no session runs.
type IdleLight struct {
	ColorTemperatureK int     `json:"cct_k" mapstructure:"cct_k"`
	IlluminanceLux    float64 `json:"lux" mapstructure:"lux"`
}

// Validate checks the idle light against the color model range.
func (l IdleLight) Validate() error {
	if l.ColorTemperatureK < color.MinKelvin || l.ColorTemperatureK > color.MaxKelvin {
		return errors.Wrapf(schedule.ErrInvalidParams, "idle color temperature %dK out of range [%d,%d]",
			l.ColorTemperatureK, color.MinKelvin, color.MaxKelvin)
	}
	if l.IlluminanceLux < 0 {
		return errors.Wrapf(schedule.ErrInvalidParams, "idle illuminance must not be negative, got %.1f", l.IlluminanceLux)
	}
	return nil
}

// Update is a partial change of the lighting parameters. Nil fields are left as is.
type Update struct {
	StartHour            *int     `mapstructure:"start_hour"`
	StartMinute          *int     `mapstructure:"start_minute"`
	TotalDurationMinutes *int     `mapstructure:"total_duration_min"`
	FatigueLevel         *int     `mapstructure:"fatigue_level"`
	FocusMode            *int     `mapstructure:"focus_mode"`
	IdleCCTK             *int     `mapstructure:"idle_cct_k"`
	IdleLux              *float64 `mapstructure:"idle_lux"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.StartHour == nil && u.StartMinute == nil && u.TotalDurationMinutes == nil &&
		u.FatigueLevel == nil && u.FocusMode == nil && u.IdleCCTK == nil && u.IdleLux == nil
}

// Update keys, reported back to the caller of Configure.
const (
	KeyStartHour     = "start_hour"
	KeyStartMinute   = "start_minute"
	KeyTotalDuration = "total_duration_min"
	KeyFatigueLevel  = "fatigue_level"
	KeyFocusMode     = "focus_mode"
	KeyIdleCCTK      = "idle_cct_k"
	KeyIdleLux       = "idle_lux"
)

// Package color provides the deterministic color model used to turn lighting
// targets (color temperature, illuminance) into LED values.
package color

import (
	"fmt"
	"math"
)

// Color temperature range supported by the lamp.
const (
	MinKelvin = 1000
	MaxKelvin = 6500
)

// DefaultMaxIlluminance is the illuminance (lux) the lamp reaches at full brightness.
const DefaultMaxIlluminance = 750.0

// RGB represents a 24-bit color.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// String returns the color as "(r,g,b)".
func (c RGB) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.R, c.G, c.B)
}

// Ints returns the components as a slice, the shape used on the wire.
func (c RGB) Ints() []int {
	return []int{int(c.R), int(c.G), int(c.B)}
}

// KelvinToRGB converts a color temperature to an RGB color using Tanner
// Helland's approximation. Components are clamped to [0,255].
func KelvinToRGB(kelvin int) RGB {
	temp := float64(kelvin) / 100.0

	var red, green, blue float64
	if temp <= 66 {
		red = 255
		green = 99.4708025861*math.Log(temp) - 161.1195681661
	} else {
		red = 329.698727446 * math.Pow(temp-60, -0.1332047592)
		green = 288.1221695283 * math.Pow(temp-60, -0.0755148492)
	}

	switch {
	case temp >= 66:
		blue = 255
	case temp <= 19:
		blue = 0
	default:
		blue = 138.5177312231*math.Log(temp-10) - 305.0447927307
	}

	return RGB{R: clampByte(red), G: clampByte(green), B: clampByte(blue)}
}

// IlluminanceToBrightness maps lux to a brightness factor in [0,1] relative to
// DefaultMaxIlluminance.
func IlluminanceToBrightness(lux float64) float64 {
	return IlluminanceToBrightnessMax(lux, DefaultMaxIlluminance)
}

// IlluminanceToBrightnessMax maps lux to a brightness factor in [0,1] relative
// to maxLux.
func IlluminanceToBrightnessMax(lux, maxLux float64) float64 {
	if maxLux <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, lux/maxLux))
}

// ApplyBrightness scales each component by factor, truncating toward zero.
func ApplyBrightness(c RGB, factor float64) RGB {
	factor = math.Max(0, math.Min(1, factor))
	return RGB{
		R: uint8(float64(c.R) * factor),
		G: uint8(float64(c.G) * factor),
		B: uint8(float64(c.B) * factor),
	}
}

// FromTarget combines the three steps of the model.
func FromTarget(kelvin int, lux, maxLux float64) RGB {
	return ApplyBrightness(KelvinToRGB(kelvin), IlluminanceToBrightnessMax(lux, maxLux))
}

func clampByte(v float64) uint8 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

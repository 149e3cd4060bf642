// Package display drives the four character LED display.
package display

import (
	"fmt"
	"strings"
	"time"
)

// Width is the number of character positions on the display.
const Width = 4

// Indicator names one of the auxiliary dots around the digits.
type Indicator int

const (
	// IndicatorPM is lit for afternoon and evening hours.
	IndicatorPM Indicator = iota
	// IndicatorBusy is lit while a network call is in flight.
	IndicatorBusy
)

func (i Indicator) String() string {
	switch i {
	case IndicatorPM:
		return "pm"
	case IndicatorBusy:
		return "busy"
	default:
		return fmt.Sprintf("indicator(%d)", int(i))
	}
}

// Display is the set of primitives the clock needs from the hardware.
// Implementations serialise their own access.
type Display interface {
	Print(text string) error
	SetColon(on bool) error
	SetIndicator(ind Indicator, on bool) error
	// SetBrightness takes a level between 0.0 and 1.0.
	SetBrightness(level float64) error
	Brightness() float64
}

// Fit clips or right-pads text to exactly Width characters.
func Fit(text string) string {
	r := []rune(text)
	if len(r) > Width {
		r = r[:Width]
	}
	return string(r) + strings.Repeat(" ", Width-len(r))
}

// FormatTime renders t as a 12-hour clock: space padded hour, two digit
// minute. pm is true from 12:00 onward.
func FormatTime(t time.Time) (text string, pm bool) {
	hour := (t.Hour()+11)%12 + 1
	return fmt.Sprintf("%2d%02d", hour, t.Minute()), t.Hour() >= 12
}

// FormatTemperature renders a temperature rounded to a whole number and
// right-justified in four characters.
func FormatTemperature(value float64) string {
	return Fit(fmt.Sprintf("%4.0f", value))
}

// ClampBrightness limits level to the 0.0 - 1.0 range.
func ClampBrightness(level float64) float64 {
	switch {
	case level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}

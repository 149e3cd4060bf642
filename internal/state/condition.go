package state

import "strings"

// Condition is the normalized weather condition shown on the display.
type Condition int

const (
	ConditionUnknown Condition = iota
	ConditionThunderstorm
	ConditionDrizzle
	ConditionRain
	ConditionSnow
	ConditionAtmosphere
	ConditionClear
	ConditionClouds
)

var conditionNames = map[Condition]string{
	ConditionUnknown:      "Unknown",
	ConditionThunderstorm: "Thunderstorm",
	ConditionDrizzle:      "Drizzle",
	ConditionRain:         "Rain",
	ConditionSnow:         "Snow",
	ConditionAtmosphere:   "Atmosphere",
	ConditionClear:        "Clear",
	ConditionClouds:       "Clouds",
}

// Abbreviations are exactly four characters wide.
var conditionAbbreviations = map[Condition]string{
	ConditionThunderstorm: "Thdr",
	ConditionDrizzle:      "Drzl",
	ConditionRain:         "Rain",
	ConditionSnow:         "Snow",
	ConditionAtmosphere:   "Atms",
	ConditionClear:        "Clr ",
	ConditionClouds:       "Clds",
}

// ParseCondition maps an OpenWeather "main" group name to a Condition.
func ParseCondition(raw string) Condition {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "thunderstorm":
		return ConditionThunderstorm
	case "drizzle":
		return ConditionDrizzle
	case "rain":
		return ConditionRain
	case "snow":
		return ConditionSnow
	case "atmosphere", "mist", "smoke", "haze", "dust", "fog", "sand", "ash", "squall", "tornado":
		return ConditionAtmosphere
	case "clear":
		return ConditionClear
	case "clouds":
		return ConditionClouds
	default:
		return ConditionUnknown
	}
}

func (c Condition) String() string {
	if name, ok := conditionNames[c]; ok {
		return name
	}
	return conditionNames[ConditionUnknown]
}

// Abbreviate returns the four character display text for a condition.
// Unknown conditions fall back to the raw provider string, clipped or
// padded to four characters, and to "----" when there is nothing to show.
func Abbreviate(c Condition, raw string) string {
	if abbr, ok := conditionAbbreviations[c]; ok {
		return abbr
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "----"
	}
	r := []rune(raw)
	if len(r) > 4 {
		r = r[:4]
	}
	return string(r) + strings.Repeat(" ", 4-len(r))
}

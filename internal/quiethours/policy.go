// Package quiethours decides when the clock should stay quiet.
//
// During the active window the display alternates between time and
// temperature. Outside it only the time is shown.
package quiethours

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Policy describes the active window. Times are minutes after midnight.
type Policy struct {
	WeekdayStart int
	WeekendStart int
	End          int
	holidays     map[string]struct{}
}

// Default is the 06:30 (weekday) / 07:30 (weekend) to 22:00 window.
func Default() Policy {
	return Policy{
		WeekdayStart: 6*60 + 30,
		WeekendStart: 7*60 + 30,
		End:          22 * 60,
	}
}

// New builds a Policy from "HH:MM" strings and "YYYY-MM-DD" holiday dates.
func New(weekdayStart, weekendStart, end string, holidays []string) (Policy, error) {
	var p Policy
	var err error
	if p.WeekdayStart, err = ParseClock(weekdayStart); err != nil {
		return Policy{}, fmt.Errorf("weekday start: %w", err)
	}
	if p.WeekendStart, err = ParseClock(weekendStart); err != nil {
		return Policy{}, fmt.Errorf("weekend start: %w", err)
	}
	if p.End, err = ParseClock(end); err != nil {
		return Policy{}, fmt.Errorf("end: %w", err)
	}
	if p.WeekdayStart >= p.End || p.WeekendStart >= p.End {
		return Policy{}, fmt.Errorf("window must start before it ends")
	}

	for _, h := range holidays {
		day, err := time.Parse(dateLayout, h)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		if p.holidays == nil {
			p.holidays = make(map[string]struct{}, len(holidays))
		}
		p.holidays[day.Format(dateLayout)] = struct{}{}
	}
	return p, nil
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsRestDay reports whether t falls on a weekend or a configured holiday.
func (p Policy) IsRestDay(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	_, ok := p.holidays[t.Format(dateLayout)]
	return ok
}

// Suppressed reports whether t (in local time) is outside the active
// window. The window includes its start and excludes its end.
func (p Policy) Suppressed(t time.Time) bool {
	start := p.WeekdayStart
	if p.IsRestDay(t) {
		start = p.WeekendStart
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes < start || minutes >= p.End
}

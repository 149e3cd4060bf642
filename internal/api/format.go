package api

import (
	"fmt"
	"time"
)

const epochLayout = "2006-01-02 15:04:05"

// FormatUptime renders seconds as "{d} days, {h} hours, {m} minutes, {s} seconds".
func FormatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	secs := seconds % 60
	return fmt.Sprintf("%d days, %d hours, %d minutes, %d seconds", days, hours, minutes, secs)
}

// FormatEpoch renders epoch as local time in the zone tzOffset seconds
// east of UTC.
func FormatEpoch(epoch int64, tzOffset int) string {
	return time.Unix(epoch, 0).In(time.FixedZone("", tzOffset)).Format(epochLayout)
}

// formatOptionalEpoch renders 0 as "never".
func formatOptionalEpoch(epoch int64, tzOffset int) string {
	if epoch == 0 {
		return "never"
	}
	return FormatEpoch(epoch, tzOffset)
}

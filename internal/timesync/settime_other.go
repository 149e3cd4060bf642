//go:build !linux

package timesync

import "time"

func setSystemClock(time.Time) error {
	return ErrUnsupported
}

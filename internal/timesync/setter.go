package timesync

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrUnsupported is returned where the platform cannot set the clock.
var ErrUnsupported = errors.New("setting the system clock is not supported on this platform")

// ClockSetter applies a new wall-clock time.
type ClockSetter interface {
	SetSystemClock(t time.Time) error
}

// SystemSetter sets the kernel clock. It needs CAP_SYS_TIME.
type SystemSetter struct{}

func (SystemSetter) SetSystemClock(t time.Time) error {
	return setSystemClock(t)
}

// NewSetter returns the setter serve uses: the kernel clock unless dryRun.
func NewSetter(dryRun bool, log *zap.SugaredLogger) ClockSetter {
	if dryRun {
		return DryRunSetter{Log: log}
	}
	return SystemSetter{}
}

// DryRunSetter only logs what it would have set.
type DryRunSetter struct {
	Log *zap.SugaredLogger
}

func (d DryRunSetter) SetSystemClock(t time.Time) error {
	if d.Log != nil {
		d.Log.Infow("Skipping system clock update", "time", t.Format(time.RFC3339))
	}
	return nil
}

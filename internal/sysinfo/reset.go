package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"weather-clock/internal/storage"
)

const ResetPowerOn = "power-on"

// RestartJournal returns the last self-restart, nil when there is none.
type RestartJournal interface {
	LastRestart() (*storage.Restart, error)
}

// ResetReason names why the current boot happened. A self-restart
// recorded after the machine booted means the process restarted itself;
// anything else is treated as a power cycle.
func ResetReason(ctx context.Context, journal RestartJournal) string {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		boot = 0
	}
	return resetReason(journal, time.Unix(int64(boot), 0))
}

func resetReason(journal RestartJournal, bootedAt time.Time) string {
	if journal == nil {
		return ResetPowerOn
	}
	last, err := journal.LastRestart()
	if err != nil || last == nil {
		return ResetPowerOn
	}
	if last.Timestamp.Before(bootedAt) {
		return ResetPowerOn
	}
	return fmt.Sprintf("restart (%s)", last.Code)
}

package tasks

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"

	"weather-clock/internal/state"
	"weather-clock/internal/timesync"
)

const (
	DefaultTimeSyncInterval = 24 * time.Hour
	DefaultTimeSyncTimeout  = 10 * time.Second
)

type TimeSyncConfig struct {
	State    *state.ClockState
	Source   timesync.Source
	Setter   timesync.ClockSetter
	Reporter Reporter
	Clock    clock.Clock
	Log      *zap.SugaredLogger
	Interval time.Duration
	Timeout  time.Duration
}

// TimeSync resets the system clock from network time.
type TimeSync struct {
	state    *state.ClockState
	source   timesync.Source
	setter   timesync.ClockSetter
	reporter Reporter
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
	timeout  time.Duration
}

func NewTimeSync(cfg TimeSyncConfig) *TimeSync {
	t := &TimeSync{
		state:    cfg.State,
		source:   cfg.Source,
		setter:   cfg.Setter,
		reporter: cfg.Reporter,
		clock:    cfg.Clock,
		log:      cfg.Log,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
	if t.reporter == nil {
		t.reporter = nopReporter{}
	}
	if t.clock == nil {
		t.clock = clock.NewClock()
	}
	if t.log == nil {
		t.log = zap.NewNop().Sugar()
	}
	if t.interval <= 0 {
		t.interval = DefaultTimeSyncInterval
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeSyncTimeout
	}
	return t
}

func (t *TimeSync) Name() string {
	return TaskTimeSync
}

// SyncOnce queries network time in the zone of the most recent weather
// reading and sets the system clock. On failure the clock is not touched.
func (t *TimeSync) SyncOnce(ctx context.Context) error {
	start := t.clock.Now()
	offset := t.state.TimezoneOffset()

	queryCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	now, err := t.source.NetworkTime(queryCtx, offset)
	if err != nil {
		err = fmt.Errorf("network time: %w", err)
		t.reporter.TaskFailed(TaskTimeSync, t.clock.Since(start), err)
		return err
	}

	drift := now.Sub(t.clock.Now())
	if err := t.setter.SetSystemClock(now); err != nil {
		err = fmt.Errorf("set system clock: %w", err)
		t.reporter.TaskFailed(TaskTimeSync, t.clock.Since(start), err)
		return err
	}

	t.state.RecordTimeSync(now, drift)
	t.reporter.TaskSucceeded(TaskTimeSync, t.clock.Since(start), t.state.Snapshot())
	t.log.Infow("Clock synchronised", "time", now.Format(time.RFC3339), "drift", drift, "tz_offset", offset)
	return nil
}

// Run resynchronises every interval until ctx ends.
func (t *TimeSync) Run(ctx context.Context) error {
	t.log.Infow("Starting time sync", "interval", t.interval)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Time sync stopped")
			return nil
		case <-ticker.C():
			if err := t.SyncOnce(ctx); err != nil {
				t.log.Warnw("Time sync failed", "error", err)
			}
		}
	}
}

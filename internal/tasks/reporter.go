// Package tasks contains the recurring activities of the clock.
//
// Each task owns one concern and talks to the others only through the
// shared ClockState. None of them returns an error from Run except when
// its context ends; individual failures are logged, reported and retried
// on the next period.
package tasks

import (
	"time"

	"weather-clock/internal/state"
)

// Task names used in logs, metrics and the journal.
const (
	TaskWeather  = "weather"
	TaskTimeSync = "timesync"
	TaskDisplay  = "display"
	TaskStatus   = "status"
)

// Reporter is notified after every weather refresh or time sync attempt.
type Reporter interface {
	TaskSucceeded(task string, took time.Duration, snap state.Snapshot)
	TaskFailed(task string, took time.Duration, err error)
}

// Reporters fans one outcome out to several reporters.
type Reporters []Reporter

func (rs Reporters) TaskSucceeded(task string, took time.Duration, snap state.Snapshot) {
	for _, r := range rs {
		if r != nil {
			r.TaskSucceeded(task, took, snap)
		}
	}
}

func (rs Reporters) TaskFailed(task string, took time.Duration, err error) {
	for _, r := range rs {
		if r != nil {
			r.TaskFailed(task, took, err)
		}
	}
}

type nopReporter struct{}

func (nopReporter) TaskSucceeded(string, time.Duration, state.Snapshot) {}
func (nopReporter) TaskFailed(string, time.Duration, error)             {}

package tasks

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"

	"weather-clock/internal/display"
	"weather-clock/internal/state"
	"weather-clock/internal/weather"
)

const (
	DefaultWeatherInterval = 300 * time.Second
	DefaultWeatherTimeout  = 10 * time.Second
)

type WeatherRefreshConfig struct {
	State    *state.ClockState
	Provider weather.Provider
	Display  display.Display
	Reporter Reporter
	Clock    clock.Clock
	Log      *zap.SugaredLogger
	Interval time.Duration
	Timeout  time.Duration
}

// WeatherRefresh polls the provider and replaces the weather group of the
// shared state on success.
type WeatherRefresh struct {
	state    *state.ClockState
	provider weather.Provider
	display  display.Display
	reporter Reporter
	clock    clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
	timeout  time.Duration
}

func NewWeatherRefresh(cfg WeatherRefreshConfig) *WeatherRefresh {
	w := &WeatherRefresh{
		state:    cfg.State,
		provider: cfg.Provider,
		display:  cfg.Display,
		reporter: cfg.Reporter,
		clock:    cfg.Clock,
		log:      cfg.Log,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
	if w.reporter == nil {
		w.reporter = nopReporter{}
	}
	if w.clock == nil {
		w.clock = clock.NewClock()
	}
	if w.log == nil {
		w.log = zap.NewNop().Sugar()
	}
	if w.interval <= 0 {
		w.interval = DefaultWeatherInterval
	}
	if w.timeout <= 0 {
		w.timeout = DefaultWeatherTimeout
	}
	return w
}

func (w *WeatherRefresh) Name() string {
	return TaskWeather
}

// RefreshOnce performs one fetch. The busy indicator is lit for the
// duration of the call. A failed fetch leaves the state untouched.
func (w *WeatherRefresh) RefreshOnce(ctx context.Context) error {
	start := w.clock.Now()

	w.setBusy(true)
	defer w.setBusy(false)

	fetchCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	reading, err := w.provider.Fetch(fetchCtx)
	if err != nil {
		err = fmt.Errorf("%s fetch: %w", w.provider.Name(), err)
		w.reporter.TaskFailed(TaskWeather, w.clock.Since(start), err)
		return err
	}

	w.state.ApplyWeather(reading, w.clock.Now())

	level := 0.0
	if reading.IsDaylight(reading.ObservedAt) {
		level = 1.0
	}
	if err := w.display.SetBrightness(level); err != nil {
		w.log.Warnw("Failed to set brightness", "level", level, "error", err)
	}

	snap := w.state.Snapshot()
	w.reporter.TaskSucceeded(TaskWeather, w.clock.Since(start), snap)
	w.log.Infow("Weather updated",
		"provider", w.provider.Name(),
		"condition", snap.Weather.Condition.String(),
		"temperature", snap.Weather.Temperature,
		"brightness", level,
	)
	return nil
}

// Run refreshes every interval until ctx ends.
func (w *WeatherRefresh) Run(ctx context.Context) error {
	w.log.Infow("Starting weather refresh", "interval", w.interval)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Weather refresh stopped")
			return nil
		case <-ticker.C():
			if err := w.RefreshOnce(ctx); err != nil {
				w.log.Warnw("Weather refresh failed", "error", err)
			}
		}
	}
}

func (w *WeatherRefresh) setBusy(on bool) {
	if err := w.display.SetIndicator(display.IndicatorBusy, on); err != nil {
		w.log.Warnw("Failed to set busy indicator", "on", on, "error", err)
	}
}

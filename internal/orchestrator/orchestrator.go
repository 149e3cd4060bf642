// Package orchestrator brings the clock up and keeps its tasks running.
//
// Startup runs the network check, the first weather refresh and the first
// time sync in order. A failure at any of these shows a short code on the
// display, journals it, and re-executes the process after a delay. Once
// started, each task runs on its own goroutine and is restarted if it
// panics or returns before shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"weather-clock/internal/display"
)

// Startup error codes, short enough for the four digit display.
const (
	CodeWiFi = "WiFi"
	CodeErr  = "Err"
	CodeTime = "Time"
)

const (
	DefaultNetworkTimeout   = 60 * time.Second
	DefaultRestartDelay     = 60 * time.Second
	DefaultTaskRestartDelay = 5 * time.Second
)

// StartupError is returned by Startup and carries the code to display.
type StartupError struct {
	Code string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed (%s): %v", e.Code, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type NetworkWaiter interface {
	WaitOnline(ctx context.Context) error
}

type WeatherStarter interface {
	RefreshOnce(ctx context.Context) error
}

type TimeStarter interface {
	SyncOnce(ctx context.Context) error
}

type RestartJournal interface {
	RecordRestart(code, message string) error
}

type RestartCounter interface {
	TaskRestarted(task string)
}

// Restarter replaces the running process. Restart only returns on failure.
type Restarter interface {
	Restart() error
}

type Config struct {
	Network  NetworkWaiter
	Weather  WeatherStarter
	TimeSync TimeStarter
	Tasks    []Task

	Display   display.Display
	Journal   RestartJournal
	Metrics   RestartCounter
	Restarter Restarter
	Clock     clock.Clock
	Log       *zap.SugaredLogger

	NetworkTimeout   time.Duration
	RestartDelay     time.Duration
	TaskRestartDelay time.Duration
}

type Orchestrator struct {
	network  NetworkWaiter
	weather  WeatherStarter
	timeSync TimeStarter
	tasks    []Task

	display   display.Display
	journal   RestartJournal
	metrics   RestartCounter
	restarter Restarter
	clock     clock.Clock
	log       *zap.SugaredLogger

	networkTimeout   time.Duration
	restartDelay     time.Duration
	taskRestartDelay time.Duration
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		network:          cfg.Network,
		weather:          cfg.Weather,
		timeSync:         cfg.TimeSync,
		tasks:            cfg.Tasks,
		display:          cfg.Display,
		journal:          cfg.Journal,
		metrics:          cfg.Metrics,
		restarter:        cfg.Restarter,
		clock:            cfg.Clock,
		log:              cfg.Log,
		networkTimeout:   cfg.NetworkTimeout,
		restartDelay:     cfg.RestartDelay,
		taskRestartDelay: cfg.TaskRestartDelay,
	}
	if o.clock == nil {
		o.clock = clock.NewClock()
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	if o.networkTimeout <= 0 {
		o.networkTimeout = DefaultNetworkTimeout
	}
	if o.restartDelay <= 0 {
		o.restartDelay = DefaultRestartDelay
	}
	if o.taskRestartDelay <= 0 {
		o.taskRestartDelay = DefaultTaskRestartDelay
	}
	return o
}

// Startup performs the ordered bring-up. Any failure is a *StartupError.
func (o *Orchestrator) Startup(ctx context.Context) error {
	if o.network != nil {
		netCtx, cancel := context.WithTimeout(ctx, o.networkTimeout)
		err := o.network.WaitOnline(netCtx)
		cancel()
		if err != nil {
			return &StartupError{Code: CodeWiFi, Err: err}
		}
	}

	if o.weather != nil {
		if err := o.weather.RefreshOnce(ctx); err != nil {
			return &StartupError{Code: CodeErr, Err: err}
		}
	}

	if o.timeSync != nil {
		if err := o.timeSync.SyncOnce(ctx); err != nil {
			return &StartupError{Code: CodeTime, Err: err}
		}
	}

	o.log.Info("Startup complete")
	return nil
}

// Run starts the clock and blocks until ctx ends. A startup failure leads
// to a restart of the process; Run returns only if that restart fails or
// ctx is cancelled first.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Startup(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var startupErr *StartupError
		if !errors.As(err, &startupErr) {
			startupErr = &StartupError{Code: CodeErr, Err: err}
		}
		return o.fail(ctx, startupErr)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range o.tasks {
		t := t
		g.Go(func() error {
			o.supervise(gctx, t)
			return nil
		})
	}
	err := g.Wait()
	o.log.Info("All tasks stopped")
	return err
}

func (o *Orchestrator) fail(ctx context.Context, startupErr *StartupError) error {
	o.log.Errorw("Startup failed",
		"code", startupErr.Code,
		"error", startupErr.Err,
		"restart_in", o.restartDelay,
	)

	if o.display != nil {
		if err := o.display.Print(startupErr.Code); err != nil {
			o.log.Warnw("Failed to show error code", "error", err)
		}
	}
	if o.journal != nil {
		if err := o.journal.RecordRestart(startupErr.Code, startupErr.Err.Error()); err != nil {
			o.log.Warnw("Failed to journal restart", "error", err)
		}
	}

	timer := o.clock.NewTimer(o.restartDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
	}

	if o.restarter == nil {
		return startupErr
	}
	o.log.Warnw("Restarting", "code", startupErr.Code)
	if err := o.restarter.Restart(); err != nil {
		return fmt.Errorf("restart after %s: %w", startupErr.Code, err)
	}
	return startupErr
}

// supervise keeps t running until ctx ends.
func (o *Orchestrator) supervise(ctx context.Context, t Task) {
	log := o.log.With("task", t.Name())
	for {
		err := runTask(ctx, t)
		if ctx.Err() != nil {
			return
		}

		log.Errorw("Task stopped unexpectedly", "error", err, "restart_in", o.taskRestartDelay)
		if o.metrics != nil {
			o.metrics.TaskRestarted(t.Name())
		}

		timer := o.clock.NewTimer(o.taskRestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := t.Run(ctx); err != nil {
		return err
	}
	return errors.New("returned without error")
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"

	"weather-clock/internal/display"
	"weather-clock/internal/quiethours"
	"weather-clock/internal/state"
)

// Phase is one step of the display rotation.
type Phase int32

const (
	PhaseTimeColonOn Phase = iota
	PhaseTimeColonOff
	PhaseTimeColonOnAgain
	PhaseTemperature
)

var phaseNames = map[Phase]string{
	PhaseTimeColonOn:      "time_colon_on",
	PhaseTimeColonOff:     "time_colon_off",
	PhaseTimeColonOnAgain: "time_colon_on_again",
	PhaseTemperature:      "temperature",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Dwell is how long the phase stays on the display.
func (p Phase) Dwell() time.Duration {
	if p == PhaseTemperature {
		return 3 * time.Second
	}
	return time.Second
}

func (p Phase) next() Phase {
	if p >= PhaseTemperature {
		return PhaseTimeColonOn
	}
	return p + 1
}

type DisplayCycleConfig struct {
	State   *state.ClockState
	Display display.Display
	Policy  quiethours.Policy
	Clock   clock.Clock
	Log     *zap.SugaredLogger
}

// DisplayCycle rotates time with a blinking colon and the temperature.
type DisplayCycle struct {
	state   *state.ClockState
	display display.Display
	policy  quiethours.Policy
	clock   clock.Clock
	log     *zap.SugaredLogger

	next    atomic.Int32
	current atomic.Int32
	redraw  chan struct{}
}

func NewDisplayCycle(cfg DisplayCycleConfig) *DisplayCycle {
	d := &DisplayCycle{
		state:   cfg.State,
		display: cfg.Display,
		policy:  cfg.Policy,
		clock:   cfg.Clock,
		log:     cfg.Log,
		redraw:  make(chan struct{}, 1),
	}
	if d.clock == nil {
		d.clock = clock.NewClock()
	}
	if d.log == nil {
		d.log = zap.NewNop().Sugar()
	}
	return d
}

func (d *DisplayCycle) Name() string {
	return TaskDisplay
}

// Phase returns the phase currently on the display.
func (d *DisplayCycle) Phase() Phase {
	return Phase(d.current.Load())
}

// Redraw restarts the rotation from the first phase without waiting for
// the current dwell to finish.
func (d *DisplayCycle) Redraw() {
	select {
	case d.redraw <- struct{}{}:
	default:
	}
}

// QuietNow reports whether quiet hours are in effect at the clock's local
// time.
func (d *DisplayCycle) QuietNow() bool {
	return d.policy.Suppressed(d.clock.Now().In(d.state.Snapshot().Location()))
}

// Step renders the next phase from one state snapshot and advances the
// rotation. The temperature phase is replaced by the first time phase
// during quiet hours and before any weather has been fetched.
func (d *DisplayCycle) Step() (Phase, time.Duration, error) {
	phase := Phase(d.next.Load())
	snap := d.state.Snapshot()
	now := d.clock.Now().In(snap.Location())

	var err error
	if phase == PhaseTemperature && (!snap.HasWeather() || d.policy.Suppressed(now)) {
		phase = PhaseTimeColonOn
	}

	if phase == PhaseTemperature {
		err = d.renderTemperature(snap.Weather.Temperature)
	} else {
		err = d.renderTime(now, phase != PhaseTimeColonOff)
	}

	d.current.Store(int32(phase))
	d.next.Store(int32(phase.next()))
	return phase, phase.Dwell(), err
}

// Run steps the rotation until ctx ends. Display errors are logged and
// the rotation carries on.
func (d *DisplayCycle) Run(ctx context.Context) error {
	d.log.Info("Starting display cycle")
	d.next.Store(int32(PhaseTimeColonOn))

	for {
		phase, dwell, err := d.Step()
		if err != nil {
			d.log.Warnw("Display update failed", "phase", phase.String(), "error", err)
		}

		timer := d.clock.NewTimer(dwell)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.log.Info("Display cycle stopped")
			return nil
		case <-timer.C():
		case <-d.redraw:
			timer.Stop()
			d.next.Store(int32(PhaseTimeColonOn))
		}
	}
}

func (d *DisplayCycle) renderTime(now time.Time, colon bool) error {
	text, pm := display.FormatTime(now)
	return errors.Join(
		d.display.Print(text),
		d.display.SetColon(colon),
		d.display.SetIndicator(display.IndicatorPM, pm),
	)
}

func (d *DisplayCycle) renderTemperature(value float64) error {
	return errors.Join(
		d.display.Print(display.FormatTemperature(value)),
		d.display.SetColon(false),
		d.display.SetIndicator(display.IndicatorPM, false),
	)
}

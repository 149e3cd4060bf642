package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"weather-clock/internal/display"
	"weather-clock/internal/quiethours"
	"weather-clock/internal/state"
)

// 2024-03-11 is a Monday.
var monday = time.Date(2024, time.March, 11, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu      sync.Mutex
	reading state.Weather
	err     error
	block   bool
	calls   atomic.Int32
	onFetch func()
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(ctx context.Context) (state.Weather, error) {
	p.calls.Add(1)
	if p.onFetch != nil {
		p.onFetch()
	}
	p.mu.Lock()
	reading, err, block := p.reading, p.err, p.block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return state.Weather{}, ctx.Err()
	}
	return reading, err
}

type recordingReporter struct {
	mu        sync.Mutex
	succeeded []string
	failed    []error
}

func (r *recordingReporter) TaskSucceeded(task string, _ time.Duration, _ state.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, task)
}

func (r *recordingReporter) TaskFailed(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recordingReporter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.succeeded), len(r.failed)
}

func daylightReading() state.Weather {
	return state.Weather{
		Condition:      state.ConditionClear,
		RawCondition:   "Clear",
		Temperature:    21.6,
		Sunrise:        monday.Add(-6 * time.Hour).Unix(),
		Sunset:         monday.Add(6 * time.Hour).Unix(),
		TimezoneOffset: 0,
		ObservedAt:     monday.Unix(),
		Payload:        []byte(`{"ok":true}`),
	}
}

func TestWeatherRefresh_Success(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	st := state.New()
	screen := display.NewConsole(nil)
	require.NoError(t, screen.SetBrightness(0))
	rep := &recordingReporter{}

	provider := &fakeProvider{reading: daylightReading()}
	provider.onFetch = func() {
		assert.True(t, screen.Frame().Busy, "busy indicator lit during fetch")
	}

	w := NewWeatherRefresh(WeatherRefreshConfig{
		State:    st,
		Provider: provider,
		Display:  screen,
		Reporter: rep,
		Clock:    clk,
		Log:      zaptest.NewLogger(t).Sugar(),
	})

	require.NoError(t, w.RefreshOnce(context.Background()))

	snap := st.Snapshot()
	assert.True(t, snap.HasWeather())
	assert.Equal(t, monday.Unix(), snap.LastWeatherFetch)
	assert.Equal(t, 21.6, snap.Weather.Temperature)
	assert.Equal(t, 1.0, screen.Brightness())
	assert.False(t, screen.Frame().Busy)

	ok, failed := rep.counts()
	assert.Equal(t, 1, ok)
	assert.Zero(t, failed)
}

func TestWeatherRefresh_NightDimsDisplay(t *testing.T) {
	t.Parallel()
	reading := daylightReading()
	reading.ObservedAt = reading.Sunset

	screen := display.NewConsole(nil)
	w := NewWeatherRefresh(WeatherRefreshConfig{
		State:    state.New(),
		Provider: &fakeProvider{reading: reading},
		Display:  screen,
		Clock:    fakeclock.NewFakeClock(monday),
	})

	require.NoError(t, w.RefreshOnce(context.Background()))
	assert.Equal(t, 0.0, screen.Brightness())
}

func TestWeatherRefresh_FailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	st := state.New()
	screen := display.NewConsole(nil)
	rep := &recordingReporter{}
	provider := &fakeProvider{reading: daylightReading()}

	w := NewWeatherRefresh(WeatherRefreshConfig{
		State: st, Provider: provider, Display: screen, Reporter: rep, Clock: clk,
		Log: zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, w.RefreshOnce(context.Background()))
	before := st.Snapshot()
	brightness := screen.Brightness()

	provider.mu.Lock()
	provider.err = errors.New("dns lookup failed")
	provider.mu.Unlock()
	clk.Increment(5 * time.Minute)

	err := w.RefreshOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, st.Snapshot())
	assert.Equal(t, brightness, screen.Brightness())
	assert.False(t, screen.Frame().Busy)

	_, failed := rep.counts()
	assert.Equal(t, 1, failed)
}

// A hung provider must not stall the display rotation.
func TestWeatherRefresh_TimeoutDoesNotBlockDisplay(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	st := state.New()
	screen := display.NewConsole(nil)

	w := NewWeatherRefresh(WeatherRefreshConfig{
		State:    st,
		Provider: &fakeProvider{block: true},
		Display:  screen,
		Clock:    clk,
		Timeout:  200 * time.Millisecond,
	})
	cycle := NewDisplayCycle(DisplayCycleConfig{
		State: st, Display: screen, Policy: quiethours.Default(), Clock: clk,
	})

	done := make(chan error, 1)
	go func() { done <- w.RefreshOnce(context.Background()) }()

	require.Eventually(t, func() bool { return screen.Frame().Busy }, time.Second, 5*time.Millisecond)
	for i := 0; i < 10; i++ {
		_, _, err := cycle.Step()
		require.NoError(t, err)
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not honour its timeout")
	}
	assert.False(t, screen.Frame().Busy)
	assert.False(t, st.Snapshot().HasWeather())
}

func TestWeatherRefresh_Run(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	provider := &fakeProvider{reading: daylightReading()}
	w := NewWeatherRefresh(WeatherRefreshConfig{
		State: state.New(), Provider: provider, Display: display.NewConsole(nil),
		Clock: clk, Interval: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	clk.WaitForWatcherAndIncrement(time.Minute)
	require.Eventually(t, func() bool { return provider.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

type fakeSource struct {
	at        time.Time
	err       error
	gotOffset int
}

func (s *fakeSource) NetworkTime(_ context.Context, tzOffset int) (time.Time, error) {
	s.gotOffset = tzOffset
	if s.err != nil {
		return time.Time{}, s.err
	}
	return s.at.In(time.FixedZone("", tzOffset)), nil
}

type fakeSetter struct {
	set []time.Time
	err error
}

func (s *fakeSetter) SetSystemClock(t time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.set = append(s.set, t)
	return nil
}

func TestTimeSync_UsesWeatherOffset(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	st := state.New()
	reading := daylightReading()
	reading.TimezoneOffset = 7200
	st.ApplyWeather(reading, monday)

	source := &fakeSource{at: monday.Add(2 * time.Second)}
	setter := &fakeSetter{}
	rep := &recordingReporter{}
	ts := NewTimeSync(TimeSyncConfig{
		State: st, Source: source, Setter: setter, Reporter: rep, Clock: clk,
		Log: zaptest.NewLogger(t).Sugar(),
	})

	require.NoError(t, ts.SyncOnce(context.Background()))
	assert.Equal(t, 7200, source.gotOffset)
	require.Len(t, setter.set, 1)
	assert.True(t, setter.set[0].Equal(monday.Add(2*time.Second)))

	snap := st.Snapshot()
	assert.Equal(t, monday.Add(2*time.Second).Unix(), snap.LastTimeSync)
	assert.Equal(t, 2*time.Second, snap.ClockDrift)
	ok, _ := rep.counts()
	assert.Equal(t, 1, ok)
}

func TestTimeSync_DefaultsToUTCBeforeWeather(t *testing.T) {
	t.Parallel()
	source := &fakeSource{at: monday, gotOffset: -1}
	ts := NewTimeSync(TimeSyncConfig{
		State: state.New(), Source: source, Setter: &fakeSetter{}, Clock: fakeclock.NewFakeClock(monday),
	})
	require.NoError(t, ts.SyncOnce(context.Background()))
	assert.Equal(t, 0, source.gotOffset)
}

func TestTimeSync_Failures(t *testing.T) {
	t.Parallel()
	st := state.New()
	rep := &recordingReporter{}

	setter := &fakeSetter{}
	ts := NewTimeSync(TimeSyncConfig{
		State: st, Source: &fakeSource{err: errors.New("no route")}, Setter: setter,
		Reporter: rep, Clock: fakeclock.NewFakeClock(monday),
	})
	assert.Error(t, ts.SyncOnce(context.Background()))
	assert.Empty(t, setter.set)

	ts = NewTimeSync(TimeSyncConfig{
		State: st, Source: &fakeSource{at: monday}, Setter: &fakeSetter{err: errors.New("EPERM")},
		Reporter: rep, Clock: fakeclock.NewFakeClock(monday),
	})
	assert.Error(t, ts.SyncOnce(context.Background()))

	assert.Zero(t, st.Snapshot().LastTimeSync)
	_, failed := rep.counts()
	assert.Equal(t, 2, failed)
}

func newCycle(t *testing.T, now time.Time, withWeather bool) (*DisplayCycle, *display.Console, *fakeclock.FakeClock) {
	t.Helper()
	clk := fakeclock.NewFakeClock(now)
	st := state.New()
	if withWeather {
		st.ApplyWeather(daylightReading(), now)
	}
	screen := display.NewConsole(nil)
	return NewDisplayCycle(DisplayCycleConfig{
		State: st, Display: screen, Policy: quiethours.Default(), Clock: clk,
		Log: zaptest.NewLogger(t).Sugar(),
	}), screen, clk
}

func TestDisplayCycle_FullRotation(t *testing.T) {
	t.Parallel()
	cycle, screen, _ := newCycle(t, monday.Add(90*time.Minute), true)

	expected := []struct {
		phase Phase
		text  string
		colon bool
		pm    bool
	}{
		{PhaseTimeColonOn, " 130", true, true},
		{PhaseTimeColonOff, " 130", false, true},
		{PhaseTimeColonOnAgain, " 130", true, true},
		{PhaseTemperature, "  22", false, false},
		{PhaseTimeColonOn, " 130", true, true},
	}

	var total time.Duration
	for i, want := range expected {
		phase, dwell, err := cycle.Step()
		require.NoError(t, err)
		assert.Equal(t, want.phase, phase, "step %d", i)
		assert.Equal(t, want.phase, cycle.Phase())

		f := screen.Frame()
		assert.Equal(t, want.text, f.Text, "step %d", i)
		assert.Equal(t, want.colon, f.Colon, "step %d", i)
		assert.Equal(t, want.pm, f.PM, "step %d", i)
		if i < 4 {
			total += dwell
		}
	}
	assert.Equal(t, 6*time.Second, total)
}

func TestDisplayCycle_NoWeatherSkipsTemperature(t *testing.T) {
	t.Parallel()
	cycle, _, _ := newCycle(t, monday, false)
	for i := 0; i < 12; i++ {
		phase, dwell, err := cycle.Step()
		require.NoError(t, err)
		assert.NotEqual(t, PhaseTemperature, phase)
		assert.Equal(t, time.Second, dwell)
	}
}

func TestDisplayCycle_QuietHoursNeverShowTemperature(t *testing.T) {
	t.Parallel()
	// Saturday 07:00: weekday window would be open, weekend window is not.
	saturday := time.Date(2024, time.March, 16, 7, 0, 0, 0, time.UTC)
	cycle, screen, clk := newCycle(t, saturday, true)
	assert.True(t, cycle.QuietNow())

	for i := 0; i < 100; i++ {
		phase, _, err := cycle.Step()
		require.NoError(t, err)
		require.NotEqual(t, PhaseTemperature, phase)
		require.NotEqual(t, "  22", screen.Frame().Text)
		if i == 50 {
			clk.Increment(20 * time.Minute)
		}
	}

	clk.Increment(10 * time.Minute)
	assert.False(t, cycle.QuietNow())
}

func TestDisplayCycle_UsesWeatherTimezone(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	st := state.New()
	reading := daylightReading()
	reading.TimezoneOffset = -5 * 3600
	st.ApplyWeather(reading, monday)
	screen := display.NewConsole(nil)

	cycle := NewDisplayCycle(DisplayCycleConfig{State: st, Display: screen, Policy: quiethours.Default(), Clock: clk})
	_, _, err := cycle.Step()
	require.NoError(t, err)
	assert.Equal(t, " 700", screen.Frame().Text)
	assert.False(t, screen.Frame().PM)
}

// Each step must pair the temperature with the timezone of the same
// reading, even while refreshes replace it.
func TestDisplayCycle_StepUsesOneReading(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(monday)
	st := state.New()
	screen := display.NewConsole(nil)
	cycle := NewDisplayCycle(DisplayCycleConfig{State: st, Display: screen, Policy: quiethours.Default(), Clock: clk})

	// 05:00 local is quiet, so this reading's temperature never shows.
	quiet := daylightReading()
	quiet.Temperature = 41
	quiet.TimezoneOffset = -7 * 3600
	awake := daylightReading()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				st.ApplyWeather(quiet, monday)
			} else {
				st.ApplyWeather(awake, monday)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		phase, _, err := cycle.Step()
		require.NoError(t, err)
		if phase == PhaseTemperature {
			require.Equal(t, "  22", screen.Frame().Text, "step %d", i)
		}
	}
	close(stop)
	wg.Wait()
}

func TestDisplayCycle_RunAndRedraw(t *testing.T) {
	t.Parallel()
	cycle, screen, clk := newCycle(t, monday, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cycle.Run(ctx) }()

	clk.WaitForWatcherAndIncrement(time.Second)
	require.Eventually(t, func() bool { return cycle.Phase() == PhaseTimeColonOff }, time.Second, 5*time.Millisecond)
	assert.False(t, screen.Frame().Colon)

	clk.WaitForWatcherAndIncrement(time.Second)
	require.Eventually(t, func() bool { return cycle.Phase() == PhaseTimeColonOnAgain }, time.Second, 5*time.Millisecond)

	cycle.Redraw()
	require.Eventually(t, func() bool { return cycle.Phase() == PhaseTimeColonOn }, time.Second, 5*time.Millisecond)
	assert.True(t, screen.Frame().Colon)

	cancel()
	assert.NoError(t, <-done)
}

func TestPhase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "temperature", PhaseTemperature.String())
	assert.Equal(t, PhaseTimeColonOn, PhaseTemperature.next())
	assert.Equal(t, 3*time.Second, PhaseTemperature.Dwell())
}

func TestReporters_FanOut(t *testing.T) {
	t.Parallel()
	a, b := &recordingReporter{}, &recordingReporter{}
	rs := Reporters{a, nil, b}
	rs.TaskSucceeded(TaskWeather, time.Second, state.Snapshot{})
	rs.TaskFailed(TaskTimeSync, time.Second, errors.New("x"))

	for _, r := range []*recordingReporter{a, b} {
		ok, failed := r.counts()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, failed)
	}
}

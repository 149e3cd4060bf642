package orchestrator

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
)

type stepFunc func(ctx context.Context) error

func (f stepFunc) WaitOnline(ctx context.Context) error  { return f(ctx) }
func (f stepFunc) RefreshOnce(ctx context.Context) error { return f(ctx) }
func (f stepFunc) SyncOnce(ctx context.Context) error    { return f(ctx) }

type journal struct {
	mu    sync.Mutex
	codes []string
}

func (j *journal) RecordRestart(code, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.codes = append(j.codes, code)
	return nil
}

func (j *journal) Codes() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.codes...)
}

type restarter struct {
	calls atomic.Int32
}

func (r *restarter) Restart() error {
	r.calls.Add(1)
	return nil
}

type counter struct {
	mu       sync.Mutex
	restarts map[string]int
}

func (c *counter) TaskRestarted(task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restarts == nil {
		c.restarts = map[string]int{}
	}
	c.restarts[task]++
}

func (c *counter) Get(task string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts[task]
}

// flakyTask fails the way fail decides for each run, then blocks until
// shutdown.
type flakyTask struct {
	runs atomic.Int32
	fail func(run int32) error
}

func (t *flakyTask) Name() string { return "flaky" }

func (t *flakyTask) Run(ctx context.Context) error {
	run := t.runs.Add(1)
	if err := t.fail(run); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

var (
	ok      = stepFunc(func(context.Context) error { return nil })
	errStep = errors.New("step failed")
	failing = stepFunc(func(context.Context) error { return errStep })
)

func TestStartup_Codes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		network  stepFunc
		weather  stepFunc
		timeSync stepFunc
		wantCode string
	}{
		{name: "all succeed", network: ok, weather: ok, timeSync: ok},
		{name: "network down", network: failing, weather: ok, timeSync: ok, wantCode: CodeWiFi},
		{name: "weather fails", network: ok, weather: failing, timeSync: ok, wantCode: CodeErr},
		{name: "time sync fails", network: ok, weather: ok, timeSync: failing, wantCode: CodeTime},
		{name: "first failure wins", network: ok, weather: failing, timeSync: failing, wantCode: CodeErr},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := New(Config{
				Network:  tt.network,
				Weather:  tt.weather,
				TimeSync: tt.timeSync,
				Log:      zaptest.NewLogger(t).Sugar(),
			})

			err := o.Startup(context.Background())
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			var startupErr *StartupError
			require.ErrorAs(t, err, &startupErr)
			assert.Equal(t, tt.wantCode, startupErr.Code)
			assert.ErrorIs(t, err, errStep)
		})
	}
}

func TestStartup_Order(t *testing.T) {
	t.Parallel()
	var order []string
	step := func(name string) stepFunc {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	o := New(Config{Network: step("network"), Weather: step("weather"), TimeSync: step("time")})
	require.NoError(t, o.Startup(context.Background()))
	assert.Equal(t, []string{"network", "weather", "time"}, order)
}

func TestStartup_NetworkTimeout(t *testing.T) {
	t.Parallel()
	waitForever := stepFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	o := New(Config{Network: waitForever, NetworkTimeout: 10 * time.Millisecond})
	err := o.Startup(context.Background())

	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, CodeWiFi, startupErr.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_StartupFailureRestarts(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC))
	screen := display.NewConsole(nil)
	j := &journal{}
	r := &restarter{}
	task := &flakyTask{fail: func(int32) error { return nil }}

	o := New(Config{
		Network:      failing,
		Weather:      ok,
		TimeSync:     ok,
		Tasks:        []Task{task},
		Display:      screen,
		Journal:      j,
		Restarter:    r,
		Clock:        clk,
		Log:          zaptest.NewLogger(t).Sugar(),
		RestartDelay: time.Minute,
	})

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	clk.WaitForWatcherAndIncrement(59 * time.Second)
	assert.Equal(t, "WiFi", screen.Frame().Text)
	assert.Equal(t, []string{CodeWiFi}, j.Codes())
	assert.Equal(t, int32(0), r.calls.Load())

	clk.Increment(time.Second)

	select {
	case err := <-done:
		var startupErr *StartupError
		require.ErrorAs(t, err, &startupErr)
		assert.Equal(t, CodeWiFi, startupErr.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after restart")
	}
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Zero(t, task.runs.Load())
}

func TestRun_CancelDuringRestartDelay(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(time.Now())
	r := &restarter{}
	j := &journal{}
	o := New(Config{Weather: failing, Journal: j, Restarter: r, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return len(j.Codes()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, r.calls.Load())
}

func TestRun_SupervisesTasks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail func(run int32) error
	}{
		{name: "panic", fail: func(run int32) error {
			if run == 1 {
				panic("boom")
			}
			return nil
		}},
		{name: "error", fail: func(run int32) error {
			if run == 1 {
				return errors.New("lost")
			}
			return nil
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clk := fakeclock.NewFakeClock(time.Now())
			metrics := &counter{}
			task := &flakyTask{fail: tt.fail}

			o := New(Config{
				Tasks:   []Task{task},
				Metrics: metrics,
				Clock:   clk,
				Log:     zaptest.NewLogger(t).Sugar(),
			})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- o.Run(ctx) }()

			clk.WaitForWatcherAndIncrement(DefaultTaskRestartDelay)
			require.Eventually(t, func() bool { return task.runs.Load() == 2 }, 5*time.Second, 5*time.Millisecond)
			assert.Equal(t, 1, metrics.Get("flaky"))

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
			assert.Equal(t, int32(2), task.runs.Load())
		})
	}
}

func TestStartupError(t *testing.T) {
	t.Parallel()
	err := &StartupError{Code: CodeTime, Err: errStep}
	assert.Equal(t, "startup failed (Time): step failed", err.Error())
	assert.ErrorIs(t, err, errStep)
}

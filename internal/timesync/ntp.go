// Package timesync queries network time and applies it to the system clock.
package timesync

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/beevik/ntp"
)

const DefaultServer = "pool.ntp.org"

// Source returns the current network time in the zone described by
// tzOffset (seconds east of UTC).
type Source interface {
	NetworkTime(ctx context.Context, tzOffset int) (time.Time, error)
}

type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTPSource reads time from an NTP server.
type NTPSource struct {
	server  string
	timeout time.Duration
	clock   clock.Clock
	query   queryFunc
}

func NewNTPSource(server string, timeout time.Duration, clk clock.Clock) *NTPSource {
	if server == "" {
		server = DefaultServer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	return &NTPSource{
		server:  server,
		timeout: timeout,
		clock:   clk,
		query:   ntp.QueryWithOptions,
	}
}

func (s *NTPSource) Server() string {
	return s.server
}

// Offset returns the difference between the server clock and the local
// clock.
func (s *NTPSource) Offset(ctx context.Context) (time.Duration, error) {
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := deadline.Sub(s.clock.Now()); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("ntp query %s: %w", s.server, context.DeadlineExceeded)
	}

	type result struct {
		resp *ntp.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.query(s.server, ntp.QueryOptions{Timeout: timeout})
		done <- result{resp, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("ntp query %s: %w", s.server, ctx.Err())
	case r = <-done:
	}

	if r.err != nil {
		return 0, fmt.Errorf("ntp query %s: %w", s.server, r.err)
	}
	if err := r.resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp response from %s: %w", s.server, err)
	}
	return r.resp.ClockOffset, nil
}

func (s *NTPSource) NetworkTime(ctx context.Context, tzOffset int) (time.Time, error) {
	offset, err := s.Offset(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return s.clock.Now().Add(offset).In(time.FixedZone("", tzOffset)), nil
}

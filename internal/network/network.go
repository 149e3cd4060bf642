// Package network waits for the machine to come online.
package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"code.cloudfoundry.org/clock"
	"go.uber.org/zap"
)

const DefaultPollInterval = time.Second

// Checker polls local interfaces until one of them can carry traffic.
type Checker struct {
	clock    clock.Clock
	interval time.Duration
	log      *zap.SugaredLogger
	list     func() ([]iface, error)
}

type iface struct {
	name  string
	flags net.Flags
	addrs []net.Addr
}

func systemInterfaces() ([]iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]iface, 0, len(ifaces))
	for _, i := range ifaces {
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		out = append(out, iface{name: i.Name, flags: i.Flags, addrs: addrs})
	}
	return out, nil
}

func NewChecker(clk clock.Clock, interval time.Duration, log *zap.SugaredLogger) *Checker {
	if clk == nil {
		clk = clock.NewClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Checker{clock: clk, interval: interval, log: log, list: systemInterfaces}
}

// Online reports the first interface that is up, not loopback and has a
// routable unicast address.
func (c *Checker) Online() (string, bool) {
	ifaces, err := c.list()
	if err != nil {
		c.log.Debugw("Failed to list interfaces", "error", err)
		return "", false
	}
	for _, i := range ifaces {
		if i.flags&net.FlagUp == 0 || i.flags&net.FlagLoopback != 0 {
			continue
		}
		for _, a := range i.addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.IsGlobalUnicast() {
				return i.name, true
			}
		}
	}
	return "", false
}

// WaitOnline blocks until Online succeeds or ctx ends.
func (c *Checker) WaitOnline(ctx context.Context) error {
	for {
		if name, ok := c.Online(); ok {
			c.log.Infow("Network online", "interface", name)
			return nil
		}

		timer := c.clock.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("network not available: %w", ctx.Err())
		case <-timer.C():
		}
	}
}

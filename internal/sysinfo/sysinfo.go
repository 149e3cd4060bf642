// Package sysinfo gathers the machine diagnostics shown on the status page.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// Info is one read of the machine state. Fields that could not be read
// keep their zero value.
type Info struct {
	Machine         string        `json:"machine"`
	Runtime         string        `json:"runtime"`
	Hostname        string        `json:"hostname"`
	CPUTemperature  float64       `json:"cpu_temperature"`
	HasCPUTemp      bool          `json:"has_cpu_temperature"`
	CPUFrequencyMHz float64       `json:"cpu_frequency_mhz"`
	ResetReason     string        `json:"reset_reason"`
	WiFi            WiFiInfo      `json:"wifi"`
	SystemUptime    time.Duration `json:"system_uptime"`
	ProgramUptime   time.Duration `json:"program_uptime"`
	HeapAlloc       uint64        `json:"heap_alloc"`
	HeapFree        uint64        `json:"heap_free"`
}

// Collector reads Info on demand.
type Collector struct {
	clock       clock.Clock
	started     time.Time
	resetReason string
	wifi        WiFiReader
	log         *zap.SugaredLogger
}

type CollectorConfig struct {
	Clock       clock.Clock
	ResetReason string
	WiFi        WiFiReader
	Log         *zap.SugaredLogger
}

func NewCollector(cfg CollectorConfig) *Collector {
	c := &Collector{
		clock:       cfg.Clock,
		resetReason: cfg.ResetReason,
		wifi:        cfg.WiFi,
		log:         cfg.Log,
	}
	if c.clock == nil {
		c.clock = clock.NewClock()
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	if c.resetReason == "" {
		c.resetReason = ResetPowerOn
	}
	c.started = c.clock.Now()
	return c
}

// Collect never fails; unreadable values are logged at debug level.
func (c *Collector) Collect(ctx context.Context) Info {
	info := Info{
		Runtime:       fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		ResetReason:   c.resetReason,
		ProgramUptime: c.clock.Since(c.started),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.HeapAlloc = ms.HeapAlloc
	info.HeapFree = ms.HeapIdle - ms.HeapReleased

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Machine = strings.TrimSpace(fmt.Sprintf("%s %s %s", h.Platform, h.PlatformVersion, h.KernelArch))
		info.SystemUptime = time.Duration(h.Uptime) * time.Second
	} else {
		c.log.Debugw("Failed to read host info", "error", err)
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUFrequencyMHz = cpus[0].Mhz
		if cpus[0].ModelName != "" {
			info.Machine = strings.TrimSpace(info.Machine + " " + cpus[0].ModelName)
		}
	} else if err != nil {
		c.log.Debugw("Failed to read cpu info", "error", err)
	}

	if temp, ok := cpuTemperature(ctx); ok {
		info.CPUTemperature, info.HasCPUTemp = temp, true
	}

	if c.wifi != nil {
		w, err := c.wifi.Read(ctx)
		if err != nil {
			c.log.Debugw("Failed to read wifi info", "error", err)
		}
		info.WiFi = w
	}
	return info
}

// cpuTemperature returns the first CPU-looking sensor, or the first sensor
// at all.
func cpuTemperature(ctx context.Context) (float64, bool) {
	// Partial readings come back together with a warnings error.
	temps, _ := host.SensorsTemperaturesWithContext(ctx)
	if len(temps) == 0 {
		return 0, false
	}
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "soc") || strings.Contains(key, "coretemp") {
			return t.Temperature, true
		}
	}
	return temps[0].Temperature, true
}

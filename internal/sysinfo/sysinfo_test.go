package sysinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-clock/internal/storage"
)

type fakeJournal struct {
	last *storage.Restart
	err  error
}

func (j fakeJournal) LastRestart() (*storage.Restart, error) {
	return j.last, j.err
}

type fakeWiFi struct {
	info WiFiInfo
	err  error
}

func (w fakeWiFi) Read(context.Context) (WiFiInfo, error) {
	return w.info, w.err
}

func TestResetReason(t *testing.T) {
	t.Parallel()
	boot := time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC)

	assert.Equal(t, ResetPowerOn, resetReason(nil, boot))
	assert.Equal(t, ResetPowerOn, resetReason(fakeJournal{}, boot))
	assert.Equal(t, ResetPowerOn, resetReason(fakeJournal{err: errors.New("locked")}, boot))
	assert.Equal(t, ResetPowerOn, resetReason(fakeJournal{last: &storage.Restart{
		Timestamp: boot.Add(-time.Hour), Code: "WiFi",
	}}, boot))
	assert.Equal(t, "restart (Time)", resetReason(fakeJournal{last: &storage.Restart{
		Timestamp: boot.Add(time.Hour), Code: "Time",
	}}, boot))
}

func TestFrequencyToChannel(t *testing.T) {
	t.Parallel()
	tests := map[int]int{
		2412: 1,
		2437: 6,
		2472: 13,
		2484: 14,
		5180: 36,
		5825: 165,
		5955: 1,
		900:  0,
	}
	for freq, ch := range tests {
		assert.Equal(t, ch, FrequencyToChannel(freq), "frequency %d", freq)
	}
}

func TestParseTxPower(t *testing.T) {
	t.Parallel()
	out := []byte(`Interface wlan0
	ifindex 3
	type managed
	channel 36 (5180 MHz), width: 80 MHz, center1: 5210 MHz
	txpower 31.00 dBm
`)
	assert.Equal(t, "31.00 dBm", parseTxPower(out))
	assert.Equal(t, "", parseTxPower([]byte("Interface eth0\n")))
}

func TestCollector_Collect(t *testing.T) {
	t.Parallel()
	clk := fakeclock.NewFakeClock(time.Now())
	wifiInfo := WiFiInfo{Available: true, Interface: "wlan0", Channel: 6, RSSI: -61}

	c := NewCollector(CollectorConfig{
		Clock:       clk,
		ResetReason: "restart (Err)",
		WiFi:        fakeWiFi{info: wifiInfo},
	})
	clk.Increment(90061 * time.Second)

	info := c.Collect(context.Background())
	assert.Equal(t, 90061*time.Second, info.ProgramUptime)
	assert.Equal(t, "restart (Err)", info.ResetReason)
	assert.Equal(t, wifiInfo, info.WiFi)
	assert.NotEmpty(t, info.Runtime)
	assert.Positive(t, info.HeapAlloc)
}

func TestCollector_DefaultsAndWiFiError(t *testing.T) {
	t.Parallel()
	c := NewCollector(CollectorConfig{WiFi: fakeWiFi{err: errNoStation}})
	info := c.Collect(context.Background())
	require.False(t, info.WiFi.Available)
	assert.Equal(t, ResetPowerOn, info.ResetReason)
}

package sysinfo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mdlayher/wifi"
)

// WiFiInfo describes the station link.
type WiFiInfo struct {
	Available bool   `json:"available"`
	Interface string `json:"interface"`
	SSID      string `json:"ssid"`
	Channel   int    `json:"channel"`
	TxPower   string `json:"tx_power"`
	RSSI      int    `json:"rssi"`
}

type WiFiReader interface {
	Read(ctx context.Context) (WiFiInfo, error)
}

var errNoStation = errors.New("no wifi station interface")

// NL80211Reader reads the first station interface through nl80211.
type NL80211Reader struct{}

func (NL80211Reader) Read(ctx context.Context) (WiFiInfo, error) {
	c, err := wifi.New()
	if err != nil {
		return WiFiInfo{}, fmt.Errorf("open nl80211: %w", err)
	}
	defer c.Close()

	ifis, err := c.Interfaces()
	if err != nil {
		return WiFiInfo{}, fmt.Errorf("list interfaces: %w", err)
	}

	for _, ifi := range ifis {
		if ifi.Type != wifi.InterfaceTypeStation || ifi.Name == "" {
			continue
		}

		info := WiFiInfo{Available: true, Interface: ifi.Name, Channel: FrequencyToChannel(ifi.Frequency)}
		if bss, err := c.BSS(ifi); err == nil {
			info.SSID = bss.SSID
			if ch := FrequencyToChannel(bss.Frequency); ch != 0 {
				info.Channel = ch
			}
		}
		if stations, err := c.StationInfo(ifi); err == nil && len(stations) > 0 {
			info.RSSI = stations[0].Signal
		}
		info.TxPower = txPower(ctx, ifi.Name)
		return info, nil
	}
	return WiFiInfo{}, errNoStation
}

// FrequencyToChannel maps a centre frequency in MHz to its 802.11 channel,
// 0 when unknown.
func FrequencyToChannel(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz < 2484:
		return (mhz - 2407) / 5
	case mhz >= 5000 && mhz < 5925:
		return (mhz - 5000) / 5
	case mhz >= 5955 && mhz <= 7115:
		return (mhz - 5950) / 5
	default:
		return 0
	}
}

// txPower asks iw for the configured transmit power; nl80211 station data
// does not carry it.
func txPower(ctx context.Context, ifname string) string {
	out, err := exec.CommandContext(ctx, "iw", "dev", ifname, "info").Output()
	if err != nil {
		return ""
	}
	return parseTxPower(out)
}

func parseTxPower(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "txpower "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

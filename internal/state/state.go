// Package state holds the clock's shared weather and sync snapshot.
//
// Writers replace whole groups of fields under a single lock and readers
// only ever receive copies, so a partially applied refresh is never
// observable.
package state

import (
	"sync"
	"time"
)

// Weather is one complete provider reading.
type Weather struct {
	Condition      Condition `json:"condition"`
	RawCondition   string    `json:"raw_condition"`
	Temperature    float64   `json:"temperature"`
	Sunrise        int64     `json:"sunrise"`
	Sunset         int64     `json:"sunset"`
	TimezoneOffset int       `json:"timezone_offset"`
	ObservedAt     int64     `json:"observed_at"`
	Payload        []byte    `json:"-"`
}

// IsDaylight reports whether epoch lies strictly between sunrise and sunset.
func (w Weather) IsDaylight(epoch int64) bool {
	return epoch > w.Sunrise && epoch < w.Sunset
}

// Abbreviation is the four character condition text.
func (w Weather) Abbreviation() string {
	return Abbreviate(w.Condition, w.RawCondition)
}

// Snapshot is a point-in-time copy of the ClockState.
type Snapshot struct {
	Weather          Weather       `json:"weather"`
	LastWeatherFetch int64         `json:"last_weather_fetch"`
	LastTimeSync     int64         `json:"last_time_sync"`
	ClockDrift       time.Duration `json:"clock_drift"`
}

// HasWeather reports whether at least one fetch has succeeded.
func (s Snapshot) HasWeather() bool {
	return s.LastWeatherFetch != 0
}

// Location returns the fixed zone described by the weather timezone offset.
func (s Snapshot) Location() *time.Location {
	return time.FixedZone("", s.Weather.TimezoneOffset)
}

// ClockState is the single shared mutable state of the appliance.
type ClockState struct {
	mu   sync.RWMutex
	snap Snapshot
}

func New() *ClockState {
	return &ClockState{}
}

// ApplyWeather replaces every weather field and the fetch timestamp as one
// group. The payload is copied so callers may reuse their buffer.
func (s *ClockState) ApplyWeather(w Weather, fetchedAt time.Time) {
	w.Payload = clonePayload(w.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Weather = w
	s.snap.LastWeatherFetch = fetchedAt.Unix()
}

// RecordTimeSync stores the time and correction of a successful sync.
func (s *ClockState) RecordTimeSync(at time.Time, drift time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastTimeSync = at.Unix()
	s.snap.ClockDrift = drift
}

// Snapshot returns a deep copy of the current state.
func (s *ClockState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Weather.Payload = clonePayload(s.snap.Weather.Payload)
	return snap
}

// TimezoneOffset is the offset from the last successful fetch, 0 before one.
func (s *ClockState) TimezoneOffset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Weather.TimezoneOffset
}


func clonePayload(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

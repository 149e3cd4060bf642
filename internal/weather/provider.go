// Package weather fetches current conditions from remote providers.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"weather-clock/internal/state"
)

var (
	// ErrMissingAPIKey is returned before any request when the provider
	// needs a key and none is configured.
	ErrMissingAPIKey = errors.New("weather api key is empty")
	// ErrMalformedResponse is returned when a response lacks a field the
	// clock depends on. The state is never updated from such a response.
	ErrMalformedResponse = errors.New("malformed weather response")
)

const maxPayloadSize = 1 << 20

// Provider returns one complete reading per call.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (state.Weather, error)
}

// Options configures either provider.
type Options struct {
	APIKey string
	// Location is "City" or "City,CC".
	Location  string
	Latitude  float64
	Longitude float64
	// Units is metric, imperial or standard.
	Units string
	// BaseURL and GeocodingURL override the public endpoints.
	BaseURL      string
	GeocodingURL string
	HTTPClient   *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (o Options) units() string {
	if o.Units == "" {
		return "metric"
	}
	return o.Units
}

func (o Options) hasCoordinates() bool {
	return o.Latitude != 0 || o.Longitude != 0
}

// splitLocation turns "City,CC" into its parts.
func splitLocation(location string) (city, country string) {
	city, country, _ = strings.Cut(location, ",")
	return strings.TrimSpace(city), strings.TrimSpace(country)
}

// NewProvider builds the provider named by name.
func NewProvider(name string, opts Options) (Provider, error) {
	switch name {
	case "", "openweather":
		return NewOpenWeatherClient(opts), nil
	case "openmeteo":
		return NewOpenMeteoClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", name)
	}
}

func getJSON(ctx context.Context, client *http.Client, endpoint, provider string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s bad status: %s", provider, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", provider, err)
	}
	return body, nil
}

// field is a path the clock cannot work without and the JSON type it must
// carry. gjson coerces null and strings to zero, so presence alone is not
// enough.
type field struct {
	path string
	typ  gjson.Type
}

func requiredFields(body []byte, fields []field) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedResponse)
	}

	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = f.path
	}
	values := gjson.GetManyBytes(body, paths...)
	for i, v := range values {
		switch {
		case !v.Exists():
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, fields[i].path)
		case v.Type != fields[i].typ:
			return nil, fmt.Errorf("%w: %s is %s, want %s", ErrMalformedResponse, fields[i].path, v.Type, fields[i].typ)
		}
	}
	return values, nil
}

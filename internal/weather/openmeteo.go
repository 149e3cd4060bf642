package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/tidwall/gjson"

	"weather-clock/internal/state"
)

const (
	openMeteoURL          = "https://api.open-meteo.com/v1/forecast"
	openMeteoGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	kelvinOffset          = 273.15
)

// Times are requested as unix seconds, so every field is numeric.
var openMeteoRequired = []field{
	{"current.time", gjson.Number},
	{"current.temperature_2m", gjson.Number},
	{"current.weather_code", gjson.Number},
	{"utc_offset_seconds", gjson.Number},
	{"daily.sunrise.0", gjson.Number},
	{"daily.sunset.0", gjson.Number},
}

// OpenMeteoClient needs no API key. Locations given by name are geocoded
// once and the coordinates reused.
type OpenMeteoClient struct {
	opts         Options
	baseURL      string
	geocodingURL string
	client       *http.Client

	mu        sync.Mutex
	latitude  float64
	longitude float64
	resolved  bool
}

func NewOpenMeteoClient(opts Options) *OpenMeteoClient {
	c := &OpenMeteoClient{
		opts:         opts,
		baseURL:      opts.BaseURL,
		geocodingURL: opts.GeocodingURL,
		client:       opts.httpClient(),
	}
	if c.baseURL == "" {
		c.baseURL = openMeteoURL
	}
	if c.geocodingURL == "" {
		c.geocodingURL = openMeteoGeocodingURL
	}
	if opts.hasCoordinates() {
		c.latitude, c.longitude, c.resolved = opts.Latitude, opts.Longitude, true
	}
	return c
}

func (c *OpenMeteoClient) Name() string {
	return "openmeteo"
}

func (c *OpenMeteoClient) Fetch(ctx context.Context) (state.Weather, error) {
	lat, lon, err := c.resolveLocation(ctx)
	if err != nil {
		return state.Weather{}, err
	}

	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.6f", lat))
	query.Set("longitude", fmt.Sprintf("%.6f", lon))
	query.Set("current", "temperature_2m,weather_code")
	query.Set("daily", "sunrise,sunset")
	query.Set("timezone", "auto")
	query.Set("timeformat", "unixtime")
	query.Set("forecast_days", "1")
	if c.opts.units() == "imperial" {
		query.Set("temperature_unit", "fahrenheit")
	}

	body, err := getJSON(ctx, c.client, c.baseURL+"?"+query.Encode(), c.Name())
	if err != nil {
		return state.Weather{}, err
	}

	w, err := parseOpenMeteo(body)
	if err != nil {
		return state.Weather{}, err
	}
	if c.opts.units() == "standard" {
		w.Temperature += kelvinOffset
	}
	return w, nil
}

func (c *OpenMeteoClient) resolveLocation(ctx context.Context) (float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return c.latitude, c.longitude, nil
	}

	city, country := splitLocation(c.opts.Location)
	if city == "" {
		return 0, 0, fmt.Errorf("openmeteo location is empty")
	}

	query := url.Values{}
	query.Set("name", city)
	query.Set("count", "1")
	query.Set("format", "json")
	if country != "" {
		query.Set("countryCode", country)
	}

	body, err := getJSON(ctx, c.client, c.geocodingURL+"?"+query.Encode(), "openmeteo geocoding")
	if err != nil {
		return 0, 0, err
	}

	first := gjson.GetBytes(body, "results.0")
	if !first.Exists() {
		return 0, 0, fmt.Errorf("openmeteo geocoding found no results for %q", c.opts.Location)
	}

	c.latitude = first.Get("latitude").Float()
	c.longitude = first.Get("longitude").Float()
	c.resolved = true
	return c.latitude, c.longitude, nil
}

func parseOpenMeteo(body []byte) (state.Weather, error) {
	values, err := requiredFields(body, openMeteoRequired)
	if err != nil {
		return state.Weather{}, err
	}

	raw := openMeteoCondition(int(values[2].Int()))
	return state.Weather{
		Condition:      state.ParseCondition(raw),
		RawCondition:   raw,
		Temperature:    values[1].Float(),
		Sunrise:        values[4].Int(),
		Sunset:         values[5].Int(),
		TimezoneOffset: int(values[3].Int()),
		ObservedAt:     values[0].Int(),
		Payload:        body,
	}, nil
}

// openMeteoCondition maps WMO weather codes to OpenWeather style names.
func openMeteoCondition(code int) string {
	switch code {
	case 0:
		return "Clear"
	case 1, 2, 3:
		return "Clouds"
	case 45, 48:
		return "Fog"
	case 51, 53, 55, 56, 57:
		return "Drizzle"
	case 61, 63, 65, 66, 67, 80, 81, 82:
		return "Rain"
	case 71, 73, 75, 77, 85, 86:
		return "Snow"
	case 95, 96, 99:
		return "Thunderstorm"
	default:
		return ""
	}
}

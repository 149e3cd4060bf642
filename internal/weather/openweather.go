package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"weather-clock/internal/state"
)

const openWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

var openWeatherRequired = []field{
	{"dt", gjson.Number},
	{"main.temp", gjson.Number},
	{"sys.sunrise", gjson.Number},
	{"sys.sunset", gjson.Number},
	{"timezone", gjson.Number},
	{"weather.0.main", gjson.String},
}

type OpenWeatherClient struct {
	opts    Options
	baseURL string
	client  *http.Client
}

func NewOpenWeatherClient(opts Options) *OpenWeatherClient {
	base := opts.BaseURL
	if base == "" {
		base = openWeatherURL
	}
	return &OpenWeatherClient{
		opts:    opts,
		baseURL: base,
		client:  opts.httpClient(),
	}
}

func (c *OpenWeatherClient) Name() string {
	return "openweather"
}

func (c *OpenWeatherClient) Fetch(ctx context.Context) (state.Weather, error) {
	if c.opts.APIKey == "" {
		return state.Weather{}, ErrMissingAPIKey
	}

	query := url.Values{}
	query.Set("appid", c.opts.APIKey)
	query.Set("units", c.opts.units())

	if c.opts.hasCoordinates() {
		query.Set("lat", fmt.Sprintf("%.6f", c.opts.Latitude))
		query.Set("lon", fmt.Sprintf("%.6f", c.opts.Longitude))
	} else if c.opts.Location != "" {
		query.Set("q", c.opts.Location)
	} else {
		return state.Weather{}, fmt.Errorf("openweather location is empty")
	}

	body, err := getJSON(ctx, c.client, c.baseURL+"?"+query.Encode(), c.Name())
	if err != nil {
		return state.Weather{}, err
	}
	return parseOpenWeather(body)
}

func parseOpenWeather(body []byte) (state.Weather, error) {
	values, err := requiredFields(body, openWeatherRequired)
	if err != nil {
		return state.Weather{}, err
	}

	raw := values[5].String()
	return state.Weather{
		Condition:      state.ParseCondition(raw),
		RawCondition:   raw,
		Temperature:    values[1].Float(),
		Sunrise:        values[2].Int(),
		Sunset:         values[3].Int(),
		TimezoneOffset: int(values[4].Int()),
		ObservedAt:     values[0].Int(),
		Payload:        body,
	}, nil
}

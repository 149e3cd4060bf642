package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"weather-clock/internal/quiethours"
)

type Config struct {
	Weather    WeatherConfig    `mapstructure:"weather"`
	TimeSync   TimeSyncConfig   `mapstructure:"timesync"`
	Display    DisplayConfig    `mapstructure:"display"`
	QuietHours QuietHoursConfig `mapstructure:"quiet_hours"`
	API        APIConfig        `mapstructure:"api"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Startup    StartupConfig    `mapstructure:"startup"`
	Log        LogConfig        `mapstructure:"log"`
}

type WeatherConfig struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	Location  string        `mapstructure:"location"`
	Latitude  float64       `mapstructure:"latitude"`
	Longitude float64       `mapstructure:"longitude"`
	Units     string        `mapstructure:"units"`
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type TimeSyncConfig struct {
	Server   string        `mapstructure:"server"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// DryRun logs the synchronised time instead of setting the clock.
	DryRun   bool          `mapstructure:"dry_run"`
}

type DisplayConfig struct {
	Driver  string `mapstructure:"driver"`
	I2CBus  string `mapstructure:"i2c_bus"`
	Address uint16 `mapstructure:"address"`
}

type QuietHoursConfig struct {
	WeekdayStart string   `mapstructure:"weekday_start"`
	WeekendStart string   `mapstructure:"weekend_start"`
	End          string   `mapstructure:"end"`
	Holidays     []string `mapstructure:"holidays"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type DatabaseConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

type StartupConfig struct {
	NetworkTimeout time.Duration `mapstructure:"network_timeout"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Environment names used by earlier firmware builds.
var legacyEnv = map[string]string{
	"weather.location": "LOCATION",
	"weather.units":    "UNITS",
	"weather.api_key":  "APIKEY",
}

// Load reads configuration from an optional .env file, the config file and
// WEATHERCLOCK_ prefixed environment variables, in increasing priority.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/weather-clock")
	}

	setDefaults(v)

	v.SetEnvPrefix("WEATHERCLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "WEATHERCLOCK_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weather.provider", "openweather")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.location", "")
	v.SetDefault("weather.latitude", 0)
	v.SetDefault("weather.longitude", 0)
	v.SetDefault("weather.units", "imperial")
	v.SetDefault("weather.interval", "300s")
	v.SetDefault("weather.timeout", "10s")
	v.SetDefault("timesync.server", "pool.ntp.org")
	v.SetDefault("timesync.interval", "24h")
	v.SetDefault("timesync.timeout", "10s")
	v.SetDefault("timesync.dry_run", false)
	v.SetDefault("display.driver", "console")
	v.SetDefault("display.i2c_bus", "")
	v.SetDefault("display.address", 0x70)
	v.SetDefault("quiet_hours.weekday_start", "06:30")
	v.SetDefault("quiet_hours.weekend_start", "07:30")
	v.SetDefault("quiet_hours.end", "22:00")
	v.SetDefault("quiet_hours.holidays", []string{})
	v.SetDefault("api.port", 80)
	v.SetDefault("api.enabled", true)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "weatherclock")
	v.SetDefault("mqtt.client_id", "weather-clock")
	v.SetDefault("database.path", "./weather-clock.db")
	v.SetDefault("database.retention", "168h")
	v.SetDefault("startup.network_timeout", "60s")
	v.SetDefault("startup.restart_delay", "60s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Weather.Provider {
	case "openweather":
		if c.Weather.APIKey == "" {
			errs = append(errs, errors.New("weather.api_key is required for openweather"))
		}
	case "openmeteo":
	default:
		errs = append(errs, fmt.Errorf("unknown weather.provider %q", c.Weather.Provider))
	}
	if c.Weather.Location == "" && c.Weather.Latitude == 0 && c.Weather.Longitude == 0 {
		errs = append(errs, errors.New("weather.location or coordinates are required"))
	}
	switch c.Weather.Units {
	case "standard", "metric", "imperial":
	default:
		errs = append(errs, fmt.Errorf("unknown weather.units %q", c.Weather.Units))
	}

	switch c.Display.Driver {
	case "console", "ht16k33":
	default:
		errs = append(errs, fmt.Errorf("unknown display.driver %q", c.Display.Driver))
	}

	for name, d := range map[string]time.Duration{
		"weather.interval":        c.Weather.Interval,
		"weather.timeout":         c.Weather.Timeout,
		"timesync.interval":       c.TimeSync.Interval,
		"timesync.timeout":        c.TimeSync.Timeout,
		"startup.network_timeout": c.Startup.NetworkTimeout,
		"startup.restart_delay":   c.Startup.RestartDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if _, err := c.QuietHours.Policy(); err != nil {
		errs = append(errs, err)
	}

	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	return errors.Join(errs...)
}

// Policy builds the quiet hours policy described by the section.
func (q QuietHoursConfig) Policy() (quiethours.Policy, error) {
	p, err := quiethours.New(q.WeekdayStart, q.WeekendStart, q.End, q.Holidays)
	if err != nil {
		return quiethours.Policy{}, fmt.Errorf("quiet_hours: %w", err)
	}
	return p, nil
}

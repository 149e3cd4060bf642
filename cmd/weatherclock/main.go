package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"weather-clock/config"
	"weather-clock/internal/api"
	"weather-clock/internal/display"
	"weather-clock/internal/logger"
	"weather-clock/internal/metrics"
	"weather-clock/internal/mqtt"
	"weather-clock/internal/network"
	"weather-clock/internal/orchestrator"
	"weather-clock/internal/state"
	"weather-clock/internal/storage"
	"weather-clock/internal/sysinfo"
	"weather-clock/internal/tasks"
	"weather-clock/internal/timesync"
	"weather-clock/internal/weather"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weather-clock",
		Short: "LED weather clock",
		Long:  "A four digit LED clock that alternates the time with the outside temperature",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(weatherCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(displayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log, err := logger.New(level, cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func newProvider(cfg config.WeatherConfig) (weather.Provider, error) {
	return weather.NewProvider(cfg.Provider, weather.Options{
		APIKey:    cfg.APIKey,
		Location:  cfg.Location,
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		Units:     cfg.Units,
	})
}

func openDisplay(cfg config.DisplayConfig) (display.Display, func() error, error) {
	switch cfg.Driver {
	case "ht16k33":
		d, err := display.OpenHT16K33(cfg.I2CBus, cfg.Address)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return display.NewConsole(os.Stdout), func() error { return nil }, nil
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the clock",
		Long:  "Bring the clock up and run the weather, time sync, display and status tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			policy, err := cfg.QuietHours.Policy()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			clk := clock.NewClock()
			st := state.New()

			screen, closeScreen, err := openDisplay(cfg.Display)
			if err != nil {
				return fmt.Errorf("failed to open display: %w", err)
			}
			defer func() {
				if err := closeScreen(); err != nil {
					log.Warnw("Failed to close display", "error", err)
				}
			}()

			m := metrics.New()
			m.WatchBrightness(screen)

			db, err := storage.NewDatabase(cfg.Database.Path, cfg.Database.Retention, log.Named("storage"))
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
			log.Infow("Database opened", "path", cfg.Database.Path)

			reporters := tasks.Reporters{m, db}

			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
				Log:         log.Named("mqtt"),
			})
			if err != nil {
				log.Warnw("MQTT connection failed", "error", err)
			} else {
				defer publisher.Close()
				if cfg.MQTT.Enabled {
					if err := publisher.PublishHomeAssistantDiscovery(); err != nil {
						log.Warnw("Failed to publish discovery", "error", err)
					}
					reporters = append(reporters, publisher)
				}
			}

			provider, err := newProvider(cfg.Weather)
			if err != nil {
				return err
			}

			refresh := tasks.NewWeatherRefresh(tasks.WeatherRefreshConfig{
				State:    st,
				Provider: provider,
				Display:  screen,
				Reporter: reporters,
				Clock:    clk,
				Log:      log.Named("weather"),
				Interval: cfg.Weather.Interval,
				Timeout:  cfg.Weather.Timeout,
			})

			timeSync := tasks.NewTimeSync(tasks.TimeSyncConfig{
				State:    st,
				Source:   timesync.NewNTPSource(cfg.TimeSync.Server, cfg.TimeSync.Timeout, clk),
				Setter:   timesync.NewSetter(cfg.TimeSync.DryRun, log.Named("timesync")),
				Reporter: reporters,
				Clock:    clk,
				Log:      log.Named("timesync"),
				Interval: cfg.TimeSync.Interval,
				Timeout:  cfg.TimeSync.Timeout,
			})

			cycle := tasks.NewDisplayCycle(tasks.DisplayCycleConfig{
				State:   st,
				Display: screen,
				Policy:  policy,
				Clock:   clk,
				Log:     log.Named("display"),
			})

			taskList := []orchestrator.Task{refresh, timeSync, cycle}

			if cfg.API.Enabled {
				collector := sysinfo.NewCollector(sysinfo.CollectorConfig{
					Clock:       clk,
					ResetReason: sysinfo.ResetReason(ctx, db),
					WiFi:        sysinfo.NL80211Reader{},
					Log:         log.Named("sysinfo"),
				})
				taskList = append(taskList, api.NewServer(api.ServerConfig{
					Port:     cfg.API.Port,
					State:    st,
					System:   collector,
					Events:   db,
					Display:  screen,
					Cycle:    cycle,
					Metrics:  m.Handler(),
					Clock:    clk,
					Log:      log.Named("api"),
					Location: cfg.Weather.Location,
					Units:    cfg.Weather.Units,
					Provider: provider.Name(),
				}))
			}

			orch := orchestrator.New(orchestrator.Config{
				Network:        network.NewChecker(clk, 0, log.Named("network")),
				Weather:        refresh,
				TimeSync:       timeSync,
				Tasks:          taskList,
				Display:        screen,
				Journal:        db,
				Metrics:        m,
				Restarter:      orchestrator.ExecRestarter{},
				Clock:          clk,
				Log:            log.Named("orchestrator"),
				NetworkTimeout: cfg.Startup.NetworkTimeout,
				RestartDelay:   cfg.Startup.RestartDelay,
			})

			log.Infow("Weather clock starting",
				"provider", provider.Name(),
				"location", cfg.Weather.Location,
				"display", cfg.Display.Driver,
			)

			err = orch.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info("Shutting down")
				return nil
			}
			return err
		},
	}
}

func weatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weather",
		Short: "Fetch the weather once",
		Long:  "Query the configured provider once and print the reading as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			provider, err := newProvider(cfg.Weather)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Weather.Timeout)
			defer cancel()

			reading, err := provider.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch weather: %w", err)
			}

			output, _ := json.MarshalIndent(struct {
				state.Weather
				Provider     string `json:"provider"`
				Abbreviation string `json:"abbreviation"`
				Display      string `json:"display"`
			}{
				Weather:      reading,
				Provider:     provider.Name(),
				Abbreviation: reading.Abbreviation(),
				Display:      display.FormatTemperature(reading.Temperature),
			}, "", "  ")
			fmt.Println(string(output))

			return nil
		},
	}
}

func timeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Query network time once",
		Long:  "Query the configured NTP server and print the local clock offset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			source := timesync.NewNTPSource(cfg.TimeSync.Server, cfg.TimeSync.Timeout, clock.NewClock())
			fmt.Printf("Querying %s...\n", source.Server())

			offset, err := source.Offset(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to query time: %w", err)
			}

			at := time.Now().Add(offset)
			text, _ := display.FormatTime(at.UTC())
			fmt.Printf("  Offset:  %s\n", offset)
			fmt.Printf("  UTC:     %s\n", api.FormatEpoch(at.Unix(), 0))
			fmt.Printf("  Display: %q (UTC)\n", text)

			return nil
		},
	}
}

func displayCmd() *cobra.Command {
	var (
		colon      bool
		brightness float64
		hold       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "display TEXT",
		Short: "Show text on the display",
		Long:  "Write up to four characters to the configured display to check the wiring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			screen, closeScreen, err := openDisplay(cfg.Display)
			if err != nil {
				return fmt.Errorf("failed to open display: %w", err)
			}
			defer closeScreen()

			if err := errors.Join(
				screen.SetBrightness(brightness),
				screen.SetColon(colon),
				screen.Print(args[0]),
			); err != nil {
				return err
			}

			// Closing the backpack blanks it.
			select {
			case <-cmd.Context().Done():
			case <-time.After(hold):
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&colon, "colon", false, "light the colon")
	cmd.Flags().Float64Var(&brightness, "brightness", 1.0, "brightness from 0 to 1")
	cmd.Flags().DurationVar(&hold, "hold", 10*time.Second, "how long to keep the text up")
	return cmd
}

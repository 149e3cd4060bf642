// Package api serves the diagnostic status page and a small JSON API.
//
// Every handler reads a snapshot of the shared state; nothing here writes
// it.
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"weather-clock/internal/state"
	"weather-clock/internal/storage"
	"weather-clock/internal/sysinfo"
	"weather-clock/internal/tasks"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
	shutdownTimeout   = 5 * time.Second
)

type SystemInfo interface {
	Collect(ctx context.Context) sysinfo.Info
}

type EventSource interface {
	RecentEvents(limit int) ([]storage.Event, error)
}

// DisplayControl is the part of the display cycle the server may touch.
type DisplayControl interface {
	Redraw()
	Phase() tasks.Phase
	QuietNow() bool
}

type Brightness interface {
	Brightness() float64
}

type Server struct {
	router   *gin.Engine
	server   *http.Server
	port     int
	state    *state.ClockState
	system   SystemInfo
	events   EventSource
	display  Brightness
	cycle    DisplayControl
	clock    clock.Clock
	log      *zap.SugaredLogger
	location string
	units    string
	provider string
}

type ServerConfig struct {
	Port     int
	State    *state.ClockState
	System   SystemInfo
	Events   EventSource
	Display  Brightness
	Cycle    DisplayControl
	Metrics  http.Handler
	Clock    clock.Clock
	Log      *zap.SugaredLogger
	Location string
	Units    string
	Provider string
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		port:     cfg.Port,
		state:    cfg.State,
		system:   cfg.System,
		events:   cfg.Events,
		display:  cfg.Display,
		cycle:    cfg.Cycle,
		clock:    cfg.Clock,
		log:      cfg.Log,
		location: cfg.Location,
		units:    cfg.Units,
		provider: cfg.Provider,
	}
	if s.clock == nil {
		s.clock = clock.NewClock()
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.log))
	s.setupRoutes(cfg.Metrics)
	return s
}

func (s *Server) setupRoutes(metrics http.Handler) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/*.html"))
	s.router.SetHTMLTemplate(tmpl)

	s.router.GET("/", s.statusPageHandler)
	s.router.HEAD("/", s.statusPageHandler)
	s.router.GET("/health", s.healthHandler)
	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.statusHandler)
		api.GET("/events", s.eventsHandler)
		api.POST("/display/redraw", s.redrawHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Name() string {
	return tasks.TaskStatus
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Status server starting", "port", s.port)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("Status server stopping")
		return s.server.Shutdown(shutdownCtx)
	}
}

type pageData struct {
	Title            string
	System           sysinfo.Info
	Now              string
	LastTimeSync     string
	ClockDrift       time.Duration
	Brightness       float64
	QuietHours       bool
	Phase            string
	SystemUptime     string
	ProgramUptime    string
	Location         string
	Provider         string
	Units            string
	LastWeatherFetch string
	HasWeather       bool
	Sunrise          string
	Sunset           string
	Condition        string
	Abbreviation     string
	Temperature      float64
	TimezoneOffset   int
	Payload          string
	Events           []storage.Event
}

func (s *Server) statusPageHandler(c *gin.Context) {
	snap := s.state.Snapshot()
	offset := snap.Weather.TimezoneOffset
	info := s.collect(c.Request.Context())

	data := pageData{
		Title:            "Weather Clock",
		System:           info,
		Now:              FormatEpoch(s.clock.Now().Unix(), offset),
		LastTimeSync:     formatOptionalEpoch(snap.LastTimeSync, offset),
		ClockDrift:       snap.ClockDrift,
		SystemUptime:     FormatUptime(int64(info.SystemUptime.Seconds())),
		ProgramUptime:    FormatUptime(int64(info.ProgramUptime.Seconds())),
		Location:         s.location,
		Provider:         s.provider,
		Units:            s.units,
		LastWeatherFetch: formatOptionalEpoch(snap.LastWeatherFetch, offset),
		HasWeather:       snap.HasWeather(),
		Sunrise:          FormatEpoch(snap.Weather.Sunrise, offset),
		Sunset:           FormatEpoch(snap.Weather.Sunset, offset),
		Condition:        snap.Weather.Condition.String(),
		Abbreviation:     snap.Weather.Abbreviation(),
		Temperature:      snap.Weather.Temperature,
		TimezoneOffset:   offset,
		Payload:          string(snap.Weather.Payload),
		Events:           s.recentEvents(defaultEventLimit),
	}
	if s.display != nil {
		data.Brightness = s.display.Brightness()
	}
	if s.cycle != nil {
		data.QuietHours = s.cycle.QuietNow()
		data.Phase = s.cycle.Phase().String()
	}

	c.HTML(http.StatusOK, "status.html", data)
}

func (s *Server) healthHandler(c *gin.Context) {
	snap := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"has_weather":   snap.HasWeather(),
		"time_synced":   snap.LastTimeSync != 0,
		"timestamp":     s.clock.Now(),
		"weather_fetch": snap.LastWeatherFetch,
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	snap := s.state.Snapshot()
	resp := gin.H{
		"snapshot":     snap,
		"abbreviation": snap.Weather.Abbreviation(),
		"system":       s.collect(c.Request.Context()),
		"location":     s.location,
		"provider":     s.provider,
		"units":        s.units,
	}
	if s.display != nil {
		resp["brightness"] = s.display.Brightness()
	}
	if s.cycle != nil {
		resp["quiet_hours"] = s.cycle.QuietNow()
		resp["phase"] = s.cycle.Phase().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) eventsHandler(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEventLimit)))
	if err != nil || limit <= 0 || limit > maxEventLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	events, err := s.events.RecentEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) redrawHandler(c *gin.Context) {
	if s.cycle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "display not running"})
		return
	}
	s.cycle.Redraw()
	c.JSON(http.StatusAccepted, gin.H{"status": "redraw requested"})
}

func (s *Server) collect(ctx context.Context) sysinfo.Info {
	if s.system == nil {
		return sysinfo.Info{}
	}
	return s.system.Collect(ctx)
}

func (s *Server) recentEvents(limit int) []storage.Event {
	if s.events == nil {
		return nil
	}
	events, err := s.events.RecentEvents(limit)
	if err != nil {
		s.log.Warnw("Failed to read journal", "error", err)
		return nil
	}
	return events
}

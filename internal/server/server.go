// Package server exposes the twin over HTTP
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/presets"
	"github.com/mrcode/glucose-twin/internal/store"
	"github.com/mrcode/glucose-twin/internal/telemetry"
	"github.com/mrcode/glucose-twin/internal/twin"
)

// Version is reported by /health
var Version = "dev"

// Config wires the server's collaborators
type Config struct {
	Logger         zerolog.Logger
	Pool           *twin.Pool
	Store          store.Store
	Presets        *presets.Library
	Metrics        *telemetry.Metrics
	Settings       *models.Settings
	RateLimitRPS   float64
	RateLimitBurst int
	BodyLimit      string
	Now            func() time.Time
}

// Server is the HTTP API
type Server struct {
	echo     *echo.Echo
	logger   zerolog.Logger
	pool     *twin.Pool
	store    store.Store
	presets  *presets.Library
	settings *models.Settings
	now      func() time.Time

	simulateSchema *validator
	compareSchema  *validator
}

// New builds the echo instance and registers every route
func New(cfg Config) (*Server, error) {
	if cfg.Pool == nil {
		return nil, errors.New("server needs a simulation pool")
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory(0)
	}
	if cfg.Presets == nil {
		lib, err := presets.Load("")
		if err != nil {
			return nil, err
		}
		cfg.Presets = lib
	}
	if cfg.Settings == nil {
		cfg.Settings = models.DefaultSettings()
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "2M"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	simulateSchema, err := newValidator("simulation_request.json")
	if err != nil {
		return nil, err
	}
	compareSchema, err := newValidator("compare_request.json")
	if err != nil {
		return nil, err
	}

	s := &Server{
		echo:           echo.New(),
		logger:         cfg.Logger,
		pool:           cfg.Pool,
		store:          cfg.Store,
		presets:        cfg.Presets,
		settings:       cfg.Settings,
		now:            cfg.Now,
		simulateSchema: simulateSchema,
		compareSchema:  compareSchema,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(cfg.Logger))
	e.Use(RequestID())
	e.Use(Logger(cfg.Logger))
	e.Use(Metrics(cfg.Metrics))

	e.GET("/health", s.health)
	e.GET("/ready", s.ready)
	e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))

	api := e.Group("/api/v1")
	api.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	api.Use(echomw.BodyLimit(cfg.BodyLimit))

	api.GET("/presets", s.listPresets)
	api.POST("/simulations", s.simulate)
	api.POST("/simulations/compare", s.compare)
	api.GET("/simulations/:id", s.getSimulation)
	api.GET("/simulations/:id/chart.png", s.chartPNG)
	api.GET("/simulations/:id/report.html", s.reportHTML)
	api.GET("/patients/:id/simulations", s.listPatientSimulations)

	return s, nil
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Int("workers", s.pool.Workers()).Msg("starting server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

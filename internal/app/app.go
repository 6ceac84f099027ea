// Package app wires configuration into the engine, its storage and its
// outer surfaces
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/mrcode/glucose-twin/internal/config"
	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/presets"
	"github.com/mrcode/glucose-twin/internal/store"
	"github.com/mrcode/glucose-twin/internal/telemetry"
	"github.com/mrcode/glucose-twin/internal/twin"
)

// Version is set at build time
var Version = "dev"

// App holds the long-lived components shared by every command
type App struct {
	cfg      *config.Config
	logger   zerolog.Logger
	settings *models.Settings

	Pool    *twin.Pool
	Presets *presets.Library
	Metrics *telemetry.Metrics

	mu            sync.Mutex
	store         store.Store
	closeStore    func()
	traceShutdown func(context.Context) error
}

// NewLogger builds the process logger. Development mode writes to a console
// writer; anything else writes JSON lines.
func NewLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return logger
}

// New starts tracing and builds the engine pool. reg may be nil, in which
// case metrics go to the default registry.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	shutdown, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		telemetry.Shutdown(ctx, shutdown, logger)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	lib, err := presets.Load(cfg.PresetsFile)
	if err != nil {
		telemetry.Shutdown(ctx, shutdown, logger)
		return nil, err
	}

	engine := twin.New(twin.Config{
		Logger:  logger,
		Tracer:  otel.Tracer(telemetry.TracerName),
		Metrics: metrics,
	})

	return &App{
		cfg:           cfg,
		logger:        logger,
		settings:      cfg.Settings(),
		Pool:          twin.NewPool(engine, cfg.Workers),
		Presets:       lib,
		Metrics:       metrics,
		traceShutdown: shutdown,
	}, nil
}

// Logger returns the process logger
func (a *App) Logger() zerolog.Logger { return a.logger }

// Settings returns a copy of the display and alert settings
func (a *App) Settings() *models.Settings { return a.settings.Clone() }

// Store opens the run archive on first use: Postgres when DATABASE_URL is
// set, otherwise an in-memory store.
func (a *App) Store(ctx context.Context) (store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.DatabaseURL == "" {
		mem := store.NewMemory(0)
		a.store, a.closeStore = mem, mem.Close
		a.logger.Info().Msg("using in-memory run archive")
		return a.store, nil
	}

	pg, err := store.NewPostgres(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.store, a.closeStore = pg, pg.Close
	a.logger.Info().Msg("connected to postgres run archive")
	return a.store, nil
}

// Shutdown closes the archive and flushes spans
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	if a.closeStore != nil {
		a.closeStore()
		a.closeStore = nil
	}
	a.mu.Unlock()

	telemetry.Shutdown(ctx, a.traceShutdown, a.logger)
}

// LoadPatient reads a patient record from path, or from stdin when path is "-"
func LoadPatient(path string) (models.PatientRecord, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return models.PatientRecord{}, fmt.Errorf("open patient file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var rec models.PatientRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return models.PatientRecord{}, fmt.Errorf("parsing patient file: %w", err)
	}
	return rec, nil
}

// LoadScenario reads scenario overrides from a JSON file. Absent fields keep
// their defaults.
func LoadScenario(path string) (models.ScenarioParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ScenarioParams{}, fmt.Errorf("open scenario file: %w", err)
	}
	var s models.ScenarioParams
	if err := json.Unmarshal(data, &s); err != nil {
		return models.ScenarioParams{}, fmt.Errorf("parsing scenario file: %w", err)
	}
	return s, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/monitor"
	"github.com/mrcode/glucose-twin/internal/nightscout"
	"github.com/mrcode/glucose-twin/internal/notifications"
	"github.com/mrcode/glucose-twin/internal/server"
)

const shutdownTimeout = 10 * time.Second

// ErrNotConfigured is returned by Watch when no Nightscout URL is set
var ErrNotConfigured = errors.New("NIGHTSCOUT_URL is not configured")

// Serve runs the HTTP API on addr until ctx ends, then drains in-flight
// requests
func (a *App) Serve(ctx context.Context, addr string) error {
	st, err := a.Store(ctx)
	if err != nil {
		return err
	}

	server.Version = Version
	srv, err := server.New(server.Config{
		Logger:         a.logger,
		Pool:           a.Pool,
		Store:          st,
		Presets:        a.Presets,
		Metrics:        a.Metrics,
		Settings:       a.Settings(),
		RateLimitRPS:   a.cfg.RateLimitRPS,
		RateLimitBurst: a.cfg.RateLimitBurst,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}

// WatchOptions selects the patient and forecast scenario for Watch
type WatchOptions struct {
	Demographics models.PatientRecord
	Scenario     models.ScenarioParams
	// Notify enables alerts through Notifier, or desktop notifications when
	// Notifier is nil
	Notify   bool
	Notifier notifications.Notifier
	// OnCheck, when set, receives the monitor status after every check
	OnCheck func(monitor.Status)
}

// Watch forecasts from live Nightscout data on every WATCH_INTERVAL until
// ctx ends
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	if !a.settings.IsConfigured() {
		return ErrNotConfigured
	}
	interval, err := a.cfg.Interval()
	if err != nil {
		return err
	}
	st, err := a.Store(ctx)
	if err != nil {
		return err
	}

	client := nightscout.NewClient(a.settings.NightscoutURL, a.settings.APISecret, a.settings.APIToken, a.settings.UseToken)
	if err := client.TestConnection(ctx); err != nil {
		// the loop retries on its own schedule
		a.logger.Warn().Err(err).Str("url", a.settings.NightscoutURL).Msg("nightscout not reachable yet")
	}

	var alerter monitor.Alerter
	if opts.Notify {
		alerter = notifications.NewManager(a.Settings(), opts.Notifier)
	}

	m := monitor.New(monitor.Config{
		Interval:     interval,
		HistoryHours: a.settings.HistoryHours,
		Demographics: opts.Demographics,
		Scenario:     opts.Scenario,
		Logger:       a.logger,
		OnCheck:      opts.OnCheck,
	}, client, a.Pool, alerter, st)
	return m.Run(ctx)
}

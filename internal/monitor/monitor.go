// Package monitor periodically imports a patient's Nightscout history,
// forecasts the configured scenario and raises alerts on risky outcomes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/nightscout"
	"github.com/mrcode/glucose-twin/internal/store"
)

// ErrNotEnoughData is returned when the history window holds too few readings
var ErrNotEnoughData = errors.New("not enough glucose readings")

// Source supplies CGM history
type Source interface {
	GetEntriesHours(ctx context.Context, hours int) ([]models.GlucoseEntry, error)
	GetTreatmentsHours(ctx context.Context, hours int) ([]models.Treatment, error)
}

// Simulator runs one forecast
type Simulator interface {
	Simulate(ctx context.Context, req models.SimulationRequest) (models.Response, error)
}

// Alerter raises notifications for a finished run
type Alerter interface {
	NotifyResult(patientID string, resp models.Response) (bool, error)
}

// Archive keeps finished runs
type Archive interface {
	Save(ctx context.Context, rec store.Record) error
}

// Config holds the watch parameters
type Config struct {
	Interval     time.Duration
	HistoryHours int
	MinReadings  int
	Demographics models.PatientRecord
	Scenario     models.ScenarioParams
	Logger       zerolog.Logger
	Now          func() time.Time
	// OnCheck, when set, receives the status after every check in Run
	OnCheck func(Status)
}

// Status is a snapshot of the loop's progress
type Status struct {
	Runs              int       `json:"runs"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastAttempt       time.Time `json:"last_attempt"`
	LastSuccess       time.Time `json:"last_success"`
	LastRunID         string    `json:"last_run_id,omitempty"`
	LastOverallRisk   float64   `json:"last_overall_risk"`
	LastReadings      int       `json:"last_readings"`
	LastGlucose       int       `json:"last_glucose"`
	LastTrend         string    `json:"last_trend,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}

// Monitor runs the watch loop
type Monitor struct {
	cfg     Config
	source  Source
	sim     Simulator
	alerter Alerter
	archive Archive

	mu     sync.RWMutex
	status Status
}

// New creates a monitor. alerter and archive may be nil.
func New(cfg Config, source Source, sim Simulator, alerter Alerter, archive Archive) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.HistoryHours <= 0 {
		cfg.HistoryHours = 24
	}
	if cfg.MinReadings <= 0 {
		cfg.MinReadings = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{cfg: cfg, source: source, sim: sim, alerter: alerter, archive: archive}
}

// Run checks once immediately and then on every interval until ctx ends.
// Individual check failures are logged and counted, never fatal.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.cfg.Logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("history_hours", m.cfg.HistoryHours).
		Str("patient_id", m.cfg.Demographics.ID).
		Msg("watch started")

	m.tick(ctx)
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			m.cfg.Logger.Info().Msg("watch stopped")
			return nil
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	_ = m.Check(ctx)
	if m.cfg.OnCheck != nil {
		m.cfg.OnCheck(m.Status())
	}
}

// Check fetches the history window, forecasts and notifies
func (m *Monitor) Check(ctx context.Context) error {
	now := m.cfg.Now()
	log := m.cfg.Logger

	entries, err := m.source.GetEntriesHours(ctx, m.cfg.HistoryHours)
	if err != nil {
		return m.fail(now, fmt.Errorf("fetching glucose entries: %w", err))
	}

	treatments, err := m.source.GetTreatmentsHours(ctx, m.cfg.HistoryHours)
	if err != nil {
		log.Warn().Err(err).Msg("fetching treatments failed, continuing without insulin history")
		treatments = nil
	}

	record := nightscout.BuildRecord(m.cfg.Demographics, entries, treatments)
	readings := len(record.GlucoseReadings())
	if readings < m.cfg.MinReadings {
		return m.fail(now, fmt.Errorf("%w: %d in the last %d h", ErrNotEnoughData, readings, m.cfg.HistoryHours))
	}

	resp, err := m.sim.Simulate(ctx, models.SimulationRequest{
		PatientData:    record,
		ScenarioParams: m.cfg.Scenario,
	})
	if err != nil {
		return m.fail(now, err)
	}
	if !resp.Success {
		return m.fail(now, fmt.Errorf("simulation failed: %s: %s", resp.Error, resp.Message))
	}

	risk := resp.SimulationResults.RiskScores.OverallRisk
	log.Info().
		Str("run_id", resp.RunID).
		Int("readings", readings).
		Float64("overall_risk", risk).
		Int("alerts", len(resp.SimulationResults.SafetyAlerts)).
		Msg("forecast updated")

	if m.archive != nil {
		if err := m.archive.Save(ctx, store.NewRecord(resp, m.cfg.Demographics.ID, now)); err != nil {
			log.Warn().Err(err).Str("run_id", resp.RunID).Msg("archiving run failed")
		}
	}
	if m.alerter != nil {
		if sent, err := m.alerter.NotifyResult(m.cfg.Demographics.ID, resp); err != nil {
			log.Warn().Err(err).Msg("notification error")
		} else if sent {
			log.Info().Str("run_id", resp.RunID).Msg("alert sent")
		}
	}

	m.mu.Lock()
	m.status.Runs++
	m.status.ConsecutiveErrors = 0
	m.status.LastAttempt = now
	m.status.LastSuccess = now
	m.status.LastRunID = resp.RunID
	m.status.LastOverallRisk = risk
	m.status.LastReadings = readings
	if latest, ok := newest(entries); ok {
		m.status.LastGlucose = latest.SGV
		m.status.LastTrend = latest.TrendArrow()
	}
	m.status.LastError = ""
	m.mu.Unlock()
	return nil
}

func (m *Monitor) fail(now time.Time, err error) error {
	m.mu.Lock()
	m.status.ConsecutiveErrors++
	m.status.LastAttempt = now
	m.status.LastError = err.Error()
	attempt := m.status.ConsecutiveErrors
	lastSuccess := m.status.LastSuccess
	m.mu.Unlock()

	ev := m.cfg.Logger.Warn().Err(err).Int("attempt", attempt)
	if !lastSuccess.IsZero() {
		ev = ev.Dur("since_success", now.Sub(lastSuccess))
	}
	ev.Msg("watch check failed")
	return err
}

func newest(entries []models.GlucoseEntry) (models.GlucoseEntry, bool) {
	var latest models.GlucoseEntry
	found := false
	for _, e := range entries {
		if e.IsValid() && (!found || e.Date > latest.Date) {
			latest, found = e, true
		}
	}
	return latest, found
}

// Status returns a snapshot of the loop state
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

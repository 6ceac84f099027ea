// Package twin runs the full digital-twin pipeline for one patient and
// scenario: profile, inputs, integration, metrics, risk, advice and summary.
package twin

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrcode/glucose-twin/internal/advisor"
	"github.com/mrcode/glucose-twin/internal/glycemic"
	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/pkpd"
	"github.com/mrcode/glucose-twin/internal/profile"
	"github.com/mrcode/glucose-twin/internal/risk"
	"github.com/mrcode/glucose-twin/internal/simulation"
	"github.com/mrcode/glucose-twin/internal/solver"
	"github.com/mrcode/glucose-twin/internal/summary"
	"github.com/mrcode/glucose-twin/internal/telemetry"
)

// Failure types reported in the error field
const (
	ErrTypeSimulation  = "simulation_error"
	ErrTypeIntegration = "integration_error"
	ErrTypeCancelled   = "cancelled"
	ErrTypeInternal    = "internal_error"
)

// Noise defaults
const (
	DefaultNoiseScale = 1.0
	MaxNoiseScale     = 3.0
	ProfileJitter     = 0.03 // relative sd of ISF/ICR jitter at noise scale 1
)

// IntegrationMethod is reported in the simulation quality block
const IntegrationMethod = "RK45 (Dormand-Prince)"

// Recorder receives one observation per run
type Recorder interface {
	ObserveRun(outcome string, d time.Duration, stepFailures int, overallRisk float64)
}

// Config wires the engine's collaborators. Zero values select defaults.
type Config struct {
	Logger             zerolog.Logger
	Tracer             trace.Tracer
	Metrics            Recorder
	Thresholds         risk.Thresholds
	Solver             solver.Options
	TopRecommendations int
	Now                func() time.Time
}

// Engine is stateless between runs and safe for concurrent use
type Engine struct {
	logger     zerolog.Logger
	tracer     trace.Tracer
	metrics    Recorder
	thresholds risk.Thresholds
	solver     solver.Options
	topN       int
	now        func() time.Time
}

// New builds an engine from cfg
func New(cfg Config) *Engine {
	e := &Engine{
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		metrics:    cfg.Metrics,
		thresholds: cfg.Thresholds,
		solver:     cfg.Solver,
		topN:       cfg.TopRecommendations,
		now:        cfg.Now,
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(telemetry.TracerName)
	}
	if e.thresholds == (risk.Thresholds{}) {
		e.thresholds = risk.DefaultThresholds()
	}
	if e.solver == (solver.Options{}) {
		e.solver = solver.DefaultOptions()
	}
	if e.topN <= 0 {
		e.topN = summary.DefaultTopRecommendations
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Simulate runs one request. It never panics: unexpected faults and
// wholesale failures come back as the failure contract.
func (e *Engine) Simulate(ctx context.Context, req models.SimulationRequest) (resp models.Response) {
	start := e.now()
	runID := uuid.NewString()
	log := e.logger.With().Str("run_id", runID).Str("patient_id", req.PatientData.ID).Logger()

	ctx, span := e.tracer.Start(ctx, "twin.simulate", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("patient.id", req.PatientData.ID),
	))
	defer span.End()

	var failures int
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("simulation panicked")
			span.SetStatus(codes.Error, "panic")
			resp = models.Failure(ErrTypeInternal, fmt.Sprintf("unexpected simulation fault: %v", r))
		}

		outcome, overall := telemetry.OutcomeSuccess, 0.0
		if !resp.Success {
			outcome = telemetry.OutcomeFailure
		} else if resp.SimulationResults != nil {
			overall = resp.SimulationResults.RiskScores.OverallRisk
		}
		if e.metrics != nil {
			e.metrics.ObserveRun(outcome, e.now().Sub(start), failures, overall)
		}
	}()

	out, err := e.run(ctx, log, runID, start, req, &failures)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Msg("simulation failed")
		return models.Failure(errorType(err), err.Error())
	}

	if n := sanitize(&out); n > 0 {
		log.Warn().Int("replaced", n).Msg("non-finite values replaced in response")
	}
	return out
}

func (e *Engine) run(ctx context.Context, log zerolog.Logger, runID string, start time.Time, req models.SimulationRequest, failures *int) (models.Response, error) {
	noise := DefaultNoiseScale
	if req.NoiseScale != nil {
		noise = max(0, min(MaxNoiseScale, *req.NoiseScale))
	}
	var seed uint64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = uint64(start.UnixNano())
	}
	var rng *rand.Rand
	if noise > 0 {
		rng = NewRand(seed)
	}
	s := req.ScenarioParams.Normalize()

	_, span := e.tracer.Start(ctx, "profile.build")
	p := profile.Build(req.PatientData, profile.Options{Rand: rng, Jitter: ProfileJitter * noise, Now: start})
	model := pkpd.NewModel(p)
	p = model.Profile()
	in := simulation.BuildInputs(p, s, rng)
	span.End()

	ictx, span := e.tracer.Start(ctx, "simulation.integrate", trace.WithAttributes(attribute.Int("steps", in.Steps())))
	traj, err := simulation.Run(ictx, model, in, simulation.Options{
		Rand:       rng,
		NoiseScale: noise,
		Solver:     e.solver,
		Logger:     &log,
	})
	*failures = traj.Failures
	span.SetAttributes(attribute.Int("solver.failures", traj.Failures), attribute.Int("solver.accepted", traj.Accepted))
	span.End()
	if err != nil {
		return models.Response{}, fmt.Errorf("integrating scenario: %w", err)
	}

	_, span = e.tracer.Start(ctx, "analysis")
	// the grid step, which differs from the requested step when it does not divide the horizon
	stepMinutes := in.StepHours * 60
	metrics := glycemic.Calculate(traj.Times, traj.Glucose, stepMinutes)
	risks := risk.Assess(metrics, traj.Glucose, stepMinutes, s, e.thresholds)
	advice := advisor.Input{Profile: p, Scenario: s, Metrics: metrics, Risks: risks}
	alerts := advisor.Alerts(advice)
	recs := advisor.Recommendations(advice)
	span.End()

	_, span = e.tracer.Start(ctx, "summary")
	mindmap := summary.Mindmap(p, s, metrics, risks, recs, e.topN)
	comparison := summary.Compare(req.PatientData, p, metrics)
	confidence := summary.Confidence(req.PatientData, p, risks, metrics, len(traj.Warnings), start)
	span.End()

	warnings := traj.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	results := &models.SimulationResults{
		TimePoints:         traj.Times,
		GlucoseLevels:      traj.Glucose,
		InsulinLevels:      traj.Insulin,
		InterstitialLevels: traj.Interstitial,
		GlucoseMetrics:     metrics,
		RiskScores:         risks,
		SafetyAlerts:       nonNil(alerts),
		Recommendations:    nonNil(recs),
		ScenarioSummary: models.ScenarioSummary{
			Parameters:               s,
			AdjustedBasalRate:        in.AdjustedBasalRate,
			AdjustedCarbRatio:        in.AdjustedCarbRatio,
			AdjustedCorrectionFactor: in.AdjustedCorrectionFactor,
			MealBolusUnits:           in.MealBolusUnits,
			CorrectionBolusUnits:     in.CorrectionBolusUnits,
			TotalBasalUnits:          in.TotalBasalUnits(),
			TotalInsulinUnits:        in.TotalInsulinUnits(),
			TotalCarbs:               s.MealCarbs,
			MealTimeHours:            in.MealTimeHours,
			ExerciseStartHours:       in.ExerciseStartHours,
			ExerciseEndHours:         in.ExerciseEndHours,
			StepMinutes:              stepMinutes,
			DataPoints:               len(traj.Times),
			SolverFailures:           traj.Failures,
			Warnings:                 warnings,
		},
	}

	elapsed := e.now().Sub(start)
	resp := models.Response{
		Success:           true,
		RunID:             runID,
		PatientProfile:    &p,
		SimulationResults: results,
		MindmapData:       &mindmap,
		ComparisonData:    &comparison,
		AdvancedAnalytics: &models.AdvancedAnalytics{
			ModelConfidence:      confidence,
			ClinicalSignificance: comparison.ClinicalSignificance,
			SimulationQuality: models.SimulationQuality{
				IntegrationMethod: IntegrationMethod,
				RelativeTolerance: e.solver.RelTol,
				AbsoluteTolerance: e.solver.AbsTol,
				DataPoints:        len(traj.Times),
				SolverFailures:    traj.Failures,
				WarningCount:      len(traj.Warnings),
				NoiseScale:        noise,
				Seed:              seed,
				DurationMs:        float64(elapsed.Microseconds()) / 1000,
			},
			PatientFactors: summary.PatientFactors(p),
		},
	}

	log.Debug().
		Float64("peak", metrics.PeakGlucose).
		Float64("tir", metrics.TIR70180).
		Float64("overall_risk", risks.OverallRisk).
		Int("alerts", len(alerts)).
		Dur("elapsed", elapsed).
		Msg("simulation complete")
	return resp, nil
}

// NewRand returns the generator used for a seeded run
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrTypeCancelled
	case errors.Is(err, simulation.ErrIntegrationFailed):
		return ErrTypeIntegration
	}
	return ErrTypeSimulation
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package twin

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/summary"
)

var fixedNow = time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return New(Config{Now: func() time.Time { return fixedNow }})
}

func referencePatient() models.PatientRecord {
	return models.PatientRecord{
		ID:           "ref-t2",
		Age:          models.N(55),
		WeightKg:     models.N(80),
		HeightCm:     models.N(170),
		DiabetesType: "T2",
		Measurements: []models.Measurement{{Date: "2024-06-01", HbA1c: models.N(8.2)}},
	}
}

func request(mutate func(*models.ScenarioParams)) models.SimulationRequest {
	s := models.DefaultScenario()
	s.SimulationHours = 12
	if mutate != nil {
		mutate(&s)
	}
	zero := 0.0
	return models.SimulationRequest{PatientData: referencePatient(), ScenarioParams: s, NoiseScale: &zero}
}

func mustSucceed(t *testing.T, resp models.Response) *models.SimulationResults {
	t.Helper()
	if !resp.Success {
		t.Fatalf("simulation failed: %s: %s", resp.Error, resp.Message)
	}
	if resp.SimulationResults == nil || resp.PatientProfile == nil || resp.MindmapData == nil ||
		resp.ComparisonData == nil || resp.AdvancedAnalytics == nil {
		t.Fatalf("successful response missing sections: %+v", resp)
	}
	return resp.SimulationResults
}

func TestSimulate_MealScenario(t *testing.T) {
	e := testEngine()
	ctx := context.Background()

	withMeal := mustSucceed(t, e.Simulate(ctx, request(nil)))
	noMeal := mustSucceed(t, e.Simulate(ctx, request(func(s *models.ScenarioParams) { s.MealCarbs = 0 })))

	m := withMeal.GlucoseMetrics
	if m.PeakTimeHours < 1 || m.PeakTimeHours > 4 {
		t.Errorf("peak %v at %vh, want between 1h and 4h", m.PeakGlucose, m.PeakTimeHours)
	}
	if m.TIR70180 >= noMeal.GlucoseMetrics.TIR70180 {
		t.Errorf("TIR with meal %v should be below TIR without meal %v", m.TIR70180, noMeal.GlucoseMetrics.TIR70180)
	}

	if n := len(withMeal.TimePoints); n != 145 {
		t.Errorf("time points = %d, want 145", n)
	}
	if len(withMeal.GlucoseLevels) != len(withMeal.TimePoints) || len(withMeal.InsulinLevels) != len(withMeal.TimePoints) {
		t.Errorf("array lengths differ")
	}
	if withMeal.ScenarioSummary.MealBolusUnits <= 0 {
		t.Errorf("meal bolus = %v", withMeal.ScenarioSummary.MealBolusUnits)
	}
}

func TestSimulate_ExerciseWithMoreBasalIsRiskier(t *testing.T) {
	e := testEngine()
	ctx := context.Background()
	exercise := func(basal float64) func(*models.ScenarioParams) {
		return func(s *models.ScenarioParams) {
			s.ExerciseIntensity, s.ExerciseDuration, s.BasalChange = 80, 45, basal
		}
	}

	plain := mustSucceed(t, e.Simulate(ctx, request(exercise(0))))
	boosted := mustSucceed(t, e.Simulate(ctx, request(exercise(20))))

	if boosted.RiskScores.ExerciseRelatedRisk <= plain.RiskScores.ExerciseRelatedRisk {
		t.Errorf("exercise risk with +20%% basal %v should exceed %v",
			boosted.RiskScores.ExerciseRelatedRisk, plain.RiskScores.ExerciseRelatedRisk)
	}
}

func TestSimulate_Reproducible(t *testing.T) {
	e := testEngine()
	seed := uint64(42)
	req := request(nil)
	req.Seed = &seed
	req.NoiseScale = nil

	a := e.Simulate(context.Background(), req)
	b := e.Simulate(context.Background(), req)
	mustSucceed(t, a)
	mustSucceed(t, b)

	if !reflect.DeepEqual(a.SimulationResults.GlucoseLevels, b.SimulationResults.GlucoseLevels) {
		t.Error("same seed produced different glucose trajectories")
	}
	if !reflect.DeepEqual(a.PatientProfile, b.PatientProfile) {
		t.Error("same seed produced different profiles")
	}
	if got := a.AdvancedAnalytics.SimulationQuality.Seed; got != seed {
		t.Errorf("seed echoed = %d, want %d", got, seed)
	}

	other := uint64(43)
	req.Seed = &other
	c := e.Simulate(context.Background(), req)
	if reflect.DeepEqual(a.SimulationResults.GlucoseLevels, c.SimulationResults.GlucoseLevels) {
		t.Error("different seeds produced identical noisy trajectories")
	}
}

func TestSimulate_SeedIsEchoedWhenAbsent(t *testing.T) {
	resp := testEngine().Simulate(context.Background(), request(nil))
	mustSucceed(t, resp)
	if got := resp.AdvancedAnalytics.SimulationQuality.Seed; got != uint64(fixedNow.UnixNano()) {
		t.Errorf("seed = %d, want time-derived %d", got, fixedNow.UnixNano())
	}
	if resp.RunID == "" {
		t.Error("run id missing")
	}
}

func TestSimulate_AlertsComplete(t *testing.T) {
	resp := testEngine().Simulate(context.Background(), request(func(s *models.ScenarioParams) {
		s.BasalChange, s.BolusChange = 80, 80
		s.ExerciseIntensity, s.ExerciseDuration = 90, 60
		s.MealCarbs = 120
	}))
	res := mustSucceed(t, resp)

	for _, want := range []string{"change of", "exercise", "large meal"} {
		found := false
		for _, a := range res.SafetyAlerts {
			if strings.Contains(strings.ToLower(a), strings.ToLower(want)) {
				found = true
			}
		}
		if !found {
			t.Errorf("no alert mentioning %q in %q", want, res.SafetyAlerts)
		}
	}
	if len(res.Recommendations) == 0 {
		t.Error("expected recommendations")
	}
}

func TestSimulate_OutputBounds(t *testing.T) {
	resp := testEngine().Simulate(context.Background(), request(nil))
	res := mustSucceed(t, resp)

	for i, g := range res.GlucoseLevels {
		if g < 20 || g > 600 {
			t.Fatalf("glucose[%d] = %v out of bounds", i, g)
		}
	}
	for _, v := range res.RiskScores.Components() {
		if v < 0 || v > 100 {
			t.Errorf("risk component %v out of range", v)
		}
	}
	c := resp.AdvancedAnalytics.ModelConfidence
	if c < summary.MinConfidence || c > summary.MaxConfidence {
		t.Errorf("confidence %v out of range", c)
	}
	if _, err := json.Marshal(resp); err != nil {
		t.Errorf("response does not serialize: %v", err)
	}
}

type panicTracer struct {
	noop.Tracer
	on string
}

func (p panicTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if name == p.on {
		panic("boom")
	}
	return p.Tracer.Start(ctx, name, opts...)
}

type countingRecorder struct {
	outcomes []string
}

func (c *countingRecorder) ObserveRun(outcome string, _ time.Duration, _ int, _ float64) {
	c.outcomes = append(c.outcomes, outcome)
}

func TestSimulate_PanicBecomesFailure(t *testing.T) {
	rec := &countingRecorder{}
	e := New(Config{Tracer: panicTracer{on: "analysis"}, Metrics: rec})

	resp := e.Simulate(context.Background(), request(nil))

	if resp.Success || resp.Error != ErrTypeInternal || !strings.Contains(resp.Message, "boom") {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.SimulationResults != nil || resp.PatientProfile != nil || resp.RunID != "" {
		t.Errorf("failure should carry only success, error and message: %+v", resp)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "failure" {
		t.Errorf("recorded outcomes = %v", rec.outcomes)
	}

	b, _ := json.Marshal(resp)
	var fields map[string]any
	_ = json.Unmarshal(b, &fields)
	if len(fields) != 3 {
		t.Errorf("failure JSON has %d fields: %s", len(fields), b)
	}
}

func TestSimulate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := testEngine().Simulate(ctx, request(nil))
	if resp.Success || resp.Error != ErrTypeCancelled {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSimulate_EmptyRequestUsesDefaults(t *testing.T) {
	resp := testEngine().Simulate(context.Background(), models.SimulationRequest{})
	res := mustSucceed(t, resp)

	got := res.ScenarioSummary.Parameters
	if got.SimulationHours != 24 || got.TimeStepMinutes != 5 || got.MealCarbs != 60 || got.MealTiming != 60 {
		t.Errorf("scenario = %+v, want 24 h / 5 min / 60 g at 60 min", got)
	}
	if len(res.TimePoints) != 289 {
		t.Errorf("time points = %d, want 289", len(res.TimePoints))
	}
	if res.ScenarioSummary.MealBolusUnits <= 0 {
		t.Error("default meal should carry a bolus")
	}
	if !resp.ComparisonData.Baseline.Estimated {
		t.Error("baseline without history should be flagged as estimated")
	}
}

func TestSimulate_PartialScenarioGetsDefaultGrid(t *testing.T) {
	req := request(nil)
	req.ScenarioParams = models.ScenarioParams{MealCarbs: 45}

	res := mustSucceed(t, testEngine().Simulate(context.Background(), req))
	if p := res.ScenarioSummary.Parameters; p.SimulationHours != 24 || p.TimeStepMinutes != 5 || p.MealCarbs != 45 {
		t.Errorf("scenario = %+v", p)
	}
}

func TestSimulate_StepFollowsGrid(t *testing.T) {
	tests := []struct {
		name        string
		hours, step float64
		points      int
		want        float64
	}{
		{"divides horizon", 12, 5, 145, 5},
		{"seven minutes over a day", 24, 7, 207, 24 * 60 / 206.0},
		{"step longer than half the horizon", 1, 45, 2, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testEngine().Simulate(context.Background(), request(func(s *models.ScenarioParams) {
				s.SimulationHours, s.TimeStepMinutes = tt.hours, tt.step
			}))
			res := mustSucceed(t, resp)
			if len(res.TimePoints) != tt.points {
				t.Errorf("time points = %d, want %d", len(res.TimePoints), tt.points)
			}
			if got := res.ScenarioSummary.StepMinutes; math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("step = %v min, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	resp := models.Response{
		SimulationResults: &models.SimulationResults{
			GlucoseLevels:  []float64{1, math.NaN(), math.Inf(1)},
			GlucoseMetrics: models.GlucoseMetrics{CV: math.NaN()},
		},
		AdvancedAnalytics: &models.AdvancedAnalytics{ModelConfidence: math.Inf(-1)},
	}
	if n := sanitize(&resp); n != 4 {
		t.Errorf("sanitize replaced %d values, want 4", n)
	}
	if resp.SimulationResults.GlucoseLevels[1] != 0 || resp.SimulationResults.GlucoseMetrics.CV != 0 {
		t.Errorf("values not zeroed: %+v", resp.SimulationResults)
	}
	if _, err := json.Marshal(resp); err != nil {
		t.Errorf("sanitized response does not serialize: %v", err)
	}
}

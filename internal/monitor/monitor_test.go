package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/store"
	"github.com/mrcode/glucose-twin/internal/twin"
)

var now = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu            sync.Mutex
	entries       []models.GlucoseEntry
	entriesErr    error
	treatmentsErr error
	calls         int
}

func (s *fakeSource) GetEntriesHours(_ context.Context, _ int) ([]models.GlucoseEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.entries, s.entriesErr
}

func (s *fakeSource) GetTreatmentsHours(_ context.Context, _ int) ([]models.Treatment, error) {
	if s.treatmentsErr != nil {
		return nil, s.treatmentsErr
	}
	return []models.Treatment{{EventType: models.EventBolus, CreatedAt: "2025-01-10T09:00:00Z", Insulin: 4}}, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSim struct {
	last models.SimulationRequest
	resp models.Response
}

func (f *fakeSim) Simulate(_ context.Context, req models.SimulationRequest) (models.Response, error) {
	f.last = req
	return f.resp, nil
}

type fakeAlerter struct {
	patients []string
}

func (a *fakeAlerter) NotifyResult(patientID string, _ models.Response) (bool, error) {
	a.patients = append(a.patients, patientID)
	return true, nil
}

func readings(n int) []models.GlucoseEntry {
	var out []models.GlucoseEntry
	for i := range n {
		out = append(out, models.GlucoseEntry{SGV: 110 + i, Date: now.Add(-time.Duration(i*5) * time.Minute).UnixMilli()})
	}
	return out
}

func okResponse() models.Response {
	return models.Response{
		Success: true,
		RunID:   "0b8f1a8e-2b61-4bd4-9a5b-6f3a0f5e2d11",
		SimulationResults: &models.SimulationResults{
			RiskScores: models.RiskScores{OverallRisk: 42},
		},
	}
}

func newMonitor(src Source, sim Simulator, alerter Alerter, archive Archive) *Monitor {
	return New(Config{
		Demographics: models.PatientRecord{ID: "p1", DiabetesType: "type 1"},
		Scenario:     models.DefaultScenario(),
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return now },
	}, src, sim, alerter, archive)
}

func TestCheck_Success(t *testing.T) {
	src := &fakeSource{entries: readings(12)}
	sim := &fakeSim{resp: okResponse()}
	alerter := &fakeAlerter{}
	archive := store.NewMemory(10)
	m := newMonitor(src, sim, alerter, archive)

	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if got := len(sim.last.PatientData.GlucoseReadings()); got != 12 {
		t.Errorf("simulated with %d readings, want 12", got)
	}
	if sim.last.PatientData.DiabetesType != "type 1" {
		t.Error("demographics not passed to the simulation")
	}
	if len(alerter.patients) != 1 || alerter.patients[0] != "p1" {
		t.Errorf("alerts = %v", alerter.patients)
	}
	rec, err := archive.Get(context.Background(), okResponse().RunID)
	if err != nil || rec.PatientID != "p1" || rec.OverallRisk != 42 {
		t.Errorf("archived = %+v, %v", rec, err)
	}

	st := m.Status()
	if st.Runs != 1 || st.ConsecutiveErrors != 0 || st.LastOverallRisk != 42 || st.LastReadings != 12 || !st.LastSuccess.Equal(now) {
		t.Errorf("status = %+v", st)
	}
	if st.LastGlucose != 110 || st.LastTrend != "-" {
		t.Errorf("latest reading = %d %q, want 110 -", st.LastGlucose, st.LastTrend)
	}
}

func TestCheck_Failures(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		name    string
		src     *fakeSource
		resp    models.Response
		wantErr error
	}{
		{"fetch error", &fakeSource{entriesErr: boom}, okResponse(), boom},
		{"too few readings", &fakeSource{entries: readings(2)}, okResponse(), ErrNotEnoughData},
		{"engine failure", &fakeSource{entries: readings(10)}, models.Failure("simulation_error", "bad"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerter := &fakeAlerter{}
			m := newMonitor(tt.src, &fakeSim{resp: tt.resp}, alerter, nil)

			for i := 1; i <= 3; i++ {
				err := m.Check(context.Background())
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				if got := m.Status().ConsecutiveErrors; got != i {
					t.Errorf("consecutive errors = %d, want %d", got, i)
				}
			}
			if len(alerter.patients) != 0 {
				t.Error("failed checks must not notify")
			}
			if m.Status().LastError == "" {
				t.Error("last error not recorded")
			}
		})
	}
}

func TestCheck_RecoveryResetsErrors(t *testing.T) {
	src := &fakeSource{entriesErr: errors.New("timeout")}
	m := newMonitor(src, &fakeSim{resp: okResponse()}, nil, nil)

	_ = m.Check(context.Background())
	_ = m.Check(context.Background())
	src.entriesErr = nil
	src.entries = readings(6)

	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if st := m.Status(); st.ConsecutiveErrors != 0 || st.LastError != "" || st.Runs != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestCheck_TreatmentErrorIsNotFatal(t *testing.T) {
	src := &fakeSource{entries: readings(5), treatmentsErr: errors.New("403")}
	sim := &fakeSim{resp: okResponse()}
	m := newMonitor(src, sim, nil, nil)

	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	for _, meas := range sim.last.PatientData.Measurements {
		if meas.InsulinUnits.Valid {
			t.Error("no insulin history expected")
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{entries: readings(5)}
	var mu sync.Mutex
	var seen []Status
	m := New(Config{
		Interval: 10 * time.Millisecond,
		Logger:   zerolog.Nop(),
		OnCheck: func(st Status) {
			mu.Lock()
			seen = append(seen, st)
			mu.Unlock()
		},
	}, src, &fakeSim{resp: okResponse()}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for src.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d checks ran", src.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("OnCheck called %d times", len(seen))
	}
	for i, st := range seen {
		if st.Runs != i+1 {
			t.Errorf("status %d runs = %d", i, st.Runs)
		}
	}
}

func TestCheck_WithEngine(t *testing.T) {
	engine := twin.New(twin.Config{Logger: zerolog.Nop(), Now: func() time.Time { return now }})
	pool := twin.NewPool(engine, 1)

	scenario := models.DefaultScenario()
	scenario.SimulationHours = 6
	m := New(Config{
		Demographics: models.PatientRecord{ID: "p1", DiabetesType: "type 1", WeightKg: models.N(70)},
		Scenario:     scenario,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return now },
	}, &fakeSource{entries: readings(24)}, pool, nil, nil)

	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	st := m.Status()
	if st.LastRunID == "" || st.LastOverallRisk < 0 || st.LastOverallRisk > 100 {
		t.Errorf("status = %+v", st)
	}
}

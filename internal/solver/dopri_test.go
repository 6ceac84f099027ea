package solver

import (
	"errors"
	"math"
	"testing"
)

func TestIntegrate_ExponentialDecay(t *testing.T) {
	in := New(1, DefaultOptions())
	y := []float64{1}

	stats, err := in.Integrate(func(_ float64, y, dydt []float64) {
		dydt[0] = -y[0]
	}, 0, 1, y)
	if err != nil {
		t.Fatalf("Integrate() error = %v", err)
	}

	want := math.Exp(-1)
	if math.Abs(y[0]-want) > 1e-5 {
		t.Errorf("y(1) = %.10f, want %.10f", y[0], want)
	}
	if stats.Accepted == 0 {
		t.Error("expected accepted steps")
	}
}

func TestIntegrate_HarmonicOscillator(t *testing.T) {
	in := New(2, DefaultOptions())
	y := []float64{1, 0}
	f := func(_ float64, y, dydt []float64) {
		dydt[0] = y[1]
		dydt[1] = -y[0]
	}

	// integrate one full period in output chunks, as the simulator does
	steps := 60
	dt := 2 * math.Pi / float64(steps)
	for i := 0; i < steps; i++ {
		if _, err := in.Integrate(f, float64(i)*dt, float64(i+1)*dt, y); err != nil {
			t.Fatalf("Integrate() step %d error = %v", i, err)
		}
	}

	if math.Abs(y[0]-1) > 1e-4 || math.Abs(y[1]) > 1e-4 {
		t.Errorf("after one period y = %v, want [1 0]", y)
	}
}

func TestIntegrate_TimeDependent(t *testing.T) {
	in := New(1, DefaultOptions())
	y := []float64{0}

	// y' = 2t, y(3) = 9
	if _, err := in.Integrate(func(t float64, _, dydt []float64) {
		dydt[0] = 2 * t
	}, 0, 3, y); err != nil {
		t.Fatalf("Integrate() error = %v", err)
	}
	if math.Abs(y[0]-9) > 1e-6 {
		t.Errorf("y(3) = %v, want 9", y[0])
	}
}

func TestIntegrate_NonFiniteLeavesStateUnchanged(t *testing.T) {
	in := New(2, DefaultOptions())
	y := []float64{5, 7}

	_, err := in.Integrate(func(_ float64, _, dydt []float64) {
		dydt[0] = math.NaN()
		dydt[1] = 1
	}, 0, 1, y)
	if !errors.Is(err, ErrNonFinite) {
		t.Fatalf("Integrate() error = %v, want ErrNonFinite", err)
	}
	if y[0] != 5 || y[1] != 7 {
		t.Errorf("state changed on failure: %v", y)
	}
}

func TestIntegrate_BlowUpFails(t *testing.T) {
	in := New(1, DefaultOptions())
	y := []float64{1}

	// y' = y^2 escapes to infinity at t = 1
	_, err := in.Integrate(func(_ float64, y, dydt []float64) {
		dydt[0] = y[0] * y[0]
	}, 0, 2, y)
	if err == nil {
		t.Fatal("expected an error integrating through a singularity")
	}
	if y[0] != 1 {
		t.Errorf("state changed on failure: %v", y)
	}
}

func TestIntegrate_DimensionMismatch(t *testing.T) {
	in := New(3, DefaultOptions())
	if _, err := in.Integrate(func(float64, []float64, []float64) {}, 0, 1, []float64{1}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestIntegrate_EmptySpan(t *testing.T) {
	in := New(1, DefaultOptions())
	y := []float64{2}
	calls := 0
	if _, err := in.Integrate(func(_ float64, _, dydt []float64) {
		calls++
		dydt[0] = 1
	}, 1, 1, y); err != nil {
		t.Fatalf("Integrate() error = %v", err)
	}
	if calls != 0 || y[0] != 2 {
		t.Errorf("empty span should be a no-op, calls=%d y=%v", calls, y)
	}
}

func TestStepFactor(t *testing.T) {
	tests := []struct {
		name    string
		err     float64
		maxGrow float64
		want    float64
	}{
		{"zero error grows maximally", 0, 5, 5},
		{"tiny error is capped", 1e-12, 5, 5},
		{"huge error is floored", 1e6, 5, 0.2},
		{"rejection never grows", 0.5, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stepFactor(tt.err, tt.maxGrow); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("stepFactor(%v, %v) = %v, want %v", tt.err, tt.maxGrow, got, tt.want)
			}
		})
	}
}

// Package solver integrates ordinary differential equations with the adaptive
// Dormand-Prince 5(4) Runge-Kutta pair.
package solver

import (
	"errors"
	"fmt"
	"math"
)

// Integration errors
var (
	ErrNonFinite     = errors.New("non-finite state")
	ErrStepUnderflow = errors.New("step size underflow")
	ErrMaxSteps      = errors.New("maximum step count exceeded")
)

// System evaluates dy/dt at time t into dydt
type System func(t float64, y, dydt []float64)

// Options control step-size adaptation
type Options struct {
	RelTol   float64
	AbsTol   float64
	MinStep  float64
	MaxSteps int // per Integrate call
}

// DefaultOptions returns rtol 1e-6 and atol 1e-8
func DefaultOptions() Options {
	return Options{
		RelTol:   1e-6,
		AbsTol:   1e-8,
		MinStep:  1e-10,
		MaxSteps: 10000,
	}
}

// Stats reports the work done by one Integrate call
type Stats struct {
	Accepted int
	Rejected int
}

// Dormand-Prince tableau
var (
	dpC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// fifth-order weights minus embedded fourth-order weights
	dpE = [7]float64{
		71.0 / 57600, 0, -71.0 / 16695, 71.0 / 1920, -17253.0 / 339200, 22.0 / 525, -1.0 / 40,
	}
)

// Integrator owns the stage buffers for one system dimension. It is not safe
// for concurrent use; create one per run.
type Integrator struct {
	opts Options
	dim  int
	k    [7][]float64
	work []float64
	ynew []float64
	yerr []float64
	y    []float64
}

// New creates an integrator for systems of the given dimension
func New(dim int, opts Options) *Integrator {
	if opts.RelTol <= 0 {
		opts.RelTol = 1e-6
	}
	if opts.AbsTol <= 0 {
		opts.AbsTol = 1e-8
	}
	if opts.MinStep <= 0 {
		opts.MinStep = 1e-10
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10000
	}

	in := &Integrator{
		opts: opts,
		dim:  dim,
		work: make([]float64, dim),
		ynew: make([]float64, dim),
		yerr: make([]float64, dim),
		y:    make([]float64, dim),
	}
	for i := range in.k {
		in.k[i] = make([]float64, dim)
	}
	return in
}

// Integrate advances y from t0 to t1 in place. On error y is left unchanged.
func (in *Integrator) Integrate(f System, t0, t1 float64, y []float64) (Stats, error) {
	var stats Stats
	if len(y) != in.dim {
		return stats, fmt.Errorf("state has %d components, integrator expects %d", len(y), in.dim)
	}
	if t1 <= t0 {
		return stats, nil
	}
	if !allFinite(y) {
		return stats, ErrNonFinite
	}

	copy(in.y, y)
	t := t0
	f(t, in.y, in.k[0])
	if !allFinite(in.k[0]) {
		return stats, ErrNonFinite
	}
	h := math.Min(in.initialStep(f, t, t1-t0), t1-t0)

	for t < t1 {
		if stats.Accepted+stats.Rejected >= in.opts.MaxSteps {
			return stats, ErrMaxSteps
		}
		if h < in.opts.MinStep {
			return stats, ErrStepUnderflow
		}
		last := false
		if t+h >= t1 || t1-(t+h) < in.opts.MinStep {
			h = t1 - t
			last = true
		}

		in.step(f, t, h)
		errNorm := in.errorNorm()
		if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
			stats.Rejected++
			h *= 0.2
			continue
		}

		if errNorm <= 1 {
			stats.Accepted++
			if last {
				t = t1
			} else {
				t += h
			}
			copy(in.y, in.ynew)
			// first-same-as-last: stage 7 is the derivative at the new point
			copy(in.k[0], in.k[6])
			h *= stepFactor(errNorm, 5)
			continue
		}

		stats.Rejected++
		h *= stepFactor(errNorm, 1)
	}

	if !allFinite(in.y) {
		return stats, ErrNonFinite
	}
	copy(y, in.y)
	return stats, nil
}

// step computes the stages for a trial step of size h from (t, in.y).
// in.k[0] must already hold f(t, y).
func (in *Integrator) step(f System, t, h float64) {
	for s := 1; s < 7; s++ {
		for i := 0; i < in.dim; i++ {
			acc := in.y[i]
			for j := 0; j < s; j++ {
				if a := dpA[s][j]; a != 0 {
					acc += h * a * in.k[j][i]
				}
			}
			in.work[i] = acc
		}
		f(t+dpC[s]*h, in.work, in.k[s])
	}
	// stage 7 was evaluated at the fifth-order solution
	copy(in.ynew, in.work)

	for i := 0; i < in.dim; i++ {
		var e float64
		for s := 0; s < 7; s++ {
			if dpE[s] != 0 {
				e += dpE[s] * in.k[s][i]
			}
		}
		in.yerr[i] = h * e
	}
}

// errorNorm is the RMS of the scaled local error estimate
func (in *Integrator) errorNorm() float64 {
	var sum float64
	for i := 0; i < in.dim; i++ {
		scale := in.opts.AbsTol + in.opts.RelTol*math.Max(math.Abs(in.y[i]), math.Abs(in.ynew[i]))
		r := in.yerr[i] / scale
		sum += r * r
	}
	return math.Sqrt(sum / float64(in.dim))
}

// initialStep picks a starting step from the derivative magnitudes.
// in.k[0] must hold f(t, y).
func (in *Integrator) initialStep(f System, t, span float64) float64 {
	var d0, d1 float64
	for i := 0; i < in.dim; i++ {
		scale := in.opts.AbsTol + in.opts.RelTol*math.Abs(in.y[i])
		d0 += (in.y[i] / scale) * (in.y[i] / scale)
		d1 += (in.k[0][i] / scale) * (in.k[0][i] / scale)
	}
	d0 = math.Sqrt(d0 / float64(in.dim))
	d1 = math.Sqrt(d1 / float64(in.dim))

	h0 := 0.01 * d0 / d1
	if d0 < 1e-5 || d1 < 1e-5 {
		h0 = 1e-6
	}
	h0 = math.Min(h0, span)

	for i := 0; i < in.dim; i++ {
		in.work[i] = in.y[i] + h0*in.k[0][i]
	}
	f(t+h0, in.work, in.k[1])

	var d2 float64
	for i := 0; i < in.dim; i++ {
		scale := in.opts.AbsTol + in.opts.RelTol*math.Abs(in.y[i])
		r := (in.k[1][i] - in.k[0][i]) / scale
		d2 += r * r
	}
	d2 = math.Sqrt(d2/float64(in.dim)) / h0

	var h1 float64
	if m := math.Max(d1, d2); m <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/m, 1.0/5)
	}
	h := math.Min(100*h0, h1)
	if math.IsNaN(h) || h <= 0 {
		return span
	}
	return h
}

// stepFactor is the classic 0.9*err^(-1/5) controller bounded to [0.2, maxGrow]
func stepFactor(errNorm, maxGrow float64) float64 {
	if errNorm == 0 {
		return maxGrow
	}
	return math.Max(0.2, math.Min(maxGrow, 0.9*math.Pow(errNorm, -0.2)))
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/mrcode/glucose-twin/internal/pkpd"
	"github.com/mrcode/glucose-twin/internal/solver"
)

// ErrIntegrationFailed is returned when no step of a run could be integrated
var ErrIntegrationFailed = errors.New("integration failed for every step")

// Measurement noise
const (
	GlucoseNoiseSD = 8.0  // mg/dL
	InsulinNoiseSD = 0.03 // relative
)

// Options configures a run
type Options struct {
	Rand       *rand.Rand // nil or NoiseScale 0 disables every stochastic term
	NoiseScale float64
	Solver     solver.Options
	Logger     *zerolog.Logger
}

// Trajectory is the sampled output of one run
type Trajectory struct {
	Times        []float64
	Glucose      []float64
	Insulin      []float64
	Interstitial []float64

	Failures int
	Warnings []string
	Accepted int // solver steps
	Rejected int
}

// Min returns the lowest glucose sample
func (t *Trajectory) Min() float64 {
	m := math.Inf(1)
	for _, g := range t.Glucose {
		m = math.Min(m, g)
	}
	return m
}

// Max returns the highest glucose sample
func (t *Trajectory) Max() float64 {
	m := math.Inf(-1)
	for _, g := range t.Glucose {
		m = math.Max(m, g)
	}
	return m
}

// Run integrates the model across the input grid. A step the solver cannot
// complete keeps the previous state and records a warning.
func Run(ctx context.Context, model *pkpd.Model, in Inputs, opts Options) (Trajectory, error) {
	log := opts.Logger
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	rng := opts.Rand
	if opts.NoiseScale <= 0 {
		rng = nil
	}
	solverOpts := opts.Solver
	if solverOpts == (solver.Options{}) {
		solverOpts = solver.DefaultOptions()
	}

	n := in.Steps()
	traj := Trajectory{
		Times:        append([]float64(nil), in.Times...),
		Glucose:      make([]float64, 0, n+1),
		Insulin:      make([]float64, 0, n+1),
		Interstitial: make([]float64, 0, n+1),
	}

	profile := model.Profile()
	integ := solver.New(pkpd.StateSize, solverOpts)
	x := model.InitialState()

	for i := 0; ; i++ {
		traj.record(x, rng, opts.NoiseScale)
		if i == n {
			break
		}
		if err := ctx.Err(); err != nil {
			return traj, fmt.Errorf("simulation cancelled at step %d: %w", i, err)
		}

		d := in.Drive(i)
		if rng != nil {
			d.FastAbsorption = absorptionNoise(rng, profile.InsulinAbsorptionVariability*opts.NoiseScale)
			d.LongAbsorption = absorptionNoise(rng, profile.InsulinAbsorptionVariability*opts.NoiseScale)
		}

		y := x
		stats, err := integ.Integrate(model.System(d), in.Times[i], in.Times[i+1], y[:])
		traj.Accepted += stats.Accepted
		traj.Rejected += stats.Rejected
		if err != nil {
			traj.Failures++
			msg := fmt.Sprintf("solver failed at t=%.2fh, state carried forward: %v", in.Times[i], err)
			traj.Warnings = append(traj.Warnings, msg)
			log.Warn().Err(err).Int("step", i).Float64("t_hours", in.Times[i]).Msg("solver step failed")
			continue
		}
		y.Clamp()
		x = y
	}

	if n > 0 && traj.Failures == n {
		return traj, ErrIntegrationFailed
	}
	return traj, nil
}

// record appends one sample, with measurement noise when rng is set
func (t *Trajectory) record(x pkpd.State, rng *rand.Rand, scale float64) {
	g, ins := x[pkpd.Glucose], x[pkpd.Insulin]
	if rng != nil {
		g += rng.NormFloat64() * GlucoseNoiseSD * scale
		ins *= 1 + rng.NormFloat64()*InsulinNoiseSD*scale
	}
	t.Glucose = append(t.Glucose, pkpd.ClampGlucose(g))
	t.Insulin = append(t.Insulin, pkpd.ClampInsulin(ins))
	t.Interstitial = append(t.Interstitial, pkpd.ClampGlucose(x[pkpd.Interstitial]))
}

func absorptionNoise(rng *rand.Rand, sd float64) float64 {
	return clamp(1+sd*rng.NormFloat64(), 0.5, 1.5)
}

package twin

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Pool bounds how many runs execute at once
type Pool struct {
	engine *Engine
	sem    chan struct{}
}

// NewPool sizes the pool to workers, or to the CPU count when workers <= 0
func NewPool(engine *Engine, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{engine: engine, sem: make(chan struct{}, workers)}
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return cap(p.sem)
}

// Simulate waits for a free slot and runs req. The error is non-nil only
// when ctx ends before a slot frees up.
func (p *Pool) Simulate(ctx context.Context, req models.SimulationRequest) (models.Response, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return models.Response{}, fmt.Errorf("waiting for simulation slot: %w", ctx.Err())
	}
	defer func() { <-p.sem }()
	return p.engine.Simulate(ctx, req), nil
}

// Variant is one named scenario of a batch
type Variant struct {
	Name     string                `json:"name" yaml:"name"`
	Scenario models.ScenarioParams `json:"scenario_params" yaml:"scenario"`
}

// BatchResult pairs a variant with its response
type BatchResult struct {
	Name     string          `json:"name"`
	Response models.Response `json:"response"`
}

// Batch runs every variant against the same patient. Results keep the
// variant order.
func (p *Pool) Batch(ctx context.Context, base models.SimulationRequest, variants []Variant) ([]BatchResult, error) {
	results := make([]BatchResult, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers())

	for i, v := range variants {
		g.Go(func() error {
			req := base
			req.ScenarioParams = v.Scenario
			resp, err := p.Simulate(gctx, req)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			results[i] = BatchResult{Name: v.Name, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Best returns the index of the successful result with the lowest overall
// risk, or -1 when every run failed
func Best(results []BatchResult) int {
	best, bestRisk := -1, math.Inf(1)
	for i, r := range results {
		if !r.Response.Success || r.Response.SimulationResults == nil {
			continue
		}
		if risk := r.Response.SimulationResults.RiskScores.OverallRisk; risk < bestRisk {
			best, bestRisk = i, risk
		}
	}
	return best
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mrcode/glucose-twin/internal/chart"
	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/store"
	"github.com/mrcode/glucose-twin/internal/twin"
)

// errorBody is the JSON shape of every non-engine error
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) ready(c echo.Context) error {
	checks := map[string]string{"engine": "ok"}
	status := http.StatusOK

	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}
	return c.JSON(status, map[string]any{
		"ready":   status == http.StatusOK,
		"workers": s.pool.Workers(),
		"checks":  checks,
	})
}

func (s *Server) listPresets(c echo.Context) error {
	return c.JSON(http.StatusOK, s.presets.All())
}

func (s *Server) simulate(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if err := s.simulateSchema.Validate(body); err != nil {
		return badRequest(c, err)
	}

	var req models.SimulationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, err)
	}

	presetName := c.QueryParam("preset")
	if presetName == "" {
		presetName = req.Preset
	}
	if presetName != "" {
		if hasKey(body, "scenario_params") {
			return badRequest(c, errors.New("preset and scenario_params are mutually exclusive"))
		}
		p, err := s.presets.Get(presetName)
		if err != nil {
			return badRequest(c, err)
		}
		req.ScenarioParams = p.Scenario
	}

	resp, err := s.pool.Simulate(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "simulation capacity exhausted")
	}
	if !resp.Success {
		return c.JSON(http.StatusUnprocessableEntity, resp)
	}

	s.archive(c, resp, req.PatientData.ID)
	return c.JSON(http.StatusOK, resp)
}

// compareRequest carries the variants; patient, seed and noise are read
// from the same body as a SimulationRequest
type compareRequest struct {
	Variants []compareVariant `json:"variants"`
}

type compareVariant struct {
	Name     string                 `json:"name"`
	Preset   string                 `json:"preset,omitempty"`
	Scenario *models.ScenarioParams `json:"scenario_params,omitempty"`
}

type compareResponse struct {
	Results []twin.BatchResult `json:"results"`
	Best    string             `json:"best,omitempty"`
}

func (s *Server) compare(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if err := s.compareSchema.Validate(body); err != nil {
		return badRequest(c, err)
	}

	var req compareRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, err)
	}
	var base models.SimulationRequest
	if err := json.Unmarshal(body, &base); err != nil {
		return badRequest(c, err)
	}

	variants, err := s.resolveVariants(req.Variants)
	if err != nil {
		return badRequest(c, err)
	}

	results, err := s.pool.Batch(c.Request().Context(), base, variants)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "simulation capacity exhausted")
	}

	out := compareResponse{Results: results}
	if i := twin.Best(results); i >= 0 {
		out.Best = results[i].Name
	}
	for _, r := range results {
		if r.Response.Success {
			s.archive(c, r.Response, base.PatientData.ID)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// resolveVariants expands presets. With no variants, every preset runs.
func (s *Server) resolveVariants(in []compareVariant) ([]twin.Variant, error) {
	if len(in) == 0 {
		var out []twin.Variant
		for _, p := range s.presets.All() {
			out = append(out, twin.Variant{Name: p.Name, Scenario: p.Scenario})
		}
		return out, nil
	}

	out := make([]twin.Variant, 0, len(in))
	for _, v := range in {
		switch {
		case v.Preset != "" && v.Scenario != nil:
			return nil, fmt.Errorf("variant %q: preset and scenario_params are mutually exclusive", v.Name)
		case v.Preset != "":
			p, err := s.presets.Get(v.Preset)
			if err != nil {
				return nil, fmt.Errorf("variant %q: %w", v.Name, err)
			}
			out = append(out, twin.Variant{Name: v.Name, Scenario: p.Scenario})
		case v.Scenario != nil:
			out = append(out, twin.Variant{Name: v.Name, Scenario: *v.Scenario})
		default:
			out = append(out, twin.Variant{Name: v.Name, Scenario: models.DefaultScenario()})
		}
	}
	return out, nil
}

func (s *Server) archive(c echo.Context, resp models.Response, patientID string) {
	rec := store.NewRecord(resp, patientID, s.now())
	if err := s.store.Save(c.Request().Context(), rec); err != nil {
		rid, _ := c.Get("request_id").(string)
		s.logger.Warn().Err(err).Str("request_id", rid).Str("run_id", resp.RunID).Msg("archiving run failed")
	}
}

func (s *Server) loadRecord(c echo.Context) (store.Record, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return store.Record{}, echo.NewHTTPError(http.StatusNotFound, "simulation run not found")
	}
	rec, err := s.store.Get(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, echo.NewHTTPError(http.StatusNotFound, "simulation run not found")
	}
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func (s *Server) getSimulation(c echo.Context) error {
	rec, err := s.loadRecord(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) chartPNG(c echo.Context) error {
	rec, err := s.loadRecord(c)
	if err != nil {
		return err
	}

	opts := chart.ChartOptions{Settings: s.settings, Title: chartTitle(rec)}
	if w, err := strconv.Atoi(c.QueryParam("width")); err == nil {
		opts.Width = min(max(w, 200), 4000)
	}
	if h, err := strconv.Atoi(c.QueryParam("height")); err == nil {
		opts.Height = min(max(h, 120), 3000)
	}

	data, err := chart.RenderPNG(rec.Response.SimulationResults, opts)
	if errors.Is(err, chart.ErrNoData) {
		return echo.NewHTTPError(http.StatusNotFound, "run has no trajectory")
	}
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", data)
}

func (s *Server) reportHTML(c echo.Context) error {
	rec, err := s.loadRecord(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	err = chart.RenderHTML(&buf, rec.Response, chartTitle(rec))
	if errors.Is(err, chart.ErrNoData) {
		return echo.NewHTTPError(http.StatusNotFound, "run has no trajectory")
	}
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// runSummary lists an archived run without its trajectory
type runSummary struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	CreatedAt   time.Time `json:"created_at"`
	OverallRisk float64   `json:"overall_risk"`
}

func (s *Server) listPatientSimulations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.store.ListByPatient(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	out := make([]runSummary, 0, len(records))
	for _, r := range records {
		out = append(out, runSummary{ID: r.ID, PatientID: r.PatientID, CreatedAt: r.CreatedAt, OverallRisk: r.OverallRisk})
	}
	return c.JSON(http.StatusOK, out)
}

func chartTitle(rec store.Record) string {
	who := rec.PatientID
	if who == "" {
		who = "patient"
	}
	return fmt.Sprintf("Forecast for %s (%s)", who, rec.CreatedAt.Format("2006-01-02 15:04"))
}

func hasKey(body []byte, key string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields[key]
	return ok
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mrcode/glucose-twin/internal/app"
	"github.com/mrcode/glucose-twin/internal/chart"
	"github.com/mrcode/glucose-twin/internal/config"
	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/monitor"
	"github.com/mrcode/glucose-twin/internal/notifications"
	"github.com/mrcode/glucose-twin/internal/store"
	"github.com/mrcode/glucose-twin/internal/twin"
)

func version() string {
	return app.Version
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(envFile)
}

// bootstrap loads configuration and builds the shared components. Only
// serve exposes metrics, so one-shot commands pass a private registry.
func bootstrap(cmd *cobra.Command, reg prometheus.Registerer) (*app.App, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg, cmd.ErrOrStderr())
	a, err := app.New(cmd.Context(), cfg, logger, reg)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func patientPath(cmd *cobra.Command, cfg *config.Config) string {
	if p, _ := cmd.Flags().GetString("patient"); p != "" {
		return p
	}
	return cfg.PatientFile
}

// resolveScenario picks the scenario from --preset or --scenario, falling
// back to the default scenario
func resolveScenario(cmd *cobra.Command, a *app.App) (models.ScenarioParams, error) {
	presetName, _ := cmd.Flags().GetString("preset")
	scenarioFile, _ := cmd.Flags().GetString("scenario")

	var scenario models.ScenarioParams
	switch {
	case presetName != "" && scenarioFile != "":
		return scenario, errors.New("--preset and --scenario are mutually exclusive")
	case presetName != "":
		p, err := a.Presets.Get(presetName)
		if err != nil {
			return scenario, err
		}
		scenario = p.Scenario
	case scenarioFile != "":
		s, err := app.LoadScenario(scenarioFile)
		if err != nil {
			return scenario, err
		}
		scenario = s
	default:
		scenario = models.DefaultScenario()
	}

	if cmd.Flags().Changed("hours") {
		scenario.SimulationHours, _ = cmd.Flags().GetFloat64("hours")
	}
	return scenario, nil
}

func applyNoise(cmd *cobra.Command, req *models.SimulationRequest) {
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		req.Seed = &seed
	}
	if cmd.Flags().Changed("noise") {
		noise, _ := cmd.Flags().GetFloat64("noise")
		req.NoiseScale = &noise
	}
}

func addNoiseFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("seed", 0, "Random seed; runs with the same seed are reproducible")
	cmd.Flags().Float64("noise", twin.DefaultNoiseScale, "Noise scale, 0 disables sensor and profile noise")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one forecast for a patient file and print the response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := bootstrap(cmd, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())
			ctx := cmd.Context()

			path := patientPath(cmd, cfg)
			if path == "" {
				return errors.New("no patient file: use --patient or PATIENT_FILE")
			}
			patient, err := app.LoadPatient(path)
			if err != nil {
				return err
			}
			scenario, err := resolveScenario(cmd, a)
			if err != nil {
				return err
			}

			req := models.SimulationRequest{PatientData: patient, ScenarioParams: scenario}
			applyNoise(cmd, &req)

			resp, err := a.Pool.Simulate(ctx, req)
			if err != nil {
				return err
			}
			if !resp.Success {
				_ = writeJSON(cmd.OutOrStdout(), resp)
				return fmt.Errorf("%s: %s", resp.Error, resp.Message)
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				st, err := a.Store(ctx)
				if err != nil {
					return err
				}
				if err := st.Save(ctx, store.NewRecord(resp, patient.ID, time.Now())); err != nil {
					return err
				}
			}
			if err := writeCharts(cmd, a, patient.ID, resp); err != nil {
				return err
			}

			if spark, _ := cmd.Flags().GetBool("sparkline"); spark {
				printSummary(cmd.OutOrStdout(), resp)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().String("patient", "", "Patient record JSON file, - for stdin (default PATIENT_FILE)")
	cmd.Flags().String("preset", "", "Named scenario preset")
	cmd.Flags().String("scenario", "", "Scenario JSON file")
	cmd.Flags().Float64("hours", 24, "Simulation horizon in hours")
	cmd.Flags().String("png", "", "Write a PNG chart to this path")
	cmd.Flags().String("html", "", "Write an interactive HTML report to this path")
	cmd.Flags().Bool("sparkline", false, "Print a terminal summary instead of JSON")
	cmd.Flags().Bool("save", false, "Archive the run")
	addNoiseFlags(cmd)
	return cmd
}

func writeCharts(cmd *cobra.Command, a *app.App, patientID string, resp models.Response) error {
	title := "Glucose forecast"
	if patientID != "" {
		title = "Forecast for " + patientID
	}

	if path, _ := cmd.Flags().GetString("png"); path != "" {
		data, err := chart.RenderPNG(resp.SimulationResults, chart.ChartOptions{Title: title, Settings: a.Settings()})
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing chart: %w", err)
		}
	}

	if path, _ := cmd.Flags().GetString("html"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		defer f.Close()
		if err := chart.RenderHTML(f, resp, title); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, resp models.Response) {
	res := resp.SimulationResults
	m := res.GlucoseMetrics

	fmt.Fprintln(w, chart.Sparkline(res.GlucoseLevels, 4, 72))
	fmt.Fprintf(w, "TIR %.0f%%  below 70 %.1f%%  above 180 %.1f%%  mean %.0f  CV %.0f%%\n",
		m.TIR70180, m.TimeBelow70, m.TimeAbove180, m.MeanGlucose, m.CV)
	fmt.Fprintf(w, "overall risk %.0f/100\n", res.RiskScores.OverallRisk)
	for _, alert := range res.SafetyAlerts {
		fmt.Fprintln(w, alert)
	}
	for _, rec := range res.Recommendations {
		fmt.Fprintln(w, "- "+rec)
	}
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run several presets against one patient and rank them by risk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := bootstrap(cmd, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			path := patientPath(cmd, cfg)
			if path == "" {
				return errors.New("no patient file: use --patient or PATIENT_FILE")
			}
			patient, err := app.LoadPatient(path)
			if err != nil {
				return err
			}

			names, _ := cmd.Flags().GetStringSlice("presets")
			if len(names) == 0 {
				names = a.Presets.Names()
			}
			variants := make([]twin.Variant, 0, len(names))
			for _, name := range names {
				p, err := a.Presets.Get(name)
				if err != nil {
					return err
				}
				variants = append(variants, twin.Variant{Name: p.Name, Scenario: p.Scenario})
			}

			base := models.SimulationRequest{PatientData: patient}
			applyNoise(cmd, &base)
			results, err := a.Pool.Batch(cmd.Context(), base, variants)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			printComparison(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().String("patient", "", "Patient record JSON file, - for stdin (default PATIENT_FILE)")
	cmd.Flags().StringSlice("presets", nil, "Presets to compare (default all)")
	cmd.Flags().Bool("json", false, "Print the full responses as JSON")
	addNoiseFlags(cmd)
	return cmd
}

func printComparison(w io.Writer, results []twin.BatchResult) {
	best := twin.Best(results)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tSCENARIO\tTIR %\tBELOW 70 %\tMEAN\tPEAK\tRISK")
	for i, r := range results {
		mark := ""
		if i == best {
			mark = "*"
		}
		if !r.Response.Success {
			fmt.Fprintf(tw, "%s\t%s\tfailed: %s\t\t\t\t\n", mark, r.Name, r.Response.Message)
			continue
		}
		m := r.Response.SimulationResults.GlucoseMetrics
		fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.1f\t%.0f\t%.0f\t%.0f\n",
			mark, r.Name, m.TIR70180, m.TimeBelow70, m.MeanGlucose, m.PeakGlucose,
			r.Response.SimulationResults.RiskScores.OverallRisk)
	}
	tw.Flush()
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := bootstrap(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = cfg.Port
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return a.Serve(ctx, ":"+port)
		},
	}
	cmd.Flags().String("port", "", "Listen port (default PORT)")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Forecast from live Nightscout data on an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := bootstrap(cmd, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			var demographics models.PatientRecord
			if path := patientPath(cmd, cfg); path != "" {
				if demographics, err = app.LoadPatient(path); err != nil {
					return err
				}
			}
			if id, _ := cmd.Flags().GetString("patient-id"); id != "" {
				demographics.ID = id
			}
			scenario, err := resolveScenario(cmd, a)
			if err != nil {
				return err
			}
			notify, _ := cmd.Flags().GetBool("notify")

			out := cmd.OutOrStdout()
			unit := cfg.Unit
			ctx, stop := signalContext(cmd)
			defer stop()
			return a.Watch(ctx, app.WatchOptions{
				Demographics: demographics,
				Scenario:     scenario,
				Notify:       notify,
				OnCheck:      func(st monitor.Status) { printStatus(out, st, unit) },
			})
		},
	}
	cmd.Flags().String("patient", "", "Patient demographics JSON file (default PATIENT_FILE)")
	cmd.Flags().String("patient-id", "", "Patient id used for alerts and the archive")
	cmd.Flags().String("preset", "", "Named scenario preset")
	cmd.Flags().String("scenario", "", "Scenario JSON file")
	cmd.Flags().Float64("hours", 24, "Forecast horizon in hours")
	cmd.Flags().Bool("notify", false, "Send desktop notifications for forecast alerts")
	return cmd
}

func printStatus(w io.Writer, st monitor.Status, unit string) {
	stamp := st.LastAttempt.Local().Format("15:04:05")
	if st.LastError != "" {
		fmt.Fprintf(w, "%s  check failed (%d in a row): %s\n", stamp, st.ConsecutiveErrors, st.LastError)
		return
	}
	glucose := fmt.Sprintf("%d mg/dL", st.LastGlucose)
	if unit == "mmol/L" {
		glucose = fmt.Sprintf("%.1f mmol/L", models.ToMmol(float64(st.LastGlucose)))
	}
	fmt.Fprintf(w, "%s  %s %s  readings %d  overall risk %.0f/100  run %s\n",
		stamp, glucose, st.LastTrend, st.LastReadings, st.LastOverallRisk, st.LastRunID)
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List scenario presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := bootstrap(cmd, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, p := range a.Presets.All() {
				fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
			}
			return tw.Flush()
		},
	}
}

func notifyTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test desktop notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return notifications.NewManager(cfg.Settings(), nil).SendTestNotification()
		},
	}
}

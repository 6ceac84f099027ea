package chart

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/mrcode/glucose-twin/internal/models"
)

// RenderHTML writes an interactive report of a successful run: glucose on the
// left axis with min/max marks and the 70 and 180 mg/dL lines, plasma insulin
// on the right axis
func RenderHTML(w io.Writer, resp models.Response, title string) error {
	res := resp.SimulationResults
	if !resp.Success || res == nil || len(res.TimePoints) < 2 {
		return ErrNoData
	}
	if title == "" {
		title = "Glucose forecast"
	}

	xAxis := make([]string, len(res.TimePoints))
	for i, t := range res.TimePoints {
		xAxis[i] = formatClock(t)
	}
	glucose := make([]opts.LineData, len(res.GlucoseLevels))
	for i, g := range res.GlucoseLevels {
		glucose[i] = opts.LineData{Value: math.Round(g*10) / 10}
	}
	insulin := make([]opts.LineData, len(res.InsulinLevels))
	for i, v := range res.InsulinLevels {
		insulin[i] = opts.LineData{Value: math.Round(v*100) / 100}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: subtitle(res),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(true),
			Top:  "bottom",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "mg/dL",
			Min:  0,
		}),
	)
	line.ExtendYAxis(opts.YAxis{
		Name: "µU/mL",
		Min:  0,
	})

	line.SetXAxis(xAxis).
		AddSeries("Glucose", glucose,
			charts.WithLineChartOpts(opts.LineChart{
				Smooth:     opts.Bool(true),
				ShowSymbol: opts.Bool(false),
			}),
			charts.WithMarkPointNameTypeItemOpts(
				opts.MarkPointNameTypeItem{Name: "Max", Type: "max"},
				opts.MarkPointNameTypeItem{Name: "Min", Type: "min"},
			),
			func(s *charts.SingleSeries) {
				s.MarkLines = &opts.MarkLines{
					Data: []interface{}{
						opts.MarkLineNameYAxisItem{Name: "Low", YAxis: 70},
						opts.MarkLineNameYAxisItem{Name: "High", YAxis: 180},
					},
					MarkLineStyle: opts.MarkLineStyle{
						Symbol: []string{"none", "none"},
						LineStyle: &opts.LineStyle{
							Color: "rgba(128, 128, 128, 0.6)",
							Type:  "dashed",
							Width: 1.5,
						},
					},
				}
			},
		).
		AddSeries("Plasma insulin", insulin,
			charts.WithLineChartOpts(opts.LineChart{
				Smooth:     opts.Bool(true),
				ShowSymbol: opts.Bool(false),
				YAxisIndex: 1,
			}),
		)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

func subtitle(res *models.SimulationResults) string {
	m := res.GlucoseMetrics
	return fmt.Sprintf("TIR %.0f%%  mean %.0f mg/dL  CV %.0f%%  overall risk %.0f/100",
		m.TIR70180, m.MeanGlucose, m.CV, res.RiskScores.OverallRisk)
}

// formatClock renders hours since start as h:mm
func formatClock(hours float64) string {
	minutes := int(math.Round(hours * 60))
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}

// Package chart renders simulated trajectories as PNG images, HTML reports
// and terminal sparklines.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/glucose-twin/internal/models"
)

// ErrNoData is returned when a result has fewer than two samples
var ErrNoData = errors.New("trajectory has no data to chart")

const (
	defaultWidth  = 960
	defaultHeight = 480

	marginLeft   = 64.0
	marginRight  = 24.0
	marginTop    = 44.0
	marginBottom = 48.0

	backgroundHex = "#111827"
	gridHex       = "#374151"
	textHex       = "#e5e7eb"
	mealHex       = "#60a5fa"
	exerciseHex   = "#a78bfa"
)

// ChartOptions controls the PNG rendering
type ChartOptions struct {
	Width    int
	Height   int
	Title    string
	Settings *models.Settings // thresholds, unit and colors; defaults when nil
}

// plot maps simulation coordinates to pixels
type plot struct {
	x0, y0, w, h float64
	tMax         float64
	gMin, gMax   float64
}

func (p plot) px(hours float64) float64 {
	return p.x0 + hours/p.tMax*p.w
}

func (p plot) py(mgdl float64) float64 {
	return p.y0 + p.h - (mgdl-p.gMin)/(p.gMax-p.gMin)*p.h
}

// RenderPNG draws the glucose trajectory over the target band with the
// urgent thresholds, meal and exercise markers
func RenderPNG(result *models.SimulationResults, o ChartOptions) ([]byte, error) {
	if result == nil || len(result.TimePoints) < 2 || len(result.GlucoseLevels) != len(result.TimePoints) {
		return nil, ErrNoData
	}
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	if o.Height <= 0 {
		o.Height = defaultHeight
	}
	settings := o.Settings
	if settings == nil {
		settings = models.DefaultSettings()
	}
	s := settings.Clone()

	dc := gg.NewContext(o.Width, o.Height)
	setHex(dc, backgroundHex, 1)
	dc.Clear()

	p := newPlot(result, s, float64(o.Width), float64(o.Height))

	face, err := loadFace(12)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)

	drawBand(dc, p, s)
	drawGrid(dc, p, s)
	drawMarkers(dc, p, result.ScenarioSummary)
	drawTrace(dc, p, result, s)

	if o.Title != "" {
		if titleFace, err := loadFace(16); err == nil {
			dc.SetFontFace(titleFace)
		}
		setHex(dc, textHex, 1)
		dc.DrawStringAnchored(o.Title, float64(o.Width)/2, marginTop/2, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encoding chart: %w", err)
	}
	return buf.Bytes(), nil
}

func newPlot(result *models.SimulationResults, s *models.Settings, width, height float64) plot {
	lo, hi := float64(s.UrgentLow)-15, float64(s.UrgentHigh)+25
	for _, g := range result.GlucoseLevels {
		lo = math.Min(lo, g-10)
		hi = math.Max(hi, g+10)
	}
	lo = math.Max(0, math.Floor(lo/10)*10)
	hi = math.Ceil(hi/10) * 10

	tMax := result.TimePoints[len(result.TimePoints)-1]
	if tMax <= 0 {
		tMax = 1
	}
	return plot{
		x0:   marginLeft,
		y0:   marginTop,
		w:    width - marginLeft - marginRight,
		h:    height - marginTop - marginBottom,
		tMax: tMax,
		gMin: lo,
		gMax: hi,
	}
}

func drawBand(dc *gg.Context, p plot, s *models.Settings) {
	top, bottom := p.py(float64(s.TargetHigh)), p.py(float64(s.TargetLow))
	setHex(dc, s.ChartColorInRange, 0.12)
	dc.DrawRectangle(p.x0, top, p.w, bottom-top)
	dc.Fill()

	dc.SetLineWidth(1.5)
	dc.SetDash(6, 4)
	for _, level := range []int{s.UrgentLow, s.UrgentHigh} {
		setHex(dc, s.ChartColorUrgent, 0.8)
		y := p.py(float64(level))
		dc.DrawLine(p.x0, y, p.x0+p.w, y)
		dc.Stroke()
	}
	dc.SetDash()
}

func drawGrid(dc *gg.Context, p plot, s *models.Settings) {
	dc.SetLineWidth(1)

	step := 50.0
	for g := math.Ceil(p.gMin/step) * step; g <= p.gMax; g += step {
		y := p.py(g)
		setHex(dc, gridHex, 0.6)
		dc.DrawLine(p.x0, y, p.x0+p.w, y)
		dc.Stroke()
		setHex(dc, textHex, 1)
		dc.DrawStringAnchored(formatGlucose(g, s.Unit), p.x0-8, y, 1, 0.5)
	}

	hourStep := math.Max(1, math.Ceil(p.tMax/12))
	for h := 0.0; h <= p.tMax+1e-9; h += hourStep {
		x := p.px(h)
		setHex(dc, gridHex, 0.4)
		dc.DrawLine(x, p.y0, x, p.y0+p.h)
		dc.Stroke()
		setHex(dc, textHex, 1)
		dc.DrawStringAnchored(fmt.Sprintf("%.0fh", h), x, p.y0+p.h+16, 0.5, 0.5)
	}

	setHex(dc, textHex, 1)
	dc.DrawStringAnchored(s.Unit, p.x0-8, p.y0-14, 1, 0.5)
}

func drawMarkers(dc *gg.Context, p plot, sum models.ScenarioSummary) {
	if sum.ExerciseEndHours > sum.ExerciseStartHours {
		x0, x1 := p.px(sum.ExerciseStartHours), p.px(math.Min(sum.ExerciseEndHours, p.tMax))
		setHex(dc, exerciseHex, 0.18)
		dc.DrawRectangle(x0, p.y0, x1-x0, p.h)
		dc.Fill()
		setHex(dc, exerciseHex, 1)
		dc.DrawStringAnchored("exercise", (x0+x1)/2, p.y0+10, 0.5, 0.5)
	}

	if sum.TotalCarbs > 0 && sum.MealTimeHours <= p.tMax {
		x := p.px(sum.MealTimeHours)
		setHex(dc, mealHex, 0.9)
		dc.SetLineWidth(1.5)
		dc.DrawLine(x, p.y0, x, p.y0+p.h)
		dc.Stroke()

		// downward triangle on the top edge
		dc.MoveTo(x-6, p.y0)
		dc.LineTo(x+6, p.y0)
		dc.LineTo(x, p.y0+9)
		dc.ClosePath()
		dc.Fill()
		dc.DrawStringAnchored(fmt.Sprintf("%.0f g", sum.TotalCarbs), x+8, p.y0+22, 0, 0.5)
	}
}

// drawTrace strokes each segment in the color of its glucose status
func drawTrace(dc *gg.Context, p plot, result *models.SimulationResults, s *models.Settings) {
	dc.SetLineWidth(2.5)
	dc.SetLineCap(gg.LineCapRound)
	t, g := result.TimePoints, result.GlucoseLevels
	for i := 1; i < len(t); i++ {
		mid := (g[i-1] + g[i]) / 2
		setHex(dc, s.StatusColor(s.GetGlucoseStatus(mid)), 1)
		dc.DrawLine(p.px(t[i-1]), p.py(g[i-1]), p.px(t[i]), p.py(g[i]))
		dc.Stroke()
	}
}

func loadFace(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

func setHex(dc *gg.Context, hex string, alpha float64) {
	r, g, b := parseHexColor(hex)
	dc.SetColor(color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(alpha * 255))})
}

// parseHexColor parses #rrggbb; anything else is black
func parseHexColor(hex string) (r, g, b byte) {
	if len(hex) == 7 && hex[0] == '#' {
		_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return
}

func formatGlucose(mgdl float64, unit string) string {
	if unit == "mmol/L" {
		return fmt.Sprintf("%.1f", models.ToMmol(mgdl))
	}
	return fmt.Sprintf("%.0f", mgdl)
}

package chart

import (
	"fmt"
	"math"
	"strings"
)

// braille blocks from empty to full, four sub-steps per text row
var blocks = []rune{'⠀', '⣀', '⣤', '⣶', '⣿'}

const subBlocksPerRow = 4.0

// Sparkline draws values as a multi-row Braille bar chart with max and min
// labels. At most width columns are drawn; longer series are downsampled.
func Sparkline(values []float64, rows, width int) string {
	if len(values) < 2 || rows <= 0 {
		return ""
	}
	if width > 0 && len(values) > width {
		values = Downsample(values, width)
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	const buffer = 10.0
	minVal = math.Max(0, minVal-buffer)
	maxVal += buffer
	rangeVal := maxVal - minVal

	grid := make([][]rune, rows)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(string(blocks[0]), len(values)))
	}

	for x, v := range values {
		total := (v - minVal) / rangeVal * float64(rows) * subBlocksPerRow
		for y := range rows {
			line := rows - 1 - y
			start := float64(y) * subBlocksPerRow
			end := start + subBlocksPerRow
			switch {
			case total >= end:
				grid[line][x] = blocks[len(blocks)-1]
			case total > start:
				idx := int(math.Round(total - start))
				idx = max(0, min(idx, len(blocks)-1))
				grid[line][x] = blocks[idx]
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Max: %.0f\n", maxVal)
	for _, row := range grid {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Min: %.0f", minVal)
	return b.String()
}

// Downsample averages values into n buckets
func Downsample(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for i := range n {
		lo := i * len(values) / n
		hi := (i + 1) * len(values) / n
		sum := 0.0
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

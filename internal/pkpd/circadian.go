package pkpd

import "math"

// Circadian windows, hours of the 24h cycle
const (
	DawnStart = 4.0
	DawnEnd   = 8.0
	DuskStart = 18.0
	DuskEnd   = 22.0
)

// hourOfDay maps simulation hours onto [0, 24)
func hourOfDay(t float64) float64 {
	h := math.Mod(t, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// DawnFactor multiplies hepatic glucose output; a half-sine bump of height
// amplitude between 04:00 and 08:00
func DawnFactor(t, amplitude float64) float64 {
	h := hourOfDay(t)
	if h < DawnStart || h > DawnEnd {
		return 1
	}
	return 1 + amplitude*math.Sin(math.Pi*(h-DawnStart)/(DawnEnd-DawnStart))
}

// DuskFactor multiplies insulin action; a half-sine dip of depth amplitude
// between 18:00 and 22:00
func DuskFactor(t, amplitude float64) float64 {
	h := hourOfDay(t)
	if h < DuskStart || h > DuskEnd {
		return 1
	}
	return 1 - amplitude*math.Sin(math.Pi*(h-DuskStart)/(DuskEnd-DuskStart))
}

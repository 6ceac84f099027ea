package pkpd

import (
	"math"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Model constants
const (
	GlucoseVolumePerKg   = 1.9  // dL/kg
	InsulinVolumePerKg   = 1.4  // L/kg, effective
	FastAbsorptionRate   = 0.9  // 1/h
	LongAbsorptionRate   = 0.25 // 1/h
	InsulinElimination   = 1.3  // 1/h
	InterstitialExchange = 6.0  // 1/h

	HillExponent     = 1.5
	HillHalfMaxRatio = 2.0 // I50 as a multiple of basal insulin

	HepaticStoreEquilibrium = 0.7
	HepaticStoreExchange    = 0.2 // 1/h

	PeripheralShare      = 0.7  // share of insulin effect through uptake, the rest suppresses EGP
	ExerciseUptakeGain   = 1.0  // multiplier on insulin-dependent uptake at full intensity
	ExerciseDirectUptake = 35.0 // mg/dL/h at full intensity
)

// Drive holds the exogenous inputs, constant over one output step
type Drive struct {
	Bolus          float64 // fast-acting insulin infusion, U/h
	Basal          float64 // long-acting insulin infusion, U/h
	CarbAppearance float64 // mg/dL/h
	Exercise       float64 // intensity fraction, 0-1

	// depot absorption multipliers; zero means nominal
	FastAbsorption float64
	LongAbsorption float64
}

// Model is the calibrated right-hand side for one patient profile
type Model struct {
	profile models.PatientProfile

	vg, vi float64 // distribution volumes, dL and L
	ib     float64 // basal plasma insulin, mU/L
	i50    float64
	g0     float64

	p1    float64 // insulin-independent glucose effectiveness
	si    float64 // insulin sensitivity of uptake
	egpb  float64 // basal hepatic output before the illness and metabolic multipliers
	alpha float64 // exponent on Hill suppression
	h0    float64 // hill(ib)

	synthesis float64 // hepatic store synthesis constant
}

// NewModel calibrates the compartments so that the initial state is an
// equilibrium and one unit of fast insulin lowers glucose by about ISF
func NewModel(p models.PatientProfile) *Model {
	p.ApplySafetyClamps()

	m := &Model{
		profile: p,
		vg:      GlucoseVolumePerKg * p.WeightKg,
		vi:      InsulinVolumePerKg * p.WeightKg,
		g0:      p.InitialGlucose,
		p1:      p.GlucoseClearanceRate,
	}
	m.ib = p.BasalRate * 1000 / (m.vi * InsulinElimination)
	m.i50 = HillHalfMaxRatio * m.ib
	m.h0 = m.hill(m.ib)

	// glucose lowering per mU/L*h of plasma insulin exposure
	perUnitExposure := 1000 / (m.vi * InsulinElimination)
	kIns := p.InsulinSensitivity / perUnitExposure

	m.si = PeripheralShare * kIns / m.g0

	// the observed glucose already reflects illness and metabolic state, so
	// the multipliers are folded into the basal output
	output := m.p1*m.g0 + m.si/p.InsulinResistance*m.ib*m.g0
	m.egpb = output / (p.InfectionFactor * p.MetabolicRate * p.HepaticProductionRate)

	// d ln hill / dI at ib; illness blunts hepatic suppression
	r := math.Pow(m.ib/m.i50, HillExponent)
	slope := HillExponent * r / (m.ib * (1 + r))
	m.alpha = (1 - PeripheralShare) * kIns / (output * slope) / p.InfectionFactor

	m.synthesis = HepaticStoreExchange * HepaticStoreEquilibrium / (1 - HepaticStoreEquilibrium)
	return m
}

// Profile returns the clamped profile the model was calibrated on
func (m *Model) Profile() models.PatientProfile {
	return m.profile
}

// BasalInsulin is the steady-state plasma insulin at the baseline basal rate
func (m *Model) BasalInsulin() float64 {
	return m.ib
}

// GlucoseVolume is the glucose distribution volume in dL
func (m *Model) GlucoseVolume() float64 {
	return m.vg
}

// BasalGlucoseOutput is the hepatic output at the initial state, mg/dL/h,
// with the illness and metabolic multipliers applied
func (m *Model) BasalGlucoseOutput() float64 {
	p := &m.profile
	return m.egpb * p.InfectionFactor * p.MetabolicRate * p.HepaticProductionRate
}

// InitialState places every compartment at the baseline equilibrium
func (m *Model) InitialState() State {
	return State{
		Glucose:      m.g0,
		Insulin:      m.ib,
		FastDepot:    0,
		LongDepot:    m.profile.BasalRate / LongAbsorptionRate,
		Interstitial: m.g0,
		HepaticStore: HepaticStoreEquilibrium,
	}
}

func (m *Model) hill(i float64) float64 {
	return 1 / (1 + math.Pow(math.Max(i, 0)/m.i50, HillExponent))
}

// Derivatives writes dx/dt at time t (hours) for state x under drive d
func (m *Model) Derivatives(t float64, x []float64, d Drive, dx []float64) {
	p := &m.profile
	g := x[Glucose]
	ins := x[Insulin]
	h := x[HepaticStore]

	v1 := nominal(d.FastAbsorption)
	v2 := nominal(d.LongAbsorption)
	exercise := d.Exercise * p.ExerciseSensitivity
	suppression := m.hill(ins) / m.h0

	egp := m.egpb * math.Pow(suppression, m.alpha) *
		p.InfectionFactor * p.MetabolicRate * p.HepaticProductionRate *
		DawnFactor(t, p.DawnEffect) *
		(0.5 + 0.5*h/HepaticStoreEquilibrium)

	uptake := (m.p1 + m.si/p.InsulinResistance*ins*DuskFactor(t, p.DuskEffect)*(1+ExerciseUptakeGain*exercise)) * g

	dx[Glucose] = egp - uptake - ExerciseDirectUptake*exercise + d.CarbAppearance

	fastFlux := FastAbsorptionRate * x[FastDepot] * v1
	longFlux := LongAbsorptionRate * x[LongDepot] * v2
	dx[Insulin] = (fastFlux+longFlux)*1000/m.vi - InsulinElimination*ins
	dx[FastDepot] = d.Bolus - fastFlux
	dx[LongDepot] = d.Basal - longFlux

	dx[Interstitial] = InterstitialExchange * (g - x[Interstitial])

	synth := m.synthesis * (1 - h) * (ins / m.ib) * (g / m.g0)
	release := HepaticStoreExchange * h * suppression
	dx[HepaticStore] = synth - release
}

// System binds a drive to the model for the ODE solver
func (m *Model) System(d Drive) func(t float64, y, dydt []float64) {
	return func(t float64, y, dydt []float64) {
		m.Derivatives(t, y, d, dydt)
	}
}

func nominal(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 1
	}
	return v
}

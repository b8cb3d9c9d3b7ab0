// Package physics holds the deterministic PV plant model used by the
// simulator. Every function is pure.
package physics

import "math"

const (
	DefaultSunriseHour = 6.0
	DefaultSunsetHour  = 18.0
	// DefaultPeakIrradiance is the clear-sky irradiance at solar noon in W/m².
	DefaultPeakIrradiance = 900.0
	// DefaultNOCT is the nominal operating cell temperature in °C.
	DefaultNOCT = 45.0
	// DefaultTempCoeff is the fractional power change per °C above 25°C.
	DefaultTempCoeff   = -0.004
	DefaultDerate      = 0.95
	DefaultInverterEff = 0.98

	referenceTempC       = 25.0
	stcIrradiance        = 1000.0
	noctIrradiance       = 800.0
	noctAmbientReference = 20.0
)

// Irradiance returns the plane-of-array irradiance in W/m² for a fractional
// hour of day. It is zero outside [sunrise, sunset] and follows a half sine
// peaking at gMax halfway between the two.
func Irradiance(hour, sunrise, sunset, gMax float64) float64 {
	if hour < sunrise || hour > sunset || sunset <= sunrise {
		return 0
	}
	g := gMax * math.Sin(math.Pi*(hour-sunrise)/(sunset-sunrise))
	return math.Max(0, g)
}

// AmbientTemp returns the ambient air temperature in °C, a daily sinusoid
// between 10°C and 30°C.
func AmbientTemp(hour float64) float64 {
	return 20 + 10*math.Sin(2*math.Pi/24*hour-math.Pi/2)
}

// ModuleTemp approximates the cell temperature from ambient temperature and
// irradiance using the NOCT model.
func ModuleTemp(ambientTemp, irradiance, noct float64) float64 {
	return ambientTemp + (noct-noctAmbientReference)*irradiance/noctIrradiance
}

// ACPowerKW returns the inverter output in kW, clamped to [0, capacityKW].
func ACPowerKW(capacityKW, irradiance, tempCoeff, moduleTemp, derate, inverterEff float64) float64 {
	dc := capacityKW * (irradiance / stcIrradiance) * derate * (1 + tempCoeff*(moduleTemp-referenceTempC))
	ac := math.Max(0, dc*inverterEff)
	return math.Min(ac, math.Max(0, capacityKW))
}

// Model bundles the tunable constants of the plant model.
type Model struct {
	SunriseHour    float64
	SunsetHour     float64
	PeakIrradiance float64
	NOCT           float64
	TempCoeff      float64
	Derate         float64
	InverterEff    float64
}

// DefaultModel returns the model with the default constants.
func DefaultModel() Model {
	return Model{
		SunriseHour:    DefaultSunriseHour,
		SunsetHour:     DefaultSunsetHour,
		PeakIrradiance: DefaultPeakIrradiance,
		NOCT:           DefaultNOCT,
		TempCoeff:      DefaultTempCoeff,
		Derate:         DefaultDerate,
		InverterEff:    DefaultInverterEff,
	}
}

// Conditions are the modeled physical quantities at one instant.
type Conditions struct {
	Irradiance  float64
	AmbientTemp float64
	ModuleTemp  float64
	PowerKW     float64
}

// At evaluates the model for a plant of the given capacity at a fractional
// hour of day.
func (m Model) At(capacityKW, hour float64) Conditions {
	g := Irradiance(hour, m.SunriseHour, m.SunsetHour, m.PeakIrradiance)
	ambient := AmbientTemp(hour)
	module := ModuleTemp(ambient, g, m.NOCT)
	return Conditions{
		Irradiance:  g,
		AmbientTemp: ambient,
		ModuleTemp:  module,
		PowerKW:     ACPowerKW(capacityKW, g, m.TempCoeff, module, m.Derate, m.InverterEff),
	}
}

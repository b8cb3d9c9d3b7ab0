package types

import "time"

const (
	// TelemetryParameterPower is the parameter name of the AC power telemetry.
	TelemetryParameterPower = "power"
	// TelemetryUnitKW is the unit of TelemetryParameterPower.
	TelemetryUnitKW = "kW"
)

// Sample is one generated telemetry and weather observation for a site.
// It is never modified once generated.
type Sample struct {
	SiteID      string    `json:"siteId"`
	Timestamp   time.Time `json:"timestamp"`
	Irradiance  float64   `json:"irradiance"`
	AmbientTemp float64   `json:"ambientTemp"`
	ModuleTemp  float64   `json:"moduleTemp"`
	WindSpeed   float64   `json:"windSpeed"`
	WindDir     float64   `json:"windDir"`
	PowerKW     float64   `json:"powerKw"`
}

// WeatherSample is the persisted weather facet of a Sample.
type WeatherSample struct {
	SiteID      string    `json:"siteId"`
	Timestamp   time.Time `json:"timestamp"`
	Irradiance  float64   `json:"irradiance"`
	AmbientTemp float64   `json:"ambientTemp"`
	ModuleTemp  float64   `json:"moduleTemp"`
	WindSpeed   float64   `json:"windSpeed"`
	WindDir     float64   `json:"windDir"`
}

// TelemetrySample is a single persisted device measurement.
type TelemetrySample struct {
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Parameter string    `json:"parameter"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// Weather returns the weather facet of the sample.
func (s Sample) Weather() WeatherSample {
	return WeatherSample{
		SiteID:      s.SiteID,
		Timestamp:   s.Timestamp,
		Irradiance:  s.Irradiance,
		AmbientTemp: s.AmbientTemp,
		ModuleTemp:  s.ModuleTemp,
		WindSpeed:   s.WindSpeed,
		WindDir:     s.WindDir,
	}
}

// Telemetry returns the power facet of the sample for the given device.
func (s Sample) Telemetry(deviceID string) TelemetrySample {
	return TelemetrySample{
		DeviceID:  deviceID,
		Timestamp: s.Timestamp,
		Parameter: TelemetryParameterPower,
		Value:     s.PowerKW,
		Unit:      TelemetryUnitKW,
	}
}

package types

import (
	"sync"
	"time"
	// site time zones must resolve in minimal containers
	_ "time/tzdata"
)

// Site is a PV plant whose output is simulated.
type Site struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	CapacityKW float64 `json:"capacityKw"`
	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// locations caches resolved zones by name, unknown names included
var locations sync.Map

// Location returns the site's time zone, falling back to UTC when the zone is
// empty or unknown. Zones are loaded once per name.
func (s Site) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	if loc, ok := locations.Load(s.Timezone); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	actual, _ := locations.LoadOrStore(s.Timezone, loc)
	return actual.(*time.Location)
}

// Device is a telemetry source. Each simulated site writes power samples
// against a single inverter device.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SimulatedDeviceName returns the name of the inverter device that carries a
// site's simulated power telemetry.
func SimulatedDeviceName(siteID string) string {
	return "sim-inverter-" + siteID
}

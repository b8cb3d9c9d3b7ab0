// Package sample turns the physics model into timestamped samples with
// simulated measurement noise and wind.
package sample

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pvsim/pvsim/pkg/physics"
	"github.com/pvsim/pvsim/pkg/types"
)

const (
	// MaxPowerNoiseKW bounds the positive jitter added to modeled power.
	MaxPowerNoiseKW = 0.2
	MaxWindSpeed    = 10.0
	weatherPlaces   = 2
	powerPlaces     = 4
)

// SiteFinder looks sites up by id. It returns storage.ErrSiteNotFound when the
// site does not exist.
type SiteFinder interface {
	GetSite(ctx context.Context, siteID string) (types.Site, error)
}

// Generator produces Samples. It is safe for concurrent use.
type Generator struct {
	model physics.Model

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator using the default physics model and a
// time-seeded random source.
func NewGenerator() *Generator {
	return NewGeneratorWithSource(physics.DefaultModel(), rand.NewSource(time.Now().UnixNano()))
}

// NewGeneratorWithSource returns a Generator with an explicit model and
// random source, primarily for reproducible tests.
func NewGeneratorWithSource(model physics.Model, src rand.Source) *Generator {
	return &Generator{
		model: model,
		rng:   rand.New(src),
	}
}

// Generate looks up the site and returns its sample at ts.
func (g *Generator) Generate(ctx context.Context, sites SiteFinder, siteID string, ts time.Time) (types.Sample, error) {
	site, err := sites.GetSite(ctx, siteID)
	if err != nil {
		return types.Sample{}, fmt.Errorf("failed to get site %s: %w", siteID, err)
	}
	return g.ForSite(site, ts), nil
}

// ForSite returns the sample for an already loaded site at ts.
func (g *Generator) ForSite(site types.Site, ts time.Time) types.Sample {
	local := ts.In(site.Location())
	hour := float64(local.Hour()%24) + float64(local.Minute())/60.0
	c := g.model.At(site.CapacityKW, hour)

	g.mu.Lock()
	noise := g.rng.Float64() * MaxPowerNoiseKW
	windSpeed := g.rng.Float64() * MaxWindSpeed
	windDir := g.rng.Float64() * 360
	g.mu.Unlock()

	return types.Sample{
		SiteID:      site.ID,
		Timestamp:   ts,
		Irradiance:  round(c.Irradiance, weatherPlaces),
		AmbientTemp: round(c.AmbientTemp, weatherPlaces),
		ModuleTemp:  round(c.ModuleTemp, weatherPlaces),
		WindSpeed:   round(windSpeed, weatherPlaces),
		// rounding 359.996 up would land on 360
		WindDir: math.Mod(round(windDir, weatherPlaces), 360),
		// noise never lifts output past the nameplate
		PowerKW: round(math.Min(math.Max(0, c.PowerKW+noise), math.Max(0, site.CapacityKW)), powerPlaces),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

package sample

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pvsim/pvsim/pkg/physics"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSites map[string]types.Site

func (f fakeSites) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	s, ok := f[siteID]
	if !ok {
		return types.Site{}, storage.ErrSiteNotFound
	}
	return s, nil
}

// zeroSource always yields 0 so noise and wind are deterministic.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

func assertPlaces(t *testing.T, v float64, places int) {
	t.Helper()
	p := math.Pow10(places)
	assert.InDelta(t, math.Round(v*p), v*p, 1e-6, "value %v has more than %d decimal places", v, places)
}

func TestForSite(t *testing.T) {
	site := types.Site{ID: "site-1", CapacityKW: 5}

	t.Run("Solar Noon", func(t *testing.T) {
		g := NewGeneratorWithSource(physics.DefaultModel(), zeroSource{})
		ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		s := g.ForSite(site, ts)

		assert.Equal(t, "site-1", s.SiteID)
		assert.Equal(t, ts, s.Timestamp)
		assert.Equal(t, 900.0, s.Irradiance)
		assert.InDelta(t, 30.0, s.AmbientTemp, 1e-9)
		assert.InDelta(t, 58.13, s.ModuleTemp, 0.011)
		assert.Equal(t, 3.6344, s.PowerKW)
		assert.Equal(t, 0.0, s.WindSpeed)
		assert.Equal(t, 0.0, s.WindDir)
	})

	t.Run("Uses Minutes", func(t *testing.T) {
		g := NewGeneratorWithSource(physics.DefaultModel(), zeroSource{})
		onHour := g.ForSite(site, time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC))
		halfPast := g.ForSite(site, time.Date(2024, 6, 1, 7, 30, 0, 0, time.UTC))
		assert.Less(t, onHour.Irradiance, halfPast.Irradiance)
	})

	t.Run("Site Timezone", func(t *testing.T) {
		g := NewGeneratorWithSource(physics.DefaultModel(), zeroSource{})
		chicago := types.Site{ID: "site-2", CapacityKW: 5, Timezone: "America/Chicago"}
		// 17:00 UTC is noon in Chicago during daylight saving time
		s := g.ForSite(chicago, time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC))
		assert.Equal(t, 900.0, s.Irradiance)
	})

	t.Run("Night Power Is Only Noise", func(t *testing.T) {
		g := NewGenerator()
		for i := 0; i < 100; i++ {
			s := g.ForSite(site, time.Date(2024, 6, 1, 2, i%60, 0, 0, time.UTC))
			assert.Equal(t, 0.0, s.Irradiance)
			assert.GreaterOrEqual(t, s.PowerKW, 0.0)
			assert.LessOrEqual(t, s.PowerKW, MaxPowerNoiseKW)
		}
	})

	t.Run("Noise Clamped To Capacity", func(t *testing.T) {
		g := NewGeneratorWithSource(physics.DefaultModel(), rand.NewSource(1))
		tiny := types.Site{ID: "site-3", CapacityKW: 0.05}
		empty := types.Site{ID: "site-4"}
		for i := 0; i < 50; i++ {
			ts := time.Date(2024, 6, 1, 2, i, 0, 0, time.UTC)
			s := g.ForSite(tiny, ts)
			assert.GreaterOrEqual(t, s.PowerKW, 0.0)
			assert.LessOrEqual(t, s.PowerKW, tiny.CapacityKW)
			assert.Equal(t, 0.0, g.ForSite(empty, ts).PowerKW)
		}
		// full sun saturates the small plant at its rating
		s := NewGeneratorWithSource(physics.DefaultModel(), zeroSource{}).ForSite(tiny, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
		assert.LessOrEqual(t, s.PowerKW, tiny.CapacityKW)
	})

	t.Run("Bounds And Precision", func(t *testing.T) {
		g := NewGeneratorWithSource(physics.DefaultModel(), rand.NewSource(42))
		start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 24*12; i++ {
			s := g.ForSite(site, start.Add(time.Duration(i)*5*time.Minute))
			assert.GreaterOrEqual(t, s.PowerKW, 0.0)
			assert.LessOrEqual(t, s.PowerKW, site.CapacityKW)
			assert.GreaterOrEqual(t, s.WindSpeed, 0.0)
			assert.LessOrEqual(t, s.WindSpeed, MaxWindSpeed)
			assert.GreaterOrEqual(t, s.WindDir, 0.0)
			assert.Less(t, s.WindDir, 360.0)
			assertPlaces(t, s.Irradiance, 2)
			assertPlaces(t, s.AmbientTemp, 2)
			assertPlaces(t, s.ModuleTemp, 2)
			assertPlaces(t, s.WindSpeed, 2)
			assertPlaces(t, s.WindDir, 2)
			assertPlaces(t, s.PowerKW, 4)
		}
	})

	t.Run("Reproducible With Same Seed", func(t *testing.T) {
		ts := time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC)
		a := NewGeneratorWithSource(physics.DefaultModel(), rand.NewSource(7)).ForSite(site, ts)
		b := NewGeneratorWithSource(physics.DefaultModel(), rand.NewSource(7)).ForSite(site, ts)
		assert.Equal(t, a, b)
	})
}

func TestGenerate(t *testing.T) {
	sites := fakeSites{"site-1": {ID: "site-1", CapacityKW: 5}}
	g := NewGeneratorWithSource(physics.DefaultModel(), zeroSource{})
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		s, err := g.Generate(ctx, sites, "site-1", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 900.0, s.Irradiance)
	})

	t.Run("Site Not Found", func(t *testing.T) {
		_, err := g.Generate(ctx, sites, "missing", time.Now())
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrSiteNotFound))
	})
}

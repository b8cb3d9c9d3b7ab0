package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/metrics"
	"github.com/pvsim/pvsim/pkg/sample"
	"github.com/pvsim/pvsim/pkg/storage"
)

const (
	DefaultSeedPoints = 24
	// MaxSeedPoints is one sample per minute of the day.
	MaxSeedPoints = 24 * 60
)

// Seeder writes an evenly spaced synthetic day of samples for a site. Seeded
// samples are never published.
type Seeder struct {
	store storage.Database
	gen   *sample.Generator
	now   func() time.Time
}

// NewSeeder returns a Seeder.
func NewSeeder(store storage.Database, gen *sample.Generator) *Seeder {
	return &Seeder{
		store: store,
		gen:   gen,
		now:   time.Now,
	}
}

// SeedTimes returns the timestamps of a points-long seed of the day
// containing now, starting at local midnight of loc.
func SeedTimes(now time.Time, loc *time.Location, points int) []time.Time {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	times := make([]time.Time, points)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * 24 * time.Hour / time.Duration(points))
	}
	return times
}

// Seed generates and stores points samples spaced 24/points hours apart from
// the start of the site's current day. It returns how many were stored. If
// storage fails partway through the returned error is a *SeedError carrying
// the same count.
func (s *Seeder) Seed(ctx context.Context, siteID string, points int) (int, error) {
	if points <= 0 || points > MaxSeedPoints {
		return 0, fmt.Errorf("%w: %d must be between 1 and %d", ErrInvalidPoints, points, MaxSeedPoints)
	}

	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return 0, siteError(siteID, err)
	}
	deviceID, err := simulatedDevice(ctx, s.store, siteID)
	if err != nil {
		return 0, &SeedError{Err: err}
	}

	ctx = log.WithAttrs(ctx, slog.String("siteID", siteID))
	var created int
	for _, ts := range SeedTimes(s.now(), site.Location(), points) {
		if err := ctx.Err(); err != nil {
			return created, &SeedError{Created: created, Err: err}
		}
		if err := persistSample(ctx, s.store, deviceID, s.gen.ForSite(site, ts)); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "seeding aborted", slog.Int("created", created), slog.Any("error", err))
			return created, &SeedError{Created: created, Err: err}
		}
		created++
		metrics.SamplesPersisted.WithLabelValues(metrics.ModeSeed).Inc()
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded site", slog.Int("created", created))
	return created, nil
}

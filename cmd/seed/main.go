package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/sample"
	"github.com/pvsim/pvsim/pkg/simulation"
	"github.com/pvsim/pvsim/pkg/storage"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	siteID := lflag.RequiredString("site-id", "Site to seed")
	points := lflag.Int("points", simulation.DefaultSeedPoints, "Samples to spread evenly over today")
	clearFirst := lflag.Bool("clear-first", false, "Delete the site's existing simulated history before seeding")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	if *clearFirst {
		res, err := simulation.Clear(ctx, s, *siteID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to clear site data", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Cleared %d telemetry and %d weather samples\n", res.TelemetryDeleted, res.WeatherDeleted)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding site", "siteID", *siteID, "points", *points)
	created, err := simulation.NewSeeder(s, sample.NewGenerator()).Seed(ctx, *siteID, *points)
	if err != nil {
		var serr *simulation.SeedError
		if errors.As(err, &serr) {
			fmt.Printf("Seeded %d of %d points before failing\n", created, *points)
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed site", "error", err)
		s.Close()
		os.Exit(1)
	}
	fmt.Printf("Seeded %d points for site %s\n", created, *siteID)
}

package simulation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
)

// ClearResult counts the rows removed by Clear.
type ClearResult struct {
	TelemetryDeleted int `json:"telemetryDeleted"`
	WeatherDeleted   int `json:"weatherDeleted"`
}

// Clear deletes the site's simulated telemetry and weather history. The site
// itself and its device are kept. A running simulation keeps writing after
// Clear returns.
func Clear(ctx context.Context, store storage.Database, siteID string) (ClearResult, error) {
	var res ClearResult
	if _, err := store.GetSite(ctx, siteID); err != nil {
		return res, siteError(siteID, err)
	}

	d, err := store.FindDevice(ctx, types.SimulatedDeviceName(siteID))
	switch {
	case errors.Is(err, storage.ErrDeviceNotFound):
		// never simulated, nothing to delete
	case err != nil:
		return res, &PersistenceError{Op: "find device", SiteID: siteID, Err: err}
	default:
		res.TelemetryDeleted, err = store.DeleteTelemetryForDevice(ctx, d.ID)
		if err != nil {
			return res, &PersistenceError{Op: "delete telemetry", SiteID: siteID, Err: err}
		}
	}

	res.WeatherDeleted, err = store.DeleteWeatherForSite(ctx, siteID)
	if err != nil {
		return res, &PersistenceError{Op: "delete weather", SiteID: siteID, Err: err}
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared site data",
		slog.String("siteID", siteID),
		slog.Int("telemetry", res.TelemetryDeleted),
		slog.Int("weather", res.WeatherDeleted),
	)
	return res, nil
}

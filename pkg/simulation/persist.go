package simulation

import (
	"context"

	"github.com/pvsim/pvsim/pkg/metrics"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
)

// simulatedDevice returns the id of the site's simulated inverter, creating
// the device on first use.
func simulatedDevice(ctx context.Context, store storage.Database, siteID string) (string, error) {
	d, err := store.FindOrCreateDevice(ctx, types.SimulatedDeviceName(siteID))
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("device").Inc()
		return "", &PersistenceError{Op: "find or create device", SiteID: siteID, Err: err}
	}
	return d.ID, nil
}

// persistSample writes the weather facet and then the telemetry facet. The
// two writes are not atomic: a telemetry failure leaves the weather row.
func persistSample(ctx context.Context, store storage.Database, deviceID string, s types.Sample) error {
	if err := store.InsertWeatherSample(ctx, s.Weather()); err != nil {
		metrics.PersistenceFailures.WithLabelValues("weather").Inc()
		return &PersistenceError{Op: "insert weather sample", SiteID: s.SiteID, Err: err}
	}
	if err := store.InsertTelemetrySample(ctx, s.Telemetry(deviceID)); err != nil {
		metrics.PersistenceFailures.WithLabelValues("telemetry").Inc()
		return &PersistenceError{Op: "insert telemetry sample", SiteID: s.SiteID, Err: err}
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/types"
)

var (
	ErrSiteNotFound   = errors.New("site not found")
	ErrSiteExists     = errors.New("site already exists")
	ErrDeviceNotFound = errors.New("device not found")
)

// Database defines the persistence collaborator of the simulator.
type Database interface {
	// Sites
	GetSite(ctx context.Context, siteID string) (types.Site, error)
	ListSites(ctx context.Context) ([]types.Site, error)
	CreateSite(ctx context.Context, site types.Site) error

	// Devices
	// FindDevice returns ErrDeviceNotFound if no device has the name.
	FindDevice(ctx context.Context, name string) (types.Device, error)
	FindOrCreateDevice(ctx context.Context, name string) (types.Device, error)

	// Samples
	InsertWeatherSample(ctx context.Context, sample types.WeatherSample) error
	InsertTelemetrySample(ctx context.Context, sample types.TelemetrySample) error
	DeleteTelemetryForDevice(ctx context.Context, deviceID string) (int, error)
	DeleteWeatherForSite(ctx context.Context, siteID string) (int, error)

	// History
	GetWeatherHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.WeatherSample, error)
	GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.TelemetrySample, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()
	mem := configuredMemory()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = mem
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

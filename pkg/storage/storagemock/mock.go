package storagemock

import (
	"context"
	"time"

	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	args := m.Called(ctx, siteID)
	if len(args) > 0 {
		return args.Get(0).(types.Site), args.Error(1)
	}
	return types.Site{}, nil
}

func (m *MockDatabase) ListSites(ctx context.Context) ([]types.Site, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Site), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) CreateSite(ctx context.Context, site types.Site) error {
	args := m.Called(ctx, site)
	return args.Error(0)
}

func (m *MockDatabase) FindDevice(ctx context.Context, name string) (types.Device, error) {
	args := m.Called(ctx, name)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return types.Device{}, nil
}

func (m *MockDatabase) FindOrCreateDevice(ctx context.Context, name string) (types.Device, error) {
	args := m.Called(ctx, name)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return types.Device{}, nil
}

func (m *MockDatabase) InsertWeatherSample(ctx context.Context, sample types.WeatherSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockDatabase) InsertTelemetrySample(ctx context.Context, sample types.TelemetrySample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockDatabase) DeleteTelemetryForDevice(ctx context.Context, deviceID string) (int, error) {
	args := m.Called(ctx, deviceID)
	return args.Int(0), args.Error(1)
}

func (m *MockDatabase) DeleteWeatherForSite(ctx context.Context, siteID string) (int, error) {
	args := m.Called(ctx, siteID)
	return args.Int(0), args.Error(1)
}

func (m *MockDatabase) GetWeatherHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.WeatherSample, error) {
	args := m.Called(ctx, siteID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.WeatherSample), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.TelemetrySample, error) {
	args := m.Called(ctx, deviceID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.TelemetrySample), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

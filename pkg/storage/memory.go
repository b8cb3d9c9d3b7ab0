package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/types"
)

// MemoryProvider implements Database in process memory. Samples are kept
// sorted by timestamp so range reads are binary searches.
type MemoryProvider struct {
	mu        sync.RWMutex
	sites     map[string]types.Site
	devices   map[string]types.Device // keyed by name
	weather   map[string][]types.WeatherSample
	telemetry map[string][]types.TelemetrySample
}

// NewMemory returns an empty in-memory database.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{
		sites:     make(map[string]types.Site),
		devices:   make(map[string]types.Device),
		weather:   make(map[string][]types.WeatherSample),
		telemetry: make(map[string][]types.TelemetrySample),
	}
}

func configuredMemory() *MemoryProvider {
	var sites []types.Site
	lflag.JSON(&sites, "memory-sites", sites, "JSON array of sites to preload into the memory storage provider")

	m := NewMemory()
	lflag.Do(func() {
		for _, s := range sites {
			if err := m.CreateSite(context.Background(), s); err != nil {
				panic(fmt.Sprintf("invalid memory-sites: %v", err))
			}
		}
	})
	return m
}

// GetSite returns the site or ErrSiteNotFound.
func (m *MemoryProvider) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[siteID]
	if !ok {
		return types.Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
	}
	return s, nil
}

// ListSites returns all sites ordered by ID.
func (m *MemoryProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sites := make([]types.Site, 0, len(m.sites))
	for _, s := range m.sites {
		sites = append(sites, s)
	}
	sort.Slice(sites, func(i, j int) bool {
		return sites[i].ID < sites[j].ID
	})
	return sites, nil
}

// CreateSite adds a new site.
func (m *MemoryProvider) CreateSite(ctx context.Context, site types.Site) error {
	if site.ID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[site.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSiteExists, site.ID)
	}
	m.sites[site.ID] = site
	return nil
}

// FindDevice returns the device with the name or ErrDeviceNotFound.
func (m *MemoryProvider) FindDevice(ctx context.Context, name string) (types.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[name]
	if !ok {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return d, nil
}

// FindOrCreateDevice returns the device with the name, creating it if needed.
func (m *MemoryProvider) FindOrCreateDevice(ctx context.Context, name string) (types.Device, error) {
	if name == "" {
		return types.Device{}, fmt.Errorf("device name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[name]; ok {
		return d, nil
	}
	d := types.Device{ID: uuid.NewString(), Name: name}
	m.devices[name] = d
	return d, nil
}

// InsertWeatherSample stores a weather sample, replacing any sample with the
// same timestamp.
func (m *MemoryProvider) InsertWeatherSample(ctx context.Context, sample types.WeatherSample) error {
	if sample.SiteID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.weather[sample.SiteID]
	idx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(sample.Timestamp)
	})
	if idx < len(all) && all[idx].Timestamp.Equal(sample.Timestamp) {
		all[idx] = sample
		return nil
	}
	all = append(all, types.WeatherSample{})
	copy(all[idx+1:], all[idx:])
	all[idx] = sample
	m.weather[sample.SiteID] = all
	return nil
}

// InsertTelemetrySample stores a telemetry sample, replacing any sample with
// the same timestamp and parameter.
func (m *MemoryProvider) InsertTelemetrySample(ctx context.Context, sample types.TelemetrySample) error {
	if sample.DeviceID == "" {
		return fmt.Errorf("deviceID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.telemetry[sample.DeviceID]
	idx := sort.Search(len(all), func(i int) bool {
		return !all[i].Timestamp.Before(sample.Timestamp)
	})
	for i := idx; i < len(all) && all[i].Timestamp.Equal(sample.Timestamp); i++ {
		if all[i].Parameter == sample.Parameter {
			all[i] = sample
			return nil
		}
	}
	all = append(all, types.TelemetrySample{})
	copy(all[idx+1:], all[idx:])
	all[idx] = sample
	m.telemetry[sample.DeviceID] = all
	return nil
}

// DeleteTelemetryForDevice removes all of a device's telemetry.
func (m *MemoryProvider) DeleteTelemetryForDevice(ctx context.Context, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.telemetry[deviceID])
	delete(m.telemetry, deviceID)
	return n, nil
}

// DeleteWeatherForSite removes all of a site's weather history.
func (m *MemoryProvider) DeleteWeatherForSite(ctx context.Context, siteID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.weather[siteID])
	delete(m.weather, siteID)
	return n, nil
}

// searchRange returns the [startIdx, endIdx) bounds of samples with
// start <= timestamp < end.
func searchRange(n int, at func(int) time.Time, start, end time.Time) (int, int) {
	startIdx := sort.Search(n, func(i int) bool {
		return !at(i).Before(start)
	})
	endIdx := sort.Search(n, func(i int) bool {
		return !at(i).Before(end)
	})
	return startIdx, endIdx
}

// GetWeatherHistory returns weather samples between start (inclusive) and end (exclusive).
func (m *MemoryProvider) GetWeatherHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.WeatherSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.weather[siteID]
	startIdx, endIdx := searchRange(len(all), func(i int) time.Time { return all[i].Timestamp }, start, end)
	if startIdx >= endIdx {
		return nil, nil
	}
	result := make([]types.WeatherSample, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result, nil
}

// GetTelemetryHistory returns telemetry between start (inclusive) and end (exclusive).
func (m *MemoryProvider) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.TelemetrySample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.telemetry[deviceID]
	startIdx, endIdx := searchRange(len(all), func(i int) time.Time { return all[i].Timestamp }, start, end)
	if startIdx >= endIdx {
		return nil, nil
	}
	result := make([]types.TelemetrySample, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result, nil
}

// Close is a no-op.
func (m *MemoryProvider) Close() error {
	return nil
}

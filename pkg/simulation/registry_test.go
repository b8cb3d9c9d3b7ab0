package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/storage/storagemock"
	"github.com/pvsim/pvsim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	site1 = types.Site{ID: "site-1", CapacityKW: 5}
	site2 = types.Site{ID: "site-2", CapacityKW: 8}
)

func TestRegistryStartStop(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(newMemoryStore(t, site1))

	h, err := r.Start(ctx, "site-1", time.Second)
	require.NoError(t, err)
	tk := r.ticker(t)
	assert.Equal(t, "site-1", h.SiteID())
	assert.Equal(t, time.Second, h.Interval())
	assert.True(t, r.Status("site-1"))
	assert.Equal(t, []string{"site-1"}, r.Running())

	_, err = r.Start(ctx, "site-1", time.Second)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, []string{"site-1"}, r.Running())

	require.NoError(t, r.Stop(ctx, "site-1"))
	assert.False(t, r.Status("site-1"))
	assert.Empty(t, r.Running())
	assert.True(t, tk.stopped.Load())

	err = r.Stop(ctx, "site-1")
	assert.True(t, errors.Is(err, ErrNotRunning))

	assert.Equal(t, []types.StatusEvent{
		types.NewStatusEvent("site-1", true),
		types.NewStatusEvent("site-1", false),
	}, r.pub.statuses())
}

func TestRegistryStopNotRunning(t *testing.T) {
	r := newTestRegistry(newMemoryStore(t, site1))
	err := r.Stop(context.Background(), "site-1")
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.Empty(t, r.pub.statuses())
}

func TestRegistryStartUnknownSite(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	r := newTestRegistry(store)

	_, err := r.Start(ctx, "site-1", time.Second)
	assert.True(t, errors.Is(err, ErrSiteNotFound))
	assert.False(t, r.Status("site-1"))
	assert.Empty(t, r.Running())

	// the reservation was released
	require.NoError(t, store.CreateSite(ctx, site1))
	_, err = r.Start(ctx, "site-1", time.Second)
	require.NoError(t, err)
	r.ShutdownAll(ctx)
}

func TestRegistryStartStorageFailure(t *testing.T) {
	store := &storagemock.MockDatabase{}
	store.On("GetSite", mock.Anything, "site-1").Return(types.Site{}, errors.New("unavailable"))
	r := newTestRegistry(store)

	_, err := r.Start(context.Background(), "site-1", time.Second)
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "site-1", perr.SiteID)
	assert.False(t, errors.Is(err, ErrSiteNotFound))
	assert.False(t, r.Status("site-1"))
}

func TestRegistryInterval(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(newMemoryStore(t, site1))

	_, err := r.Start(ctx, "site-1", time.Millisecond)
	assert.True(t, errors.Is(err, ErrInvalidInterval))
	_, err = r.Start(ctx, "site-1", -time.Second)
	assert.True(t, errors.Is(err, ErrInvalidInterval))
	assert.False(t, r.Status("site-1"))

	h, err := r.Start(ctx, "site-1", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, h.Interval())
	r.ShutdownAll(ctx)
}

func TestRegistryConcurrentStart(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(newMemoryStore(t, site1))

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Start(ctx, "site-1", time.Second)
		}(i)
	}
	wg.Wait()

	var started int
	for _, err := range errs {
		if err == nil {
			started++
		} else {
			assert.True(t, errors.Is(err, ErrAlreadyRunning), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, []string{"site-1"}, r.Running())
	assert.Len(t, r.tickers, 1)
	r.ShutdownAll(ctx)
}

func TestRegistryShutdownAll(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(newMemoryStore(t, site1, site2))

	_, err := r.Start(ctx, "site-1", time.Second)
	require.NoError(t, err)
	_, err = r.Start(ctx, "site-2", time.Second)
	require.NoError(t, err)
	tickers := []*fakeTicker{r.ticker(t), r.ticker(t)}

	r.ShutdownAll(ctx)
	assert.Empty(t, r.Running())
	assert.False(t, r.Status("site-1"))
	assert.False(t, r.Status("site-2"))
	for _, tk := range tickers {
		assert.True(t, tk.stopped.Load())
		select {
		case tk.ch <- time.Now():
			t.Fatal("tick delivered after shutdown")
		case <-time.After(20 * time.Millisecond):
		}
	}
	assert.Empty(t, r.pub.samples())

	// repeated shutdowns are no-ops
	r.ShutdownAll(ctx)

	_, err = r.Start(ctx, "site-1", time.Second)
	assert.True(t, errors.Is(err, ErrShutdown))
	assert.True(t, errors.Is(r.Stop(ctx, "site-1"), ErrNotRunning))
}

func TestRegistryStats(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(newMemoryStore(t, site1))

	_, ok := r.Stats("site-1")
	assert.False(t, ok)

	h, err := r.Start(ctx, "site-1", time.Second)
	require.NoError(t, err)
	tk := r.ticker(t)
	tk.fire(t, time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool {
		return len(r.pub.samples()) == 1 && idle(h)
	}, time.Second, 5*time.Millisecond)

	stats, ok := r.Stats("site-1")
	require.True(t, ok)
	assert.Equal(t, Stats{Ticks: 1}, stats)
	r.ShutdownAll(ctx)
}

func TestRegistryUsesStorageSentinel(t *testing.T) {
	assert.True(t, errors.Is(ErrSiteNotFound, storage.ErrSiteNotFound))
}

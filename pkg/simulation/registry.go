// Package simulation runs live and seeded PV simulations for sites.
//
// A Registry owns at most one live driver per site. Starting reserves the
// site before validating it so that concurrent starts for the same site are
// admitted exactly once. The registry lock only guards the handle map and is
// never held across storage calls.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/metrics"
	"github.com/pvsim/pvsim/pkg/sample"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMinInterval = 100 * time.Millisecond
)

// Registry tracks the running live simulations.
type Registry struct {
	store storage.Database
	gen   *sample.Generator
	pub   Publisher

	defaultInterval time.Duration
	minInterval     time.Duration
	newTicker       func(time.Duration) Ticker
	now             func() time.Time

	mu sync.Mutex
	// a nil handle is a reservation for a start that is still validating
	handles  map[string]*Handle
	closed   bool
	shutdown sync.Once
}

// NewRegistry returns an empty Registry.
func NewRegistry(store storage.Database, gen *sample.Generator, pub Publisher) *Registry {
	return &Registry{
		store:           store,
		gen:             gen,
		pub:             pub,
		defaultInterval: DefaultInterval,
		minInterval:     DefaultMinInterval,
		newTicker:       newTimeTicker,
		now:             time.Now,
		handles:         make(map[string]*Handle),
	}
}

// Configured sets up the Registry based on flags.
func Configured(store storage.Database, gen *sample.Generator, pub Publisher) *Registry {
	defaultInterval := lflag.Duration("sim-default-interval", DefaultInterval, "Live simulation tick interval when a start request omits one")
	minInterval := lflag.Duration("sim-min-interval", DefaultMinInterval, "Smallest live simulation tick interval accepted")

	r := NewRegistry(store, gen, pub)
	lflag.Do(func() {
		if *minInterval <= 0 {
			panic("sim-min-interval must be positive")
		}
		if *defaultInterval < *minInterval {
			panic("sim-default-interval cannot be less than sim-min-interval")
		}
		r.defaultInterval = *defaultInterval
		r.minInterval = *minInterval
	})
	return r
}

// Start begins a live simulation of the site ticking every interval. A zero
// interval uses the default. It fails with ErrAlreadyRunning if the site is
// already running or being started, and ErrSiteNotFound if it does not exist.
//
// The driver outlives ctx; it only stops through Stop or ShutdownAll.
func (r *Registry) Start(ctx context.Context, siteID string, interval time.Duration) (*Handle, error) {
	if interval == 0 {
		interval = r.defaultInterval
	}
	if interval < r.minInterval {
		return nil, fmt.Errorf("%w: %s is below the minimum of %s", ErrInvalidInterval, interval, r.minInterval)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, ok := r.handles[siteID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, siteID)
	}
	r.handles[siteID] = nil
	r.mu.Unlock()

	if _, err := r.store.GetSite(ctx, siteID); err != nil {
		r.release(siteID)
		return nil, siteError(siteID, err)
	}

	driverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	driverCtx = log.WithAttrs(driverCtx, slog.String("siteID", siteID))
	h := &Handle{
		siteID:    siteID,
		interval:  interval,
		startedAt: r.now(),
		store:     r.store,
		gen:       r.gen,
		pub:       r.pub,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		// ShutdownAll already swept the map
		r.mu.Unlock()
		cancel()
		return nil, ErrShutdown
	}
	r.handles[siteID] = h
	r.mu.Unlock()

	metrics.ActiveSimulations.Inc()
	go h.run(driverCtx, r.newTicker(interval))
	r.pub.Publish(ctx, types.NewStatusEvent(siteID, true))
	return h, nil
}

func (r *Registry) release(siteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[siteID]; ok && h == nil {
		delete(r.handles, siteID)
	}
}

// Stop cancels the site's live simulation and returns once no further ticks
// will be scheduled. A tick already in flight finishes persisting in the
// background. It fails with ErrNotRunning if the site is not running; callers
// should treat that as already stopped.
func (r *Registry) Stop(ctx context.Context, siteID string) error {
	r.mu.Lock()
	h, ok := r.handles[siteID]
	if !ok || h == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, siteID)
	}
	delete(r.handles, siteID)
	r.mu.Unlock()

	h.cancel()
	<-h.done
	metrics.ActiveSimulations.Dec()
	r.pub.Publish(ctx, types.NewStatusEvent(siteID, false))
	return nil
}

// Status reports whether the site has a running live simulation.
func (r *Registry) Status(siteID string) bool {
	_, ok := r.Get(siteID)
	return ok
}

// Get returns the site's running handle.
func (r *Registry) Get(siteID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[siteID]
	return h, h != nil
}

// Stats returns the counters of the site's running driver.
func (r *Registry) Stats(siteID string) (Stats, bool) {
	h, ok := r.Get(siteID)
	if !ok {
		return Stats{}, false
	}
	return h.Stats(), true
}

// Running returns the ids of the running sites in order.
func (r *Registry) Running() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id, h := range r.handles {
		if h != nil {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ShutdownAll stops every simulation and waits for in-flight ticks to finish.
// Only the first call does anything; afterwards Start returns ErrShutdown.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.shutdown.Do(func() {
		r.mu.Lock()
		r.closed = true
		handles := r.handles
		r.handles = make(map[string]*Handle)
		r.mu.Unlock()

		var stopped []*Handle
		for _, h := range handles {
			if h == nil {
				continue
			}
			h.cancel()
			stopped = append(stopped, h)
		}
		for _, h := range stopped {
			h.wait()
			metrics.ActiveSimulations.Dec()
			r.pub.Publish(ctx, types.NewStatusEvent(h.siteID, false))
		}
		log.Ctx(ctx).InfoContext(ctx, "all simulations shut down", slog.Int("stopped", len(stopped)))
	})
}

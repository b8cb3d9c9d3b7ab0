package simulation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/metrics"
	"github.com/pvsim/pvsim/pkg/sample"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
)

// Publisher receives the events produced by live drivers.
type Publisher interface {
	Publish(ctx context.Context, e types.Event) int
}

// Stats are the counters of one live driver.
type Stats struct {
	Ticks    int64 `json:"ticks"`
	Skipped  int64 `json:"skipped"`
	Failures int64 `json:"failures"`
}

// Handle is a running live driver for one site. Ticks are generated from the
// ticker's schedule, not from the completion of the previous tick; a tick that
// arrives while the previous one is still working is skipped.
type Handle struct {
	siteID    string
	interval  time.Duration
	startedAt time.Time

	store storage.Database
	gen   *sample.Generator
	pub   Publisher

	cancel context.CancelFunc
	done   chan struct{}
	ticks  sync.WaitGroup
	busy   atomic.Bool

	// only touched by the tick holding busy
	deviceID string

	ticked   atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
}

// SiteID returns the simulated site.
func (h *Handle) SiteID() string {
	return h.siteID
}

// Interval returns the tick period.
func (h *Handle) Interval() time.Duration {
	return h.interval
}

// StartedAt returns when the driver was installed.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Stats returns a snapshot of the driver's counters.
func (h *Handle) Stats() Stats {
	return Stats{
		Ticks:    h.ticked.Load(),
		Skipped:  h.skipped.Load(),
		Failures: h.failures.Load(),
	}
}

func (h *Handle) run(ctx context.Context, ticker Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	log.Ctx(ctx).InfoContext(ctx, "simulation started", slog.Duration("interval", h.interval))
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "simulation stopped")
			return
		case ts := <-ticker.C():
			if !h.busy.CompareAndSwap(false, true) {
				h.skipped.Add(1)
				metrics.Ticks.WithLabelValues(metrics.TickResultSkipped).Inc()
				log.Ctx(ctx).WarnContext(ctx, "previous tick still running, skipping", slog.Time("tick", ts))
				continue
			}
			h.ticks.Add(1)
			go h.tick(ctx, ts)
		}
	}
}

// tick generates, persists and publishes one sample. Once persistence has
// begun it runs to completion even if the driver is cancelled, but the
// sample is not published after cancellation.
func (h *Handle) tick(ctx context.Context, ts time.Time) {
	defer h.ticks.Done()
	defer h.busy.Store(false)

	if ctx.Err() != nil {
		return
	}
	h.ticked.Add(1)

	s, err := h.persistTick(context.WithoutCancel(ctx), ts)
	if err != nil {
		h.failures.Add(1)
		metrics.Ticks.WithLabelValues(metrics.TickResultFailed).Inc()
		log.Ctx(ctx).ErrorContext(ctx, "simulation tick failed", slog.Time("tick", ts), slog.Any("error", err))
		return
	}
	metrics.Ticks.WithLabelValues(metrics.TickResultOK).Inc()

	if ctx.Err() != nil {
		log.Ctx(ctx).DebugContext(ctx, "simulation stopped during tick, not publishing", slog.Time("tick", ts))
		return
	}
	n := h.pub.Publish(ctx, types.NewSampleEvent(s))
	log.Ctx(ctx).DebugContext(ctx, "simulation tick", slog.Time("tick", ts), slog.Float64("powerKw", s.PowerKW), slog.Int("subscribers", n))
}

func (h *Handle) persistTick(ctx context.Context, ts time.Time) (types.Sample, error) {
	s, err := h.gen.Generate(ctx, h.store, h.siteID, ts)
	if err != nil {
		return types.Sample{}, siteError(h.siteID, err)
	}
	if h.deviceID == "" {
		id, err := simulatedDevice(ctx, h.store, h.siteID)
		if err != nil {
			return types.Sample{}, err
		}
		h.deviceID = id
	}
	if err := persistSample(ctx, h.store, h.deviceID, s); err != nil {
		return types.Sample{}, err
	}
	metrics.SamplesPersisted.WithLabelValues(metrics.ModeLive).Inc()
	return s, nil
}

// wait blocks until the loop has exited and every in-flight tick finished.
func (h *Handle) wait() {
	<-h.done
	h.ticks.Wait()
}

package simulation

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/physics"
	"github.com/pvsim/pvsim/pkg/sample"
	"github.com/pvsim/pvsim/pkg/storage"
	"github.com/pvsim/pvsim/pkg/types"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time {
	return f.ch
}

func (f *fakeTicker) Stop() {
	f.stopped.Store(true)
}

// fire blocks until the driver loop has received ts.
func (f *fakeTicker) fire(t *testing.T, ts time.Time) {
	t.Helper()
	select {
	case f.ch <- ts:
	case <-time.After(time.Second):
		t.Fatal("driver did not receive tick")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e types.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return 1
}

func (p *recordingPublisher) samples() []types.SampleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.SampleEvent
	for _, e := range p.events {
		if s, ok := e.(types.SampleEvent); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *recordingPublisher) statuses() []types.StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.StatusEvent
	for _, e := range p.events {
		if s, ok := e.(types.StatusEvent); ok {
			out = append(out, s)
		}
	}
	return out
}

type testRegistry struct {
	*Registry
	pub     *recordingPublisher
	tickers chan *fakeTicker
}

func newTestGenerator() *sample.Generator {
	return sample.NewGeneratorWithSource(physics.DefaultModel(), rand.NewSource(1))
}

func newTestRegistry(store storage.Database) *testRegistry {
	pub := &recordingPublisher{}
	tr := &testRegistry{
		Registry: NewRegistry(store, newTestGenerator(), pub),
		pub:      pub,
		tickers:  make(chan *fakeTicker, 16),
	}
	tr.newTicker = func(time.Duration) Ticker {
		f := &fakeTicker{ch: make(chan time.Time)}
		tr.tickers <- f
		return f
	}
	return tr
}

func (tr *testRegistry) ticker(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case f := <-tr.tickers:
		return f
	case <-time.After(time.Second):
		t.Fatal("no ticker was created")
		return nil
	}
}

func newMemoryStore(t *testing.T, sites ...types.Site) *storage.MemoryProvider {
	t.Helper()
	m := storage.NewMemory()
	for _, s := range sites {
		require.NoError(t, m.CreateSite(context.Background(), s))
	}
	return m
}

// idle reports whether the handle has no tick in progress.
func idle(h *Handle) bool {
	return !h.busy.Load()
}

// Package publish fans simulation events out to real-time subscribers.
//
// Delivery is best effort: each subscriber owns a bounded queue and a message
// that does not fit is dropped for that subscriber only. Publish never blocks
// on a subscriber.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/metrics"
	"github.com/pvsim/pvsim/pkg/types"
)

// DefaultQueueSize is the per-subscriber queue length used by New when given
// a non-positive size.
const DefaultQueueSize = 64

// Message is a serialized event as delivered to a subscriber.
type Message struct {
	SiteID string
	Data   []byte
}

// Subscription is one subscriber's handle on the Publisher.
type Subscription struct {
	id      uuid.UUID
	ch      chan Message
	dropped atomic.Int64
}

// ID is the token passed to Unsubscribe.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// C delivers messages until the subscription is removed, after which it is
// closed.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Dropped returns how many messages this subscriber missed because its queue
// was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Publisher broadcasts events to all current subscribers.
type Publisher struct {
	queueSize int

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// New returns a Publisher whose subscribers buffer up to queueSize messages.
func New(queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Publisher{
		queueSize: queueSize,
		subs:      make(map[uuid.UUID]*Subscription),
	}
}

// Configured sets up the Publisher based on flags.
func Configured() *Publisher {
	queueSize := lflag.Int("publish-queue-size", DefaultQueueSize, "Messages buffered per real-time subscriber before drops")

	p := New(DefaultQueueSize)
	lflag.Do(func() {
		if *queueSize > 0 {
			p.queueSize = *queueSize
		}
	})
	return p
}

// Subscribe registers a new subscriber.
func (p *Publisher) Subscribe() *Subscription {
	s := &Subscription{
		id: uuid.New(),
		ch: make(chan Message, p.queueSize),
	}
	p.mu.Lock()
	p.subs[s.id] = s
	n := len(p.subs)
	p.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
	return s
}

// Unsubscribe removes the subscriber and closes its channel. It returns false
// if the token is unknown.
func (p *Publisher) Unsubscribe(id uuid.UUID) bool {
	p.mu.Lock()
	s, ok := p.subs[id]
	if ok {
		delete(p.subs, id)
		close(s.ch)
	}
	n := len(p.subs)
	p.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
	return ok
}

// Publish serializes the event once and offers it to every subscriber. It
// returns the number of subscribers that accepted it.
func (p *Publisher) Publish(ctx context.Context, e types.Event) int {
	data, err := json.Marshal(e)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal event", slog.String("siteID", e.EventSiteID()), slog.Any("error", err))
		return 0
	}
	msg := Message{SiteID: e.EventSiteID(), Data: data}

	p.mu.RLock()
	defer p.mu.RUnlock()
	var delivered int
	for _, s := range p.subs {
		select {
		case s.ch <- msg:
			delivered++
		default:
			s.dropped.Add(1)
			metrics.PublishDropped.Inc()
			log.Ctx(ctx).DebugContext(ctx, "subscriber queue full, dropping message", slog.String("subscription", s.id.String()))
		}
	}
	return delivered
}

// Count returns the number of subscribers.
func (p *Publisher) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close removes every subscriber.
func (p *Publisher) Close() {
	p.mu.Lock()
	for id, s := range p.subs {
		delete(p.subs, id)
		close(s.ch)
	}
	p.mu.Unlock()
	metrics.Subscribers.Set(0)
}

package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink is a subscriber that forwards every event to a Kafka topic, keyed
// by siteID so a site's events stay ordered within a partition.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaSink returns a sink writing through w.
func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 5 * time.Second}
}

// ConfiguredKafka sets up the Kafka sink based on flags. The returned sink is
// disabled when no brokers are configured.
func ConfiguredKafka() *KafkaSink {
	brokers := lflag.String("kafka-brokers", "", "Comma-delimited Kafka brokers to forward events to; empty disables forwarding")
	topic := lflag.String("kafka-topic", "pv-telemetry", "Kafka topic for forwarded events")

	k := &KafkaSink{timeout: 5 * time.Second}
	lflag.Do(func() {
		if *brokers == "" {
			return
		}
		var addrs []string
		for _, b := range strings.Split(*brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				addrs = append(addrs, b)
			}
		}
		if *topic == "" {
			panic("kafka-topic cannot be empty when kafka-brokers is set")
		}
		k.writer = &kafka.Writer{
			Addr:     kafka.TCP(addrs...),
			Topic:    *topic,
			Balancer: &kafka.Hash{},
		}
	})
	return k
}

// Enabled reports whether the sink has a writer.
func (k *KafkaSink) Enabled() bool {
	return k.writer != nil
}

// Run subscribes to p and forwards messages until ctx is done or the
// subscription is closed. Write failures are logged and the message is
// skipped.
func (k *KafkaSink) Run(ctx context.Context, p *Publisher) error {
	if !k.Enabled() {
		return nil
	}
	sub := p.Subscribe()
	defer p.Unsubscribe(sub.ID())
	defer func() {
		if err := k.writer.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close kafka writer", slog.Any("error", err))
		}
	}()

	log.Ctx(ctx).InfoContext(ctx, "forwarding events to kafka")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := k.write(ctx, msg); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "kafka write failed", slog.String("siteID", msg.SiteID), slog.Any("error", err))
			}
		}
	}
}

func (k *KafkaSink) write(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.SiteID),
		Value: msg.Data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

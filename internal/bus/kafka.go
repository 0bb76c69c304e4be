// Package bus publishes the market-data plane's ticks onto the message bus
// for downstream consumers, grounded on
// original_source/engine/src/kafka/producer.rs's run_publisher. The broker
// client is segmentio/kafka-go rather than a literal port of rdkafka calls;
// messages are gzip-compressed in flight (kafka-go's Gzip codec, backed by
// klauspost/compress).
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"craftstrat-engine/pkg/types"
)

const writeTimeout = 5 * time.Second

// Publisher fans out ticks from a broadcast subscription onto a Kafka
// topic, keyed by market slug.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewPublisher builds a publisher for the given brokers/topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			Compression:  kafka.Gzip,
			BatchTimeout: 100 * time.Millisecond,
		},
		logger: logger.With("component", "bus"),
	}
}

// Close flushes and closes the underlying connection.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Run publishes every tick received on ticks until ctx is cancelled or the
// channel closes (supervisor-compatible factory signature per spec.md
// §4.16). A failed publish is logged and skipped — the bus is best-effort
// fan-out, never a blocking dependency of the strategy plane.
func (p *Publisher) Run(ctx context.Context, ticks <-chan types.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			p.publish(ctx, tick)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, tick types.Tick) {
	body, err := json.Marshal(tick)
	if err != nil {
		p.logger.Error("marshal tick for bus publish failed", "market_slug", tick.MarketSlug, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(tick.MarketSlug),
		Value: body,
	})
	if err != nil {
		p.logger.Warn("bus publish failed", "market_slug", tick.MarketSlug, "error", err)
	}
}

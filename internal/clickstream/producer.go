package clickstream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/snaplink/snaplink/internal/model"
)

// Producer publishes click events. Emit must never block the redirect path
// on broker availability; delivery is best effort and failures are logged.
type Producer interface {
	Emit(ctx context.Context, e model.ClickEvent)
	Close()
}

// KafkaProducerConfig configures a KafkaProducer.
type KafkaProducerConfig struct {
	Brokers []string
	Topic   string // default Topic
}

// KafkaProducer publishes events asynchronously through one shared client.
// Events are keyed by short code, so per-code ordering holds within a
// partition.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
}

// NewKafkaProducer creates and connects a KafkaProducer.
func NewKafkaProducer(cfg KafkaProducerConfig) (*KafkaProducer, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = Topic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("clickstream: create producer: %w", err)
	}
	return &KafkaProducer{client: client, topic: topic}, nil
}

// Emit serializes and publishes e without waiting for the broker. A failed
// delivery loses that event and is logged; redirects never fail on it.
func (p *KafkaProducer) Emit(ctx context.Context, e model.ClickEvent) {
	payload, err := EncodeEvent(e)
	if err != nil {
		log.Printf("[clickstream] drop event for %q: %v", e.ShortCode, err)
		return
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.ShortCode),
		Value: payload,
	}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			log.Printf("[clickstream] deliver event for %q: %v", e.ShortCode, err)
		}
	})
}

// Close flushes buffered records and releases the client.
func (p *KafkaProducer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		log.Printf("[clickstream] flush on close: %v", err)
	}
	p.client.Close()
}

// NopProducer discards events. Used when the event bus is not configured.
type NopProducer struct{}

func (NopProducer) Emit(context.Context, model.ClickEvent) {}
func (NopProducer) Close()                                 {}

package clickstream

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ConsumerConfig configures a consumer group.
type ConsumerConfig struct {
	Brokers []string
	Topic   string // default Topic
	Group   string
	Workers int // parallel clients in the group, default 1
	MaxPoll int // records per poll, default 500
}

// Consumer runs a group of bus clients that decode click events and hand
// them to a Batcher. Each poll batch is flushed synchronously before its
// offsets are committed; a batch whose flush fails is logged, dropped and
// committed past anyway, so consumption never wedges on the stats store.
// Decode failures are logged and committed past.
type Consumer struct {
	clients []*kgo.Client
	batcher *Batcher
	maxPoll int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer connects the group clients. Call Start to begin consuming.
func NewConsumer(cfg ConsumerConfig, batcher *Batcher) (*Consumer, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = Topic
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxPoll := cfg.MaxPoll
	if maxPoll <= 0 {
		maxPoll = 500
	}

	c := &Consumer{batcher: batcher, maxPoll: maxPoll}
	for i := 0; i < workers; i++ {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.ConsumeTopics(topic),
			kgo.ConsumerGroup(cfg.Group),
			kgo.DisableAutoCommit(),
		)
		if err != nil {
			for _, prev := range c.clients {
				prev.Close()
			}
			return nil, fmt.Errorf("clickstream: create consumer %d: %w", i, err)
		}
		c.clients = append(c.clients, client)
	}
	return c, nil
}

// Start launches one poll loop per client.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for i, client := range c.clients {
		c.wg.Add(1)
		go func(i int, client *kgo.Client) {
			defer c.wg.Done()
			c.pollLoop(ctx, i, client)
		}(i, client)
	}
}

// Stop cancels the poll loops, waits for them, and closes the clients. The
// batcher is left to its owner; events already appended survive to its Stop.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	for _, client := range c.clients {
		client.Close()
	}
}

func (c *Consumer) pollLoop(ctx context.Context, id int, client *kgo.Client) {
	for {
		fetches := client.PollRecords(ctx, c.maxPoll)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Printf("[clickstream] consumer %d fetch %s/%d: %v", id, topic, partition, err)
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		for _, rec := range records {
			event, err := DecodeEvent(rec.Value)
			if err != nil {
				log.Printf("[clickstream] consumer %d skip offset %d: %v", id, rec.Offset, err)
				continue
			}
			c.batcher.Add(event)
		}
		// Persist before committing; a failed flush is already dropped,
		// so committing past it beats re-consuming into the same failure.
		if err := c.batcher.Flush(ctx); err != nil {
			log.Printf("[clickstream] consumer %d committing past dropped batch: %v", id, err)
		}
		if err := client.CommitRecords(ctx, records...); err != nil {
			log.Printf("[clickstream] consumer %d commit: %v", id, err)
		}
	}
}

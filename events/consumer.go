package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Fetcher is the part of *kgo.Client the consumer loop needs.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Consumer polls the ride and dispute topics and feeds records to a Handler.
// Offsets are committed only after a record was handled or given up on.
type Consumer struct {
	fetcher    Fetcher
	handler    *Handler
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

func NewConsumer(fetcher Fetcher, handler *Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		fetcher:    fetcher,
		handler:    handler,
		logger:     logger,
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
	}
}

// NewKafkaClient builds a group consumer with manual commits.
func NewKafkaClient(brokers []string, group string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(2*time.Second),
	)
}

// Run blocks until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.fetcher.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var done []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			if c.handle(ctx, r) {
				done = append(done, r)
			}
		})
		if len(done) == 0 {
			continue
		}
		if err := c.fetcher.CommitRecords(ctx, done...); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "kafka commit failed", "records", len(done), "error", err)
		}
	}
}

// handle reports whether the record is settled and its offset may be committed.
func (c *Consumer) handle(ctx context.Context, r *kgo.Record) bool {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		if err = c.handler.Handle(ctx, r.Value); err == nil {
			return true
		}
		c.logger.WarnContext(ctx, "event handling failed",
			"topic", r.Topic,
			"partition", r.Partition,
			"offset", r.Offset,
			"attempt", attempt+1,
			"error", err,
		)
	}
	c.logger.ErrorContext(ctx, "event dropped after retries",
		"topic", r.Topic,
		"partition", r.Partition,
		"offset", r.Offset,
		"error", err,
	)
	return true
}

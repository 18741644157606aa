package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client the publisher needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaPublisher emits notices to a Kafka topic for the push gateway. Records are
// keyed by user id so one user's notices stay ordered.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

func NewKafkaPublisher(producer Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger, now: time.Now}
}

// Send enqueues the notice and returns without waiting for the broker ack.
// Delivery failures are only logged.
func (p *KafkaPublisher) Send(ctx context.Context, userID string, typ Type, title, body string) error {
	msg := Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		CreatedAt: p.now().UTC(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification: marshal: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(userID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(typ)},
		},
	}
	p.producer.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("notification publish failed",
				"topic", r.Topic,
				"user_id", userID,
				"type", typ,
				"error", err,
			)
		}
	})
	return nil
}

// Package events publishes sale lifecycle events for downstream consumers
// such as reporting and stock replenishment.
package events

import (
	"context"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"kasirinaja/ledger/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.SaleEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.SaleEvent) error {
	return nil
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Async:                  true,
			BatchTimeout:           50 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Printf("[events] WARN: failed to publish %d sale events: %v", len(messages), err)
				}
			},
		},
	}
}

// Publish hands the event to the async writer. Delivery failures surface
// through the writer's completion log, never through the commit path.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// encodeEvent keys messages by sale id so a sale's commit and void land on
// the same partition in order.
func encodeEvent(event domain.SaleEvent) (kafka.Message, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.Sale.ID),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "business_id", Value: []byte(event.Sale.BusinessID)},
		},
	}, nil
}

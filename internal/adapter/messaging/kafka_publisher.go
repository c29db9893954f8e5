package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trade-settlement-engine/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trade events to a topic keyed by trade ID, so every
// event for one trade lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a synchronous writer for brokers/topic.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf(msg, args...)
		}),
	}
	return &KafkaPublisher{writer: writer}
}

// Publish implements ports.EventPublisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.TradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TradeID.String()),
		Value: payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

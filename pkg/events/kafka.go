package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// KafkaPublisher writes trades keyed by trade id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, t trade.Record) error {
	data, err := encode(t)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.ID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(t.Kind)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"bx-funddesk/internal/funds"
)

// KafkaPublisher ships fund audit events to the compliance topic. It is
// intentionally dumb: one JSON message per event, keyed by request id so
// the lifecycle of a single request stays on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
			// Async so a broker outage can never stall a fund mutation.
			Async: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev funds.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.RequestID
	if key == "" {
		key = ev.AccountID
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

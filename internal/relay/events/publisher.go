// Package events publishes verification outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"gatekeeper/internal/platform/kafka/producer"
	"gatekeeper/internal/relay/models"
)

// Producer is the subset of producer.Producer the publisher needs.
type Producer interface {
	ProduceAsync(ctx context.Context, msg *producer.Message) error
}

// Publisher encodes OutcomeEvents as JSON records keyed by guild, or by user
// id when there is no guild, so one community's outcomes stay ordered.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(p Producer, topic string) *Publisher {
	return &Publisher{producer: p, topic: topic}
}

func (p *Publisher) Publish(ctx context.Context, event models.OutcomeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode outcome event: %w", err)
	}
	key := event.Guild
	if key == "" {
		key = event.ID
	}
	return p.producer.ProduceAsync(ctx, &producer.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			"event_type": event.Type,
			"event_id":   event.EventID,
		},
	})
}

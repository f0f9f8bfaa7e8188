package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smartbag/commerce/internal/domain"
)

// EventTopicPublisher публикует доменные события в заданный Kafka topic.
type EventTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewEventPublisher создаёт Kafka-паблишер доменных событий.
func NewEventPublisher(producer *Producer, topic string) domain.EventPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &EventTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish оборачивает событие в конверт с типом и временем публикации.
func (p *EventTopicPublisher) Publish(event domain.EventMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka event publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := struct {
		ID          string          `json:"id"`
		AggregateID string          `json:"aggregate_id"`
		EventType   string          `json:"event_type"`
		Payload     json.RawMessage `json:"payload"`
		PublishedAt time.Time       `json:"published_at"`
	}{
		ID:          event.ID,
		AggregateID: event.AggregateID,
		EventType:   event.EventType,
		Payload:     json.RawMessage(event.Payload),
		PublishedAt: time.Now().UTC(),
	}

	return p.producer.PublishJSON(p.topic, key, envelope)
}

var _ domain.EventPublisher = (*EventTopicPublisher)(nil)

package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, упаковывая их
// в стандартный конверт события. Topic берётся из самого сообщения,
// fallbackTopic используется для сообщений без topic-а.
type OutboxTopicPublisher struct {
	producer      *Producer
	fallbackTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, fallbackTopic string) domain.OutboxPublisher {
	if fallbackTopic == "" {
		fallbackTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:      producer,
		fallbackTopic: fallbackTopic,
	}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic := msg.Topic
	if topic == "" {
		topic = p.fallbackTopic
	}

	// Ключ партиционирования — aggregate id: события одного агрегата
	// сохраняют порядок внутри партиции.
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	envelope := Envelope{
		EventType:   msg.EventType,
		AggregateID: msg.AggregateID,
		Payload:     json.RawMessage(msg.Payload),
		Metadata: EventMetadata{
			EventID:    msg.ID,
			TraceID:    msg.TraceID,
			OccurredAt: msg.OccurredAt,
		},
	}

	return p.producer.PublishEnvelope(topic, key, envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

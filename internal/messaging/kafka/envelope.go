package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// EventMetadata — служебные поля конверта события.
type EventMetadata struct {
	EventID    string    `json:"eventId"`
	TraceID    string    `json:"traceId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Envelope — wire-формат события в Kafka. Payload остаётся сырым JSON,
// конкретный тип выбирает обработчик по EventType.
type Envelope struct {
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    EventMetadata   `json:"metadata"`
}

// ParsedEvent — распакованный конверт вместе с topic-ом источника.
type ParsedEvent struct {
	Envelope
	Topic string
}

// DecodePayload десериализует payload конверта в переданную структуру.
func (e ParsedEvent) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// ParseEnvelope парсит конверт события из Kafka-сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (ParsedEvent, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return ParsedEvent{}, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if envelope.EventType == "" {
		return ParsedEvent{}, fmt.Errorf("event envelope without eventType (topic %s)", message.Topic)
	}

	return ParsedEvent{Envelope: envelope, Topic: message.Topic}, nil
}

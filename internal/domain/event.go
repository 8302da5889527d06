package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event — доменное событие саги. Сервис кладёт его в outbox той же
// транзакцией, что и изменение агрегата.
type Event struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	Topic         string
	TraceID       string
	OccurredAt    time.Time
	Payload       any
}

// OutboxMessage хранит данные публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	TraceID       string
	OccurredAt    time.Time
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// NewOutboxMessage сериализует payload события в outbox-сообщение.
func NewOutboxMessage(event Event) (OutboxMessage, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal event payload %s: %w", event.Type, err)
	}

	return OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.Type,
		Topic:         event.Topic,
		TraceID:       event.TraceID,
		OccurredAt:    event.OccurredAt,
		Payload:       payload,
	}, nil
}

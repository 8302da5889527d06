package kafka

import (
	"testing"

	"github.com/IBM/sarama"
)

func TestParseEnvelope(t *testing.T) {
	message := &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Key:   []byte("order-1"),
		Value: []byte(`{
			"eventType": "OrderCreated",
			"aggregateId": "order-1",
			"payload": {"orderId": "order-1", "totalMinor": 500},
			"metadata": {
				"eventId": "event-1",
				"traceId": "trace-1",
				"occurredAt": "2026-08-30T12:00:00Z"
			}
		}`),
	}

	event, err := ParseEnvelope(message)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if event.EventType != "OrderCreated" || event.AggregateID != "order-1" {
		t.Fatalf("unexpected envelope: %+v", event.Envelope)
	}
	if event.Metadata.EventID != "event-1" || event.Metadata.TraceID != "trace-1" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
	if event.Topic != TopicOrderEvents {
		t.Fatalf("expected topic carried over, got %s", event.Topic)
	}

	var payload OrderCreatedPayload
	if err := event.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OrderID != "order-1" || payload.TotalMinor != 500 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestParseEnvelopeRejectsMissingEventType(t *testing.T) {
	message := &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Value: []byte(`{"aggregateId": "order-1", "payload": {}}`),
	}
	if _, err := ParseEnvelope(message); err == nil {
		t.Fatal("expected error for envelope without eventType")
	}
}

func TestParseEnvelopeRejectsInvalidJSON(t *testing.T) {
	message := &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Value: []byte("not json at all"),
	}
	if _, err := ParseEnvelope(message); err == nil {
		t.Fatal("expected error for malformed message")
	}
}

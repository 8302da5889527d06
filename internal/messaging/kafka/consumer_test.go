package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

func TestProcessSuccess(t *testing.T) {
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "process-ok"),
		maxRetries: 3,
	}

	msg := &sarama.ConsumerMessage{Topic: "commerce.order.events", Partition: 0, Offset: 7, Value: []byte("{}")}
	if err := consumer.process(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Заголовок x-retry-count на переигранном брокером сообщении отсутствует,
// поэтому исчерпание попыток должен обеспечивать локальный счётчик
// повторных доставок: без него retryable-ошибка никогда не дошла бы до DLQ.
func TestProcessRedeliveryReachesDLQWithoutRetryHeader(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	handlerCalls := 0
	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error {
			handlerCalls++
			return errors.New("transient failure")
		},
		dlqProducer: &Producer{producer: mockProducer, logger: log.WithField("test", "dlq")},
		logger:      log.WithField("test", "redelivery"),
		maxRetries:  2,
	}

	// Повторные доставки одного и того же сообщения без retry-заголовка
	msg := &sarama.ConsumerMessage{Topic: "commerce.order.events", Partition: 1, Offset: 42, Value: []byte("{}")}

	for attempt := 0; attempt < consumer.maxRetries; attempt++ {
		if err := consumer.process(context.Background(), msg); err == nil {
			t.Fatalf("delivery %d should return error for redelivery", attempt+1)
		}
	}

	// maxRetries исчерпан, следующая доставка уходит в DLQ и подтверждается
	if err := consumer.process(context.Background(), msg); err != nil {
		t.Fatalf("expected DLQ publish after exhausted retries, got %v", err)
	}
	if handlerCalls != consumer.maxRetries+1 {
		t.Fatalf("expected %d handler calls, got %d", consumer.maxRetries+1, handlerCalls)
	}
	if got := consumer.redeliveries(attemptKey(msg)); got != 0 {
		t.Fatalf("attempt counter should be cleared after DLQ, got %d", got)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessRetryHeaderCountsTowardsLimit(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	consumer := &Consumer{
		handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("still failing") },
		dlqProducer: &Producer{producer: mockProducer, logger: log.WithField("test", "dlq")},
		logger:      log.WithField("test", "retry-header"),
		maxRetries:  3,
	}

	msg := &sarama.ConsumerMessage{
		Topic:     "commerce.order.events",
		Partition: 0,
		Offset:    5,
		Value:     []byte("{}"),
		Headers:   []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("3")}},
	}
	if err := consumer.process(context.Background(), msg); err != nil {
		t.Fatalf("expected immediate DLQ publish at header limit, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessNonRetryableGoesStraightToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	handlerCalls := 0
	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error {
			handlerCalls++
			return fmt.Errorf("order o-1: PAYMENT_FAILED -> PAYMENT_APPROVED: %w", domain.ErrInvalidTransition)
		},
		dlqProducer: &Producer{producer: mockProducer, logger: log.WithField("test", "dlq")},
		logger:      log.WithField("test", "non-retryable"),
		maxRetries:  5,
	}

	msg := &sarama.ConsumerMessage{Topic: "commerce.stock.events", Partition: 0, Offset: 1, Value: []byte("{}")}
	if err := consumer.process(context.Background(), msg); err != nil {
		t.Fatalf("non-retryable error should be quarantined, got %v", err)
	}
	if handlerCalls != 1 {
		t.Fatalf("expected single handler call, got %d", handlerCalls)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessWithoutDLQKeepsFailing(t *testing.T) {
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("boom") },
		logger:     log.WithField("test", "no-dlq"),
		maxRetries: 1,
	}

	msg := &sarama.ConsumerMessage{Topic: "commerce.order.events", Partition: 0, Offset: 9, Value: []byte("{}")}
	if err := consumer.process(context.Background(), msg); err == nil {
		t.Fatal("expected error on first delivery")
	}
	// Без DLQ сообщение остаётся неподтверждённым даже после лимита
	if err := consumer.process(context.Background(), msg); err == nil {
		t.Fatal("expected error after exhausted retries without DLQ")
	}
}

func TestRetryCountFrom(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := retryCountFrom(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}

	bad := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := retryCountFrom(bad); got != 0 {
		t.Fatalf("invalid retry count should fall back to 0, got %d", got)
	}
}

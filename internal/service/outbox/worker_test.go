package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
)

type stubPublisher struct {
	mu        sync.Mutex
	published []domain.OutboxMessage
	err       error
}

func (p *stubPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func enqueue(t *testing.T, repo *memory.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()

	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Topic:         "commerce.order.events",
		Payload:       json.RawMessage(`{"orderId":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func TestWorkerPublishesPendingMessages(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}

	enqueue(t, repo, "OrderCreated")
	enqueue(t, repo, "StockReserved")

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	if publisher.count() != 2 {
		t.Fatalf("expected 2 published messages, got %d", publisher.count())
	}

	pending, err := repo.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog after publish, got %d", len(pending))
	}
}

func TestWorkerSendsToDLQAfterRetries(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{}

	msg := enqueue(t, repo, "OrderCreated")

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlq),
		WithMaxAttempts(2),
		WithRetryBaseDelay(0),
	)
	worker.ProcessOnce(context.Background())

	if dlq.count() != 1 {
		t.Fatalf("expected 1 DLQ message, got %d", dlq.count())
	}

	dlq.mu.Lock()
	dlqMsg := dlq.published[0]
	dlq.mu.Unlock()

	if dlqMsg.ID != msg.ID {
		t.Fatalf("DLQ message should keep outbox id, got %s", dlqMsg.ID)
	}
	// DLQ payload оборачивает исходное событие и причину
	var payload map[string]any
	if err := json.Unmarshal(dlqMsg.Payload, &payload); err != nil {
		t.Fatalf("decode dlq payload: %v", err)
	}
	if payload["publish_error"] == nil || payload["original_topic"] != "commerce.order.events" {
		t.Fatalf("unexpected dlq payload: %v", payload)
	}

	pending, _ := repo.PullPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("failed message should leave pending queue, got %d", len(pending))
	}
}

func TestWorkerKeepsMessagePendingWithoutDLQ(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{err: errors.New("broker unavailable")}

	enqueue(t, repo, "OrderCreated")

	worker := NewWorker(repo, publisher,
		WithMaxAttempts(1),
		WithRetryBaseDelay(0),
	)
	worker.ProcessOnce(context.Background())

	// Без DLQ сообщение помечается failed и не публикуется повторно,
	// разбор остаётся оператору
	pending, _ := repo.PullPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("expected message marked failed, got %d pending", len(pending))
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(repo, publisher, WithPollInterval(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	enqueue(t, repo, "OrderCreated")
	deadline := time.After(time.Second)
	for publisher.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not publish within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestRetryBackoffGrowsExponentially(t *testing.T) {
	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{},
		WithRetryBaseDelay(10*time.Millisecond))

	if got := worker.retryBackoff(1); got != 10*time.Millisecond {
		t.Fatalf("expected base delay, got %v", got)
	}
	if got := worker.retryBackoff(3); got != 40*time.Millisecond {
		t.Fatalf("expected 40ms on third attempt, got %v", got)
	}
}

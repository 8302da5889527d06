package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

func processedEvent(eventID, group string) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		EventID:       eventID,
		EventType:     "StockReserved",
		Topic:         "commerce.stock.events",
		ConsumerGroup: group,
		ProcessedAt:   time.Now().UTC(),
	}
}

func TestProcessedEventKeyedByEventIDAndGroup(t *testing.T) {
	repo := NewProcessedEventRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, processedEvent("event-1", "commerce-order")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Одно событие читают несколько групп: отметка одной группы не должна
	// блокировать другую.
	exists, err := repo.Exists(ctx, "event-1", "commerce-gateway")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("mark of another consumer group must not be visible")
	}

	if err := repo.Create(ctx, processedEvent("event-1", "commerce-gateway")); err != nil {
		t.Fatalf("create for second group: %v", err)
	}

	exists, err = repo.Exists(ctx, "event-1", "commerce-order")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("own mark must stay visible")
	}
}

func TestProcessedEventCreateDuplicate(t *testing.T) {
	repo := NewProcessedEventRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, processedEvent("event-1", "commerce-order")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, processedEvent("event-1", "commerce-order"))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

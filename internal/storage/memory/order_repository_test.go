package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

func seedOrder(t *testing.T, repo *OrderRepository, status domain.OrderStatus) *domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := &domain.Order{
		ID:         "order-1",
		Number:     "ORD_1",
		UserID:     "user-1",
		Status:     status,
		Currency:   "RUB",
		TotalMinor: 200,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "product-1", Quantity: 2, PriceMinor: 100},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestOrderRepositoryCreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	order := seedOrder(t, repo, domain.OrderStatusCreated)

	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusCreated || len(got.Items) != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepositoryCASUpdateStatus(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	order := seedOrder(t, repo, domain.OrderStatusCreated)

	applied, err := repo.CASUpdateStatus(ctx, order, domain.OrderStatusPaymentRequested)
	if err != nil {
		t.Fatalf("cas update: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to apply")
	}
	if order.Status != domain.OrderStatusPaymentRequested {
		t.Fatalf("expected in-memory aggregate updated, got %s", order.Status)
	}

	// Проигранная гонка: ожидаемый статус устарел
	stale := *order
	stale.Status = domain.OrderStatusCreated
	applied, err = repo.CASUpdateStatus(ctx, &stale, domain.OrderStatusCanceled)
	if err != nil {
		t.Fatalf("cas update with stale status: %v", err)
	}
	if applied {
		t.Fatal("stale status should lose the race")
	}

	// Запрещённый переход — non-retryable ошибка
	got, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	got.Status = domain.OrderStatusPaymentFailed
	if _, err := repo.CASUpdateStatus(ctx, got, domain.OrderStatusPaymentApproved); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestOrderRepositoryUpdateGatewayReference(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	order := seedOrder(t, repo, domain.OrderStatusPaymentRequested)

	if err := repo.UpdateGatewayReference(ctx, order.ID, "CGW_REF_1"); err != nil {
		t.Fatalf("update gateway reference: %v", err)
	}

	got, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.GatewayReferenceID != "CGW_REF_1" {
		t.Fatalf("expected gateway reference saved, got %q", got.GatewayReferenceID)
	}

	if err := repo.UpdateGatewayReference(ctx, "missing", "ref"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

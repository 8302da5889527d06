package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

func seedProcess(t *testing.T, repo *PaymentProcessRepository, id, orderID string, status domain.PaymentStatus) *domain.PaymentProcess {
	t.Helper()

	now := time.Now().UTC()
	process := &domain.PaymentProcess{
		ID:           id,
		OrderID:      orderID,
		AmountMinor:  500,
		Currency:     "RUB",
		Status:       status,
		Provider:     "sandbox",
		RequestedAt:  now,
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.Create(context.Background(), process); err != nil {
		t.Fatalf("create payment process: %v", err)
	}
	return process
}

func TestPaymentProcessRepositoryGetByOrderID(t *testing.T) {
	repo := NewPaymentProcessRepository()
	ctx := context.Background()

	origin := seedProcess(t, repo, "process-1", "order-1", domain.PaymentStatusSuccess)

	// Процесс отмены не заслоняет исходный платёж по order_id
	cancellation := &domain.PaymentProcess{
		ID:              "process-2",
		OrderID:         "order-1",
		Status:          domain.PaymentStatusCancelled,
		OriginProcessID: origin.ID,
	}
	if err := repo.Create(ctx, cancellation); err != nil {
		t.Fatalf("create cancellation: %v", err)
	}

	got, err := repo.GetByOrderID(ctx, "order-1")
	if err != nil {
		t.Fatalf("get by order id: %v", err)
	}
	if got.ID != origin.ID {
		t.Fatalf("expected origin process, got %s", got.ID)
	}

	if _, err := repo.GetByOrderID(ctx, "missing"); !errors.Is(err, domain.ErrPaymentProcessNotFound) {
		t.Fatalf("expected ErrPaymentProcessNotFound, got %v", err)
	}
}

func TestPaymentProcessRepositoryCASUpdateStatus(t *testing.T) {
	repo := NewPaymentProcessRepository()
	ctx := context.Background()

	process := seedProcess(t, repo, "process-1", "order-1", domain.PaymentStatusUnknown)

	applied, err := repo.CASUpdateStatus(ctx, process, domain.PaymentStatusSuccess)
	if err != nil {
		t.Fatalf("cas update: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to apply")
	}

	stale := *process
	stale.Status = domain.PaymentStatusUnknown
	applied, err = repo.CASUpdateStatus(ctx, &stale, domain.PaymentStatusFailed)
	if err != nil {
		t.Fatalf("cas update with stale status: %v", err)
	}
	if applied {
		t.Fatal("stale status should lose the race")
	}

	if _, err := repo.CASUpdateStatus(ctx, process, domain.PaymentStatusFailed); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

func seedProduct(t *testing.T, repo *ProductRepository, id string, stock int64) *domain.Product {
	t.Helper()

	now := time.Now().UTC()
	product := &domain.Product{
		ID:         id,
		ExternalID: "ext-" + id,
		Name:       "товар " + id,
		PriceMinor: 100,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	record := product.ApplyDelta(stock, domain.RecordReasonInitialStock, "")
	if err := repo.Create(context.Background(), product, record); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func TestProductRepositoryCreateAndGet(t *testing.T) {
	repo := NewProductRepository()
	ctx := context.Background()

	product := seedProduct(t, repo, "product-1", 10)

	got, err := repo.Get(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 10 {
		t.Fatalf("expected stock 10, got %d", got.Stock)
	}

	byExt, err := repo.GetByExternalID(ctx, "ext-product-1")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if byExt.ID != product.ID {
		t.Fatalf("expected same product, got %s", byExt.ID)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepositoryLedgerReplay(t *testing.T) {
	repo := NewProductRepository()
	ctx := context.Background()

	product := seedProduct(t, repo, "product-1", 10)

	reserve := product.ApplyDelta(-4, domain.RecordReasonReservation, "order-1")
	if err := repo.Save(ctx, product, reserve); err != nil {
		t.Fatalf("save product: %v", err)
	}

	locked, err := repo.LockAndRecompute(ctx, product.ID)
	if err != nil {
		t.Fatalf("lock and recompute: %v", err)
	}
	if locked.Stock != 6 {
		t.Fatalf("expected replayed stock 6, got %d", locked.Stock)
	}

	records, err := repo.Records(ctx, product.ID)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 ledger records, got %d", len(records))
	}

	var sum int64
	for _, record := range records {
		sum += record.Delta
	}
	if sum != locked.Stock {
		t.Fatalf("ledger sum %d diverged from stock %d", sum, locked.Stock)
	}
}

func TestProductRepositoryLockAndRecomputeRepairsStock(t *testing.T) {
	repo := NewProductRepository()
	ctx := context.Background()

	product := seedProduct(t, repo, "product-1", 10)

	// Портим кэшированное значение без записи в журнал
	corrupted := *product
	corrupted.Stock = 999
	corrupted.IsSoldOut = false
	if err := repo.Save(ctx, &corrupted); err != nil {
		t.Fatalf("save corrupted product: %v", err)
	}

	locked, err := repo.LockAndRecompute(ctx, product.ID)
	if err != nil {
		t.Fatalf("lock and recompute: %v", err)
	}
	if locked.Stock != 10 {
		t.Fatalf("expected stock repaired to 10, got %d", locked.Stock)
	}
}

func TestProductRepositoryLockHeldUntilTxEnd(t *testing.T) {
	repo := NewProductRepository()
	tx := NewTxRunner()
	ctx := context.Background()

	seedProduct(t, repo, "product-1", 10)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := repo.LockAndRecompute(ctx, "product-1"); err != nil {
				return err
			}
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered

	// Пока первая транзакция держит блокировку, вторая не должна пройти
	second := make(chan error, 1)
	go func() {
		second <- tx.WithinTx(ctx, func(ctx context.Context) error {
			_, err := repo.LockAndRecompute(ctx, "product-1")
			return err
		})
	}()

	select {
	case err := <-second:
		t.Fatalf("second tx acquired row lock before first tx finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first tx: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second tx: %v", err)
	}
}

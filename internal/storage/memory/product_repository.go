package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// ProductRepository — in-memory хранилище товаров с журналом движений.
// Блокировка строки эмулируется мьютексом на товар: LockAndRecompute
// удерживает его до конца транзакции, как FOR UPDATE в PostgreSQL.
type ProductRepository struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	byExternal map[string]string
	records    map[string][]domain.ProductRecord
	rowLocks   map[string]*sync.Mutex
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products:   make(map[string]domain.Product),
		byExternal: make(map[string]string),
		records:    make(map[string][]domain.ProductRecord),
		rowLocks:   make(map[string]*sync.Mutex),
	}
}

func (r *ProductRepository) Create(_ context.Context, product *domain.Product, initial domain.ProductRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[product.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if product.ExternalID != "" {
		if _, ok := r.byExternal[product.ExternalID]; ok {
			return domain.ErrAlreadyExists
		}
		r.byExternal[product.ExternalID] = product.ID
	}

	r.products[product.ID] = *product
	r.appendRecordLocked(initial)
	return nil
}

func (r *ProductRepository) Get(_ context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(id)
}

func (r *ProductRepository) GetByExternalID(_ context.Context, externalID string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return r.getLocked(id)
}

func (r *ProductRepository) LockAndRecompute(ctx context.Context, id string) (*domain.Product, error) {
	rowMu, err := r.rowLock(id)
	if err != nil {
		return nil, err
	}

	rowMu.Lock()
	if tx := txFromContext(ctx); tx != nil {
		tx.deferUnlock(rowMu.Unlock)
	} else {
		defer rowMu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}

	var replayed int64
	for _, record := range r.records[id] {
		replayed += record.Delta
	}

	if replayed != stored.Stock {
		stored.Stock = replayed
		stored.IsSoldOut = replayed <= 0
		stored.UpdatedAt = time.Now().UTC()
		r.products[id] = stored
	}

	product := stored
	return &product, nil
}

func (r *ProductRepository) Save(_ context.Context, product *domain.Product, records ...domain.ProductRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.products[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if stored.ExternalID != product.ExternalID {
		delete(r.byExternal, stored.ExternalID)
		if product.ExternalID != "" {
			r.byExternal[product.ExternalID] = product.ID
		}
	}

	r.products[product.ID] = *product
	for _, record := range records {
		r.appendRecordLocked(record)
	}
	return nil
}

func (r *ProductRepository) Records(_ context.Context, productID string) ([]domain.ProductRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ProductRecord(nil), r.records[productID]...), nil
}

func (r *ProductRepository) getLocked(id string) (*domain.Product, error) {
	stored, ok := r.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	product := stored
	return &product, nil
}

func (r *ProductRepository) rowLock(id string) (*sync.Mutex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return nil, domain.ErrProductNotFound
	}
	rowMu, ok := r.rowLocks[id]
	if !ok {
		rowMu = &sync.Mutex{}
		r.rowLocks[id] = rowMu
	}
	return rowMu, nil
}

func (r *ProductRepository) appendRecordLocked(record domain.ProductRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	r.records[record.ProductID] = append(r.records[record.ProductID], record)
}

var _ domain.ProductRepository = (*ProductRepository)(nil)

package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// SnapshotRepository — in-memory хранилище снимков заказов.
type SnapshotRepository struct {
	mu        sync.RWMutex
	byOrderID map[string]domain.OrderSnapshot
}

// NewSnapshotRepository создаёт in-memory реализацию SnapshotRepository.
func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{byOrderID: make(map[string]domain.OrderSnapshot)}
}

func (r *SnapshotRepository) Create(_ context.Context, snapshot domain.OrderSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOrderID[snapshot.OrderID]; ok {
		return domain.ErrAlreadyExists
	}
	snapshot.Items = append([]domain.SnapshotItem(nil), snapshot.Items...)
	r.byOrderID[snapshot.OrderID] = snapshot
	return nil
}

func (r *SnapshotRepository) GetByOrderID(_ context.Context, orderID string) (domain.OrderSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot, ok := r.byOrderID[orderID]
	if !ok {
		return domain.OrderSnapshot{}, domain.ErrSnapshotNotFound
	}
	snapshot.Items = append([]domain.SnapshotItem(nil), snapshot.Items...)
	return snapshot, nil
}

var _ domain.SnapshotRepository = (*SnapshotRepository)(nil)

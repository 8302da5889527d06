package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// OrderRepository — in-memory хранилище заказов.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository создаёт in-memory реализацию OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	order := cloneOrder(stored)
	return &order, nil
}

func (r *OrderRepository) CASUpdateStatus(_ context.Context, order *domain.Order, next domain.OrderStatus) (bool, error) {
	if !order.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("order %s: %s -> %s: %w",
			order.ID, order.Status, next, domain.ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if stored.Status != order.Status {
		return false, nil
	}

	stored.Status = next
	stored.UpdatedAt = time.Now().UTC()
	r.orders[order.ID] = stored

	order.Status = next
	order.UpdatedAt = stored.UpdatedAt
	return true, nil
}

func (r *OrderRepository) UpdateGatewayReference(_ context.Context, orderID, gatewayReferenceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	stored.GatewayReferenceID = gatewayReferenceID
	stored.UpdatedAt = time.Now().UTC()
	r.orders[orderID] = stored
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order
}

var _ domain.OrderRepository = (*OrderRepository)(nil)

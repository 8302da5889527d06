package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// PaymentProcessRepository — in-memory хранилище платёжных процессов.
type PaymentProcessRepository struct {
	mu        sync.RWMutex
	processes map[string]domain.PaymentProcess
	byOrderID map[string]string
}

// NewPaymentProcessRepository создаёт in-memory реализацию
// PaymentProcessRepository.
func NewPaymentProcessRepository() *PaymentProcessRepository {
	return &PaymentProcessRepository{
		processes: make(map[string]domain.PaymentProcess),
		byOrderID: make(map[string]string),
	}
}

func (r *PaymentProcessRepository) Create(_ context.Context, process *domain.PaymentProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.processes[process.ID]; ok {
		return domain.ErrAlreadyExists
	}
	// Индексируются только исходные процессы: отмена не заслоняет платёж.
	if process.OrderID != "" && process.OriginProcessID == "" {
		if _, ok := r.byOrderID[process.OrderID]; ok {
			return domain.ErrAlreadyExists
		}
		r.byOrderID[process.OrderID] = process.ID
	}

	r.processes[process.ID] = *process
	return nil
}

func (r *PaymentProcessRepository) Get(_ context.Context, id string) (*domain.PaymentProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(id)
}

func (r *PaymentProcessRepository) GetByOrderID(_ context.Context, orderID string) (*domain.PaymentProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrderID[orderID]
	if !ok {
		return nil, domain.ErrPaymentProcessNotFound
	}
	return r.getLocked(id)
}

func (r *PaymentProcessRepository) CASUpdateStatus(_ context.Context, process *domain.PaymentProcess, next domain.PaymentStatus) (bool, error) {
	if !process.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("payment process %s: %s -> %s: %w",
			process.ID, process.Status, next, domain.ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.processes[process.ID]
	if !ok {
		return false, domain.ErrPaymentProcessNotFound
	}
	if stored.Status != process.Status {
		return false, nil
	}

	stored.Status = next
	stored.UpdatedAt = time.Now().UTC()
	r.processes[process.ID] = stored

	process.Status = next
	process.UpdatedAt = stored.UpdatedAt
	return true, nil
}

func (r *PaymentProcessRepository) Update(_ context.Context, process *domain.PaymentProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.processes[process.ID]
	if !ok {
		return domain.ErrPaymentProcessNotFound
	}

	stored.GatewayReferenceID = process.GatewayReferenceID
	stored.AckReceivedAt = process.AckReceivedAt
	stored.AttemptCount = process.AttemptCount
	stored.FailureReason = process.FailureReason
	stored.UpdatedAt = time.Now().UTC()
	r.processes[process.ID] = stored

	process.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *PaymentProcessRepository) getLocked(id string) (*domain.PaymentProcess, error) {
	stored, ok := r.processes[id]
	if !ok {
		return nil, domain.ErrPaymentProcessNotFound
	}
	process := stored
	return &process, nil
}

var _ domain.PaymentProcessRepository = (*PaymentProcessRepository)(nil)

package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type processedEventKey struct {
	eventID       string
	consumerGroup string
}

// ProcessedEventRepository — in-memory хранилище отметок об обработке.
// Отметки разных consumer-групп независимы, как и строки с составным
// primary key в PostgreSQL-реализации.
type ProcessedEventRepository struct {
	mu     sync.RWMutex
	events map[processedEventKey]domain.ProcessedEvent
}

// NewProcessedEventRepository создаёт in-memory реализацию
// ProcessedEventRepository.
func NewProcessedEventRepository() *ProcessedEventRepository {
	return &ProcessedEventRepository{events: make(map[processedEventKey]domain.ProcessedEvent)}
}

func (r *ProcessedEventRepository) Exists(_ context.Context, eventID, consumerGroup string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.events[processedEventKey{eventID, consumerGroup}]
	return ok, nil
}

func (r *ProcessedEventRepository) Create(_ context.Context, event domain.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := processedEventKey{event.EventID, event.ConsumerGroup}
	if _, ok := r.events[key]; ok {
		return domain.ErrAlreadyExists
	}
	r.events[key] = event
	return nil
}

var _ domain.ProcessedEventRepository = (*ProcessedEventRepository)(nil)

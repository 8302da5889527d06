package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type processedEventRepository struct {
	store *Store
}

// NewProcessedEventRepository создаёт PostgreSQL-реализацию
// ProcessedEventRepository.
func NewProcessedEventRepository(store *Store) domain.ProcessedEventRepository {
	return &processedEventRepository{store: store}
}

func (r *processedEventRepository) Exists(ctx context.Context, eventID, consumerGroup string) (bool, error) {
	var exists bool
	err := r.store.querier(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events
			WHERE event_id = $1 AND consumer_group = $2
		)
	`, eventID, consumerGroup).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

func (r *processedEventRepository) Create(ctx context.Context, event domain.ProcessedEvent) error {
	_, err := r.store.querier(ctx).ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, topic, consumer_group, processed_at)
		VALUES ($1,$2,$3,$4,$5)
	`, event.EventID, event.EventType, event.Topic, event.ConsumerGroup, event.ProcessedAt)
	if err != nil {
		// Гонка двух consumer-ов одной группы за одно событие: primary
		// key (event_id, consumer_group) оставляет одного победителя.
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepository)(nil)

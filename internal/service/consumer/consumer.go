package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
)

// Handler обрабатывает распакованное событие внутри открытой транзакции.
type Handler func(ctx context.Context, event kafka.ParsedEvent) error

// Registry сопоставляет тип события с обработчиком.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр обработчиков.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register привязывает обработчик к типу события.
func (r *Registry) Register(eventType string, handler Handler) {
	r.handlers[eventType] = handler
}

// Lookup возвращает обработчик для типа события.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	handler, ok := r.handlers[eventType]
	return handler, ok
}

// EventTypes возвращает список зарегистрированных типов событий.
func (r *Registry) EventTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	return types
}

// Idempotent оборачивает обработку Kafka-сообщения в транзакцию с
// дедупликацией по eventId. Бизнес-эффект обработчика и отметка об
// обработке фиксируются одним коммитом: при ошибке откатывается всё,
// сообщение остаётся неподтверждённым и будет доставлено повторно.
type Idempotent struct {
	tx        domain.TxRunner
	processed domain.ProcessedEventRepository
	registry  *Registry
	group     string
	logger    *log.Entry
	metrics   *metrics.EventMetrics
}

// NewIdempotent создаёт идемпотентный consumer для группы group.
func NewIdempotent(
	tx domain.TxRunner,
	processed domain.ProcessedEventRepository,
	registry *Registry,
	group string,
	eventMetrics *metrics.EventMetrics,
) *Idempotent {
	return &Idempotent{
		tx:        tx,
		processed: processed,
		registry:  registry,
		group:     group,
		logger:    log.WithField("component", "idempotent-consumer").WithField("group", group),
		metrics:   eventMetrics,
	}
}

// HandleMessage — точка входа для kafka.Consumer.
func (c *Idempotent) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseEnvelope(message)
	if err != nil {
		return fmt.Errorf("parse event from topic %s: %w", message.Topic, err)
	}

	handler, ok := c.registry.Lookup(event.EventType)
	if !ok {
		// Незнакомый тип подтверждаем без отметки об обработке: если
		// consumer научится его обрабатывать, событие можно переиграть.
		c.logger.WithFields(log.Fields{
			"event_type": event.EventType,
			"topic":      event.Topic,
		}).Debug("no handler registered, skipping event")
		c.recordResult(event.EventType, "ignored")
		return nil
	}

	started := time.Now()
	duplicate := false
	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		eventID := event.Metadata.EventID
		if eventID != "" {
			// Дедупликация в рамках своей группы: одно событие саги
			// обрабатывают несколько сервисов независимо.
			exists, err := c.processed.Exists(ctx, eventID, c.group)
			if err != nil {
				return fmt.Errorf("check processed event %s: %w", eventID, err)
			}
			if exists {
				c.logger.WithFields(log.Fields{
					"event_id":   eventID,
					"event_type": event.EventType,
				}).Info("duplicate event delivery, skipping")
				duplicate = true
				return nil
			}
		}

		if err := handler(ctx, event); err != nil {
			return err
		}

		if eventID != "" {
			if err := c.processed.Create(ctx, domain.ProcessedEvent{
				EventID:       eventID,
				EventType:     event.EventType,
				Topic:         event.Topic,
				ConsumerGroup: c.group,
				ProcessedAt:   time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("mark event %s processed: %w", eventID, err)
			}
		}

		return nil
	})
	if err != nil {
		c.recordResult(event.EventType, "error")
		return err
	}
	if duplicate {
		c.recordResult(event.EventType, "duplicate")
		return nil
	}

	if c.metrics != nil {
		c.metrics.ObserveHandlerDuration(event.EventType, time.Since(started))
	}
	c.recordResult(event.EventType, "ok")
	return nil
}

func (c *Idempotent) recordResult(eventType, result string) {
	if c.metrics != nil {
		c.metrics.RecordEventProcessed(eventType, result)
	}
}

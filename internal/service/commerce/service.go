package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	"github.com/vladislavdragonenkov/commerce/internal/service/consumer"
)

// Service — commerce-сторона саги: владеет заказом, реагирует на исходы
// резервирования и оплаты условными обновлениями статуса и ведёт
// read-model остатков для предварительной проверки sold out.
type Service struct {
	tx      domain.TxRunner
	orders  domain.OrderRepository
	outbox  domain.OutboxRepository
	cache   domain.StockCache
	logger  *log.Entry
	metrics *metrics.EventMetrics
}

// NewService создаёт commerce-сервис. cache может быть nil, тогда
// предварительная проверка sold out пропускается.
func NewService(
	tx domain.TxRunner,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	cache domain.StockCache,
	eventMetrics *metrics.EventMetrics,
) *Service {
	return &Service{
		tx:      tx,
		orders:  orders,
		outbox:  outbox,
		cache:   cache,
		logger:  log.WithField("component", "commerce-service"),
		metrics: eventMetrics,
	}
}

// RegisterHandlers подписывает сервис на события саги.
func (s *Service) RegisterHandlers(registry *consumer.Registry) {
	registry.Register(kafka.EventTypeStockReserved, s.HandleStockReserved)
	registry.Register(kafka.EventTypeStockValidationFailed, s.HandleStockValidationFailed)
	registry.Register(kafka.EventTypePaymentConfirmed, s.HandlePaymentConfirmed)
	registry.Register(kafka.EventTypePaymentProcessFailed, s.HandlePaymentProcessFailed)
	registry.Register(kafka.EventTypePaymentCancelConfirmed, s.HandlePaymentCancelConfirmed)
	registry.Register(kafka.EventTypeProductStockSynchronized, s.HandleProductStockSynchronized)
}

// OrderItemInput — позиция создаваемого заказа.
type OrderItemInput struct {
	ProductID  string
	Quantity   int64
	PriceMinor int64
}

// CreateOrderInput — параметры создания заказа.
type CreateOrderInput struct {
	UserID   string
	Currency string
	Items    []OrderItemInput
}

// CreateOrder создаёт заказ в статусе CREATED и кладёт OrderCreated в
// outbox той же транзакцией. Проверка sold out по кэшу — быстрый отказ
// до запуска саги; решающую проверку остатков делает склад под блокировкой.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if s.cache != nil {
		for _, item := range input.Items {
			_, soldOut, err := s.cache.GetStock(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrCacheMiss) {
					continue
				}
				s.logger.WithError(err).WithField("product_id", item.ProductID).
					Warn("stock cache lookup failed, proceeding without pre-check")
				continue
			}
			if soldOut {
				return nil, fmt.Errorf("product %s is sold out: %w", item.ProductID, domain.ErrInsufficientStock)
			}
		}
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.NewString(),
		Number:    domain.NewOrderNumber(now),
		UserID:    input.UserID,
		Status:    domain.OrderStatusCreated,
		Currency:  input.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: item.PriceMinor,
		})
		order.TotalMinor += item.PriceMinor * item.Quantity
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	itemPayloads := make([]kafka.OrderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		itemPayloads = append(itemPayloads, kafka.OrderItemPayload{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: item.PriceMinor,
		})
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		return s.publish(ctx, "", kafka.EventTypeOrderCreated,
			order.ID, kafka.TopicOrderEvents,
			kafka.OrderCreatedPayload{
				OrderID:     order.ID,
				OrderNumber: order.Number,
				UserID:      order.UserID,
				TotalMinor:  order.TotalMinor,
				Currency:    order.Currency,
				Items:       itemPayloads,
			})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"total_minor":  order.TotalMinor,
	}).Info("order created")
	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// HandleStockReserved переводит заказ CREATED -> PAYMENT_REQUESTED.
func (s *Service) HandleStockReserved(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.StockReservedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	return s.casStatus(ctx, payload.OrderID, domain.OrderStatusPaymentRequested, nil)
}

// HandleStockValidationFailed отменяет заказ при нехватке остатков.
func (s *Service) HandleStockValidationFailed(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.StockValidationFailedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"order_id":           payload.OrderID,
		"insufficient_items": len(payload.InsufficientItems),
	}).Info("canceling order, stock validation failed")
	return s.casStatus(ctx, payload.OrderID, domain.OrderStatusCanceled, nil)
}

// HandlePaymentConfirmed переводит заказ в PAYMENT_APPROVED и сохраняет
// референс платёжного шлюза.
func (s *Service) HandlePaymentConfirmed(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.PaymentConfirmedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	return s.casStatus(ctx, payload.OrderID, domain.OrderStatusPaymentApproved, func(ctx context.Context) error {
		if payload.GatewayReferenceID == "" {
			return nil
		}
		return s.orders.UpdateGatewayReference(ctx, payload.OrderID, payload.GatewayReferenceID)
	})
}

// HandlePaymentProcessFailed переводит заказ в PAYMENT_FAILED.
func (s *Service) HandlePaymentProcessFailed(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.PaymentProcessFailedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"order_id": payload.OrderID,
		"reason":   payload.Reason,
	}).Info("payment failed for order")
	return s.casStatus(ctx, payload.OrderID, domain.OrderStatusPaymentFailed, nil)
}

// HandlePaymentCancelConfirmed отменяет оплаченный заказ.
func (s *Service) HandlePaymentCancelConfirmed(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.PaymentCancelConfirmedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	return s.casStatus(ctx, payload.OrderID, domain.OrderStatusCanceled, nil)
}

// HandleProductStockSynchronized обновляет read-model остатков.
func (s *Service) HandleProductStockSynchronized(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.ProductStockSynchronizedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}

	if err := s.cache.SetStock(ctx, payload.ProductID, payload.Stock, payload.IsSoldOut); err != nil {
		// Кэш — вспомогательная проекция, событие из-за него не переигрываем.
		s.logger.WithError(err).WithField("product_id", payload.ProductID).
			Warn("failed to update stock cache")
	}
	return nil
}

// casStatus выполняет условный переход статуса заказа. Проигранная гонка
// не считается ошибкой: события конкурирующих исходов сходятся к одному
// победителю, повторная обработка ничего не изменит.
func (s *Service) casStatus(ctx context.Context, orderID string, next domain.OrderStatus, onApplied func(ctx context.Context) error) error {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	applied, err := s.orders.CASUpdateStatus(ctx, order, next)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"next":     next,
		}).Warn("order status update lost the race, skipping")
		if s.metrics != nil {
			s.metrics.RecordCASConflict(kafka.AggregateTypeOrder)
		}
		return nil
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   next,
	}).Info("order status updated")

	if onApplied != nil {
		return onApplied(ctx)
	}
	return nil
}

// publish кладёт событие в outbox внутри текущей транзакции.
func (s *Service) publish(ctx context.Context, traceID, eventType, orderID, topic string, payload any) error {
	msg, err := domain.NewOutboxMessage(domain.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: kafka.AggregateTypeOrder,
		AggregateID:   orderID,
		Topic:         topic,
		TraceID:       traceID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

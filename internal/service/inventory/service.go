package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	"github.com/vladislavdragonenkov/commerce/internal/service/consumer"
)

// Service — складская сторона саги: владеет товарами, журналом движений
// остатков и снимками заказов. Обработчики событий выполняются внутри
// транзакции идемпотентного consumer-а и не открывают собственную.
type Service struct {
	tx        domain.TxRunner
	products  domain.ProductRepository
	snapshots domain.SnapshotRepository
	outbox    domain.OutboxRepository
	logger    *log.Entry
	metrics   *metrics.EventMetrics
}

// NewService создаёт складской сервис.
func NewService(
	tx domain.TxRunner,
	products domain.ProductRepository,
	snapshots domain.SnapshotRepository,
	outbox domain.OutboxRepository,
	eventMetrics *metrics.EventMetrics,
) *Service {
	return &Service{
		tx:        tx,
		products:  products,
		snapshots: snapshots,
		outbox:    outbox,
		logger:    log.WithField("component", "inventory-service"),
		metrics:   eventMetrics,
	}
}

// RegisterHandlers подписывает сервис на события саги.
func (s *Service) RegisterHandlers(registry *consumer.Registry) {
	registry.Register(kafka.EventTypeOrderCreated, s.HandleOrderCreated)
	registry.Register(kafka.EventTypePaymentApproved, s.HandlePaymentApproved)
	registry.Register(kafka.EventTypePaymentFailed, s.HandlePaymentFailed)
	registry.Register(kafka.EventTypePaymentCancelled, s.HandlePaymentCancelled)
}

// CreateProductInput — параметры создания товара.
type CreateProductInput struct {
	ExternalID   string
	SKU          string
	Name         string
	PriceMinor   int64
	InitialStock int64
}

// CreateProduct создаёт товар; стартовый остаток записывается первой
// записью журнала, а не голым значением на строке.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	now := time.Now().UTC()
	product := &domain.Product{
		ID:         uuid.NewString(),
		ExternalID: input.ExternalID,
		SKU:        input.SKU,
		Name:       input.Name,
		PriceMinor: input.PriceMinor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errs := product.ValidateInvariants(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	record := product.ApplyDelta(input.InitialStock, domain.RecordReasonInitialStock, "")
	record.ID = uuid.NewString()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.products.Create(ctx, product, record); err != nil {
			return err
		}
		return s.publishStockSync(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"stock":      product.Stock,
	}).Info("product created")
	return product, nil
}

// AdjustStock применяет ручную корректировку остатка.
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int64) (*domain.Product, error) {
	var product *domain.Product

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.products.LockAndRecompute(ctx, productID)
		if err != nil {
			return err
		}

		record := p.ApplyDelta(delta, domain.RecordReasonAdjustment, "")
		record.ID = uuid.NewString()
		if err := s.products.Save(ctx, p, record); err != nil {
			return err
		}
		if err := s.publishStockSync(ctx, p); err != nil {
			return err
		}

		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"delta":      delta,
		"stock":      product.Stock,
	}).Info("stock adjusted")
	return product, nil
}

// HandleOrderCreated резервирует остатки под заказ по принципу
// всё-или-ничего. Товары блокируются в порядке возрастания id, чтобы
// конкурирующие заказы с пересекающимися позициями не взаимоблокировались.
func (s *Service) HandleOrderCreated(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.OrderCreatedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	logger := s.logger.WithField("order_id", payload.OrderID)

	// Снимок уникален по order_id: его наличие означает, что резерв под
	// этот заказ уже выполнен, даже если дедупликация по eventId не
	// сработала (например, заказ был переотправлен с новым eventId).
	if _, err := s.snapshots.GetByOrderID(ctx, payload.OrderID); err == nil {
		logger.Warn("order already reserved, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
		return fmt.Errorf("check order snapshot: %w", err)
	}

	items := make([]kafka.OrderItemPayload, len(payload.Items))
	copy(items, payload.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	type lockedItem struct {
		product  *domain.Product
		quantity int64
	}

	locked := make([]lockedItem, 0, len(items))
	var insufficient []kafka.InsufficientItemPayload

	for _, item := range items {
		product, err := s.products.LockAndRecompute(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				insufficient = append(insufficient, kafka.InsufficientItemPayload{
					ProductID:         item.ProductID,
					RequestedQuantity: item.Quantity,
					AvailableStock:    0,
				})
				continue
			}
			return fmt.Errorf("lock product %s: %w", item.ProductID, err)
		}

		if product.Stock < item.Quantity {
			insufficient = append(insufficient, kafka.InsufficientItemPayload{
				ProductID:         item.ProductID,
				RequestedQuantity: item.Quantity,
				AvailableStock:    product.Stock,
			})
			continue
		}

		locked = append(locked, lockedItem{product: product, quantity: item.Quantity})
	}

	if len(insufficient) > 0 {
		logger.WithField("insufficient_items", len(insufficient)).Info("stock validation failed")
		if s.metrics != nil {
			s.metrics.RecordReservation("rejected")
		}
		return s.publish(ctx, event.Metadata.TraceID, kafka.EventTypeStockValidationFailed,
			kafka.AggregateTypeOrder, payload.OrderID, kafka.TopicStockEvents,
			kafka.StockValidationFailedPayload{
				OrderID:           payload.OrderID,
				OrderNumber:       payload.OrderNumber,
				Reason:            domain.ErrInsufficientStock.Error(),
				InsufficientItems: insufficient,
			})
	}

	for _, li := range locked {
		record := li.product.ApplyDelta(-li.quantity, domain.RecordReasonReservation, payload.OrderID)
		record.ID = uuid.NewString()
		if err := s.products.Save(ctx, li.product, record); err != nil {
			return fmt.Errorf("reserve product %s: %w", li.product.ID, err)
		}
		if err := s.publishStockSync(ctx, li.product); err != nil {
			return err
		}
	}

	snapshot := domain.OrderSnapshot{
		ID:          uuid.NewString(),
		OrderID:     payload.OrderID,
		OrderNumber: payload.OrderNumber,
		UserID:      payload.UserID,
		TotalMinor:  payload.TotalMinor,
		Items:       make([]domain.SnapshotItem, 0, len(payload.Items)),
		CreatedAt:   time.Now().UTC(),
	}
	for _, item := range payload.Items {
		snapshot.Items = append(snapshot.Items, domain.SnapshotItem{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: item.PriceMinor,
		})
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return fmt.Errorf("create order snapshot: %w", err)
	}

	logger.WithField("items", len(locked)).Info("stock reserved")
	if s.metrics != nil {
		s.metrics.RecordReservation("reserved")
	}

	return s.publish(ctx, event.Metadata.TraceID, kafka.EventTypeStockReserved,
		kafka.AggregateTypeOrder, payload.OrderID, kafka.TopicStockEvents,
		kafka.StockReservedPayload{
			OrderID:     payload.OrderID,
			OrderNumber: payload.OrderNumber,
			UserID:      payload.UserID,
			TotalMinor:  payload.TotalMinor,
			Currency:    payload.Currency,
			Items:       payload.Items,
		})
}

// HandlePaymentApproved транслирует платёжный исход шлюза в бизнес-
// подтверждение для commerce. Заказы подтверждаются только событиями
// склада, напрямую событиям шлюза commerce не доверяет.
func (s *Service) HandlePaymentApproved(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.PaymentApprovedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.OrderID == nil {
		s.logger.WithField("process_id", payload.ProcessID).Info("payment approved without order, ignoring")
		return nil
	}
	orderID := *payload.OrderID

	// Подтверждение без снимка означает рассинхронизацию саги: резерв
	// обязан существовать к моменту оплаты.
	if _, err := s.snapshots.GetByOrderID(ctx, orderID); err != nil {
		return fmt.Errorf("payment approved for order %s: %w", orderID, err)
	}

	return s.publish(ctx, event.Metadata.TraceID, kafka.EventTypePaymentConfirmed,
		kafka.AggregateTypeOrder, orderID, kafka.TopicStockEvents,
		kafka.PaymentConfirmedPayload{
			OrderID:            orderID,
			GatewayReferenceID: payload.GatewayReferenceID,
		})
}

// HandlePaymentFailed возвращает резерв заказа и подтверждает отказ оплаты.
func (s *Service) HandlePaymentFailed(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.PaymentFailedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.OrderID == nil {
		s.logger.WithField("process_id", payload.ProcessID).Info("payment failed without order, ignoring")
		return nil
	}
	orderID := *payload.OrderID

	if err := s.restoreStock(ctx, orderID); err != nil {
		return err
	}

	return s.publish(ctx, event.Metadata.TraceID, kafka.EventTypePaymentProcessFailed,
		kafka.AggregateTypeOrder, orderID, kafka.TopicStockEvents,
		kafka.PaymentProcessFailedPayload{
			OrderID: orderID,
			Reason:  payload.Reason,
		})
}

// HandlePaymentCancelled возвращает резерв заказа и подтверждает отмену оплаты.
func (s *Service) HandlePaymentCancelled(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.PaymentCancelledPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.OrderID == nil {
		s.logger.WithField("process_id", payload.ProcessID).Info("payment cancelled without order, ignoring")
		return nil
	}
	orderID := *payload.OrderID

	if err := s.restoreStock(ctx, orderID); err != nil {
		return err
	}

	return s.publish(ctx, event.Metadata.TraceID, kafka.EventTypePaymentCancelConfirmed,
		kafka.AggregateTypeOrder, orderID, kafka.TopicStockEvents,
		kafka.PaymentCancelConfirmedPayload{OrderID: orderID})
}

// restoreStock компенсирует резерв положительными движениями по снимку
// заказа. Отсутствие снимка — не ошибка: платёж мог быть инициирован вне
// саги, возвращать в этом случае нечего.
func (s *Service) restoreStock(ctx context.Context, orderID string) error {
	snapshot, err := s.snapshots.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			s.logger.WithField("order_id", orderID).Warn("no snapshot for order, skipping stock restore")
			return nil
		}
		return fmt.Errorf("load snapshot for order %s: %w", orderID, err)
	}

	items := make([]domain.SnapshotItem, len(snapshot.Items))
	copy(items, snapshot.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	for _, item := range items {
		product, err := s.products.LockAndRecompute(ctx, item.ProductID)
		if err != nil {
			return fmt.Errorf("lock product %s: %w", item.ProductID, err)
		}

		record := product.ApplyDelta(item.Quantity, domain.RecordReasonCompensation, orderID)
		record.ID = uuid.NewString()
		if err := s.products.Save(ctx, product, record); err != nil {
			return fmt.Errorf("restore product %s: %w", item.ProductID, err)
		}
		if err := s.publishStockSync(ctx, product); err != nil {
			return err
		}
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"items":    len(items),
	}).Info("stock restored")
	if s.metrics != nil {
		s.metrics.RecordCompensation()
	}
	return nil
}

func (s *Service) publishStockSync(ctx context.Context, product *domain.Product) error {
	return s.publish(ctx, "", kafka.EventTypeProductStockSynchronized,
		kafka.AggregateTypeProduct, product.ID, kafka.TopicStockEvents,
		kafka.ProductStockSynchronizedPayload{
			ProductID: product.ID,
			Stock:     product.Stock,
			IsSoldOut: product.IsSoldOut,
		})
}

// publish кладёт событие в outbox внутри текущей транзакции.
func (s *Service) publish(ctx context.Context, traceID, eventType, aggregateType, aggregateID, topic string, payload any) error {
	msg, err := domain.NewOutboxMessage(domain.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
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

package gateway

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

// Service — платёжный шлюз саги: создаёт платёжный процесс по факту
// резервирования, инициирует списание у провайдера и публикует исходы
// платежа. Статус процесса движется только условными обновлениями.
type Service struct {
	tx           domain.TxRunner
	processes    domain.PaymentProcessRepository
	outbox       domain.OutboxRepository
	provider     domain.PaymentGateway
	providerName string
	logger       *log.Entry
	metrics      *metrics.EventMetrics
}

// NewService создаёт сервис платёжного шлюза.
func NewService(
	tx domain.TxRunner,
	processes domain.PaymentProcessRepository,
	outbox domain.OutboxRepository,
	provider domain.PaymentGateway,
	providerName string,
	eventMetrics *metrics.EventMetrics,
) *Service {
	return &Service{
		tx:           tx,
		processes:    processes,
		outbox:       outbox,
		provider:     provider,
		providerName: providerName,
		logger:       log.WithField("component", "gateway-service"),
		metrics:      eventMetrics,
	}
}

// RegisterHandlers подписывает сервис на события саги.
func (s *Service) RegisterHandlers(registry *consumer.Registry) {
	registry.Register(kafka.EventTypeStockReserved, s.HandleStockReserved)
}

// HandleStockReserved создаёт платёжный процесс в статусе UNKNOWN и
// отправляет запрос на списание провайдеру. Итоговый статус выставит
// callback провайдера через ApprovePayment/FailPayment.
func (s *Service) HandleStockReserved(ctx context.Context, event kafka.ParsedEvent) error {
	var payload kafka.StockReservedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	logger := s.logger.WithField("order_id", payload.OrderID)

	// Второй рубеж за дедупликацией: на заказ создаётся один процесс.
	if existing, err := s.processes.GetByOrderID(ctx, payload.OrderID); err == nil {
		logger.WithField("process_id", existing.ID).Warn("payment process already exists for order, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrPaymentProcessNotFound) {
		return fmt.Errorf("check payment process for order %s: %w", payload.OrderID, err)
	}

	now := time.Now().UTC()
	process := &domain.PaymentProcess{
		ID:           uuid.NewString(),
		OrderID:      payload.OrderID,
		AmountMinor:  payload.TotalMinor,
		Currency:     payload.Currency,
		Status:       domain.PaymentStatusUnknown,
		Provider:     s.providerName,
		RequestedAt:  now,
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.processes.Create(ctx, process); err != nil {
		return fmt.Errorf("create payment process: %w", err)
	}

	ack, err := s.provider.RequestPayment(ctx, domain.PaymentRequest{
		ProcessID:   process.ID,
		OrderID:     process.OrderID,
		AmountMinor: process.AmountMinor,
		Currency:    process.Currency,
	})
	if err != nil {
		return fmt.Errorf("request payment for process %s: %w", process.ID, err)
	}

	process.GatewayReferenceID = ack.GatewayReferenceID
	process.AckReceivedAt = ack.AckReceivedAt
	if err := s.processes.Update(ctx, process); err != nil {
		return fmt.Errorf("store provider ack for process %s: %w", process.ID, err)
	}

	logger.WithFields(log.Fields{
		"process_id":        process.ID,
		"gateway_reference": process.GatewayReferenceID,
	}).Info("payment requested")
	return nil
}

// ApprovePayment фиксирует успешное списание: UNKNOWN -> SUCCESS.
func (s *Service) ApprovePayment(ctx context.Context, processID string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		process, err := s.processes.Get(ctx, processID)
		if err != nil {
			return fmt.Errorf("load payment process %s: %w", processID, err)
		}

		applied, err := s.processes.CASUpdateStatus(ctx, process, domain.PaymentStatusSuccess)
		if err != nil {
			return err
		}
		if !applied {
			s.recordLostRace(processID, domain.PaymentStatusSuccess)
			return nil
		}

		s.logger.WithField("process_id", processID).Info("payment approved")
		return s.publish(ctx, kafka.EventTypePaymentApproved, process,
			kafka.PaymentApprovedPayload{
				ProcessID:          process.ID,
				OrderID:            optionalOrderID(process.OrderID),
				AmountMinor:        process.AmountMinor,
				Currency:           process.Currency,
				GatewayReferenceID: process.GatewayReferenceID,
			})
	})
}

// FailPayment фиксирует отказ провайдера: UNKNOWN -> FAILED.
func (s *Service) FailPayment(ctx context.Context, processID, reason string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		process, err := s.processes.Get(ctx, processID)
		if err != nil {
			return fmt.Errorf("load payment process %s: %w", processID, err)
		}

		applied, err := s.processes.CASUpdateStatus(ctx, process, domain.PaymentStatusFailed)
		if err != nil {
			return err
		}
		if !applied {
			s.recordLostRace(processID, domain.PaymentStatusFailed)
			return nil
		}

		// Причина отказа сохраняется на строке процесса, а не только в
		// событии: разбор инцидента не должен требовать переигровки topic-а.
		process.FailureReason = reason
		if err := s.processes.Update(ctx, process); err != nil {
			return fmt.Errorf("store failure reason for process %s: %w", process.ID, err)
		}

		s.logger.WithFields(log.Fields{
			"process_id": processID,
			"reason":     reason,
		}).Info("payment failed")
		return s.publish(ctx, kafka.EventTypePaymentFailed, process,
			kafka.PaymentFailedPayload{
				ProcessID:   process.ID,
				OrderID:     optionalOrderID(process.OrderID),
				AmountMinor: process.AmountMinor,
				Reason:      reason,
			})
	})
}

// CancelPayment отменяет успешный платёж: исходный процесс переходит
// SUCCESS -> CANCELLED, отмена фиксируется отдельным процессом со ссылкой
// на исходный.
func (s *Service) CancelPayment(ctx context.Context, originProcessID string) (*domain.PaymentProcess, error) {
	var cancellation *domain.PaymentProcess

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		origin, err := s.processes.Get(ctx, originProcessID)
		if err != nil {
			return fmt.Errorf("load payment process %s: %w", originProcessID, err)
		}

		applied, err := s.processes.CASUpdateStatus(ctx, origin, domain.PaymentStatusCancelled)
		if err != nil {
			return err
		}
		if !applied {
			s.recordLostRace(originProcessID, domain.PaymentStatusCancelled)
			return nil
		}

		now := time.Now().UTC()
		cancellation = &domain.PaymentProcess{
			ID:                 uuid.NewString(),
			OrderID:            origin.OrderID,
			AmountMinor:        origin.AmountMinor,
			Currency:           origin.Currency,
			Status:             domain.PaymentStatusCancelled,
			Provider:           origin.Provider,
			GatewayReferenceID: origin.GatewayReferenceID,
			OriginProcessID:    origin.ID,
			RequestedAt:        now,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.processes.Create(ctx, cancellation); err != nil {
			return fmt.Errorf("create cancellation process: %w", err)
		}

		s.logger.WithFields(log.Fields{
			"process_id": cancellation.ID,
			"origin_id":  origin.ID,
		}).Info("payment cancelled")
		return s.publish(ctx, kafka.EventTypePaymentCancelled, cancellation,
			kafka.PaymentCancelledPayload{
				ProcessID:       cancellation.ID,
				OriginProcessID: origin.ID,
				OrderID:         optionalOrderID(origin.OrderID),
				AmountMinor:     origin.AmountMinor,
			})
	})
	if err != nil {
		return nil, err
	}
	return cancellation, nil
}

func (s *Service) recordLostRace(processID string, next domain.PaymentStatus) {
	s.logger.WithFields(log.Fields{
		"process_id": processID,
		"next":       next,
	}).Warn("payment status update lost the race, skipping")
	if s.metrics != nil {
		s.metrics.RecordCASConflict(kafka.AggregateTypePaymentProcess)
	}
}

// publish кладёт платёжное событие в outbox внутри текущей транзакции.
// Ключ партиционирования — id заказа, чтобы платёжные исходы одного
// заказа сохраняли порядок; для платежей вне саги ключом служит процесс.
func (s *Service) publish(ctx context.Context, eventType string, process *domain.PaymentProcess, payload any) error {
	aggregateID := process.OrderID
	if aggregateID == "" {
		aggregateID = process.ID
	}
	msg, err := domain.NewOutboxMessage(domain.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: kafka.AggregateTypePaymentProcess,
		AggregateID:   aggregateID,
		Topic:         kafka.TopicPaymentEvents,
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

func optionalOrderID(orderID string) *string {
	if orderID == "" {
		return nil
	}
	return &orderID
}

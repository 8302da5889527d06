package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/config"
	"github.com/vladislavdragonenkov/commerce/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	"github.com/vladislavdragonenkov/commerce/internal/service/consumer"
	"github.com/vladislavdragonenkov/commerce/internal/service/gateway"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
	"github.com/vladislavdragonenkov/commerce/internal/storage/postgres"
	"github.com/vladislavdragonenkov/commerce/internal/version"
)

// Задержка перед асинхронным ответом песочницы провайдера.
const sandboxResultDelay = 2 * time.Second

// RunGateway запускает gateway-service: посредника между сагой и
// платёжным провайдером. Сервис заводит платёжный процесс на каждый
// зарезервированный заказ и публикует исход платежа в Kafka.
func RunGateway(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app").WithField("service", "gateway")
	eventMetrics := metrics.NewEventMetrics()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	var (
		tx         domain.TxRunner
		processes  domain.PaymentProcessRepository
		processed  domain.ProcessedEventRepository
		outboxRepo domain.OutboxRepository
	)
	if store != nil {
		tx = store
		processes = postgres.NewPaymentProcessRepository(store)
		processed = postgres.NewProcessedEventRepository(store)
		outboxRepo = postgres.NewOutboxRepository(store)
	} else {
		tx = memory.NewTxRunner()
		processes = memory.NewPaymentProcessRepository()
		processed = memory.NewProcessedEventRepository()
		outboxRepo = memory.NewOutboxRepository()
	}

	// Провайдер сообщает итог платежа асинхронно, поэтому callback
	// замыкается на переменную сервиса, собираемого ниже.
	var service *gateway.Service
	provider := gateway.NewSandboxProvider(cfg.PaymentProvider, cfg.MerchantID, sandboxResultDelay,
		func(processID string, ok bool) {
			resultCtx := context.Background()
			if ok {
				if err := service.ApprovePayment(resultCtx, processID); err != nil {
					logger.WithError(err).WithField("process_id", processID).
						Error("failed to apply provider approval")
				}
				return
			}
			if err := service.FailPayment(resultCtx, processID, "declined by provider"); err != nil {
				logger.WithError(err).WithField("process_id", processID).
					Error("failed to apply provider decline")
			}
		})
	service = gateway.NewService(tx, processes, outboxRepo, provider, cfg.PaymentProvider, eventMetrics)

	registry := consumer.NewRegistry()
	service.RegisterHandlers(registry)
	idempotent := consumer.NewIdempotent(tx, processed, registry, cfg.ConsumerGroup, eventMetrics)

	producer := initKafkaProducer(cfg, logger)
	kafkaConsumer, err := startConsumer(ctx, cfg, []string{kafka.TopicStockEvents}, idempotent, producer, logger)
	if err != nil {
		closeKafka(producer, nil, logger)
		return err
	}

	startOutboxWorker(ctx, cfg, outboxRepo, producer, kafka.TopicPaymentEvents, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if store != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			return store.Ping(context.Background())
		})
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, завершаем gateway-service")
	shutdownHTTP(metricsSrv, logger)
	closeKafka(producer, kafkaConsumer, logger)
	return ctx.Err()
}

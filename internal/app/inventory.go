package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/config"
	"github.com/vladislavdragonenkov/commerce/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	"github.com/vladislavdragonenkov/commerce/internal/service/consumer"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
	"github.com/vladislavdragonenkov/commerce/internal/storage/postgres"
	"github.com/vladislavdragonenkov/commerce/internal/version"
)

// RunInventory запускает inventory-service: склад с журналом движений.
// Сервис резервирует остатки под новые заказы, компенсирует их при
// неуспехе оплаты и транслирует исходы платёжного шлюза в события для
// order-service.
func RunInventory(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app").WithField("service", "inventory")
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
		products   domain.ProductRepository
		snapshots  domain.SnapshotRepository
		processed  domain.ProcessedEventRepository
		outboxRepo domain.OutboxRepository
	)
	if store != nil {
		tx = store
		products = postgres.NewProductRepository(store)
		snapshots = postgres.NewSnapshotRepository(store)
		processed = postgres.NewProcessedEventRepository(store)
		outboxRepo = postgres.NewOutboxRepository(store)
	} else {
		tx = memory.NewTxRunner()
		products = memory.NewProductRepository()
		snapshots = memory.NewSnapshotRepository()
		processed = memory.NewProcessedEventRepository()
		outboxRepo = memory.NewOutboxRepository()
	}

	service := inventory.NewService(tx, products, snapshots, outboxRepo, eventMetrics)

	registry := consumer.NewRegistry()
	service.RegisterHandlers(registry)
	idempotent := consumer.NewIdempotent(tx, processed, registry, cfg.ConsumerGroup, eventMetrics)

	producer := initKafkaProducer(cfg, logger)
	topics := []string{kafka.TopicOrderEvents, kafka.TopicPaymentEvents}
	kafkaConsumer, err := startConsumer(ctx, cfg, topics, idempotent, producer, logger)
	if err != nil {
		closeKafka(producer, nil, logger)
		return err
	}

	startOutboxWorker(ctx, cfg, outboxRepo, producer, kafka.TopicStockEvents, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if store != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			return store.Ping(context.Background())
		})
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, завершаем inventory-service")
	shutdownHTTP(metricsSrv, logger)
	closeKafka(producer, kafkaConsumer, logger)
	return ctx.Err()
}

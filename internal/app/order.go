package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/config"
	"github.com/vladislavdragonenkov/commerce/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	"github.com/vladislavdragonenkov/commerce/internal/service/commerce"
	"github.com/vladislavdragonenkov/commerce/internal/service/consumer"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
	"github.com/vladislavdragonenkov/commerce/internal/storage/postgres"
	"github.com/vladislavdragonenkov/commerce/internal/storage/redis"
	"github.com/vladislavdragonenkov/commerce/internal/version"
)

// RunOrder запускает order-service: владельца заказов в саге.
// Сервис слушает события склада, двигает статусы заказов и публикует
// OrderCreated через transactional outbox.
func RunOrder(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app").WithField("service", "order")
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
		orders     domain.OrderRepository
		processed  domain.ProcessedEventRepository
		outboxRepo domain.OutboxRepository
	)
	if store != nil {
		tx = store
		orders = postgres.NewOrderRepository(store)
		processed = postgres.NewProcessedEventRepository(store)
		outboxRepo = postgres.NewOutboxRepository(store)
	} else {
		tx = memory.NewTxRunner()
		orders = memory.NewOrderRepository()
		processed = memory.NewProcessedEventRepository()
		outboxRepo = memory.NewOutboxRepository()
	}

	var cache domain.StockCache
	var redisCache *redis.StockCache
	if cfg.RedisAddr != "" {
		redisCache, err = redis.Open(ctx, cfg.RedisAddr)
		if err != nil {
			logger.WithError(err).Warn("failed to connect to redis, sold out pre-check disabled")
		} else {
			defer func() { _ = redisCache.Close() }()
			cache = redisCache
			logger.WithField("addr", cfg.RedisAddr).Info("redis stock cache initialized")
		}
	}

	service := commerce.NewService(tx, orders, outboxRepo, cache, eventMetrics)

	registry := consumer.NewRegistry()
	service.RegisterHandlers(registry)
	idempotent := consumer.NewIdempotent(tx, processed, registry, cfg.ConsumerGroup, eventMetrics)

	producer := initKafkaProducer(cfg, logger)
	kafkaConsumer, err := startConsumer(ctx, cfg, []string{kafka.TopicStockEvents}, idempotent, producer, logger)
	if err != nil {
		closeKafka(producer, nil, logger)
		return err
	}

	startOutboxWorker(ctx, cfg, outboxRepo, producer, kafka.TopicOrderEvents, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if store != nil {
		healthHandler.RegisterCheck("postgres", func() error {
			return store.Ping(context.Background())
		})
	}
	if redisCache != nil {
		healthHandler.RegisterCheck("redis", func() error {
			return redisCache.Ping(context.Background())
		})
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, завершаем order-service")
	shutdownHTTP(metricsSrv, logger)
	closeKafka(producer, kafkaConsumer, logger)
	return ctx.Err()
}

package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/config"
	"github.com/vladislavdragonenkov/commerce/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/service/consumer"
	"github.com/vladislavdragonenkov/commerce/internal/service/outbox"
	"github.com/vladislavdragonenkov/commerce/internal/storage/postgres"
)

const shutdownTimeout = 5 * time.Second

// startMetricsServer поднимает HTTP-сервер с /metrics и health endpoint-ами.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}

// openStore подключается к PostgreSQL и применяет миграции.
// Пустой DSN означает in-memory режим, тогда возвращается nil.
func openStore(ctx context.Context, cfg config.Config, logger *log.Entry) (*postgres.Store, error) {
	if cfg.PostgresDSN == "" {
		logger.Info("postgres DSN is not set, using in-memory storage")
		return nil, nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("postgres storage initialized")
	return store, nil
}

// initKafkaProducer создаёт producer, если заданы брокеры.
func initKafkaProducer(cfg config.Config, logger *log.Entry) *kafka.Producer {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("kafka brokers are not set, events will stay in outbox")
		return nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return producer
}

// startConsumer подписывает идемпотентный consumer на topics.
// Возвращает nil, если Kafka не настроен.
func startConsumer(
	ctx context.Context,
	cfg config.Config,
	topics []string,
	idempotent *consumer.Idempotent,
	dlqProducer *kafka.Producer,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	kafkaConsumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.ConsumerGroup,
		topics,
		idempotent.HandleMessage,
		dlqProducer,
		cfg.ConsumerMaxRetries,
	)
	if err != nil {
		return nil, err
	}
	if err := kafkaConsumer.Start(ctx); err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"group":  cfg.ConsumerGroup,
		"topics": topics,
	}).Info("kafka consumer subscribed")
	return kafkaConsumer, nil
}

// startOutboxWorker запускает публикацию outbox в фоне.
// Без producer-а воркер не запускается: события копятся в outbox и
// уйдут в брокер после появления подключения.
func startOutboxWorker(
	ctx context.Context,
	cfg config.Config,
	outboxRepo domain.OutboxRepository,
	producer *kafka.Producer,
	fallbackTopic string,
	logger *log.Entry,
) {
	if producer == nil {
		return
	}

	worker := outbox.NewWorker(
		outboxRepo,
		kafka.NewOutboxPublisher(producer, fallbackTopic),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
	)
	go worker.Run(ctx)
}

// closeKafka закрывает producer и consumer при остановке сервиса.
func closeKafka(producer *kafka.Producer, kafkaConsumer *kafka.Consumer, logger *log.Entry) {
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Имена переменных окружения, общие для всех сервисов платформы.
const (
	EnvPostgresDSN        = "COMMERCE_POSTGRES_DSN"
	EnvKafkaBrokers       = "COMMERCE_KAFKA_BROKERS"
	EnvRedisAddr          = "COMMERCE_REDIS_ADDR"
	EnvMetricsAddr        = "COMMERCE_METRICS_ADDR"
	EnvConsumerGroup      = "COMMERCE_CONSUMER_GROUP"
	EnvPaymentProvider    = "COMMERCE_PAYMENT_PROVIDER"
	EnvMerchantID         = "COMMERCE_MERCHANT_ID"
	EnvOutboxPollInterval = "COMMERCE_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize    = "COMMERCE_OUTBOX_BATCH_SIZE"
	EnvConsumerMaxRetries = "COMMERCE_CONSUMER_MAX_RETRIES"
)

// Config — настройки запуска одного сервиса.
// Пустой PostgresDSN переключает сервис на in-memory хранилище,
// пустой KafkaBrokers отключает обмен событиями (режим для локальной
// разработки и тестов).
type Config struct {
	PostgresDSN        string
	KafkaBrokers       []string
	RedisAddr          string
	MetricsAddr        string
	ConsumerGroup      string
	PaymentProvider    string
	MerchantID         string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	ConsumerMaxRetries int
}

// Default возвращает настройки по умолчанию для сервиса service.
func Default(service string) Config {
	return Config{
		MetricsAddr:        ":9090",
		ConsumerGroup:      "commerce-" + service,
		PaymentProvider:    "sandbox",
		MerchantID:         "DEMO_MERCHANT",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		ConsumerMaxRetries: 3,
	}
}

// Load читает конфигурацию сервиса из окружения.
// Файл .env подхватывается, если присутствует рядом с бинарём.
func Load(service string) Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg := Default(service)
	cfg.PostgresDSN = envString(EnvPostgresDSN, cfg.PostgresDSN)
	cfg.KafkaBrokers = envBrokers(EnvKafkaBrokers)
	cfg.RedisAddr = envString(EnvRedisAddr, cfg.RedisAddr)
	cfg.MetricsAddr = envString(EnvMetricsAddr, cfg.MetricsAddr)
	cfg.ConsumerGroup = envString(EnvConsumerGroup, cfg.ConsumerGroup)
	cfg.PaymentProvider = envString(EnvPaymentProvider, cfg.PaymentProvider)
	cfg.MerchantID = envString(EnvMerchantID, cfg.MerchantID)
	cfg.OutboxPollInterval = envDuration(EnvOutboxPollInterval, cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt(EnvOutboxBatchSize, cfg.OutboxBatchSize)
	cfg.ConsumerMaxRetries = envInt(EnvConsumerMaxRetries, cfg.ConsumerMaxRetries)
	return cfg
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envBrokers(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}

	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.WithField("env", name).WithField("value", raw).Warn("invalid duration, using default")
		return fallback
	}
	return d
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.WithField("env", name).WithField("value", raw).Warn("invalid integer, using default")
		return fallback
	}
	return n
}

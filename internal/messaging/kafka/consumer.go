package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// MessageHandler обрабатывает одно сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer — consumer group с retry-счётчиком и отправкой в DLQ.
// Offset коммитится только после успешной обработки либо после публикации
// в DLQ, поэтому доставка at-least-once.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	dlqProducer *Producer
	maxRetries  int
	logger      *log.Entry
	wg          sync.WaitGroup

	// Счётчик повторных доставок по (topic, partition, offset): заголовок
	// x-retry-count на переигранном брокером сообщении отсутствует, и без
	// локального счётчика retryable-ошибка крутилась бы вечно, не доходя
	// до DLQ.
	attemptsMu sync.Mutex
	attempts   map[string]int
}

// NewConsumerWithDLQ создаёт consumer группы groupID на перечисленных
// топиках. dlqProducer может быть nil, тогда сообщения после исчерпания
// попыток остаются незакоммиченными.
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
		logger:      log.WithField("component", "kafka-consumer").WithField("group", groupID),
	}, nil
}

// Start запускает цикл потребления. Consume возвращается на каждом
// rebalance, поэтому вызывается в цикле до отмены контекста.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume loop error")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и дожидается завершения горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim читает партицию до закрытия сессии. Сообщение маркируется
// обработанным только после успеха handler-а или ухода в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Debug("received message")

			if err := c.process(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message left uncommitted, will be redelivered")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process выполняет handler и решает судьбу ошибки. Non-retryable ошибки
// (запрещённый переход статуса) минуют retry и сразу уходят в DLQ:
// повторная доставка такого события исход не изменит.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	key := attemptKey(message)
	attempt := retryCountFrom(message) + c.redeliveries(key)

	err := c.handler(ctx, message)
	if err == nil {
		c.forgetAttempts(key)
		return nil
	}

	if !domain.IsNonRetryable(err) && attempt < c.maxRetries {
		c.noteRedelivery(key)
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": attempt,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")
		return err
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.quarantine(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("send to DLQ: %w", dlqErr)
	}
	c.forgetAttempts(key)
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": attempt,
	}).Info("message sent to DLQ")
	return nil
}

func attemptKey(message *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", message.Topic, message.Partition, message.Offset)
}

func (c *Consumer) redeliveries(key string) int {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()
	return c.attempts[key]
}

func (c *Consumer) noteRedelivery(key string) {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()
	if c.attempts == nil {
		c.attempts = make(map[string]int)
	}
	c.attempts[key]++
}

func (c *Consumer) forgetAttempts(key string) {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()
	delete(c.attempts, key)
}

// quarantine публикует исходное сообщение в DLQ вместе с контекстом
// отказа, достаточным для ручного или автоматического разбора.
func (c *Consumer) quarantine(message *sarama.ConsumerMessage, cause error) error {
	payload := map[string]interface{}{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      cause.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        retryCountFrom(message),
	}
	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), payload)
}

func retryCountFrom(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == HeaderRetryCount {
			if count, err := strconv.Atoi(string(header.Value)); err == nil {
				return count
			}
		}
	}
	return 0
}

package domain

import (
	"context"
	"time"
)

// TxRunner исполняет fn в границах одной транзакции хранилища.
// Вложенный вызов присоединяется к уже открытой транзакции из ctx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository хранит заказы commerce-сервиса.
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// CASUpdateStatus выполняет условное обновление статуса: строка
	// меняется только если текущий статус в БД равен order.Status.
	// false без ошибки означает проигранную гонку.
	CASUpdateStatus(ctx context.Context, order *Order, next OrderStatus) (bool, error)
	UpdateGatewayReference(ctx context.Context, orderID, gatewayReferenceID string) error
}

// ProductRepository хранит товары и append-only журнал движений остатков.
type ProductRepository interface {
	Create(ctx context.Context, product *Product, initial ProductRecord) error
	Get(ctx context.Context, id string) (*Product, error)
	GetByExternalID(ctx context.Context, externalID string) (*Product, error)
	// LockAndRecompute берёт блокировку строки товара и пересчитывает
	// остаток суммой журнала. Кэшированное значение на строке при
	// расхождении перезаписывается результатом пересчёта.
	LockAndRecompute(ctx context.Context, id string) (*Product, error)
	// Save сохраняет состояние товара и дописывает записи журнала.
	Save(ctx context.Context, product *Product, records ...ProductRecord) error
	Records(ctx context.Context, productID string) ([]ProductRecord, error)
}

// SnapshotRepository хранит снимки заказов для компенсации.
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot OrderSnapshot) error
	GetByOrderID(ctx context.Context, orderID string) (OrderSnapshot, error)
}

// ProcessedEventRepository хранит отметки обработанных событий.
// Отметка уникальна в паре (eventId, consumerGroup): одно событие саги
// обрабатывается несколькими сервисами независимо.
type ProcessedEventRepository interface {
	Exists(ctx context.Context, eventID, consumerGroup string) (bool, error)
	Create(ctx context.Context, event ProcessedEvent) error
}

// PaymentProcessRepository хранит платёжные процессы шлюза.
type PaymentProcessRepository interface {
	Create(ctx context.Context, process *PaymentProcess) error
	Get(ctx context.Context, id string) (*PaymentProcess, error)
	GetByOrderID(ctx context.Context, orderID string) (*PaymentProcess, error)
	CASUpdateStatus(ctx context.Context, process *PaymentProcess, next PaymentStatus) (bool, error)
	Update(ctx context.Context, process *PaymentProcess) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(msg OutboxMessage) error
}

// StockCache — read-model остатков на стороне commerce.
type StockCache interface {
	SetStock(ctx context.Context, productID string, stock int64, soldOut bool) error
	// GetStock возвращает ErrCacheMiss, если товара нет в кэше.
	GetStock(ctx context.Context, productID string) (stock int64, soldOut bool, err error)
}

// PaymentRequest — запрос на списание средств у провайдера.
type PaymentRequest struct {
	ProcessID   string
	OrderID     string
	AmountMinor int64
	Currency    string
}

// PaymentAck — подтверждение приёма запроса провайдером.
type PaymentAck struct {
	GatewayReferenceID string
	AckReceivedAt      time.Time
}

// PaymentGateway описывает взаимодействие с внешним платёжным провайдером.
type PaymentGateway interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (PaymentAck, error)
}

package kafka

// Типы событий саги заказ-оплата-склад.
const (
	// Commerce события
	EventTypeOrderCreated = "OrderCreated"

	// Склад: исходы резервирования и синхронизация остатков
	EventTypeStockReserved            = "StockReserved"
	EventTypeStockValidationFailed    = "StockValidationFailed"
	EventTypeProductStockSynchronized = "ProductStockSynchronized"

	// Склад: бизнес-подтверждения платёжных исходов для commerce
	EventTypePaymentConfirmed       = "PaymentConfirmed"
	EventTypePaymentProcessFailed   = "PaymentProcessFailed"
	EventTypePaymentCancelConfirmed = "PaymentCancelConfirmed"

	// Платёжный шлюз
	EventTypePaymentApproved  = "PaymentApproved"
	EventTypePaymentFailed    = "PaymentFailed"
	EventTypePaymentCancelled = "PaymentCancelled"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "commerce.order.events"
	TopicStockEvents     = "commerce.stock.events"
	TopicPaymentEvents   = "commerce.payment.events"
	TopicDeadLetterQueue = "commerce.dlq" // Dead Letter Queue для failed messages
)

// Типы агрегатов в outbox.
const (
	AggregateTypeOrder          = "order"
	AggregateTypeProduct        = "product"
	AggregateTypePaymentProcess = "payment_process"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderItemPayload — позиция заказа в событии.
type OrderItemPayload struct {
	ProductID  string `json:"productId"`
	Quantity   int64  `json:"quantity"`
	PriceMinor int64  `json:"priceMinor"`
}

// OrderCreatedPayload публикуется commerce-сервисом при создании заказа.
type OrderCreatedPayload struct {
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	UserID      string             `json:"userId"`
	TotalMinor  int64              `json:"totalMinor"`
	Currency    string             `json:"currency"`
	Items       []OrderItemPayload `json:"items"`
}

// StockReservedPayload публикуется складом при успешном резервировании.
// Содержит данные, нужные шлюзу для инициирования платежа.
type StockReservedPayload struct {
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	UserID      string             `json:"userId"`
	TotalMinor  int64              `json:"totalMinor"`
	Currency    string             `json:"currency"`
	Items       []OrderItemPayload `json:"items"`
}

// InsufficientItemPayload — нехватка остатка по одной позиции.
type InsufficientItemPayload struct {
	ProductID         string `json:"productId"`
	RequestedQuantity int64  `json:"requestedQuantity"`
	AvailableStock    int64  `json:"availableStock"`
}

// StockValidationFailedPayload публикуется складом при нехватке остатков.
// Список покрывает все дефицитные позиции заказа, а не только первую.
type StockValidationFailedPayload struct {
	OrderID           string                    `json:"orderId"`
	OrderNumber       string                    `json:"orderNumber"`
	Reason            string                    `json:"reason"`
	InsufficientItems []InsufficientItemPayload `json:"insufficientItems"`
}

// ProductStockSynchronizedPayload синхронизирует остаток в read-model commerce.
type ProductStockSynchronizedPayload struct {
	ProductID string `json:"productId"`
	Stock     int64  `json:"stock"`
	IsSoldOut bool   `json:"isSoldOut"`
}

// PaymentApprovedPayload публикуется шлюзом при успешном списании.
// OrderID nullable: платёж, инициированный вне саги, приходит без заказа.
type PaymentApprovedPayload struct {
	ProcessID          string  `json:"processId"`
	OrderID            *string `json:"orderId"`
	AmountMinor        int64   `json:"amountMinor"`
	Currency           string  `json:"currency"`
	GatewayReferenceID string  `json:"gatewayReferenceId"`
}

// PaymentFailedPayload публикуется шлюзом при отказе провайдера.
type PaymentFailedPayload struct {
	ProcessID   string  `json:"processId"`
	OrderID     *string `json:"orderId"`
	AmountMinor int64   `json:"amountMinor"`
	Reason      string  `json:"reason"`
}

// PaymentCancelledPayload публикуется шлюзом при подтверждённой отмене.
type PaymentCancelledPayload struct {
	ProcessID       string  `json:"processId"`
	OriginProcessID string  `json:"originProcessId"`
	OrderID         *string `json:"orderId"`
	AmountMinor     int64   `json:"amountMinor"`
}

// PaymentConfirmedPayload — бизнес-подтверждение оплаты от склада.
type PaymentConfirmedPayload struct {
	OrderID            string `json:"orderId"`
	GatewayReferenceID string `json:"gatewayReferenceId"`
}

// PaymentProcessFailedPayload — бизнес-подтверждение отказа оплаты от склада.
type PaymentProcessFailedPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// PaymentCancelConfirmedPayload — бизнес-подтверждение отмены оплаты от склада.
type PaymentCancelConfirmedPayload struct {
	OrderID string `json:"orderId"`
}

package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceInvalid = errors.New("product price must be non-negative")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден в репозитории.
	ErrProductNotFound = errors.New("product not found")
	// ErrSnapshotNotFound возвращается, если снимок заказа отсутствует.
	ErrSnapshotNotFound = errors.New("order snapshot not found")
	// ErrPaymentProcessNotFound возвращается, если платёжный процесс не найден.
	ErrPaymentProcessNotFound = errors.New("payment process not found")
	// ErrAlreadyExists сигнализирует о нарушении уникальности при вставке.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidTransition — запрошенный переход статуса запрещён state machine.
	// Повторная доставка события не исправит эту ошибку.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientStock — недостаточно остатков для резервирования заказа.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCacheMiss возвращается кэшем остатков при отсутствии ключа.
	ErrCacheMiss = errors.New("stock cache miss")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNonRetryable сообщает consumer-у, что повторная обработка события
// не имеет смысла и сообщение нужно сразу отправлять в DLQ.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

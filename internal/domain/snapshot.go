package domain

import "time"

// SnapshotItem — позиция снимка заказа на момент резервирования.
type SnapshotItem struct {
	ProductID  string
	Quantity   int64
	PriceMinor int64
}

// OrderSnapshot — неизменяемая копия заказа, создаваемая складом при
// успешном резервировании. Используется для компенсации: возврат остатков
// выполняется строго по снимку, а не по текущему виду заказа.
// На order_id действует ограничение уникальности, поэтому повторная
// попытка резервирования того же заказа безопасно отклоняется.
type OrderSnapshot struct {
	ID          string
	OrderID     string
	OrderNumber string
	UserID      string
	TotalMinor  int64
	Items       []SnapshotItem
	CreatedAt   time.Time
}

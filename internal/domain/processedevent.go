package domain

import "time"

// ProcessedEvent — отметка об обработанном событии для дедупликации
// at-least-once доставки. Запись создаётся в той же транзакции, что и
// бизнес-эффект обработчика. Ключ — пара (EventID, ConsumerGroup):
// StockReserved и платёжные исходы читают несколько групп, и отметка
// одной группы не должна гасить событие для остальных.
type ProcessedEvent struct {
	EventID       string
	EventType     string
	Topic         string
	ConsumerGroup string
	ProcessedAt   time.Time
}

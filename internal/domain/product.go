package domain

import "time"

// Причины движения остатков в журнале product_records.
const (
	RecordReasonInitialStock = "INITIAL_STOCK"
	RecordReasonReservation  = "RESERVATION"
	RecordReasonCompensation = "COMPENSATION"
	RecordReasonAdjustment   = "ADJUSTMENT"
)

// ProductRecord — запись журнала движений остатка. Журнал append-only:
// записи никогда не изменяются и не удаляются, Delta знаковая.
type ProductRecord struct {
	ID        string
	ProductID string
	Delta     int64
	Reason    string
	OrderID   string
	CreatedAt time.Time
}

// Product — агрегат товара на стороне склада. Stock — кэшированная
// проекция суммы журнала, источник истины — сам журнал.
type Product struct {
	ID         string
	ExternalID string
	SKU        string
	Name       string
	PriceMinor int64
	Stock      int64
	IsSoldOut  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateInvariants возвращает список нарушенных инвариантов товара.
func (p Product) ValidateInvariants() []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceInvalid)
	}
	return errs
}

// ApplyDelta применяет знаковое движение остатка без предварительных
// проверок; достаточность остатка проверяет вызывающий код до applyDelta.
// Возвращает запись журнала, которую репозиторий сохранит вместе с товаром.
func (p *Product) ApplyDelta(delta int64, reason, orderID string) ProductRecord {
	now := time.Now().UTC()
	p.Stock += delta
	p.IsSoldOut = p.Stock <= 0
	p.UpdatedAt = now

	return ProductRecord{
		ProductID: p.ID,
		Delta:     delta,
		Reason:    reason,
		OrderID:   orderID,
		CreatedAt: now,
	}
}

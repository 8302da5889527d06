package domain

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// OrderStatus — статус заказа в платёжной саге.
type OrderStatus string

const (
	OrderStatusCreated          OrderStatus = "CREATED"
	OrderStatusPaymentRequested OrderStatus = "PAYMENT_REQUESTED"
	OrderStatusPaymentApproved  OrderStatus = "PAYMENT_APPROVED"
	OrderStatusPaymentFailed    OrderStatus = "PAYMENT_FAILED"
	OrderStatusCanceled         OrderStatus = "CANCELED"
)

// orderTransitions задаёт допустимые переходы статуса заказа.
// PAYMENT_FAILED и CANCELED — терминальные.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:          {OrderStatusPaymentRequested, OrderStatusPaymentFailed, OrderStatusCanceled},
	OrderStatusPaymentRequested: {OrderStatusPaymentApproved, OrderStatusPaymentFailed, OrderStatusCanceled},
	OrderStatusPaymentApproved:  {OrderStatusCanceled},
}

// Valid проверяет, что статус входит в известный набор.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaymentRequested, OrderStatusPaymentApproved,
		OrderStatusPaymentFailed, OrderStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo сообщает, допускает ли state machine переход в next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem — позиция заказа. Цена в минорных единицах валюты.
type OrderItem struct {
	ID         string
	ProductID  string
	Quantity   int64
	PriceMinor int64
}

// Order — агрегат заказа на стороне commerce.
type Order struct {
	ID                 string
	Number             string
	UserID             string
	Status             OrderStatus
	Currency           string
	TotalMinor         int64
	GatewayReferenceID string
	Items              []OrderItem
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ValidateInvariants возвращает список нарушенных инвариантов заказа.
func (o Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrTotalMismatch)
	}

	var sum int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		sum += item.PriceMinor * item.Quantity
	}
	if len(o.Items) > 0 && sum != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// NewOrderNumber генерирует человекочитаемый номер заказа.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD_%d_%04d", now.UnixMilli(), rand.IntN(10000))
}

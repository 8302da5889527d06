package domain

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// PaymentStatus — статус платёжного процесса на стороне шлюза.
type PaymentStatus string

const (
	PaymentStatusUnknown   PaymentStatus = "UNKNOWN"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// paymentTransitions задаёт допустимые переходы статуса платежа.
// FAILED и CANCELLED — терминальные; отмена возможна только из SUCCESS.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnknown: {PaymentStatusSuccess, PaymentStatusFailed},
	PaymentStatusSuccess: {PaymentStatusCancelled},
}

// Valid проверяет, что статус входит в известный набор.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnknown, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo сообщает, допускает ли state machine переход в next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentProcess — агрегат платёжного процесса. Для отмены создаётся
// отдельный процесс со ссылкой OriginProcessID на исходный платёж.
type PaymentProcess struct {
	ID                 string
	OrderID            string
	AmountMinor        int64
	Currency           string
	Status             PaymentStatus
	Provider           string
	GatewayReferenceID string
	OriginProcessID    string
	FailureReason      string
	RequestedAt        time.Time
	AckReceivedAt      time.Time
	AttemptCount       int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewGatewayReferenceID генерирует внешний референс платёжного шлюза.
func NewGatewayReferenceID(provider, merchantID string, now time.Time) string {
	return fmt.Sprintf("CGW_%s_%s_%d_%06d",
		strings.ToUpper(provider), merchantID, now.UnixMilli(), rand.IntN(1000000))
}

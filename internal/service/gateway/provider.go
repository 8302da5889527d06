package gateway

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// ResultFunc получает итог платежа от провайдера: processID и ok=true при
// успешном списании.
type ResultFunc func(processID string, ok bool)

// SandboxProvider имитирует внешний платёжный провайдер: синхронно
// подтверждает приём запроса, а итог платежа сообщает асинхронно через
// callback, как это делает реальный provider webhook.
type SandboxProvider struct {
	providerName string
	merchantID   string
	resultDelay  time.Duration
	onResult     ResultFunc
	logger       *log.Entry
}

// NewSandboxProvider создаёт провайдер-песочницу. onResult может быть nil,
// тогда итоги платежей не доставляются (полезно в тестах ack-фазы).
func NewSandboxProvider(providerName, merchantID string, resultDelay time.Duration, onResult ResultFunc) *SandboxProvider {
	return &SandboxProvider{
		providerName: providerName,
		merchantID:   merchantID,
		resultDelay:  resultDelay,
		onResult:     onResult,
		logger:       log.WithField("component", "sandbox-provider"),
	}
}

// RequestPayment подтверждает приём запроса и планирует доставку итога.
func (p *SandboxProvider) RequestPayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentAck, error) {
	now := time.Now().UTC()
	ack := domain.PaymentAck{
		GatewayReferenceID: domain.NewGatewayReferenceID(p.providerName, p.merchantID, now),
		AckReceivedAt:      now,
	}

	p.logger.WithFields(log.Fields{
		"process_id":        req.ProcessID,
		"gateway_reference": ack.GatewayReferenceID,
		"amount_minor":      req.AmountMinor,
	}).Info("payment request acknowledged")

	if p.onResult != nil {
		go func(processID string) {
			if p.resultDelay > 0 {
				time.Sleep(p.resultDelay)
			}
			// Песочница всегда одобряет платёж.
			p.onResult(processID, true)
		}(req.ProcessID)
	}

	return ack, nil
}

var _ domain.PaymentGateway = (*SandboxProvider)(nil)

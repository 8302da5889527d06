package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
)

type stubProvider struct {
	mu       sync.Mutex
	requests []domain.PaymentRequest
	err      error
}

func (p *stubProvider) RequestPayment(_ context.Context, req domain.PaymentRequest) (domain.PaymentAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.PaymentAck{}, p.err
	}
	p.requests = append(p.requests, req)
	return domain.PaymentAck{
		GatewayReferenceID: domain.NewGatewayReferenceID("sandbox", "TEST_MERCHANT", time.Now()),
		AckReceivedAt:      time.Now().UTC(),
	}, nil
}

func (p *stubProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type fixture struct {
	tx        *memory.TxRunner
	processes *memory.PaymentProcessRepository
	outbox    *memory.OutboxRepository
	provider  *stubProvider
	service   *Service
}

func newFixture() *fixture {
	f := &fixture{
		tx:        memory.NewTxRunner(),
		processes: memory.NewPaymentProcessRepository(),
		outbox:    memory.NewOutboxRepository(),
		provider:  &stubProvider{},
	}
	f.service = NewService(f.tx, f.processes, f.outbox, f.provider, "sandbox", nil)
	return f
}

func stockReservedEvent(t *testing.T, orderID string) kafka.ParsedEvent {
	t.Helper()

	raw, err := json.Marshal(kafka.StockReservedPayload{
		OrderID:     orderID,
		OrderNumber: "ORD_" + orderID,
		UserID:      "user-1",
		TotalMinor:  500,
		Currency:    "RUB",
	})
	require.NoError(t, err)

	return kafka.ParsedEvent{
		Envelope: kafka.Envelope{
			EventType:   kafka.EventTypeStockReserved,
			AggregateID: orderID,
			Payload:     raw,
			Metadata: kafka.EventMetadata{
				EventID:    uuid.NewString(),
				OccurredAt: time.Now().UTC(),
			},
		},
		Topic: kafka.TopicStockEvents,
	}
}

func (f *fixture) reserve(t *testing.T, orderID string) *domain.PaymentProcess {
	t.Helper()

	err := f.tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return f.service.HandleStockReserved(ctx, stockReservedEvent(t, orderID))
	})
	require.NoError(t, err)

	process, err := f.processes.GetByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return process
}

func eventsOfType(f *fixture, eventType string) []domain.OutboxMessage {
	var result []domain.OutboxMessage
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == eventType {
			result = append(result, msg)
		}
	}
	return result
}

func TestHandleStockReservedCreatesProcess(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")

	require.Equal(t, domain.PaymentStatusUnknown, process.Status)
	require.Equal(t, int64(500), process.AmountMinor)
	require.Equal(t, "sandbox", process.Provider)
	require.NotEmpty(t, process.GatewayReferenceID, "provider ack should be stored")
	require.False(t, process.AckReceivedAt.IsZero())
	require.Equal(t, 1, f.provider.requestCount())
}

func TestHandleStockReservedIsIdempotentPerOrder(t *testing.T) {
	f := newFixture()
	f.reserve(t, "order-1")

	// Повторная доставка с новым eventId: процесс уже существует
	err := f.tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return f.service.HandleStockReserved(ctx, stockReservedEvent(t, "order-1"))
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.provider.requestCount(), "provider should be called once per order")
}

func TestApprovePaymentPublishesOutcome(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")

	require.NoError(t, f.service.ApprovePayment(context.Background(), process.ID))

	updated, err := f.processes.Get(context.Background(), process.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusSuccess, updated.Status)

	approved := eventsOfType(f, kafka.EventTypePaymentApproved)
	require.Len(t, approved, 1)
	require.Equal(t, "order-1", approved[0].AggregateID, "payment events are keyed by order id")
	require.Equal(t, kafka.TopicPaymentEvents, approved[0].Topic)

	var payload kafka.PaymentApprovedPayload
	require.NoError(t, json.Unmarshal(approved[0].Payload, &payload))
	require.NotNil(t, payload.OrderID)
	require.Equal(t, "order-1", *payload.OrderID)
}

func TestApprovePaymentConcurrentLostRace(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.service.ApprovePayment(context.Background(), process.ID)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "lost race is not an error")
	}

	// Статус монотонен: событие публикуется ровно один раз
	require.Len(t, eventsOfType(f, kafka.EventTypePaymentApproved), 1)
}

func TestFailPayment(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")

	require.NoError(t, f.service.FailPayment(context.Background(), process.ID, "declined by provider"))

	updated, err := f.processes.Get(context.Background(), process.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, updated.Status)
	require.Equal(t, "declined by provider", updated.FailureReason,
		"причина отказа сохраняется на строке процесса")

	failed := eventsOfType(f, kafka.EventTypePaymentFailed)
	require.Len(t, failed, 1)

	var payload kafka.PaymentFailedPayload
	require.NoError(t, json.Unmarshal(failed[0].Payload, &payload))
	require.Equal(t, "declined by provider", payload.Reason)
	require.Equal(t, int64(500), payload.AmountMinor)
}

func TestApproveAfterFailIsInvalidTransition(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")

	require.NoError(t, f.service.FailPayment(context.Background(), process.ID, "declined"))

	err := f.service.ApprovePayment(context.Background(), process.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.True(t, domain.IsNonRetryable(err))
}

func TestCancelPayment(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")
	require.NoError(t, f.service.ApprovePayment(context.Background(), process.ID))

	cancellation, err := f.service.CancelPayment(context.Background(), process.ID)
	require.NoError(t, err)
	require.NotNil(t, cancellation)
	require.Equal(t, domain.PaymentStatusCancelled, cancellation.Status)
	require.Equal(t, process.ID, cancellation.OriginProcessID)

	origin, err := f.processes.Get(context.Background(), process.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCancelled, origin.Status)

	// Исходный платёж остаётся доступным по order_id
	byOrder, err := f.processes.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, process.ID, byOrder.ID)

	cancelled := eventsOfType(f, kafka.EventTypePaymentCancelled)
	require.Len(t, cancelled, 1)

	var payload kafka.PaymentCancelledPayload
	require.NoError(t, json.Unmarshal(cancelled[0].Payload, &payload))
	require.Equal(t, cancellation.ID, payload.ProcessID)
	require.Equal(t, process.ID, payload.OriginProcessID)
	require.Equal(t, int64(500), payload.AmountMinor)
}

func TestCancelPaymentBeforeApproveIsInvalid(t *testing.T) {
	f := newFixture()
	process := f.reserve(t, "order-1")

	_, err := f.service.CancelPayment(context.Background(), process.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSandboxProviderReportsResultAsynchronously(t *testing.T) {
	results := make(chan string, 1)
	provider := NewSandboxProvider("sandbox", "TEST_MERCHANT", time.Millisecond,
		func(processID string, ok bool) {
			if ok {
				results <- processID
			}
		})

	ack, err := provider.RequestPayment(context.Background(), domain.PaymentRequest{
		ProcessID:   "process-1",
		OrderID:     "order-1",
		AmountMinor: 100,
		Currency:    "RUB",
	})
	require.NoError(t, err)
	require.Contains(t, ack.GatewayReferenceID, "CGW_SANDBOX_")

	select {
	case processID := <-results:
		require.Equal(t, "process-1", processID)
	case <-time.After(time.Second):
		t.Fatal("provider result callback was not invoked")
	}
}

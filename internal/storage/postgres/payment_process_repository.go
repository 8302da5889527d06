package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type paymentProcessRepository struct {
	store *Store
}

// NewPaymentProcessRepository создаёт PostgreSQL-реализацию
// PaymentProcessRepository.
func NewPaymentProcessRepository(store *Store) domain.PaymentProcessRepository {
	return &paymentProcessRepository{store: store}
}

func (r *paymentProcessRepository) Create(ctx context.Context, process *domain.PaymentProcess) error {
	_, err := r.store.querier(ctx).ExecContext(ctx, `
		INSERT INTO payment_processes (
			id, order_id, amount_minor, currency, status, provider,
			gateway_reference_id, origin_process_id, failure_reason,
			requested_at, ack_received_at, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		process.ID, nullString(process.OrderID), process.AmountMinor, process.Currency,
		string(process.Status), nullString(process.Provider),
		nullString(process.GatewayReferenceID), nullString(process.OriginProcessID),
		nullString(process.FailureReason), process.RequestedAt,
		nullTime(process.AckReceivedAt), process.AttemptCount,
		process.CreatedAt, process.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert payment process: %w", err)
	}
	return nil
}

func (r *paymentProcessRepository) Get(ctx context.Context, id string) (*domain.PaymentProcess, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

// GetByOrderID возвращает исходный платёжный процесс заказа; процессы
// отмены (с origin_process_id) не учитываются.
func (r *paymentProcessRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentProcess, error) {
	return r.getBy(ctx, `WHERE order_id = $1 AND origin_process_id IS NULL`, orderID)
}

func (r *paymentProcessRepository) getBy(ctx context.Context, where, arg string) (*domain.PaymentProcess, error) {
	var (
		process    domain.PaymentProcess
		statusRaw  string
		orderID    sql.NullString
		provider   sql.NullString
		gatewayRef sql.NullString
		originID   sql.NullString
		failReason sql.NullString
		ackAt      sql.NullTime
	)
	err := r.store.querier(ctx).QueryRowContext(ctx, `
		SELECT id, order_id, amount_minor, currency, status, provider,
		       gateway_reference_id, origin_process_id, failure_reason,
		       requested_at, ack_received_at, attempt_count, created_at, updated_at
		FROM payment_processes
		`+where, arg).Scan(
		&process.ID, &orderID, &process.AmountMinor, &process.Currency, &statusRaw,
		&provider, &gatewayRef, &originID, &failReason, &process.RequestedAt, &ackAt,
		&process.AttemptCount, &process.CreatedAt, &process.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentProcessNotFound
		}
		return nil, fmt.Errorf("get payment process: %w", err)
	}

	process.Status = domain.PaymentStatus(statusRaw)
	if !process.Status.Valid() {
		return nil, fmt.Errorf("invalid payment status %q for process %s", statusRaw, process.ID)
	}
	if orderID.Valid {
		process.OrderID = orderID.String
	}
	if provider.Valid {
		process.Provider = provider.String
	}
	if gatewayRef.Valid {
		process.GatewayReferenceID = gatewayRef.String
	}
	if originID.Valid {
		process.OriginProcessID = originID.String
	}
	if failReason.Valid {
		process.FailureReason = failReason.String
	}
	if ackAt.Valid {
		process.AckReceivedAt = ackAt.Time.UTC()
	}

	return &process, nil
}

// CASUpdateStatus переводит платёж в next, только если строка всё ещё в
// статусе process.Status. Семантика та же, что у заказов: ноль строк —
// проигранная гонка, запрещённый переход — ошибка без повтора.
func (r *paymentProcessRepository) CASUpdateStatus(ctx context.Context, process *domain.PaymentProcess, next domain.PaymentStatus) (bool, error) {
	if !process.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("payment process %s: %s -> %s: %w",
			process.ID, process.Status, next, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	res, err := r.store.querier(ctx).ExecContext(ctx, `
		UPDATE payment_processes
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, process.ID, string(process.Status), string(next), now)
	if err != nil {
		return false, fmt.Errorf("cas update payment status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for payment status: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	process.Status = next
	process.UpdatedAt = now
	return true, nil
}

func (r *paymentProcessRepository) Update(ctx context.Context, process *domain.PaymentProcess) error {
	process.UpdatedAt = time.Now().UTC()
	res, err := r.store.querier(ctx).ExecContext(ctx, `
		UPDATE payment_processes
		SET gateway_reference_id = $2, ack_received_at = $3,
		    attempt_count = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1
	`,
		process.ID, nullString(process.GatewayReferenceID),
		nullTime(process.AckReceivedAt), process.AttemptCount,
		nullString(process.FailureReason), process.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment process: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for payment process: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentProcessNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ domain.PaymentProcessRepository = (*paymentProcessRepository)(nil)

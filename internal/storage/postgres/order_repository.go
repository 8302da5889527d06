package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	q := r.store.querier(ctx)

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status, currency, total_minor,
			gateway_reference_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.ID, order.Number, order.UserID, string(order.Status), order.Currency,
		order.TotalMinor, nullString(order.GatewayReferenceID), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price_minor)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ID, order.ID, item.ProductID, item.Quantity, item.PriceMinor)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	q := r.store.querier(ctx)

	var (
		order      domain.Order
		statusRaw  string
		gatewayRef sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, order_number, user_id, status, currency, total_minor,
		       gateway_reference_id, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.Number, &order.UserID, &statusRaw, &order.Currency,
		&order.TotalMinor, &gatewayRef, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Status = domain.OrderStatus(statusRaw)
	if !order.Status.Valid() {
		return nil, fmt.Errorf("invalid order status %q for order %s", statusRaw, id)
	}
	if gatewayRef.Valid {
		order.GatewayReferenceID = gatewayRef.String
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, quantity, price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return &order, nil
}

// CASUpdateStatus переводит заказ в next, только если строка всё ещё в
// статусе order.Status. Ноль затронутых строк — проигранная гонка, не
// ошибка. Запрещённый state machine переход — ошибка без повтора.
func (r *orderRepository) CASUpdateStatus(ctx context.Context, order *domain.Order, next domain.OrderStatus) (bool, error) {
	if !order.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("order %s: %s -> %s: %w",
			order.ID, order.Status, next, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	res, err := r.store.querier(ctx).ExecContext(ctx, `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, order.ID, string(order.Status), string(next), now)
	if err != nil {
		return false, fmt.Errorf("cas update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for order status: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	order.Status = next
	order.UpdatedAt = now
	return true, nil
}

func (r *orderRepository) UpdateGatewayReference(ctx context.Context, orderID, gatewayReferenceID string) error {
	res, err := r.store.querier(ctx).ExecContext(ctx, `
		UPDATE orders
		SET gateway_reference_id = $2, updated_at = $3
		WHERE id = $1
	`, orderID, gatewayReferenceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update gateway reference: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for gateway reference: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ domain.OrderRepository = (*orderRepository)(nil)

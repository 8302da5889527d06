package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type snapshotRepository struct {
	store *Store
}

// NewSnapshotRepository создаёт PostgreSQL-реализацию SnapshotRepository.
func NewSnapshotRepository(store *Store) domain.SnapshotRepository {
	return &snapshotRepository{store: store}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot domain.OrderSnapshot) error {
	q := r.store.querier(ctx)

	_, err := q.ExecContext(ctx, `
		INSERT INTO order_snapshots (id, order_id, order_number, user_id, total_minor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		snapshot.ID, snapshot.OrderID, snapshot.OrderNumber,
		snapshot.UserID, snapshot.TotalMinor, snapshot.CreatedAt,
	)
	if err != nil {
		// unique(order_id): повторный резерв того же заказа.
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert order snapshot: %w", err)
	}

	for _, item := range snapshot.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO snapshot_items (snapshot_id, product_id, quantity, price_minor)
			VALUES ($1,$2,$3,$4)
		`, snapshot.ID, item.ProductID, item.Quantity, item.PriceMinor)
		if err != nil {
			return fmt.Errorf("insert snapshot item: %w", err)
		}
	}

	return nil
}

func (r *snapshotRepository) GetByOrderID(ctx context.Context, orderID string) (domain.OrderSnapshot, error) {
	q := r.store.querier(ctx)

	var snapshot domain.OrderSnapshot
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, order_number, user_id, total_minor, created_at
		FROM order_snapshots
		WHERE order_id = $1
	`, orderID).Scan(
		&snapshot.ID, &snapshot.OrderID, &snapshot.OrderNumber,
		&snapshot.UserID, &snapshot.TotalMinor, &snapshot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderSnapshot{}, domain.ErrSnapshotNotFound
		}
		return domain.OrderSnapshot{}, fmt.Errorf("get order snapshot: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, price_minor
		FROM snapshot_items
		WHERE snapshot_id = $1
		ORDER BY product_id
	`, snapshot.ID)
	if err != nil {
		return domain.OrderSnapshot{}, fmt.Errorf("query snapshot items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SnapshotItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.PriceMinor); err != nil {
			return domain.OrderSnapshot{}, fmt.Errorf("scan snapshot item: %w", err)
		}
		snapshot.Items = append(snapshot.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderSnapshot{}, fmt.Errorf("iterate snapshot items: %w", err)
	}

	return snapshot, nil
}

var _ domain.SnapshotRepository = (*snapshotRepository)(nil)

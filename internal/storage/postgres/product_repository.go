package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type productRepository struct {
	store *Store
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

func (r *productRepository) Create(ctx context.Context, product *domain.Product, initial domain.ProductRecord) error {
	q := r.store.querier(ctx)

	_, err := q.ExecContext(ctx, `
		INSERT INTO products (
			id, external_id, sku, name, price_minor, stock, is_sold_out, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		product.ID, nullString(product.ExternalID), nullString(product.SKU),
		product.Name, product.PriceMinor,
		product.Stock, product.IsSoldOut, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return r.insertRecords(ctx, initial)
}

func (r *productRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	return r.getBy(ctx, "id", id)
}

func (r *productRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Product, error) {
	return r.getBy(ctx, "external_id", externalID)
}

func (r *productRepository) getBy(ctx context.Context, column, value string) (*domain.Product, error) {
	var (
		product    domain.Product
		externalID sql.NullString
		sku        sql.NullString
	)
	err := r.store.querier(ctx).QueryRowContext(ctx, `
		SELECT id, external_id, sku, name, price_minor, stock, is_sold_out, created_at, updated_at
		FROM products
		WHERE `+column+` = $1
	`, value).Scan(
		&product.ID, &externalID, &sku, &product.Name, &product.PriceMinor,
		&product.Stock, &product.IsSoldOut, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	if externalID.Valid {
		product.ExternalID = externalID.String
	}
	if sku.Valid {
		product.SKU = sku.String
	}
	return &product, nil
}

// LockAndRecompute берёт блокировку строки товара (FOR UPDATE) и
// пересчитывает остаток суммой журнала. Кэшированное значение на строке
// при расхождении с журналом перезаписывается: журнал — источник истины.
func (r *productRepository) LockAndRecompute(ctx context.Context, id string) (*domain.Product, error) {
	q := r.store.querier(ctx)

	var (
		product     domain.Product
		externalID  sql.NullString
		sku         sql.NullString
		cachedStock int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, external_id, sku, name, price_minor, stock, is_sold_out, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&product.ID, &externalID, &sku, &product.Name, &product.PriceMinor,
		&cachedStock, &product.IsSoldOut, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}
	if externalID.Valid {
		product.ExternalID = externalID.String
	}
	if sku.Valid {
		product.SKU = sku.String
	}

	var replayed int64
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0)
		FROM product_records
		WHERE product_id = $1
	`, id).Scan(&replayed); err != nil {
		return nil, fmt.Errorf("replay product records: %w", err)
	}

	product.Stock = replayed
	product.IsSoldOut = replayed <= 0

	if replayed != cachedStock {
		now := time.Now().UTC()
		if _, err := q.ExecContext(ctx, `
			UPDATE products
			SET stock = $2, is_sold_out = $3, updated_at = $4
			WHERE id = $1
		`, id, replayed, product.IsSoldOut, now); err != nil {
			return nil, fmt.Errorf("repair cached stock: %w", err)
		}
		product.UpdatedAt = now
	}

	return &product, nil
}

func (r *productRepository) Save(ctx context.Context, product *domain.Product, records ...domain.ProductRecord) error {
	res, err := r.store.querier(ctx).ExecContext(ctx, `
		UPDATE products
		SET external_id = $2, sku = $3, name = $4, price_minor = $5,
		    stock = $6, is_sold_out = $7, updated_at = $8
		WHERE id = $1
	`,
		product.ID, nullString(product.ExternalID), nullString(product.SKU),
		product.Name, product.PriceMinor,
		product.Stock, product.IsSoldOut, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return r.insertRecords(ctx, records...)
}

func (r *productRepository) Records(ctx context.Context, productID string) ([]domain.ProductRecord, error) {
	rows, err := r.store.querier(ctx).QueryContext(ctx, `
		SELECT id, product_id, delta, reason, order_id, created_at
		FROM product_records
		WHERE product_id = $1
		ORDER BY created_at, id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("query product records: %w", err)
	}
	defer rows.Close()

	var records []domain.ProductRecord
	for rows.Next() {
		var (
			record  domain.ProductRecord
			orderID sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.ProductID, &record.Delta,
			&record.Reason, &orderID, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product record: %w", err)
		}
		if orderID.Valid {
			record.OrderID = orderID.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product records: %w", err)
	}

	return records, nil
}

func (r *productRepository) insertRecords(ctx context.Context, records ...domain.ProductRecord) error {
	q := r.store.querier(ctx)
	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO product_records (id, product_id, delta, reason, order_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, record.ID, record.ProductID, record.Delta, record.Reason,
			nullString(record.OrderID), record.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert product record: %w", err)
		}
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
